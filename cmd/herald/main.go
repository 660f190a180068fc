package main

import (
	"bytes"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/petr-muller/herald/internal/cache"
	"github.com/petr-muller/herald/internal/config"
	"github.com/petr-muller/herald/internal/dynamic"
	"github.com/petr-muller/herald/internal/flagutil"
	"github.com/petr-muller/herald/internal/mappings"
	"github.com/petr-muller/herald/internal/notify"
	"github.com/petr-muller/herald/internal/prefs"
	"github.com/petr-muller/herald/internal/route"
	"github.com/petr-muller/herald/internal/store"
	"github.com/petr-muller/herald/internal/tracker"
)

type options struct {
	listenAddress string
	workspace     string
	dataDir       string

	vcsType            string
	useDynamicChannels bool

	useCache     bool
	cacheBackend string
	redisURL     string

	slackTokenFile string

	jira flagutil.JiraOptions
}

func gatherOptions() options {
	var o options
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	fs.StringVar(&o.listenAddress, "listen-address", ":8080", "Address to serve the webhook endpoint on")
	fs.StringVar(&o.workspace, "workspace", "default", "Chat workspace identifier used to scope mappings and preferences")
	fs.StringVar(&o.dataDir, "data-dir", config.MustHeraldDataDir(), "Directory holding mapping and preference records")

	fs.StringVar(&o.vcsType, "vcs-type", "github", "Source control type used for dynamic channel resolution")
	fs.BoolVar(&o.useDynamicChannels, "use-dynamic-channels", false, "Derive channels from source control repositories linked to the issue")

	fs.BoolVar(&o.useCache, "use-cache", true, "Cache tracker responses and mapping/preference lookups")
	fs.StringVar(&o.cacheBackend, "cache", "memory", "Cache backend: memory or redis")
	fs.StringVar(&o.redisURL, "redis-url", "redis://localhost:6379/0", "Redis URL for the redis cache backend")

	fs.StringVar(&o.slackTokenFile, "slack-token-file", "", "Path to the file containing the Slack token")

	o.jira.AddFlags(fs)

	if err := fs.Parse(os.Args[1:]); err != nil {
		logrus.WithError(err).Fatalf("cannot parse args: '%s'", os.Args[1:])
	}

	return o
}

func (o *options) validate() error {
	if o.slackTokenFile == "" {
		return fmt.Errorf("--slack-token-file must be specified and nonempty")
	}
	if _, err := os.Stat(o.slackTokenFile); err != nil {
		return fmt.Errorf("--slack-token-file is not usable: %w", err)
	}

	switch o.cacheBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("--cache must be one of memory, redis: got %q", o.cacheBackend)
	}

	return o.jira.Validate()
}

func (o *options) buildCache() (cache.Cache, error) {
	if o.cacheBackend == "redis" {
		return cache.NewRedis(o.redisURL)
	}
	return cache.NewMemory(), nil
}

func main() {
	o := gatherOptions()
	if err := o.validate(); err != nil {
		logrus.WithError(err).Fatal("invalid options")
	}

	// Redelivery detection always needs a cache; --use-cache only controls
	// whether lookups and tracker responses are cached as well.
	seen, err := o.buildCache()
	if err != nil {
		logrus.WithError(err).Fatal("cannot create cache")
	}
	var lookupCache cache.Cache
	if o.useCache {
		lookupCache = seen
	}

	fetcher, err := o.jira.Fetcher(lookupCache)
	if err != nil {
		logrus.WithError(err).Fatal("cannot create tracker fetcher")
	}

	recordStore := store.NewStore(o.dataDir)
	mappingService := mappings.NewService(recordStore, lookupCache)
	prefService := prefs.NewService(recordStore, lookupCache)

	var dynamicResolver *dynamic.Resolver
	if o.useDynamicChannels {
		dynamicResolver = dynamic.NewResolver(fetcher, recordStore, o.vcsType)
	}

	notifier := notify.NewSlackNotifier(func() []byte {
		token, err := os.ReadFile(o.slackTokenFile)
		if err != nil {
			logrus.WithError(err).Error("cannot read Slack token")
			return nil
		}
		return bytes.TrimSpace(token)
	})

	router := route.NewRouter(o.workspace, fetcher, mappingService, prefService, dynamicResolver, notifier, seen)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.POST("/hooks/jira", func(c *gin.Context) {
		var event tracker.Event
		if err := c.ShouldBindJSON(&event); err != nil {
			logrus.WithError(err).Warning("cannot decode webhook payload")
			c.String(http.StatusBadRequest, "malformed payload")
			return
		}

		// A 500 makes the tracker redeliver; identity-based idempotence
		// absorbs the duplicate once the transient failure clears.
		if err := router.Route(c.Request.Context(), &event); err != nil {
			logrus.WithError(err).WithField("webhookEvent", event.WebhookEvent).Error("cannot route event")
			c.String(http.StatusInternalServerError, "routing failed")
			return
		}

		c.Status(http.StatusNoContent)
	})

	logrus.Infof("Serving webhook endpoint on %s", o.listenAddress)
	if err := engine.Run(o.listenAddress); err != nil {
		logrus.WithError(err).Fatal("server failed")
	}
}
