package route

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/petr-muller/herald/internal/cache"
	"github.com/petr-muller/herald/internal/dynamic"
	"github.com/petr-muller/herald/internal/mappings"
	"github.com/petr-muller/herald/internal/notify"
	"github.com/petr-muller/herald/internal/prefs"
	"github.com/petr-muller/herald/internal/tracker"
)

// seenTTL bounds how long an identity counts as already delivered. Webhook
// redelivery happens within seconds of the original, so an hour is generous.
const seenTTL = time.Hour

// Router turns inbound issue events into chat notifications.
type Router struct {
	workspace string

	fetcher  *tracker.Fetcher
	mappings *mappings.Service
	prefs    *prefs.Service
	// dynamic is nil when dynamic channel resolution is disabled.
	dynamic  *dynamic.Resolver
	notifier notify.Notifier
	// seen tracks delivered identities; nil means every event is new.
	seen cache.Cache

	log *logrus.Entry
}

// NewRouter wires a router. d may be nil to disable dynamic channel
// resolution, seen may be nil to disable redelivery detection.
func NewRouter(workspace string, f *tracker.Fetcher, m *mappings.Service, p *prefs.Service, d *dynamic.Resolver, n notify.Notifier, seen cache.Cache) *Router {
	return &Router{
		workspace: workspace,
		fetcher:   f,
		mappings:  m,
		prefs:     p,
		dynamic:   d,
		notifier:  n,
		seen:      seen,
		log:       logrus.WithField("component", "router"),
	}
}

// Route processes a single event: classify, resolve candidate channels,
// filter by preferences, compose, deliver. Classification misses and empty
// channel sets end the route without a notification; fetch and store
// failures abort it with no partial delivery.
func (r *Router) Route(ctx context.Context, event *tracker.Event) error {
	log := r.log.WithField("webhookEvent", event.WebhookEvent)

	category, classified := Classify(event)
	if !classified {
		log.WithField("issue_event_type_name", event.IssueEventTypeName).Info("no category for event, dropping")
		return nil
	}

	if event.Issue == nil || event.Issue.Key == "" {
		log.Warning("event carries no issue reference, dropping")
		return nil
	}
	log = log.WithField("issue", event.Issue.Key).WithField("category", category)

	channelSet := sets.New[string]()

	static, err := r.mappings.Resolve(ctx, r.workspace, event.ProjectKey(), event.Component())
	if err != nil {
		return fmt.Errorf("cannot resolve mapped channels: %w", err)
	}
	channelSet.Insert(static...)

	if r.dynamic != nil {
		derived, err := r.dynamic.Channels(ctx, event.Issue.ID)
		if err != nil {
			return fmt.Errorf("cannot resolve dynamic channels: %w", err)
		}
		channelSet.Insert(derived...)
	}

	if channelSet.Len() == 0 {
		log.Info("no channels mapped, dropping")
		return nil
	}

	channels, err := r.prefs.Filter(ctx, r.workspace, sets.List(channelSet), category, event.IssueType())
	if err != nil {
		return fmt.Errorf("cannot filter channels by preferences: %w", err)
	}
	if len(channels) == 0 {
		log.Info("all channels opted out, dropping")
		return nil
	}

	identity := Identity(event)
	newEvent, err := r.isNew(ctx, identity)
	if err != nil {
		return err
	}

	message, err := r.Compose(ctx, event, category, channels, newEvent)
	if err != nil {
		return fmt.Errorf("cannot compose notification: %w", err)
	}

	if err := r.notifier.Send(ctx, message); err != nil {
		return err
	}

	if err := r.markSeen(ctx, identity); err != nil {
		return err
	}

	log.WithField("channels", channels).Info("routed event")
	return nil
}

func (r *Router) isNew(ctx context.Context, identity string) (bool, error) {
	if r.seen == nil {
		return true, nil
	}
	_, found, err := r.seen.Get(ctx, "seen/"+identity)
	if err != nil {
		return false, fmt.Errorf("cannot check delivered identities: %w", err)
	}
	return !found, nil
}

func (r *Router) markSeen(ctx context.Context, identity string) error {
	if r.seen == nil {
		return nil
	}
	if err := r.seen.Set(ctx, "seen/"+identity, []byte{1}, seenTTL); err != nil {
		return fmt.Errorf("cannot record delivered identity: %w", err)
	}
	return nil
}
