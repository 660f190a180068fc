package flagutil

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/petr-muller/herald/internal/cache"
	"github.com/petr-muller/herald/internal/config"
	"github.com/petr-muller/herald/internal/tracker"
)

const (
	tokenFileName    string = "jira-token"
	passwordFileName string = "jira-password"
)

// JiraOptions holds the tracker connection flags shared by all binaries.
// Either a bearer token file or a user/password pair authenticates the
// connection; the bearer token wins when both are set.
type JiraOptions struct {
	Endpoint        string
	BearerTokenFile string
	User            string
	PasswordFile    string
}

// AddFlags injects Jira options into the given FlagSet
func (o *JiraOptions) AddFlags(fs *flag.FlagSet) {
	configDir := config.MustHeraldConfigDir()

	fs.StringVar(&o.Endpoint, "jira.endpoint", "https://issues.redhat.com", "Jira endpoint URL")
	fs.StringVar(&o.BearerTokenFile, "jira.bearer-token-file", filepath.Join(configDir, tokenFileName), "Path to the file containing the Jira bearer token")
	fs.StringVar(&o.User, "jira.user", "", "Jira service account user for basic auth")
	fs.StringVar(&o.PasswordFile, "jira.password-file", filepath.Join(configDir, passwordFileName), "Path to the file containing the Jira basic auth password")
}

// AddPFlags injects Jira options into the given pflag.FlagSet
func (o *JiraOptions) AddPFlags(fs *pflag.FlagSet) {
	configDir := config.MustHeraldConfigDir()

	fs.StringVar(&o.Endpoint, "jira.endpoint", "https://issues.redhat.com", "Jira endpoint URL")
	fs.StringVar(&o.BearerTokenFile, "jira.bearer-token-file", filepath.Join(configDir, tokenFileName), "Path to the file containing the Jira bearer token")
	fs.StringVar(&o.User, "jira.user", "", "Jira service account user for basic auth")
	fs.StringVar(&o.PasswordFile, "jira.password-file", filepath.Join(configDir, passwordFileName), "Path to the file containing the Jira basic auth password")
}

func (o *JiraOptions) Validate() error {
	if o.Endpoint == "" {
		return fmt.Errorf("--jira.endpoint must be nonempty")
	}
	if o.User == "" {
		if _, err := os.Stat(o.BearerTokenFile); err != nil {
			return fmt.Errorf("no --jira.user and no usable bearer token file: %w", err)
		}
	}
	return nil
}

// TokenSource builds the authenticator collaborator from the options.
func (o *JiraOptions) TokenSource() (tracker.TokenSource, error) {
	if o.User != "" {
		password, err := os.ReadFile(o.PasswordFile)
		if err != nil {
			return nil, fmt.Errorf("cannot read password file: %w", err)
		}
		return tracker.BasicAuth{User: o.User, Password: strings.TrimSpace(string(password))}, nil
	}
	return tracker.BearerToken{TokenFile: o.BearerTokenFile}, nil
}

// Fetcher builds the cached tracker accessor. c may be nil to disable
// caching.
func (o *JiraOptions) Fetcher(c cache.Cache) (*tracker.Fetcher, error) {
	auth, err := o.TokenSource()
	if err != nil {
		return nil, err
	}
	return tracker.NewFetcher(o.Endpoint, auth, c), nil
}
