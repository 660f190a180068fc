package tracker

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/andygrunwald/go-jira"
	"github.com/sirupsen/logrus"

	"github.com/petr-muller/herald/internal/cache"
)

// TTLs for the resources the router re-fetches on every event. Issue detail
// changes rarely within a routing burst; transitions change with every status
// move, so they stay fresh for seconds only.
const (
	IssueTTL       = 30 * time.Second
	TransitionsTTL = 5 * time.Second
	DefaultTTL     = time.Hour
)

// TokenSource produces the Authorization header value for tracker calls.
type TokenSource interface {
	AuthorizationHeader(ctx context.Context) (string, error)
}

// BasicAuth authenticates with service account credentials.
type BasicAuth struct {
	User     string
	Password string
}

func (b BasicAuth) AuthorizationHeader(_ context.Context) (string, error) {
	credentials := base64.StdEncoding.EncodeToString([]byte(b.User + ":" + b.Password))
	return "Basic " + credentials, nil
}

// BearerToken authenticates with a personal access token read from a file on
// every call, so rotated tokens are picked up without a restart.
type BearerToken struct {
	TokenFile string
}

func (b BearerToken) AuthorizationHeader(_ context.Context) (string, error) {
	token, err := os.ReadFile(b.TokenFile)
	if err != nil {
		return "", fmt.Errorf("cannot read bearer token file: %w", err)
	}
	return "Bearer " + strings.TrimSpace(string(token)), nil
}

// StatusError is a failed tracker call. The upstream status and body are
// preserved for the caller; retrying is the transport collaborator's job.
type StatusError struct {
	StatusCode int
	Body       string
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tracker returned %d for %s: %s", e.StatusCode, e.URL, e.Body)
}

// FetchOptions control per-call caching.
type FetchOptions struct {
	Cacheable bool
	// TTL for the cached response; DefaultTTL when zero.
	TTL time.Duration
}

// Fetcher is the cached HTTP accessor for tracker resources. A nil cache
// disables caching entirely.
type Fetcher struct {
	baseURL string
	client  *http.Client
	auth    TokenSource
	cache   cache.Cache
	log     *logrus.Entry
}

// NewFetcher creates a fetcher for the tracker at baseURL. auth may be nil
// for anonymous access, c may be nil to disable caching.
func NewFetcher(baseURL string, auth TokenSource, c cache.Cache) *Fetcher {
	return &Fetcher{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{},
		auth:    auth,
		cache:   c,
		log:     logrus.WithField("component", "fetcher"),
	}
}

// resolve turns a resource into an absolute URL. Self-reference URLs from
// webhook payloads are already absolute and pass through unchanged.
func (f *Fetcher) resolve(resource string) (string, error) {
	if strings.HasPrefix(resource, "http://") || strings.HasPrefix(resource, "https://") {
		return resource, nil
	}
	resolved, err := url.JoinPath(f.baseURL, resource)
	if err != nil {
		return "", fmt.Errorf("cannot resolve resource %q: %w", resource, err)
	}
	return resolved, nil
}

// Fetch performs a GET for the given resource and decodes the response into
// out. With opts.Cacheable a hit is served without network access; a miss
// populates the cache only after a successful fetch.
func (f *Fetcher) Fetch(ctx context.Context, resource string, out interface{}, opts FetchOptions) error {
	target, err := f.resolve(resource)
	if err != nil {
		return err
	}

	cacheKey := "fetch/" + target
	if opts.Cacheable && f.cache != nil {
		body, found, err := f.cache.Get(ctx, cacheKey)
		if err != nil {
			return fmt.Errorf("cannot read cache for %s: %w", target, err)
		}
		if found {
			f.log.WithField("url", target).Debug("serving cached response")
			return json.Unmarshal(body, out)
		}
	}

	body, err := f.do(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("cannot decode response from %s: %w", target, err)
		}
	}

	if opts.Cacheable && f.cache != nil {
		ttl := opts.TTL
		if ttl == 0 {
			ttl = DefaultTTL
		}
		if err := f.cache.Set(ctx, cacheKey, body, ttl); err != nil {
			return fmt.Errorf("cannot cache response from %s: %w", target, err)
		}
	}

	return nil
}

// Post performs a POST with a JSON payload and decodes the response into out
// when out is non-nil. Writes are never cached.
func (f *Fetcher) Post(ctx context.Context, resource string, payload, out interface{}) error {
	target, err := f.resolve(resource)
	if err != nil {
		return err
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("cannot encode payload for %s: %w", target, err)
	}

	body, err := f.do(ctx, http.MethodPost, target, encoded)
	if err != nil {
		return err
	}

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("cannot decode response from %s: %w", target, err)
		}
	}

	return nil
}

func (f *Fetcher) do(ctx context.Context, method, target string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	request, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("cannot build request for %s: %w", target, err)
	}
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	if f.auth != nil {
		header, err := f.auth.AuthorizationHeader(ctx)
		if err != nil {
			return nil, fmt.Errorf("cannot authenticate request for %s: %w", target, err)
		}
		request.Header.Set("Authorization", header)
	}

	response, err := f.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("tracker call failed for %s: %w", target, err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("cannot read response from %s: %w", target, err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, fmt.Errorf("request failed: %w", &StatusError{
			StatusCode: response.StatusCode,
			Body:       string(body),
			URL:        target,
		})
	}

	return body, nil
}

// Issue fetches issue detail. ref is either an issue key or the absolute
// self-reference URL from a webhook payload.
func (f *Fetcher) Issue(ctx context.Context, ref string) (*jira.Issue, error) {
	resource := ref
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		resource = "rest/api/2/issue/" + ref
	}

	var issue jira.Issue
	if err := f.Fetch(ctx, resource, &issue, FetchOptions{Cacheable: true, TTL: IssueTTL}); err != nil {
		return nil, fmt.Errorf("cannot fetch issue %s: %w", ref, err)
	}
	return &issue, nil
}

// Transitions fetches the state transitions currently available for an issue.
func (f *Fetcher) Transitions(ctx context.Context, issueKey string) ([]jira.Transition, error) {
	var response struct {
		Transitions []jira.Transition `json:"transitions"`
	}
	resource := fmt.Sprintf("rest/api/2/issue/%s/transitions", issueKey)
	if err := f.Fetch(ctx, resource, &response, FetchOptions{Cacheable: true, TTL: TransitionsTTL}); err != nil {
		return nil, fmt.Errorf("cannot fetch transitions for %s: %w", issueKey, err)
	}
	return response.Transitions, nil
}

// Project fetches a single project record, uncached.
func (f *Fetcher) Project(ctx context.Context, key string) (*jira.Project, error) {
	var project jira.Project
	if err := f.Fetch(ctx, "rest/api/2/project/"+key, &project, FetchOptions{}); err != nil {
		return nil, fmt.Errorf("cannot fetch project %s: %w", key, err)
	}
	return &project, nil
}

// Projects fetches all projects visible to the authenticated user.
func (f *Fetcher) Projects(ctx context.Context) ([]jira.Project, error) {
	var projects []jira.Project
	if err := f.Fetch(ctx, "rest/api/2/project", &projects, FetchOptions{}); err != nil {
		return nil, fmt.Errorf("cannot fetch projects: %w", err)
	}
	return projects, nil
}

// CreateProject creates a project and returns the created record.
func (f *Fetcher) CreateProject(ctx context.Context, project *jira.Project) (*jira.Project, error) {
	var created jira.Project
	if err := f.Post(ctx, "rest/api/2/project", project, &created); err != nil {
		return nil, fmt.Errorf("cannot create project: %w", err)
	}
	return &created, nil
}

// Search runs a JQL query.
func (f *Fetcher) Search(ctx context.Context, jql string) ([]jira.Issue, error) {
	var response struct {
		Issues []jira.Issue `json:"issues"`
	}
	resource := "rest/api/2/search?jql=" + url.QueryEscape(jql)
	if err := f.Fetch(ctx, resource, &response, FetchOptions{}); err != nil {
		return nil, fmt.Errorf("cannot execute JQL query: %w", err)
	}
	return response.Issues, nil
}

// CreateIssue creates an issue and returns the created record.
func (f *Fetcher) CreateIssue(ctx context.Context, issue *jira.Issue) (*jira.Issue, error) {
	var created jira.Issue
	if err := f.Post(ctx, "rest/api/2/issue", issue, &created); err != nil {
		return nil, fmt.Errorf("cannot create issue: %w", err)
	}
	return &created, nil
}

// CreateComponent creates a project component.
func (f *Fetcher) CreateComponent(ctx context.Context, component *jira.CreateComponentOptions) error {
	if err := f.Post(ctx, "rest/api/2/component", component, nil); err != nil {
		return fmt.Errorf("cannot create component: %w", err)
	}
	return nil
}
