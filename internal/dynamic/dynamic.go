package dynamic

import (
	"context"
	"fmt"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/petr-muller/herald/internal/store"
	"github.com/petr-muller/herald/internal/tracker"
)

// devStatusDetail is the shape of the tracker's dev-status resource linking
// an issue to source-control repositories.
type devStatusDetail struct {
	Detail []struct {
		Repositories []struct {
			Name string `json:"name"`
			URL  string `json:"url"`
		} `json:"repositories"`
	} `json:"detail"`
}

// Resolver derives notification channels from the source-control repositories
// linked to an issue: issue -> repositories (tracker dev-status) ->
// channels (store-backed repository graph).
type Resolver struct {
	fetcher *tracker.Fetcher
	store   *store.Store
	vcsType string
	log     *logrus.Entry
}

// NewResolver creates a dynamic channel resolver for the given VCS type
// (e.g. github, bitbucket).
func NewResolver(f *tracker.Fetcher, s *store.Store, vcsType string) *Resolver {
	return &Resolver{
		fetcher: f,
		store:   s,
		vcsType: vcsType,
		log:     logrus.WithField("component", "dynamic"),
	}
}

// Channels returns the channels associated with the repositories linked to
// the issue. Issues without linkage yield an empty set.
func (r *Resolver) Channels(ctx context.Context, issueID string) ([]string, error) {
	repositories, err := r.repositories(ctx, issueID)
	if err != nil {
		return nil, err
	}
	r.log.WithField("issue", issueID).WithField("repositories", repositories).Debug("resolved repository linkage")

	var channels []string
	for _, repository := range repositories {
		linked, err := r.channelsFor(repository)
		if err != nil {
			return nil, err
		}
		channels = append(channels, linked...)
	}

	return channels, nil
}

func (r *Resolver) repositories(ctx context.Context, issueID string) ([]string, error) {
	resource := fmt.Sprintf(
		"rest/dev-status/latest/issue/detail?issueId=%s&applicationType=%s&dataType=repository",
		url.QueryEscape(issueID), url.QueryEscape(r.vcsType),
	)

	var detail devStatusDetail
	if err := r.fetcher.Fetch(ctx, resource, &detail, tracker.FetchOptions{Cacheable: true, TTL: tracker.IssueTTL}); err != nil {
		return nil, fmt.Errorf("cannot fetch repository linkage for issue %s: %w", issueID, err)
	}

	var repositories []string
	for _, d := range detail.Detail {
		for _, repository := range d.Repositories {
			repositories = append(repositories, repository.Name)
		}
	}
	return repositories, nil
}

func (r *Resolver) channelsFor(repository string) ([]string, error) {
	var channels []string
	if _, err := r.store.Get(store.ScopeRepoChannels, repository, &channels); err != nil {
		return nil, fmt.Errorf("cannot load channels for repository %s: %w", repository, err)
	}
	return channels, nil
}

// Link associates a repository with a channel in the repository graph.
func (r *Resolver) Link(repository, channel string) error {
	var channels []string
	if _, err := r.store.Get(store.ScopeRepoChannels, repository, &channels); err != nil {
		return fmt.Errorf("cannot load channels for repository %s: %w", repository, err)
	}

	for _, existing := range channels {
		if existing == channel {
			return nil
		}
	}
	channels = append(channels, channel)

	if err := r.store.Put(store.ScopeRepoChannels, repository, channels); err != nil {
		return fmt.Errorf("cannot store channels for repository %s: %w", repository, err)
	}
	return nil
}

// Unlink removes a repository-channel association.
func (r *Resolver) Unlink(repository, channel string) error {
	var channels []string
	if _, err := r.store.Get(store.ScopeRepoChannels, repository, &channels); err != nil {
		return fmt.Errorf("cannot load channels for repository %s: %w", repository, err)
	}

	var kept []string
	for _, existing := range channels {
		if existing != channel {
			kept = append(kept, existing)
		}
	}

	if len(kept) == 0 {
		if err := r.store.Delete(store.ScopeRepoChannels, repository); err != nil {
			return fmt.Errorf("cannot delete channels for repository %s: %w", repository, err)
		}
		return nil
	}

	if err := r.store.Put(store.ScopeRepoChannels, repository, kept); err != nil {
		return fmt.Errorf("cannot store channels for repository %s: %w", repository, err)
	}
	return nil
}
