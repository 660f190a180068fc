package mappings

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mitchellh/hashstructure/v2"
	"github.com/sirupsen/logrus"

	"github.com/petr-muller/herald/internal/cache"
	"github.com/petr-muller/herald/internal/store"
)

// Mapping associates a tracker project (optionally narrowed to a component)
// with a chat channel. Component-level mappings refine project-level ones:
// both match an event carrying that component.
type Mapping struct {
	Workspace string  `yaml:"workspace" json:"workspace"`
	Project   string  `yaml:"project" json:"project"`
	Component *string `yaml:"component,omitempty" json:"component,omitempty"`
	Channel   string  `yaml:"channel" json:"channel"`
}

// HashKey derives the storage key for a mapping. The hash is structural, so
// identical payloads produce identical keys regardless of how they were
// assembled, and an absent component never collides with an empty one.
func (m Mapping) HashKey() (string, error) {
	h, err := hashstructure.Hash(m, hashstructure.FormatV2, nil)
	if err != nil {
		return "", fmt.Errorf("cannot hash mapping: %w", err)
	}
	return fmt.Sprintf("%016x", h), nil
}

// lookup identifies one cached resolver read. Mappings are cached per
// workspace+project and component-filtered in memory, so one Delete per
// mutation invalidates every read path for that project.
type lookup struct {
	Workspace string
	Project   string
}

func lookupKey(workspace, project string) (string, error) {
	h, err := hashstructure.Hash(lookup{Workspace: workspace, Project: project}, hashstructure.FormatV2, nil)
	if err != nil {
		return "", fmt.Errorf("cannot hash mapping lookup: %w", err)
	}
	return fmt.Sprintf("mappings/%016x", h), nil
}

// Service owns channel-mapping records and their cached lookups.
type Service struct {
	store *store.Store
	cache cache.Cache
	log   *logrus.Entry
}

// NewService creates a mapping service. c may be nil to disable lookup
// caching.
func NewService(s *store.Store, c cache.Cache) *Service {
	return &Service{
		store: s,
		cache: c,
		log:   logrus.WithField("component", "mappings"),
	}
}

// Put upserts a mapping. Repeated submissions of the same payload hit the
// same hash key and stay idempotent. The cached lookup is invalidated before
// returning so a subsequent read is guaranteed fresh.
func (s *Service) Put(ctx context.Context, m Mapping) (string, error) {
	key, err := m.HashKey()
	if err != nil {
		return "", err
	}

	if err := s.store.Put(store.ScopeMappings, key, m); err != nil {
		return "", fmt.Errorf("cannot store mapping: %w", err)
	}

	if err := s.invalidate(ctx, m.Workspace, m.Project); err != nil {
		return "", err
	}

	return key, nil
}

// Remove deletes the exact mapping record. A component-level removal leaves
// the broader project-level record untouched.
func (s *Service) Remove(ctx context.Context, m Mapping) error {
	key, err := m.HashKey()
	if err != nil {
		return err
	}

	if err := s.store.Delete(store.ScopeMappings, key); err != nil {
		return fmt.Errorf("cannot delete mapping: %w", err)
	}

	return s.invalidate(ctx, m.Workspace, m.Project)
}

// List returns all mappings of a workspace, ordered by project, component,
// channel.
func (s *Service) List(workspace string) ([]Mapping, error) {
	records := map[string]Mapping{}
	if err := s.store.All(store.ScopeMappings, &records); err != nil {
		return nil, fmt.Errorf("cannot load mappings: %w", err)
	}

	var result []Mapping
	for _, m := range records {
		if m.Workspace == workspace {
			result = append(result, m)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Project != result[j].Project {
			return result[i].Project < result[j].Project
		}
		ci, cj := "", ""
		if result[i].Component != nil {
			ci = *result[i].Component
		}
		if result[j].Component != nil {
			cj = *result[j].Component
		}
		if ci != cj {
			return ci < cj
		}
		return result[i].Channel < result[j].Channel
	})

	return result, nil
}

// Resolve computes the channels statically mapped to an event's project and
// component. Project-level mappings always apply; component-level mappings
// apply in addition when the event carries that component. An empty result is
// valid: the event is simply not delivered anywhere.
func (s *Service) Resolve(ctx context.Context, workspace, project, component string) ([]string, error) {
	matches, err := s.load(ctx, workspace, project)
	if err != nil {
		return nil, err
	}

	var channels []string
	for _, m := range matches {
		if m.Component == nil {
			channels = append(channels, m.Channel)
			continue
		}
		if component != "" && *m.Component == component {
			channels = append(channels, m.Channel)
		}
	}

	return channels, nil
}

// load returns all mappings for workspace+project, reading through the cache.
func (s *Service) load(ctx context.Context, workspace, project string) ([]Mapping, error) {
	key, err := lookupKey(workspace, project)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		cached, found, err := s.cache.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("cannot read mapping cache: %w", err)
		}
		if found {
			var matches []Mapping
			if err := json.Unmarshal(cached, &matches); err != nil {
				return nil, fmt.Errorf("cannot decode cached mappings: %w", err)
			}
			return matches, nil
		}
	}

	records := map[string]Mapping{}
	if err := s.store.All(store.ScopeMappings, &records); err != nil {
		return nil, fmt.Errorf("cannot load mappings: %w", err)
	}

	matches := []Mapping{}
	for _, m := range records {
		if m.Workspace == workspace && m.Project == project {
			matches = append(matches, m)
		}
	}

	if s.cache != nil {
		encoded, err := json.Marshal(matches)
		if err != nil {
			return nil, fmt.Errorf("cannot encode mappings for cache: %w", err)
		}
		if err := s.cache.Set(ctx, key, encoded, cache.DefaultTTL); err != nil {
			return nil, fmt.Errorf("cannot cache mappings: %w", err)
		}
	}

	return matches, nil
}

func (s *Service) invalidate(ctx context.Context, workspace, project string) error {
	if s.cache == nil {
		return nil
	}
	key, err := lookupKey(workspace, project)
	if err != nil {
		return err
	}
	if err := s.cache.Delete(ctx, key); err != nil {
		return fmt.Errorf("cannot invalidate mapping cache: %w", err)
	}
	s.log.WithField("workspace", workspace).WithField("project", project).Debug("invalidated cached lookups")
	return nil
}
