package prefs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/petr-muller/herald/internal/cache"
	"github.com/petr-muller/herald/internal/store"
)

// Category is one of the five notification classes used to filter delivery.
type Category string

const (
	IssueCreated Category = "issueCreated"
	IssueDeleted Category = "issueDeleted"
	IssueComment Category = "issueComment"
	IssueStatus  Category = "issueStatus"
	IssueState   Category = "issueState"
)

// Issue type flags recognized by preference records.
const (
	TypeBug     = "bug"
	TypeTask    = "task"
	TypeEpic    = "epic"
	TypeStory   = "story"
	TypeSubtask = "subtask"
)

// Record is a persisted preference record. All flags are optional; absent
// flags take their category default when the record is munged.
type Record struct {
	Channel string `yaml:"channel" json:"channel"`

	IssueCreated *bool `yaml:"issueCreated,omitempty" json:"issueCreated,omitempty"`
	IssueDeleted *bool `yaml:"issueDeleted,omitempty" json:"issueDeleted,omitempty"`
	IssueComment *bool `yaml:"issueComment,omitempty" json:"issueComment,omitempty"`
	IssueStatus  *bool `yaml:"issueStatus,omitempty" json:"issueStatus,omitempty"`
	IssueState   *bool `yaml:"issueState,omitempty" json:"issueState,omitempty"`

	Bug     *bool `yaml:"bug,omitempty" json:"bug,omitempty"`
	Task    *bool `yaml:"task,omitempty" json:"task,omitempty"`
	Epic    *bool `yaml:"epic,omitempty" json:"epic,omitempty"`
	Story   *bool `yaml:"story,omitempty" json:"story,omitempty"`
	Subtask *bool `yaml:"subtask,omitempty" json:"subtask,omitempty"`
}

// Preferences is a fully defaulted preference record. Unset category flags
// fail open, except issueStatus/issueState which are higher-volume opt-in
// categories and fail closed. Unset issue-type flags fail open.
type Preferences struct {
	Channel string

	IssueCreated bool
	IssueDeleted bool
	IssueComment bool
	IssueStatus  bool
	IssueState   bool

	Bug     bool
	Task    bool
	Epic    bool
	Story   bool
	Subtask bool
}

func orDefault(flag *bool, def bool) bool {
	if flag == nil {
		return def
	}
	return *flag
}

// Munge fills a partial record with its defaults.
func Munge(r Record) Preferences {
	return Preferences{
		Channel: r.Channel,

		IssueCreated: orDefault(r.IssueCreated, true),
		IssueDeleted: orDefault(r.IssueDeleted, true),
		IssueComment: orDefault(r.IssueComment, true),
		IssueStatus:  orDefault(r.IssueStatus, false),
		IssueState:   orDefault(r.IssueState, false),

		Bug:     orDefault(r.Bug, true),
		Task:    orDefault(r.Task, true),
		Epic:    orDefault(r.Epic, true),
		Story:   orDefault(r.Story, true),
		Subtask: orDefault(r.Subtask, true),
	}
}

// CategoryEnabled reports the flag for the given category. Unknown categories
// are disabled.
func (p Preferences) CategoryEnabled(category Category) bool {
	switch category {
	case IssueCreated:
		return p.IssueCreated
	case IssueDeleted:
		return p.IssueDeleted
	case IssueComment:
		return p.IssueComment
	case IssueStatus:
		return p.IssueStatus
	case IssueState:
		return p.IssueState
	}
	return false
}

// TypeEnabled reports the flag for the given issue type. Unrecognized types
// are treated as enabled.
func (p Preferences) TypeEnabled(issueType string) bool {
	switch issueType {
	case TypeBug:
		return p.Bug
	case TypeTask:
		return p.Task
	case TypeEpic:
		return p.Epic
	case TypeStory:
		return p.Story
	case TypeSubtask:
		return p.Subtask
	}
	return true
}

// Allows reports whether a channel with these preferences should receive an
// event of the given category and issue type. Both flags must be enabled.
func (p Preferences) Allows(category Category, issueType string) bool {
	return p.CategoryEnabled(category) && p.TypeEnabled(issueType)
}

// Service owns per-channel preference records and their cached lookups.
type Service struct {
	store *store.Store
	cache cache.Cache
	log   *logrus.Entry
}

// NewService creates a preference service. c may be nil to disable lookup
// caching.
func NewService(s *store.Store, c cache.Cache) *Service {
	return &Service{
		store: s,
		cache: c,
		log:   logrus.WithField("component", "prefs"),
	}
}

func recordKey(workspace, channel string) string {
	return workspace + "/" + channel
}

func cacheKey(workspace, channel string) string {
	return "prefs/" + workspace + "/" + channel
}

// Get loads the munged preferences of a channel through the cache. A missing
// record synthesizes full defaults.
func (s *Service) Get(ctx context.Context, workspace, channel string) (Preferences, error) {
	key := cacheKey(workspace, channel)
	if s.cache != nil {
		cached, found, err := s.cache.Get(ctx, key)
		if err != nil {
			return Preferences{}, fmt.Errorf("cannot read preference cache: %w", err)
		}
		if found {
			var record Record
			if err := json.Unmarshal(cached, &record); err != nil {
				return Preferences{}, fmt.Errorf("cannot decode cached preferences: %w", err)
			}
			return Munge(record), nil
		}
	}

	record := Record{Channel: channel}
	if _, err := s.store.Get(store.ScopePreferences, recordKey(workspace, channel), &record); err != nil {
		return Preferences{}, fmt.Errorf("cannot load preferences: %w", err)
	}

	if s.cache != nil {
		encoded, err := json.Marshal(record)
		if err != nil {
			return Preferences{}, fmt.Errorf("cannot encode preferences for cache: %w", err)
		}
		if err := s.cache.Set(ctx, key, encoded, cache.DefaultTTL); err != nil {
			return Preferences{}, fmt.Errorf("cannot cache preferences: %w", err)
		}
	}

	return Munge(record), nil
}

// Set merges the non-nil flags of update into the stored record, keeping
// absent flags absent so defaulting still applies to them. The cached lookup
// is invalidated before returning.
func (s *Service) Set(ctx context.Context, workspace string, update Record) error {
	key := recordKey(workspace, update.Channel)

	record := Record{Channel: update.Channel}
	if _, err := s.store.Get(store.ScopePreferences, key, &record); err != nil {
		return fmt.Errorf("cannot load preferences: %w", err)
	}

	merge(&record, update)

	if err := s.store.Put(store.ScopePreferences, key, record); err != nil {
		return fmt.Errorf("cannot store preferences: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Delete(ctx, cacheKey(workspace, update.Channel)); err != nil {
			return fmt.Errorf("cannot invalidate preference cache: %w", err)
		}
		s.log.WithField("workspace", workspace).WithField("channel", update.Channel).Debug("invalidated cached preferences")
	}

	return nil
}

func merge(record *Record, update Record) {
	apply := func(dst **bool, src *bool) {
		if src != nil {
			*dst = src
		}
	}
	apply(&record.IssueCreated, update.IssueCreated)
	apply(&record.IssueDeleted, update.IssueDeleted)
	apply(&record.IssueComment, update.IssueComment)
	apply(&record.IssueStatus, update.IssueStatus)
	apply(&record.IssueState, update.IssueState)
	apply(&record.Bug, update.Bug)
	apply(&record.Task, update.Task)
	apply(&record.Epic, update.Epic)
	apply(&record.Story, update.Story)
	apply(&record.Subtask, update.Subtask)
}

// Filter reduces candidate channels to those whose preferences allow the
// given category and issue type. It reads shared state only through the
// cache-fronted Get, so concurrent filtering is safe.
func (s *Service) Filter(ctx context.Context, workspace string, channels []string, category Category, issueType string) ([]string, error) {
	var allowed []string
	for _, channel := range channels {
		preferences, err := s.Get(ctx, workspace, channel)
		if err != nil {
			return nil, err
		}
		if preferences.Allows(category, issueType) {
			allowed = append(allowed, channel)
		}
	}
	return allowed, nil
}
