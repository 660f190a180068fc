package mappings

import (
	"context"
	"testing"

	"github.com/petr-muller/herald/internal/cache"
	"github.com/petr-muller/herald/internal/store"
)

func stringPtr(s string) *string { return &s }

func TestHashKeyDeterministic(t *testing.T) {
	m := Mapping{Workspace: "T1", Project: "PROJ", Component: stringPtr("frontend"), Channel: "c1"}

	first, err := m.HashKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Mapping{Channel: "c1", Component: stringPtr("frontend"), Project: "PROJ", Workspace: "T1"}.HashKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first != second {
		t.Errorf("identical payloads must hash identically: %q vs %q", first, second)
	}
}

func TestHashKeyDistinguishesPayloads(t *testing.T) {
	tests := []struct {
		name string
		a, b Mapping
	}{
		{
			name: "absent component vs empty component",
			a:    Mapping{Workspace: "T1", Project: "A", Channel: "c1"},
			b:    Mapping{Workspace: "T1", Project: "A", Component: stringPtr(""), Channel: "c1"},
		},
		{
			name: "different channels",
			a:    Mapping{Workspace: "T1", Project: "A", Channel: "c1"},
			b:    Mapping{Workspace: "T1", Project: "A", Channel: "c2"},
		},
		{
			name: "different projects",
			a:    Mapping{Workspace: "T1", Project: "A", Channel: "c1"},
			b:    Mapping{Workspace: "T1", Project: "B", Channel: "c1"},
		},
		{
			name: "different workspaces",
			a:    Mapping{Workspace: "T1", Project: "A", Channel: "c1"},
			b:    Mapping{Workspace: "T2", Project: "A", Channel: "c1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keyA, err := tt.a.HashKey()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			keyB, err := tt.b.HashKey()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if keyA == keyB {
				t.Errorf("expected distinct keys, both hashed to %q", keyA)
			}
		})
	}
}

func TestPutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewService(store.NewStore(t.TempDir()), nil)

	m := Mapping{Workspace: "T1", Project: "PROJ", Channel: "c1"}
	first, err := s.Put(ctx, m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := s.Put(ctx, m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first != second {
		t.Errorf("repeated submission must upsert the same key: %q vs %q", first, second)
	}

	list, err := s.List("T1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected a single record after repeated put, got %d", len(list))
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name      string
		mappings  []Mapping
		project   string
		component string
		expected  []string
	}{
		{
			name:     "no mappings yields empty set",
			project:  "PROJ",
			expected: nil,
		},
		{
			name: "project-level mapping matches any component",
			mappings: []Mapping{
				{Workspace: "T1", Project: "PROJ", Channel: "c1"},
			},
			project:   "PROJ",
			component: "frontend",
			expected:  []string{"c1"},
		},
		{
			name: "component mapping is additive to project mapping",
			mappings: []Mapping{
				{Workspace: "T1", Project: "PROJ", Channel: "c1"},
				{Workspace: "T1", Project: "PROJ", Component: stringPtr("frontend"), Channel: "c2"},
			},
			project:   "PROJ",
			component: "frontend",
			expected:  []string{"c1", "c2"},
		},
		{
			name: "component mapping does not match other components",
			mappings: []Mapping{
				{Workspace: "T1", Project: "PROJ", Component: stringPtr("frontend"), Channel: "c2"},
			},
			project:   "PROJ",
			component: "backend",
			expected:  nil,
		},
		{
			name: "component mapping does not match events without component",
			mappings: []Mapping{
				{Workspace: "T1", Project: "PROJ", Component: stringPtr("frontend"), Channel: "c2"},
			},
			project:  "PROJ",
			expected: nil,
		},
		{
			name: "other workspaces and projects are ignored",
			mappings: []Mapping{
				{Workspace: "T2", Project: "PROJ", Channel: "other-workspace"},
				{Workspace: "T1", Project: "OTHER", Channel: "other-project"},
				{Workspace: "T1", Project: "PROJ", Channel: "c1"},
			},
			project:  "PROJ",
			expected: []string{"c1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := NewService(store.NewStore(t.TempDir()), nil)
			for _, m := range tt.mappings {
				if _, err := s.Put(ctx, m); err != nil {
					t.Fatalf("unexpected error seeding mapping: %v", err)
				}
			}

			channels, err := s.Resolve(ctx, "T1", tt.project, tt.component)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if len(channels) != len(tt.expected) {
				t.Fatalf("expected channels %v, got %v", tt.expected, channels)
			}
			expected := map[string]bool{}
			for _, c := range tt.expected {
				expected[c] = true
			}
			for _, c := range channels {
				if !expected[c] {
					t.Errorf("unexpected channel %q in %v", c, channels)
				}
			}
		})
	}
}

func TestResolveReadsThroughCache(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()
	c := cache.NewMemory()
	s := NewService(store.NewStore(dataDir), c)

	if _, err := s.Put(ctx, Mapping{Workspace: "T1", Project: "PROJ", Channel: "c1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// First resolve populates the cache.
	channels, err := s.Resolve(ctx, "T1", "PROJ", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(channels) != 1 || channels[0] != "c1" {
		t.Fatalf("expected [c1], got %v", channels)
	}

	// A second service over an empty store but the same cache must still see
	// the cached lookup.
	stale := NewService(store.NewStore(t.TempDir()), c)
	channels, err = stale.Resolve(ctx, "T1", "PROJ", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(channels) != 1 || channels[0] != "c1" {
		t.Errorf("expected cached lookup [c1], got %v", channels)
	}
}

func TestMutationInvalidatesCachedLookup(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()
	s := NewService(store.NewStore(t.TempDir()), c)

	m := Mapping{Workspace: "T1", Project: "PROJ", Channel: "c1"}
	if _, err := s.Put(ctx, m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Resolve(ctx, "T1", "PROJ", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The remove must synchronously drop the cached lookup; the next read
	// comes from the store and sees no mappings.
	if err := s.Remove(ctx, m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	channels, err := s.Resolve(ctx, "T1", "PROJ", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(channels) != 0 {
		t.Errorf("expected fresh empty lookup after remove, got %v", channels)
	}
}

func TestRemoveThroughOtherServiceInvalidatesCachedLookup(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()
	dir := t.TempDir()
	// The routing service and the admin command hold separate service
	// instances over the same store and shared cache.
	reader := NewService(store.NewStore(dir), c)
	writer := NewService(store.NewStore(dir), c)

	m := Mapping{Workspace: "T1", Project: "PROJ", Channel: "c1"}
	if _, err := writer.Put(ctx, m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	channels, err := reader.Resolve(ctx, "T1", "PROJ", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(channels) != 1 || channels[0] != "c1" {
		t.Fatalf("expected [c1], got %v", channels)
	}

	if err := writer.Remove(ctx, m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	channels, err = reader.Resolve(ctx, "T1", "PROJ", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(channels) != 0 {
		t.Errorf("stale read outlived the mutation: still resolves %v after remove", channels)
	}
}

func TestComponentRemoveKeepsProjectMapping(t *testing.T) {
	ctx := context.Background()
	s := NewService(store.NewStore(t.TempDir()), nil)

	project := Mapping{Workspace: "T1", Project: "PROJ", Channel: "c1"}
	component := Mapping{Workspace: "T1", Project: "PROJ", Component: stringPtr("frontend"), Channel: "c1"}
	if _, err := s.Put(ctx, project); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Put(ctx, component); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.Remove(ctx, component); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	channels, err := s.Resolve(ctx, "T1", "PROJ", "frontend")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(channels) != 1 || channels[0] != "c1" {
		t.Errorf("project-level mapping must survive component-level remove, got %v", channels)
	}
}
