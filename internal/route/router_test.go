package route

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andygrunwald/go-jira"

	"github.com/petr-muller/herald/internal/cache"
	"github.com/petr-muller/herald/internal/dynamic"
	"github.com/petr-muller/herald/internal/mappings"
	"github.com/petr-muller/herald/internal/notify"
	"github.com/petr-muller/herald/internal/prefs"
	"github.com/petr-muller/herald/internal/store"
	"github.com/petr-muller/herald/internal/tracker"
)

type fakeNotifier struct {
	messages []*notify.Message
}

func (f *fakeNotifier) Send(_ context.Context, message *notify.Message) error {
	f.messages = append(f.messages, message)
	return nil
}

// trackerServer serves the issue detail, transitions and dev-status resources
// the router fetches while composing.
func trackerServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/transitions"):
			w.Write([]byte(`{"transitions":[{"id":"21","name":"In Progress"},{"id":"31","name":"Done"}]}`))
		case strings.HasPrefix(r.URL.Path, "/rest/api/2/issue/"):
			w.Write([]byte(`{"key":"PROJ-1","fields":{"summary":"Crash on start","status":{"name":"To Do"},"assignee":{"displayName":"Dana"}}}`))
		case strings.HasPrefix(r.URL.Path, "/rest/dev-status/"):
			w.Write([]byte(`{"detail":[{"repositories":[{"name":"org/frontend"}]}]}`))
		default:
			t.Errorf("unexpected request path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

type routerFixture struct {
	router   *Router
	mappings *mappings.Service
	prefs    *prefs.Service
	dynamic  *dynamic.Resolver
	notifier *fakeNotifier
}

func newFixture(t *testing.T, serverURL string, withDynamic bool) *routerFixture {
	t.Helper()

	s := store.NewStore(t.TempDir())
	c := cache.NewMemory()
	fetcher := tracker.NewFetcher(serverURL, nil, c)
	mappingService := mappings.NewService(s, c)
	prefService := prefs.NewService(s, c)
	notifier := &fakeNotifier{}

	var dynamicResolver *dynamic.Resolver
	if withDynamic {
		dynamicResolver = dynamic.NewResolver(fetcher, s, "github")
	}

	return &routerFixture{
		router:   NewRouter("T1", fetcher, mappingService, prefService, dynamicResolver, notifier, c),
		mappings: mappingService,
		prefs:    prefService,
		dynamic:  dynamicResolver,
		notifier: notifier,
	}
}

func createdEvent() *tracker.Event {
	return &tracker.Event{
		WebhookEvent:       tracker.WebhookIssueCreated,
		IssueEventTypeName: tracker.EventTypeIssueCreated,
		Issue: &tracker.EventIssue{
			ID:  "10001",
			Key: "PROJ-1",
			Fields: &jira.IssueFields{
				Type: jira.IssueType{Name: "Bug"},
			},
		},
		Timestamp: 1700000000000,
	}
}

func TestRouteCreatedEvent(t *testing.T) {
	server := trackerServer(t)
	defer server.Close()

	ctx := context.Background()
	fx := newFixture(t, server.URL, false)
	if _, err := fx.mappings.Put(ctx, mappings.Mapping{Workspace: "T1", Project: "PROJ", Channel: "c1"}); err != nil {
		t.Fatalf("unexpected error seeding mapping: %v", err)
	}

	if err := fx.router.Route(ctx, createdEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(fx.notifier.messages) != 1 {
		t.Fatalf("expected exactly one notification, got %d", len(fx.notifier.messages))
	}
	message := fx.notifier.messages[0]

	if message.Identity != "jira/issue_created/PROJ-1/1700000000000" {
		t.Errorf("unexpected identity: %q", message.Identity)
	}
	if message.Post != notify.PostAlways {
		t.Errorf("first delivery must post, got %q", message.Post)
	}
	if len(message.Channels) != 1 || message.Channels[0] != "c1" {
		t.Errorf("expected channels [c1], got %v", message.Channels)
	}
	if !strings.Contains(message.Text, "Crash on start") {
		t.Errorf("expected fetched summary in text, got %q", message.Text)
	}
	if len(message.Actions) != 2 || message.Actions[0].Name != "In Progress" {
		t.Errorf("expected transition actions, got %+v", message.Actions)
	}
}

func TestRouteRedeliveryUpdatesInsteadOfReposting(t *testing.T) {
	server := trackerServer(t)
	defer server.Close()

	ctx := context.Background()
	fx := newFixture(t, server.URL, false)
	if _, err := fx.mappings.Put(ctx, mappings.Mapping{Workspace: "T1", Project: "PROJ", Channel: "c1"}); err != nil {
		t.Fatalf("unexpected error seeding mapping: %v", err)
	}

	if err := fx.router.Route(ctx, createdEvent()); err != nil {
		t.Fatalf("unexpected error on first route: %v", err)
	}
	if err := fx.router.Route(ctx, createdEvent()); err != nil {
		t.Fatalf("unexpected error on second route: %v", err)
	}

	if len(fx.notifier.messages) != 2 {
		t.Fatalf("expected two composed messages, got %d", len(fx.notifier.messages))
	}
	if fx.notifier.messages[0].Post != notify.PostAlways {
		t.Errorf("first delivery must post, got %q", fx.notifier.messages[0].Post)
	}
	if fx.notifier.messages[1].Post != notify.PostUpdateOnly {
		t.Errorf("redelivery must be update_only, got %q", fx.notifier.messages[1].Post)
	}
	if fx.notifier.messages[0].Identity != fx.notifier.messages[1].Identity {
		t.Errorf("redelivery must keep the identity: %q vs %q",
			fx.notifier.messages[0].Identity, fx.notifier.messages[1].Identity)
	}
}

func TestComposeHonorsNewEventFlag(t *testing.T) {
	server := trackerServer(t)
	defer server.Close()

	ctx := context.Background()
	fx := newFixture(t, server.URL, false)

	message, err := fx.router.Compose(ctx, createdEvent(), prefs.IssueCreated, []string{"c1"}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if message.Post != notify.PostUpdateOnly {
		t.Errorf("newEvent=false must yield update_only, got %q", message.Post)
	}
}

func TestRouteDeduplicatesChannels(t *testing.T) {
	server := trackerServer(t)
	defer server.Close()

	ctx := context.Background()
	fx := newFixture(t, server.URL, false)

	component := "frontend"
	if _, err := fx.mappings.Put(ctx, mappings.Mapping{Workspace: "T1", Project: "PROJ", Channel: "c1"}); err != nil {
		t.Fatalf("unexpected error seeding mapping: %v", err)
	}
	if _, err := fx.mappings.Put(ctx, mappings.Mapping{Workspace: "T1", Project: "PROJ", Component: &component, Channel: "c1"}); err != nil {
		t.Fatalf("unexpected error seeding mapping: %v", err)
	}

	event := createdEvent()
	event.Issue.Fields.Components = []*jira.Component{{Name: "frontend"}}

	if err := fx.router.Route(ctx, event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(fx.notifier.messages) != 1 {
		t.Fatalf("expected exactly one notification, got %d", len(fx.notifier.messages))
	}
	if channels := fx.notifier.messages[0].Channels; len(channels) != 1 || channels[0] != "c1" {
		t.Errorf("expected channel c1 exactly once, got %v", channels)
	}
}

func TestRouteIssueStateFailsClosed(t *testing.T) {
	server := trackerServer(t)
	defer server.Close()

	ctx := context.Background()
	fx := newFixture(t, server.URL, false)
	if _, err := fx.mappings.Put(ctx, mappings.Mapping{Workspace: "T1", Project: "PROJ", Channel: "c1"}); err != nil {
		t.Fatalf("unexpected error seeding mapping: %v", err)
	}
	// Record exists but has no flags set; issueState defaults to disabled.
	if err := fx.prefs.Set(ctx, "T1", prefs.Record{Channel: "c1"}); err != nil {
		t.Fatalf("unexpected error seeding preferences: %v", err)
	}

	event := createdEvent()
	event.WebhookEvent = tracker.WebhookIssueUpdated
	event.IssueEventTypeName = tracker.EventTypeIssueUpdated

	if err := fx.router.Route(ctx, event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(fx.notifier.messages) != 0 {
		t.Errorf("issueState must be opt-in, got %d notifications", len(fx.notifier.messages))
	}
}

func TestRouteUnclassifiedEventIsDropped(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, "https://tracker.invalid", false)

	event := createdEvent()
	event.WebhookEvent = "jira:worklog_updated"

	if err := fx.router.Route(ctx, event); err != nil {
		t.Fatalf("unclassified events must not be errors: %v", err)
	}
	if len(fx.notifier.messages) != 0 {
		t.Errorf("expected no notification, got %d", len(fx.notifier.messages))
	}
}

func TestRouteWithoutMappingsIsDropped(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, "https://tracker.invalid", false)

	if err := fx.router.Route(ctx, createdEvent()); err != nil {
		t.Fatalf("empty channel set must not be an error: %v", err)
	}
	if len(fx.notifier.messages) != 0 {
		t.Errorf("expected no notification, got %d", len(fx.notifier.messages))
	}
}

func TestRouteUnionsDynamicChannels(t *testing.T) {
	server := trackerServer(t)
	defer server.Close()

	ctx := context.Background()
	fx := newFixture(t, server.URL, true)
	if _, err := fx.mappings.Put(ctx, mappings.Mapping{Workspace: "T1", Project: "PROJ", Channel: "c1"}); err != nil {
		t.Fatalf("unexpected error seeding mapping: %v", err)
	}
	if err := fx.dynamic.Link("org/frontend", "c2"); err != nil {
		t.Fatalf("unexpected error linking repository: %v", err)
	}

	if err := fx.router.Route(ctx, createdEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(fx.notifier.messages) != 1 {
		t.Fatalf("expected exactly one notification, got %d", len(fx.notifier.messages))
	}
	channels := fx.notifier.messages[0].Channels
	if len(channels) != 2 || channels[0] != "c1" || channels[1] != "c2" {
		t.Errorf("expected union [c1 c2], got %v", channels)
	}
}

func TestRouteDeletedEventSkipsDetailFetch(t *testing.T) {
	ctx := context.Background()
	// An unreachable tracker proves the deleted path never fetches.
	fx := newFixture(t, "https://tracker.invalid", false)
	if _, err := fx.mappings.Put(ctx, mappings.Mapping{Workspace: "T1", Project: "PROJ", Channel: "c1"}); err != nil {
		t.Fatalf("unexpected error seeding mapping: %v", err)
	}

	event := createdEvent()
	event.WebhookEvent = tracker.WebhookIssueDeleted
	event.IssueEventTypeName = ""
	event.Issue.Fields.Summary = "Crash on start"

	if err := fx.router.Route(ctx, event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(fx.notifier.messages) != 1 {
		t.Fatalf("expected exactly one notification, got %d", len(fx.notifier.messages))
	}
	message := fx.notifier.messages[0]
	if !strings.Contains(message.Text, "deleted") || !strings.Contains(message.Text, "Crash on start") {
		t.Errorf("unexpected text: %q", message.Text)
	}
	if len(message.Actions) != 0 {
		t.Errorf("deleted issues have no transitions, got %+v", message.Actions)
	}
}

func TestRouteAbortsOnFetchFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx := context.Background()
	fx := newFixture(t, server.URL, false)
	if _, err := fx.mappings.Put(ctx, mappings.Mapping{Workspace: "T1", Project: "PROJ", Channel: "c1"}); err != nil {
		t.Fatalf("unexpected error seeding mapping: %v", err)
	}

	if err := fx.router.Route(ctx, createdEvent()); err == nil {
		t.Fatal("expected fetch failure to abort the route")
	}
	if len(fx.notifier.messages) != 0 {
		t.Errorf("no partial notification may be sent, got %d", len(fx.notifier.messages))
	}
}
