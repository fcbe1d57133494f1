package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/eveboxstack/evebox-review/internal/cache"
	"github.com/eveboxstack/evebox-review/internal/models"
	"github.com/eveboxstack/evebox-review/internal/queue"
	"github.com/eveboxstack/evebox-review/internal/utils"
)

type call struct {
	method string
	path   string
	params url.Values
	body   any
}

type transportStub struct {
	mu        sync.Mutex
	calls     []call
	responses map[string]string
	err       error
}

func newTransportStub() *transportStub {
	return &transportStub{responses: make(map[string]string)}
}

func (s *transportStub) record(c call) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, c)
}

func (s *transportStub) respond(path string, out any) error {
	if s.err != nil {
		return s.err
	}
	if out == nil {
		return nil
	}
	s.mu.Lock()
	body, ok := s.responses[path]
	s.mu.Unlock()
	if !ok {
		body = `{}`
	}
	return json.Unmarshal([]byte(body), out)
}

func (s *transportStub) Get(_ context.Context, path string, params url.Values, out any) error {
	s.record(call{method: "GET", path: path, params: params})
	return s.respond(path, out)
}

func (s *transportStub) Post(_ context.Context, path string, body any, out any) error {
	s.record(call{method: "POST", path: path, body: body})
	return s.respond(path, out)
}

func (s *transportStub) snapshot() []call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

func newClient(t *testing.T, stub *transportStub, opts Options) *EventIndexClient {
	t.Helper()
	return NewEventIndexClient(nil, stub, queue.New(4, nil), opts)
}

func alertGroup() *models.AlertGroup {
	return &models.AlertGroup{
		Count: 2,
		MinTs: "2024-03-01T10:00:00.000Z",
		MaxTs: "2024-03-01T11:00:00.000Z",
		Event: models.Event{
			ID: "grp",
			Source: models.EventSource{
				SrcIP:  "10.0.0.1",
				DestIP: "10.0.0.2",
				Alert:  &models.AlertMeta{SignatureID: 2010935},
			},
		},
	}
}

func TestEscalateEventAddsTagsAndPosts(t *testing.T) {
	stub := newTransportStub()
	client := newClient(t, stub, Options{})
	event := &models.Event{ID: "abc", Source: models.EventSource{Tags: []string{"foo"}}}

	job := client.EscalateEvent(context.Background(), event)
	if err := job.Wait(context.Background()); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if want := []string{"foo", "escalated", "evebox.escalated"}; !slices.Equal(event.Source.Tags, want) {
		t.Fatalf("expected tags %v, got %v", want, event.Source.Tags)
	}

	client.EscalateEvent(context.Background(), event).Wait(context.Background())
	if len(event.Source.Tags) != 3 {
		t.Fatalf("escalating twice must not duplicate tags: %v", event.Source.Tags)
	}

	calls := stub.snapshot()
	if len(calls) != 2 || calls[0].method != "POST" || calls[0].path != "api/1/event/abc/escalate" {
		t.Fatalf("unexpected calls %+v", calls)
	}
}

func TestDeEscalateWithoutTagsStillPosts(t *testing.T) {
	stub := newTransportStub()
	client := newClient(t, stub, Options{})
	event := &models.Event{ID: "abc", Source: models.EventSource{Tags: []string{"foo"}}}

	if err := client.DeEscalateEvent(context.Background(), event).Wait(context.Background()); err != nil {
		t.Fatalf("de-escalate: %v", err)
	}
	if !slices.Equal(event.Source.Tags, []string{"foo"}) {
		t.Fatalf("tags must be unchanged, got %v", event.Source.Tags)
	}
	calls := stub.snapshot()
	if len(calls) != 1 || calls[0].path != "api/1/event/abc/de-escalate" {
		t.Fatalf("expected de-escalate request, got %+v", calls)
	}

	escalated := &models.Event{ID: "def", Source: models.EventSource{Tags: []string{"escalated", "x", "evebox.escalated"}}}
	client.DeEscalateEvent(context.Background(), escalated).Wait(context.Background())
	if !slices.Equal(escalated.Source.Tags, []string{"x"}) {
		t.Fatalf("expected escalation tags removed, got %v", escalated.Source.Tags)
	}
}

func TestArchiveEventFailurePropagates(t *testing.T) {
	stub := newTransportStub()
	boom := errors.New("backend down")
	stub.err = boom
	client := newClient(t, stub, Options{})

	job := client.ArchiveEvent(context.Background(), &models.Event{ID: "abc"})
	if err := job.Wait(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if client.JobSize() != 0 {
		t.Fatalf("failed job must leave the queue, size=%d", client.JobSize())
	}
}

func TestInvalidInputsFailWithoutRequests(t *testing.T) {
	stub := newTransportStub()
	client := newClient(t, stub, Options{})
	ctx := context.Background()

	jobs := []*queue.Job{
		client.EscalateEvent(ctx, nil),
		client.ArchiveEvent(ctx, &models.Event{}),
		client.ArchiveAlertGroup(ctx, &models.AlertGroup{MinTs: "a", MaxTs: "b"}),
		client.EscalateAlertGroup(ctx, nil),
		client.AddTagsToAlertGroup(ctx, alertGroup()),
		client.AddTagsToEvent(ctx, &models.Event{ID: "abc"}),
		client.RemoveTagsFromEvent(ctx, nil, "x"),
	}
	for i, job := range jobs {
		if !job.Settled() {
			t.Fatalf("job %d should be pre-settled", i)
		}
		if !errors.Is(job.Err(), utils.ErrValidation) {
			t.Fatalf("job %d: expected validation error, got %v", i, job.Err())
		}
	}
	if len(stub.snapshot()) != 0 {
		t.Fatalf("invalid input must not reach the backend")
	}
	if _, err := client.GetEventByID(ctx, ""); !errors.Is(err, utils.ErrValidation) {
		t.Fatalf("expected validation error for empty id, got %v", err)
	}
}

func TestAlertGroupMutations(t *testing.T) {
	stub := newTransportStub()
	client := newClient(t, stub, Options{})
	ctx := context.Background()
	group := alertGroup()

	jobs := []*queue.Job{
		client.EscalateAlertGroup(ctx, group),
		client.ArchiveAlertGroup(ctx, group),
		client.RemoveEscalatedStateFromAlertGroup(ctx, group),
		client.AddTagsToAlertGroup(ctx, group, "reviewed"),
	}
	for i, job := range jobs {
		if err := job.Wait(ctx); err != nil {
			t.Fatalf("job %d: %v", i, err)
		}
	}

	byPath := map[string]any{}
	for _, c := range stub.snapshot() {
		byPath[c.path] = c.body
	}
	want := models.AlertGroupQuery{
		SignatureID:  2010935,
		SrcIP:        "10.0.0.1",
		DestIP:       "10.0.0.2",
		MinTimestamp: "2024-03-01T10:00:00.000Z",
		MaxTimestamp: "2024-03-01T11:00:00.000Z",
	}
	if got, ok := byPath["api/1/escalate"].(models.AlertGroupQuery); !ok || got != want {
		t.Fatalf("unexpected escalate body %#v", byPath["api/1/escalate"])
	}
	if got, ok := byPath["api/1/archive"].(models.AlertGroupQuery); !ok || got != want {
		t.Fatalf("unexpected archive body %#v", byPath["api/1/archive"])
	}
	removed, ok := byPath["api/1/alert-group/remove-tags"].(models.AlertGroupTagsRequest)
	if !ok || removed.AlertGroup != want || !slices.Equal(removed.Tags, []string{"escalated", "evebox.escalated"}) {
		t.Fatalf("unexpected remove-tags body %#v", byPath["api/1/alert-group/remove-tags"])
	}
	added, ok := byPath["api/1/alert-group/add-tags"].(models.AlertGroupTagsRequest)
	if !ok || !slices.Equal(added.Tags, []string{"reviewed"}) {
		t.Fatalf("unexpected add-tags body %#v", byPath["api/1/alert-group/add-tags"])
	}
}

func TestFindEventsNormalizes(t *testing.T) {
	stub := newTransportStub()
	stub.responses[pathEventQuery] = `{"took": 4, "timed_out": false, "data": [
		{"_id": "old", "_source": {"timestamp": "2024-03-01T10:00:00Z"}},
		{"_id": "new", "_source": {"timestamp": "2024-03-01T12:00:00Z", "tags": ["a"]}}
	]}`
	client := newClient(t, stub, Options{})

	rs, err := client.FindEvents(context.Background(), models.EventQueryOptions{EventType: "alert"})
	if err != nil {
		t.Fatalf("find events: %v", err)
	}
	if rs.Count != 2 || rs.Events[0].ID != "new" || rs.Took != 4 {
		t.Fatalf("unexpected result %+v", rs)
	}
	if rs.Events[1].Source.Tags == nil {
		t.Fatalf("expected non-nil tags")
	}
	calls := stub.snapshot()
	if calls[0].params.Get("eventType") != "alert" {
		t.Fatalf("expected eventType param, got %v", calls[0].params)
	}
}

func TestGetAlerts(t *testing.T) {
	stub := newTransportStub()
	stub.responses[pathAlerts] = `{"alerts": [{"count": 3, "escalatedCount": 1, "minTs": "2024-03-01T10:00:00Z", "maxTs": "2024-03-01T11:00:00Z",
		"event": {"_id": "a1", "_source": {"event_type": "alert", "alert": {"signature_id": 1, "severity": 2}}}}]}`
	client := newClient(t, stub, Options{})

	groups, err := client.GetAlerts(context.Background(), models.AlertQueryOptions{MustNotHaveTags: []string{"archived"}})
	if err != nil {
		t.Fatalf("get alerts: %v", err)
	}
	if len(groups) != 1 || groups[0].Count != 3 || groups[0].Date.IsZero() {
		t.Fatalf("unexpected groups %+v", groups)
	}
	if got := stub.snapshot()[0].params.Get("tags"); got != "-archived" {
		t.Fatalf("unexpected tags param %q", got)
	}
}

func TestSearchReturnsRawResponse(t *testing.T) {
	stub := newTransportStub()
	stub.responses[pathQuery] = `{"hits":{"total":1}}`
	client := newClient(t, stub, Options{})

	raw, err := client.Search(context.Background(), map[string]any{"query": map[string]any{}})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if string(raw) != `{"hits":{"total":1}}` {
		t.Fatalf("unexpected response %s", raw)
	}
	if _, err := client.Search(context.Background(), nil); !errors.Is(err, utils.ErrValidation) {
		t.Fatalf("expected validation error for nil query, got %v", err)
	}
}

func TestGetEventByIDCachesAndInvalidates(t *testing.T) {
	stub := newTransportStub()
	stub.responses["api/1/event/abc"] = `{"_id": "abc", "_source": {"event_type": "alert"}}`
	client := newClient(t, stub, Options{Cache: cache.NewMemoryProvider(0), CacheTTL: time.Minute})
	ctx := context.Background()

	first, err := client.GetEventByID(ctx, "abc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if first.Source.Tags == nil {
		t.Fatalf("expected non-nil tags")
	}
	if _, err := client.GetEventByID(ctx, "abc"); err != nil {
		t.Fatalf("cached get: %v", err)
	}
	if n := len(stub.snapshot()); n != 1 {
		t.Fatalf("expected cached read, got %d requests", n)
	}

	if err := client.ArchiveEvent(ctx, first).Wait(ctx); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if _, err := client.GetEventByID(ctx, "abc"); err != nil {
		t.Fatalf("get after archive: %v", err)
	}
	if n := len(stub.snapshot()); n != 3 {
		t.Fatalf("expected cache invalidation to force a refetch, got %d requests", n)
	}
}

func TestPing(t *testing.T) {
	stub := newTransportStub()
	stub.responses[pathVersion] = `{"version": "0.18.0", "revision": "abc"}`
	client := newClient(t, stub, Options{})

	version, err := client.Ping(context.Background())
	if err != nil || version.Version != "0.18.0" {
		t.Fatalf("unexpected ping result %+v %v", version, err)
	}

	stub.err = errors.New("down")
	if _, err := client.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping failure")
	}
}

func TestEventPathEscapesID(t *testing.T) {
	if got := eventPath("a/b", "archive"); got != "api/1/event/a%2Fb/archive" {
		t.Fatalf("unexpected path %q", got)
	}
}

func TestEventTagMutations(t *testing.T) {
	stub := newTransportStub()
	client := newClient(t, stub, Options{Cache: cache.NewMemoryProvider(0), CacheTTL: time.Minute})
	ctx := context.Background()
	stub.responses["api/1/event/abc"] = `{"_id": "abc", "_source": {"tags": ["foo"]}}`

	event, err := client.GetEventByID(ctx, "abc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := client.AddTagsToEvent(ctx, event, "reviewed", "foo").Wait(ctx); err != nil {
		t.Fatalf("add tags: %v", err)
	}
	if !slices.Equal(event.Source.Tags, []string{"foo", "reviewed"}) {
		t.Fatalf("unexpected tags after add %v", event.Source.Tags)
	}
	if err := client.RemoveTagsFromEvent(ctx, event, "foo").Wait(ctx); err != nil {
		t.Fatalf("remove tags: %v", err)
	}
	if !slices.Equal(event.Source.Tags, []string{"reviewed"}) {
		t.Fatalf("unexpected tags after remove %v", event.Source.Tags)
	}

	calls := stub.snapshot()
	if len(calls) != 3 {
		t.Fatalf("expected 3 requests, got %+v", calls)
	}
	added, ok := calls[1].body.(models.EventTagsRequest)
	if calls[1].path != "api/1/event/abc/add-tags" || !ok || !slices.Equal(added.Tags, []string{"reviewed", "foo"}) {
		t.Fatalf("unexpected add-tags call %+v", calls[1])
	}
	removed, ok := calls[2].body.(models.EventTagsRequest)
	if calls[2].path != "api/1/event/abc/remove-tags" || !ok || !slices.Equal(removed.Tags, []string{"foo"}) {
		t.Fatalf("unexpected remove-tags call %+v", calls[2])
	}

	if _, err := client.GetEventByID(ctx, "abc"); err != nil {
		t.Fatalf("get after tagging: %v", err)
	}
	if n := len(stub.snapshot()); n != 4 {
		t.Fatalf("tag mutations must invalidate the cached event, got %d requests", n)
	}
}

// gatedTransport holds the first event read until release is closed.
type gatedTransport struct {
	*transportStub
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (g *gatedTransport) Get(ctx context.Context, path string, params url.Values, out any) error {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.started)
		<-g.release
	}
	return g.transportStub.Get(ctx, path, params, out)
}

func TestInFlightReadDoesNotRepopulateAfterMutation(t *testing.T) {
	stub := newTransportStub()
	stub.responses["api/1/event/abc"] = `{"_id": "abc", "_source": {"tags": []}}`
	gated := &gatedTransport{transportStub: stub, started: make(chan struct{}), release: make(chan struct{})}
	client := NewEventIndexClient(nil, gated, queue.New(4, nil), Options{Cache: cache.NewMemoryProvider(0), CacheTTL: time.Minute})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := client.GetEventByID(ctx, "abc")
		done <- err
	}()
	<-gated.started

	if err := client.ArchiveEvent(ctx, &models.Event{ID: "abc"}).Wait(ctx); err != nil {
		t.Fatalf("archive: %v", err)
	}
	close(gated.release)
	if err := <-done; err != nil {
		t.Fatalf("in-flight get: %v", err)
	}

	if _, err := client.GetEventByID(ctx, "abc"); err != nil {
		t.Fatalf("get after archive: %v", err)
	}
	gets := 0
	for _, c := range stub.snapshot() {
		if c.method == "GET" {
			gets++
		}
	}
	if gets != 2 {
		t.Fatalf("read that started before the mutation must not be cached, got %d GETs", gets)
	}
}
