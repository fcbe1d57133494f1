package normalize

import (
	"encoding/json"
	"slices"
	"testing"
	"time"

	"github.com/eveboxstack/evebox-review/internal/models"
)

func event(id, ts string) models.Event {
	return models.Event{ID: id, Source: models.EventSource{Timestamp: ts}}
}

func TestEventsSortsNewestFirst(t *testing.T) {
	resp := models.EventQueryResponse{
		Took:     json.Number("12"),
		TimedOut: true,
		Data: []models.Event{
			event("a", "2024-03-01T10:00:00.000000+0000"),
			event("b", "2024-03-01T12:00:00.000000+0000"),
			event("c", "2024-03-01T11:00:00.000000+0000"),
			event("d", "2024-03-01T11:00:00.000000+0000"),
		},
	}

	rs := Events(resp)
	var ids []string
	for _, e := range rs.Events {
		ids = append(ids, e.ID)
	}
	if got, want := ids, []string{"b", "c", "d", "a"}; !slices.Equal(got, want) {
		t.Fatalf("expected order %v, got %v", want, got)
	}
	if rs.Count != 4 || rs.Took != 12 || !rs.TimedOut {
		t.Fatalf("unexpected metadata: %+v", rs)
	}
	if rs.NewestTimestamp == nil || !rs.NewestTimestamp.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected newest %v", rs.NewestTimestamp)
	}
	if rs.OldestTimestamp == nil || !rs.OldestTimestamp.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected oldest %v", rs.OldestTimestamp)
	}
	for _, e := range rs.Events {
		if e.Source.Tags == nil {
			t.Fatalf("event %s has nil tags", e.ID)
		}
	}
	if resp.Data[0].ID != "a" {
		t.Fatalf("input must not be reordered")
	}
}

func TestEventsEmpty(t *testing.T) {
	rs := Events(models.EventQueryResponse{Took: json.Number("3")})
	if rs.Count != 0 || len(rs.Events) != 0 || rs.Events == nil {
		t.Fatalf("expected empty non-nil events, got %+v", rs)
	}
	if rs.NewestTimestamp != nil || rs.OldestTimestamp != nil {
		t.Fatalf("empty result must not carry bounds")
	}
}

func TestEventsFallsBackToAtTimestamp(t *testing.T) {
	older := event("older", "2024-03-01T10:00:00Z")
	newer := models.Event{ID: "newer", Source: models.EventSource{AtTimestamp: "2024-03-01T11:00:00Z"}}

	rs := Events(models.EventQueryResponse{Data: []models.Event{older, newer}})
	if rs.Events[0].ID != "newer" {
		t.Fatalf("expected @timestamp fallback to order newer first, got %s", rs.Events[0].ID)
	}
}

func TestEventsBoundsSkipUnparseableTimestamps(t *testing.T) {
	rs := Events(models.EventQueryResponse{Data: []models.Event{
		event("bad", "not a time"),
		event("old", "2024-03-01T10:00:00.000000+0000"),
		event("new", "2024-03-01T12:00:00.000000+0000"),
	}})
	if rs.Events[2].ID != "bad" {
		t.Fatalf("expected unparseable event last, got %s", rs.Events[2].ID)
	}
	newest := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	oldest := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	if rs.NewestTimestamp == nil || !rs.NewestTimestamp.Equal(newest) {
		t.Fatalf("unexpected newest %v", rs.NewestTimestamp)
	}
	if rs.OldestTimestamp == nil || !rs.OldestTimestamp.Equal(oldest) {
		t.Fatalf("unexpected oldest %v", rs.OldestTimestamp)
	}

	rs = Events(models.EventQueryResponse{Data: []models.Event{event("x", ""), event("y", "garbage")}})
	if rs.Count != 2 || rs.NewestTimestamp != nil || rs.OldestTimestamp != nil {
		t.Fatalf("expected nil bounds when no timestamp parses, got %+v", rs)
	}
}

func TestTookParsing(t *testing.T) {
	if got := took(json.Number("7.9")); got != 7 {
		t.Fatalf("expected 7, got %d", got)
	}
	if got := took(json.Number("")); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestAlertGroups(t *testing.T) {
	resp := models.AlertsResponse{Alerts: []models.AlertGroup{
		{Count: 3, MaxTs: "2024-03-01T12:00:00.000000+0000", Selected: true, Event: event("x", "")},
		{Count: 1, MaxTs: "", Event: event("y", "2024-03-01T09:00:00Z")},
	}}

	groups := AlertGroups(resp)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if groups[0].Selected {
		t.Fatalf("selection must be reset")
	}
	if !groups[0].Date.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected date %v", groups[0].Date)
	}
	if !groups[1].Date.Equal(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected date from event when maxTs is missing, got %v", groups[1].Date)
	}
	if groups[0].Event.Source.Tags == nil {
		t.Fatalf("expected non-nil tags")
	}

	if got := AlertGroups(models.AlertsResponse{}); len(got) != 0 {
		t.Fatalf("expected no groups, got %d", len(got))
	}
}
