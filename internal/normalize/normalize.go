// Package normalize turns raw backend responses into the shapes callers consume.
package normalize

import (
	"encoding/json"
	"slices"
	"strconv"
	"time"

	"github.com/eveboxstack/evebox-review/internal/models"
	"github.com/eveboxstack/evebox-review/internal/utils"
)

// Events sorts the response newest first and derives the result bounds. Events with equal
// timestamps keep their response order. Unparseable timestamps sort last and never count
// as a bound; the bounds stay nil when no timestamp parses.
func Events(resp models.EventQueryResponse) models.ResultSet {
	events := slices.Clone(resp.Data)
	if events == nil {
		events = []models.Event{}
	}
	for i := range events {
		EnsureTags(&events[i])
	}

	type stamped struct {
		event models.Event
		ts    time.Time
	}
	items := make([]stamped, len(events))
	for i := range events {
		items[i] = stamped{event: events[i], ts: events[i].Time()}
	}
	slices.SortStableFunc(items, func(a, b stamped) int {
		return b.ts.Compare(a.ts)
	})
	for i := range items {
		events[i] = items[i].event
	}

	rs := models.ResultSet{
		Took:     took(resp.Took),
		TimedOut: resp.TimedOut,
		Count:    len(events),
		Events:   events,
	}
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].ts.IsZero() {
			continue
		}
		newest := items[0].ts
		oldest := items[i].ts
		rs.NewestTimestamp = &newest
		rs.OldestTimestamp = &oldest
		break
	}
	return rs
}

// AlertGroups resets the selection flag and derives each group's display date from its
// newest timestamp.
func AlertGroups(resp models.AlertsResponse) []models.AlertGroup {
	groups := make([]models.AlertGroup, len(resp.Alerts))
	for i, group := range resp.Alerts {
		group.Selected = false
		if ts, err := utils.ParseTimestamp(group.MaxTs); err == nil {
			group.Date = ts
		} else {
			group.Date = group.Event.Time()
		}
		EnsureTags(&group.Event)
		groups[i] = group
	}
	return groups
}

// EnsureTags guarantees a non-nil tag list.
func EnsureTags(event *models.Event) {
	if event.Source.Tags == nil {
		event.Source.Tags = []string{}
	}
}

func took(n json.Number) int64 {
	if v, err := n.Int64(); err == nil {
		return v
	}
	if f, err := strconv.ParseFloat(n.String(), 64); err == nil {
		return int64(f)
	}
	return 0
}
