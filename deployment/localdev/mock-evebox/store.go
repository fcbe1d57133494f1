package main

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/eveboxstack/evebox-review/internal/models"
	"github.com/eveboxstack/evebox-review/internal/utils"
)

type store struct {
	mu     sync.Mutex
	events []models.Event
	now    func() time.Time
}

type sampleAlert struct {
	sid       int64
	signature string
	category  string
	severity  int
	src, dest string
	count     int
}

var sampleAlerts = []sampleAlert{
	{2013028, "ET POLICY curl User-Agent Outbound", "Attempted Information Leak", 2, "10.16.1.11", "93.184.216.34", 4},
	{2019401, "ET POLICY Vulnerable Java Version 1.8.x Detected", "Potential Corporate Privacy Violation", 3, "10.16.1.24", "23.45.67.89", 3},
	{2024897, "ET USER_AGENTS Go HTTP Client User-Agent", "Misc activity", 3, "10.16.1.11", "140.82.112.3", 2},
	{2027865, "ET INFO Observed DNS Query to .cloud TLD", "Potentially Bad Traffic", 2, "10.16.1.30", "10.16.1.1", 5},
	{2100498, "GPL ATTACK_RESPONSE id check returned root", "Potentially Bad Traffic", 1, "198.51.100.7", "10.16.1.24", 1},
}

func newStore(now func() time.Time) *store {
	s := &store{now: now}
	s.seed()
	return s
}

func (s *store) seed() {
	base := s.now().UTC()
	n := 0
	for _, a := range sampleAlerts {
		for i := 0; i < a.count; i++ {
			n++
			ts := base.Add(-time.Duration(n*7) * time.Minute)
			s.events = append(s.events, models.Event{
				ID:    fmt.Sprintf("mock-%04d", n),
				Index: "logstash-" + ts.Format("2006.01.02"),
				Source: models.EventSource{
					Timestamp:   ts.Format("2006-01-02T15:04:05.000000-0700"),
					AtTimestamp: utils.FormatTimestamp(ts),
					EventType:   "alert",
					Host:        "sensor-1",
					SrcIP:       a.src,
					DestIP:      a.dest,
					Tags:        []string{},
					Alert: &models.AlertMeta{
						SignatureID: a.sid,
						Signature:   a.signature,
						Category:    a.category,
						Severity:    a.severity,
					},
				},
			})
		}
	}
	for i, name := range []string{"example.com", "updates.example.cloud", "api.github.com"} {
		n++
		ts := base.Add(-time.Duration(i*11+3) * time.Minute)
		s.events = append(s.events, models.Event{
			ID:    fmt.Sprintf("mock-%04d", n),
			Index: "logstash-" + ts.Format("2006.01.02"),
			Source: models.EventSource{
				Timestamp:   ts.Format("2006-01-02T15:04:05.000000-0700"),
				AtTimestamp: utils.FormatTimestamp(ts),
				EventType:   "dns",
				Host:        "sensor-1",
				SrcIP:       "10.16.1.30",
				DestIP:      "10.16.1.1",
				Extra: map[string]json.RawMessage{
					"dns": json.RawMessage(fmt.Sprintf(`{"type":"query","rrname":%q,"rrtype":"A"}`, name)),
				},
			},
		})
	}
}

func (s *store) get(id string) (models.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.ID == id {
			return cloneEvent(e), true
		}
	}
	return models.Event{}, false
}

func (s *store) all(limit int) []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Event, 0, len(s.events))
	for _, e := range s.events {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, cloneEvent(e))
	}
	return out
}

type eventFilter struct {
	eventType   string
	queryString string
	minTs       time.Time
	maxTs       time.Time
}

func (s *store) query(f eventFilter) []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Event
	for _, e := range s.events {
		if f.eventType != "" && e.Source.EventType != f.eventType {
			continue
		}
		if !matchesQueryString(&e, f.queryString) {
			continue
		}
		ts := e.Time()
		if !f.minTs.IsZero() && ts.Before(f.minTs) {
			continue
		}
		if !f.maxTs.IsZero() && ts.After(f.maxTs) {
			continue
		}
		out = append(out, cloneEvent(e))
	}
	return out
}

type alertFilter struct {
	mustHave    []string
	mustNotHave []string
	timeRange   time.Duration
	queryString string
}

// alertGroups clusters matching alerts by signature, source and destination, newest group first.
func (s *store) alertGroups(f alertFilter) []models.AlertGroup {
	s.mu.Lock()
	defer s.mu.Unlock()

	since := time.Time{}
	if f.timeRange > 0 {
		since = s.now().Add(-f.timeRange)
	}

	type group struct {
		models.AlertGroup
		min, max time.Time
	}
	groups := map[string]*group{}
	var order []string
	for _, e := range s.events {
		if !e.IsAlert() || !matchesTags(&e, f.mustHave, f.mustNotHave) || !matchesQueryString(&e, f.queryString) {
			continue
		}
		ts := e.Time()
		if !since.IsZero() && ts.Before(since) {
			continue
		}
		key := fmt.Sprintf("%d|%s|%s", e.Source.Alert.SignatureID, e.Source.SrcIP, e.Source.DestIP)
		g, ok := groups[key]
		if !ok {
			g = &group{min: ts, max: ts}
			g.Event = cloneEvent(e)
			groups[key] = g
			order = append(order, key)
		}
		g.Count++
		if e.HasTag(models.TagEscalated) {
			g.EscalatedCount++
		}
		if ts.Before(g.min) {
			g.min = ts
		}
		if !ts.Before(g.max) {
			g.max = ts
			g.Event = cloneEvent(e)
		}
	}

	out := make([]models.AlertGroup, 0, len(order))
	for _, key := range order {
		g := groups[key]
		g.MinTs = utils.FormatTimestamp(g.min)
		g.MaxTs = utils.FormatTimestamp(g.max)
		out = append(out, g.AlertGroup)
	}
	slices.SortStableFunc(out, func(a, b models.AlertGroup) int {
		return strings.Compare(b.MaxTs, a.MaxTs)
	})
	return out
}

// tagEvent applies fn to one event. It reports false when the id is unknown.
func (s *store) tagEvent(id string, fn func(*models.Event)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if s.events[i].ID == id {
			fn(&s.events[i])
			return true
		}
	}
	return false
}

// tagGroup applies fn to every alert in the group and returns how many were touched.
func (s *store) tagGroup(q models.AlertGroupQuery, fn func(*models.Event)) (int, error) {
	minTs, err := utils.ParseTimestamp(q.MinTimestamp)
	if err != nil {
		return 0, fmt.Errorf("min_timestamp: %w", err)
	}
	maxTs, err := utils.ParseTimestamp(q.MaxTimestamp)
	if err != nil {
		return 0, fmt.Errorf("max_timestamp: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.events {
		e := &s.events[i]
		if !e.IsAlert() || e.Source.Alert.SignatureID != q.SignatureID {
			continue
		}
		if e.Source.SrcIP != q.SrcIP || e.Source.DestIP != q.DestIP {
			continue
		}
		ts := e.Time()
		if ts.Before(minTs) || ts.After(maxTs) {
			continue
		}
		fn(e)
		n++
	}
	return n, nil
}

func matchesTags(e *models.Event, mustHave, mustNotHave []string) bool {
	for _, tag := range mustHave {
		if !e.HasTag(tag) {
			return false
		}
	}
	for _, tag := range mustNotHave {
		if e.HasTag(tag) {
			return false
		}
	}
	return true
}

func matchesQueryString(e *models.Event, q string) bool {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return true
	}
	fields := []string{e.ID, e.Source.EventType, e.Source.Host, e.Source.SrcIP, e.Source.DestIP}
	if e.Source.Alert != nil {
		fields = append(fields, e.Source.Alert.Signature, e.Source.Alert.Category)
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

func cloneEvent(e models.Event) models.Event {
	e.Source.Tags = slices.Clone(e.Source.Tags)
	if e.Source.Alert != nil {
		alert := *e.Source.Alert
		e.Source.Alert = &alert
	}
	return e
}
