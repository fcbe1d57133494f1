package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/eveboxstack/evebox-review/internal/utils"
)

// Tags written by escalation.
const (
	TagEscalated       = "escalated"
	TagEveboxEscalated = "evebox.escalated"
	TagArchived        = "archived"
	TagEveboxArchived  = "evebox.archived"
)

// Event is a backend document as returned by the event API.
type Event struct {
	ID     string      `json:"_id"`
	Index  string      `json:"_index,omitempty"`
	Source EventSource `json:"_source"`
}

// AlertMeta is the alert block of an alert event.
type AlertMeta struct {
	SignatureID int64  `json:"signature_id"`
	Signature   string `json:"signature,omitempty"`
	Category    string `json:"category,omitempty"`
	Severity    int    `json:"severity,omitempty"`
}

// EventSource holds the fields of _source the client interprets. Everything else is kept
// in Extra and written back untouched.
type EventSource struct {
	Timestamp    string
	AtTimestamp  string
	EventType    string
	Host         string
	SrcIP        string
	DestIP       string
	Tags         []string
	Alert        *AlertMeta
	Extra        map[string]json.RawMessage
	hasTagsField bool
}

var knownSourceFields = []string{"timestamp", "@timestamp", "event_type", "host", "src_ip", "dest_ip", "tags", "alert"}

// UnmarshalJSON splits the document into typed fields and passthrough.
func (s *EventSource) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = EventSource{}

	for _, field := range []struct {
		key string
		dst *string
	}{
		{"timestamp", &s.Timestamp},
		{"@timestamp", &s.AtTimestamp},
		{"event_type", &s.EventType},
		{"host", &s.Host},
		{"src_ip", &s.SrcIP},
		{"dest_ip", &s.DestIP},
	} {
		value, ok := raw[field.key]
		if !ok || isNull(value) {
			continue
		}
		if err := json.Unmarshal(value, field.dst); err != nil {
			return fmt.Errorf("decode _source.%s: %w", field.key, err)
		}
	}

	if value, ok := raw["tags"]; ok {
		s.hasTagsField = true
		if !isNull(value) {
			if err := json.Unmarshal(value, &s.Tags); err != nil {
				return fmt.Errorf("decode _source.tags: %w", err)
			}
		}
	}
	if value, ok := raw["alert"]; ok && !isNull(value) {
		s.Alert = &AlertMeta{}
		if err := json.Unmarshal(value, s.Alert); err != nil {
			return fmt.Errorf("decode _source.alert: %w", err)
		}
		// The alert block carries more than the client models (gid, rev, action, ...).
		s.keepExtra("alert", value)
	}

	for key, value := range raw {
		if slices.Contains(knownSourceFields, key) {
			continue
		}
		s.keepExtra(key, value)
	}
	return nil
}

// MarshalJSON merges typed fields back over the passthrough map.
func (s EventSource) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Extra)+len(knownSourceFields))
	for key, value := range s.Extra {
		out[key] = value
	}
	setString := func(key, value string) {
		if value != "" {
			out[key] = value
		}
	}
	setString("timestamp", s.Timestamp)
	setString("@timestamp", s.AtTimestamp)
	setString("event_type", s.EventType)
	setString("host", s.Host)
	setString("src_ip", s.SrcIP)
	setString("dest_ip", s.DestIP)
	if s.Tags != nil || s.hasTagsField {
		tags := s.Tags
		if tags == nil {
			tags = []string{}
		}
		out["tags"] = tags
	}
	if s.Alert != nil {
		alert, err := mergeAlert(s.Extra["alert"], *s.Alert)
		if err != nil {
			return nil, err
		}
		out["alert"] = alert
	}
	return json.Marshal(out)
}

func (s *EventSource) keepExtra(key string, value json.RawMessage) {
	if s.Extra == nil {
		s.Extra = make(map[string]json.RawMessage)
	}
	s.Extra[key] = slices.Clone(value)
}

func mergeAlert(raw json.RawMessage, alert AlertMeta) (map[string]json.RawMessage, error) {
	merged := make(map[string]json.RawMessage)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &merged); err != nil {
			return nil, fmt.Errorf("decode passthrough alert: %w", err)
		}
	}
	typed, err := json.Marshal(alert)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(typed, &fields); err != nil {
		return nil, err
	}
	for key, value := range fields {
		merged[key] = value
	}
	return merged, nil
}

func isNull(value json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(value), []byte("null"))
}

// Time returns the event time: the sensor timestamp when parseable, else @timestamp.
// The zero time means neither field could be parsed.
func (e *Event) Time() time.Time {
	if t, err := utils.ParseTimestamp(e.Source.Timestamp); err == nil {
		return t
	}
	if t, err := utils.ParseTimestamp(e.Source.AtTimestamp); err == nil {
		return t
	}
	return time.Time{}
}

// HasTag reports whether the event carries tag.
func (e *Event) HasTag(tag string) bool {
	return slices.Contains(e.Source.Tags, tag)
}

// AddTags appends tags that are not already present.
func (e *Event) AddTags(tags ...string) {
	for _, tag := range tags {
		if !e.HasTag(tag) {
			e.Source.Tags = append(e.Source.Tags, tag)
		}
	}
}

// RemoveTags drops every occurrence of the given tags. Absent tags are ignored.
func (e *Event) RemoveTags(tags ...string) {
	if e.Source.Tags == nil {
		return
	}
	e.Source.Tags = slices.DeleteFunc(e.Source.Tags, func(t string) bool {
		return slices.Contains(tags, t)
	})
}

// IsAlert reports whether the event is a signature alert.
func (e *Event) IsAlert() bool {
	return e.Source.EventType == "alert" && e.Source.Alert != nil
}

// SeverityLabel maps the alert severity onto a display label.
func (e *Event) SeverityLabel() string {
	if !e.IsAlert() {
		return "default"
	}
	switch e.Source.Alert.Severity {
	case 1:
		return "high"
	case 2:
		return "medium"
	case 3:
		return "low"
	default:
		return "default"
	}
}
