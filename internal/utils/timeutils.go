package utils

import (
	"fmt"
	"strings"
	"time"
)

// Suricata writes offsets without a colon ("-0600"); Elasticsearch and EveBox echo RFC3339.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05.999999999Z",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses an event timestamp in any of the formats the backend emits.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse time %q: unrecognised format", value)
}

// FormatTimestamp renders a time the way the backend query API expects it.
func FormatTimestamp(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}
