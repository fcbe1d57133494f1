package models

import "time"

// EventTypeAll disables the event type filter.
const EventTypeAll = "all"

// EventQueryOptions restrict an event query.
type EventQueryOptions struct {
	QueryString string
	TimeStart   time.Time
	TimeEnd     time.Time
	EventType   string
}

// AlertQueryOptions restrict an alert inbox query.
type AlertQueryOptions struct {
	MustHaveTags    []string
	MustNotHaveTags []string
	TimeRange       time.Duration
	QueryString     string
}
