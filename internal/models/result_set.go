package models

import (
	"encoding/json"
	"time"
)

// ResultSet is a normalized event query result. Events are newest first and the
// timestamps are set only when Events is non-empty.
type ResultSet struct {
	Took            int64      `json:"took"`
	TimedOut        bool       `json:"timedOut"`
	Count           int        `json:"count"`
	Events          []Event    `json:"events"`
	NewestTimestamp *time.Time `json:"newestTimestamp,omitempty"`
	OldestTimestamp *time.Time `json:"oldestTimestamp,omitempty"`
}

// EventQueryResponse is the raw payload of the event-query endpoint.
type EventQueryResponse struct {
	Took     json.Number `json:"took"`
	TimedOut bool        `json:"timed_out"`
	Data     []Event     `json:"data"`
}

// VersionResponse is returned by the backend version endpoint.
type VersionResponse struct {
	Version  string `json:"version"`
	Revision string `json:"revision"`
}
