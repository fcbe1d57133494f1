package models

import "time"

// AlertGroup is one cluster of alerts sharing signature, source and destination.
type AlertGroup struct {
	Count          int64  `json:"count"`
	EscalatedCount int64  `json:"escalatedCount"`
	MinTs          string `json:"minTs"`
	MaxTs          string `json:"maxTs"`
	Event          Event  `json:"event"`

	Selected bool      `json:"selected"`
	Date     time.Time `json:"date"`
}

// Query identifies the group to the mutation endpoints.
func (g *AlertGroup) Query() AlertGroupQuery {
	q := AlertGroupQuery{
		SrcIP:        g.Event.Source.SrcIP,
		DestIP:       g.Event.Source.DestIP,
		MinTimestamp: g.MinTs,
		MaxTimestamp: g.MaxTs,
	}
	if g.Event.Source.Alert != nil {
		q.SignatureID = g.Event.Source.Alert.SignatureID
	}
	return q
}

// Signature returns the alert signature text, if any.
func (g *AlertGroup) Signature() string {
	if g.Event.Source.Alert == nil {
		return ""
	}
	return g.Event.Source.Alert.Signature
}

// AlertGroupQuery is the request body addressing an alert group.
type AlertGroupQuery struct {
	SignatureID  int64  `json:"signature_id"`
	SrcIP        string `json:"src_ip"`
	DestIP       string `json:"dest_ip"`
	MinTimestamp string `json:"min_timestamp"`
	MaxTimestamp string `json:"max_timestamp"`
}

// AlertGroupTagsRequest adds or removes tags on every event of a group.
type AlertGroupTagsRequest struct {
	AlertGroup AlertGroupQuery `json:"alert_group"`
	Tags       []string        `json:"tags"`
}

// AlertsResponse is the raw payload of the alerts endpoint.
type AlertsResponse struct {
	Alerts []AlertGroup `json:"alerts"`
}

// EventTagsRequest adds or removes tags on a single event.
type EventTagsRequest struct {
	Tags []string `json:"tags"`
}
