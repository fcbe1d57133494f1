// Package query builds search payloads and request parameters for the event index.
// Everything here is pure: no I/O and no shared state.
package query

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/eveboxstack/evebox-review/internal/models"
	"github.com/eveboxstack/evebox-review/internal/utils"
)

// DefaultKeyword is the keyword sub-field used when configuration names none.
const DefaultKeyword = "raw"

// TimestampField is the field time range filters apply to.
const TimestampField = "@timestamp"

// Clause is one search-engine query clause, e.g. {"term": {...}}.
type Clause map[string]any

// BoolQuery holds the filter clauses of a bool query.
type BoolQuery struct {
	Filter  []Clause `json:"filter"`
	MustNot []Clause `json:"must_not,omitempty"`
}

// QueryBody wraps the bool query.
type QueryBody struct {
	Bool BoolQuery `json:"bool"`
}

// SearchQuery is the payload posted to the raw query endpoint.
type SearchQuery struct {
	Query QueryBody        `json:"query"`
	Size  *int             `json:"size,omitempty"`
	Sort  []map[string]any `json:"sort,omitempty"`
}

// NewSearchQuery returns an empty bool filter query.
func NewSearchQuery() *SearchQuery {
	return &SearchQuery{Query: QueryBody{Bool: BoolQuery{Filter: []Clause{}}}}
}

// WithSize sets the result size.
func (q *SearchQuery) WithSize(size int) *SearchQuery {
	q.Size = &size
	return q
}

// SortByTimestamp orders hits on @timestamp, newest first when desc is true.
func (q *SearchQuery) SortByTimestamp(desc bool) *SearchQuery {
	order := "asc"
	if desc {
		order = "desc"
	}
	q.Sort = append(q.Sort, map[string]any{TimestampField: map[string]any{"order": order}})
	return q
}

// AddFilter appends a clause to the filter list.
func (q *SearchQuery) AddFilter(clause Clause) {
	q.Query.Bool.Filter = append(q.Query.Bool.Filter, clause)
}

// TimeRangeFilter restricts q to events no older than rangeSeconds before now. A zero range
// leaves q untouched.
func TimeRangeFilter(q *SearchQuery, now time.Time, rangeSeconds int64) {
	if rangeSeconds == 0 {
		return
	}
	start := now.Add(-time.Duration(rangeSeconds) * time.Second)
	q.AddFilter(Clause{
		"range": map[string]any{
			TimestampField: map[string]any{"gte": start.UTC().Format(time.RFC3339)},
		},
	})
}

// Builder carries the keyword sub-field name resolved from configuration.
type Builder struct {
	keyword string
}

// NewBuilder returns a Builder using keyword, or DefaultKeyword when empty.
func NewBuilder(keyword string) Builder {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		keyword = DefaultKeyword
	}
	return Builder{keyword: keyword}
}

// Keyword returns the keyword sub-field name.
func (b Builder) Keyword() string {
	if b.keyword == "" {
		return DefaultKeyword
	}
	return b.keyword
}

// AsKeyword returns the exact-match variant of field.
func (b Builder) AsKeyword(field string) string {
	return field + "." + b.Keyword()
}

// KeywordTerm returns an exact-match term clause on the keyword variant of field.
func (b Builder) KeywordTerm(field string, value any) Clause {
	return Clause{"term": map[string]any{b.AsKeyword(field): value}}
}

// SensorNameFilter restricts q to events reported by sensor. An empty name is a no-op.
func (b Builder) SensorNameFilter(q *SearchQuery, sensor string) {
	if sensor == "" {
		return
	}
	q.AddFilter(b.KeywordTerm("host", sensor))
}

// AlertsQuery builds the request parameters of the alert-group endpoint.
func AlertsQuery(opts models.AlertQueryOptions) (url.Values, error) {
	if opts.TimeRange < 0 {
		return nil, utils.NewValidationError("timeRange", "must not be negative")
	}

	params := url.Values{}
	tags := make([]string, 0, len(opts.MustHaveTags)+len(opts.MustNotHaveTags))
	for _, tag := range opts.MustHaveTags {
		if tag != "" {
			tags = append(tags, tag)
		}
	}
	for _, tag := range opts.MustNotHaveTags {
		if tag != "" {
			tags = append(tags, "-"+tag)
		}
	}
	if len(tags) > 0 {
		params.Set("tags", strings.Join(tags, ","))
	}
	if seconds := int64(opts.TimeRange / time.Second); seconds > 0 {
		params.Set("timeRange", fmt.Sprintf("%ds", seconds))
	}
	if opts.QueryString != "" {
		params.Set("queryString", opts.QueryString)
	}
	return params, nil
}

// EventsQuery builds the request parameters of the event-query endpoint.
func EventsQuery(opts models.EventQueryOptions) (url.Values, error) {
	if !opts.TimeStart.IsZero() && !opts.TimeEnd.IsZero() && opts.TimeStart.After(opts.TimeEnd) {
		return nil, utils.NewValidationError("timeStart", "must not be after timeEnd")
	}

	params := url.Values{}
	if opts.QueryString != "" {
		params.Set("queryString", opts.QueryString)
	}
	if !opts.TimeEnd.IsZero() {
		params.Set("maxTs", utils.FormatTimestamp(opts.TimeEnd))
	}
	if !opts.TimeStart.IsZero() {
		params.Set("minTs", utils.FormatTimestamp(opts.TimeStart))
	}
	if opts.EventType != "" && opts.EventType != models.EventTypeAll {
		params.Set("eventType", opts.EventType)
	}
	return params, nil
}
