package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/eveboxstack/evebox-review/internal/cache"
	"github.com/eveboxstack/evebox-review/internal/models"
	"github.com/eveboxstack/evebox-review/internal/normalize"
	"github.com/eveboxstack/evebox-review/internal/query"
	"github.com/eveboxstack/evebox-review/internal/queue"
	"github.com/eveboxstack/evebox-review/internal/utils"
)

// Backend API paths.
const (
	pathQuery           = "api/1/query"
	pathEventQuery      = "api/1/event-query"
	pathAlerts          = "api/1/alerts"
	pathVersion         = "api/1/version"
	pathEscalateGroup   = "api/1/escalate"
	pathArchiveGroup    = "api/1/archive"
	pathGroupAddTags    = "api/1/alert-group/add-tags"
	pathGroupRemoveTags = "api/1/alert-group/remove-tags"
)

// Job names, also used as metric labels.
const (
	JobEscalateEvent        = "escalate-event"
	JobDeEscalateEvent      = "de-escalate-event"
	JobArchiveEvent         = "archive-event"
	JobAddEventTags         = "add-event-tags"
	JobRemoveEventTags      = "remove-event-tags"
	JobEscalateAlertGroup   = "escalate-alert-group"
	JobArchiveAlertGroup    = "archive-alert-group"
	JobAddAlertGroupTags    = "add-alert-group-tags"
	JobRemoveAlertGroupTags = "remove-alert-group-tags"
)

// EscalationTags are written by escalate and removed by de-escalate.
var EscalationTags = []string{models.TagEscalated, models.TagEveboxEscalated}

// Transport sends requests to the backend API. Implementations return *repo.TransportError on
// failure.
type Transport interface {
	Get(ctx context.Context, path string, params url.Values, out any) error
	Post(ctx context.Context, path string, body any, out any) error
}

// Options tune an EventIndexClient.
type Options struct {
	// Keyword is the exact-match sub-field name; empty means query.DefaultKeyword.
	Keyword string
	// Cache stores single-event lookups. Nil disables caching.
	Cache    cache.Provider
	CacheTTL time.Duration
}

// EventIndexClient is the review application's access layer to the event index. Reads go
// straight to the transport; every mutation runs as a job on the shared queue.
type EventIndexClient struct {
	transport Transport
	queue     *queue.Queue
	builder   query.Builder
	cache     cache.Provider
	cacheTTL  time.Duration
	logger    *slog.Logger

	// cacheMu orders read-through writes against invalidations; cacheGen counts invalidations.
	cacheMu  sync.Mutex
	cacheGen uint64
}

// NewEventIndexClient wires a client around transport and q.
func NewEventIndexClient(logger *slog.Logger, transport Transport, q *queue.Queue, opts Options) *EventIndexClient {
	if q == nil {
		q = queue.New(queue.DefaultConcurrency, logger)
	}
	provider := opts.Cache
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	return &EventIndexClient{
		transport: transport,
		queue:     q,
		builder:   query.NewBuilder(opts.Keyword),
		cache:     provider,
		cacheTTL:  opts.CacheTTL,
		logger:    utils.Component(logger, "event-index"),
	}
}

// Builder returns the query builder bound to the configured keyword.
func (c *EventIndexClient) Builder() query.Builder {
	return c.builder
}

// JobSize returns the number of mutations queued or running.
func (c *EventIndexClient) JobSize() int {
	return c.queue.Size()
}

// Drain waits for every outstanding mutation to settle.
func (c *EventIndexClient) Drain(ctx context.Context) error {
	return c.queue.Drain(ctx)
}

// Search posts a raw query document and returns the backend response untouched.
func (c *EventIndexClient) Search(ctx context.Context, q any) (json.RawMessage, error) {
	if q == nil {
		return nil, utils.NewValidationError("query", "must not be nil")
	}
	var out json.RawMessage
	if err := c.transport.Post(ctx, pathQuery, q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetEventByID fetches one event. The returned event always has a non-nil tag list.
func (c *EventIndexClient) GetEventByID(ctx context.Context, id string) (*models.Event, error) {
	if id == "" {
		return nil, utils.NewValidationError("id", "must not be empty")
	}

	key := cache.EventKey(id)
	if c.cacheTTL > 0 {
		cached, err := cache.GetJSON[models.Event](ctx, c.cache, key)
		if err == nil {
			normalize.EnsureTags(&cached)
			return &cached, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn("event cache read failed", slog.String("id", id), slog.Any("error", err))
		}
	}

	gen := c.cacheGeneration()
	var event models.Event
	if err := c.transport.Get(ctx, eventPath(id, ""), nil, &event); err != nil {
		return nil, err
	}
	normalize.EnsureTags(&event)

	if c.cacheTTL > 0 {
		c.storeEvent(ctx, key, gen, event)
	}
	return &event, nil
}

// FindEvents runs an event query and returns the events newest first.
func (c *EventIndexClient) FindEvents(ctx context.Context, opts models.EventQueryOptions) (models.ResultSet, error) {
	params, err := query.EventsQuery(opts)
	if err != nil {
		return models.ResultSet{}, err
	}
	var resp models.EventQueryResponse
	if err := c.transport.Get(ctx, pathEventQuery, params, &resp); err != nil {
		return models.ResultSet{}, err
	}
	return normalize.Events(resp), nil
}

// GetAlerts fetches the alert groups matching opts.
func (c *EventIndexClient) GetAlerts(ctx context.Context, opts models.AlertQueryOptions) ([]models.AlertGroup, error) {
	params, err := query.AlertsQuery(opts)
	if err != nil {
		return nil, err
	}
	var resp models.AlertsResponse
	if err := c.transport.Get(ctx, pathAlerts, params, &resp); err != nil {
		return nil, err
	}
	return normalize.AlertGroups(resp), nil
}

// Ping checks that the backend answers its version endpoint.
func (c *EventIndexClient) Ping(ctx context.Context) (models.VersionResponse, error) {
	var version models.VersionResponse
	if err := c.transport.Get(ctx, pathVersion, nil, &version); err != nil {
		return models.VersionResponse{}, fmt.Errorf("ping evebox: %w", err)
	}
	return version, nil
}

// EscalateEvent adds the escalation tags to the local copy and queues the escalate request.
func (c *EventIndexClient) EscalateEvent(ctx context.Context, event *models.Event) *queue.Job {
	if err := validateEvent(event); err != nil {
		return queue.Failed(JobEscalateEvent, err)
	}
	event.AddTags(EscalationTags...)
	return c.submitEventMutation(ctx, JobEscalateEvent, event.ID, "escalate")
}

// DeEscalateEvent removes the escalation tags from the local copy, when present, and queues
// the de-escalate request regardless.
func (c *EventIndexClient) DeEscalateEvent(ctx context.Context, event *models.Event) *queue.Job {
	if err := validateEvent(event); err != nil {
		return queue.Failed(JobDeEscalateEvent, err)
	}
	event.RemoveTags(EscalationTags...)
	return c.submitEventMutation(ctx, JobDeEscalateEvent, event.ID, "de-escalate")
}

// ArchiveEvent queues the archive request for event.
func (c *EventIndexClient) ArchiveEvent(ctx context.Context, event *models.Event) *queue.Job {
	if err := validateEvent(event); err != nil {
		return queue.Failed(JobArchiveEvent, err)
	}
	return c.submitEventMutation(ctx, JobArchiveEvent, event.ID, "archive")
}

// EscalateAlertGroup queues escalation of every event in group.
func (c *EventIndexClient) EscalateAlertGroup(ctx context.Context, group *models.AlertGroup) *queue.Job {
	if err := validateAlertGroup(group); err != nil {
		return queue.Failed(JobEscalateAlertGroup, err)
	}
	body := group.Query()
	return c.queue.Submit(ctx, JobEscalateAlertGroup, func(ctx context.Context) error {
		return c.transport.Post(ctx, pathEscalateGroup, body, nil)
	})
}

// ArchiveAlertGroup queues archival of every event in group.
func (c *EventIndexClient) ArchiveAlertGroup(ctx context.Context, group *models.AlertGroup) *queue.Job {
	if err := validateAlertGroup(group); err != nil {
		return queue.Failed(JobArchiveAlertGroup, err)
	}
	body := group.Query()
	return c.queue.Submit(ctx, JobArchiveAlertGroup, func(ctx context.Context) error {
		return c.transport.Post(ctx, pathArchiveGroup, body, nil)
	})
}

// RemoveEscalatedStateFromAlertGroup queues removal of the escalation tags from every event in
// group.
func (c *EventIndexClient) RemoveEscalatedStateFromAlertGroup(ctx context.Context, group *models.AlertGroup) *queue.Job {
	return c.RemoveTagsFromAlertGroup(ctx, group, EscalationTags...)
}

// AddTagsToAlertGroup queues adding tags to every event in group.
func (c *EventIndexClient) AddTagsToAlertGroup(ctx context.Context, group *models.AlertGroup, tags ...string) *queue.Job {
	return c.submitGroupTags(ctx, JobAddAlertGroupTags, pathGroupAddTags, group, tags)
}

// RemoveTagsFromAlertGroup queues removing tags from every event in group.
func (c *EventIndexClient) RemoveTagsFromAlertGroup(ctx context.Context, group *models.AlertGroup, tags ...string) *queue.Job {
	return c.submitGroupTags(ctx, JobRemoveAlertGroupTags, pathGroupRemoveTags, group, tags)
}

func (c *EventIndexClient) submitGroupTags(ctx context.Context, name, path string, group *models.AlertGroup, tags []string) *queue.Job {
	if err := validateAlertGroup(group); err != nil {
		return queue.Failed(name, err)
	}
	if len(tags) == 0 {
		return queue.Failed(name, utils.NewValidationError("tags", "at least one tag is required"))
	}
	body := models.AlertGroupTagsRequest{
		AlertGroup: group.Query(),
		Tags:       append([]string(nil), tags...),
	}
	return c.queue.Submit(ctx, name, func(ctx context.Context) error {
		return c.transport.Post(ctx, path, body, nil)
	})
}

// AddTagsToEvent adds tags to the local copy and queues the add-tags request.
func (c *EventIndexClient) AddTagsToEvent(ctx context.Context, event *models.Event, tags ...string) *queue.Job {
	if err := validateEventTags(event, tags); err != nil {
		return queue.Failed(JobAddEventTags, err)
	}
	event.AddTags(tags...)
	return c.submitEventMutationBody(ctx, JobAddEventTags, event.ID, "add-tags", models.EventTagsRequest{Tags: slices.Clone(tags)})
}

// RemoveTagsFromEvent removes tags from the local copy and queues the remove-tags request.
func (c *EventIndexClient) RemoveTagsFromEvent(ctx context.Context, event *models.Event, tags ...string) *queue.Job {
	if err := validateEventTags(event, tags); err != nil {
		return queue.Failed(JobRemoveEventTags, err)
	}
	event.RemoveTags(tags...)
	return c.submitEventMutationBody(ctx, JobRemoveEventTags, event.ID, "remove-tags", models.EventTagsRequest{Tags: slices.Clone(tags)})
}

func (c *EventIndexClient) submitEventMutation(ctx context.Context, name, id, action string) *queue.Job {
	return c.submitEventMutationBody(ctx, name, id, action, struct{}{})
}

func (c *EventIndexClient) submitEventMutationBody(ctx context.Context, name, id, action string, body any) *queue.Job {
	return c.queue.Submit(ctx, name, func(ctx context.Context) error {
		err := c.transport.Post(ctx, eventPath(id, action), body, nil)
		c.invalidateEvent(ctx, id)
		return err
	})
}

func (c *EventIndexClient) cacheGeneration() uint64 {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	return c.cacheGen
}

// storeEvent writes a fetched event back unless an invalidation ran since gen was read;
// the fetched copy may predate that mutation.
func (c *EventIndexClient) storeEvent(ctx context.Context, key string, gen uint64, event models.Event) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	if c.cacheGen != gen {
		return
	}
	if err := cache.SetJSON(ctx, c.cache, key, event, c.cacheTTL); err != nil {
		c.logger.Warn("event cache write failed", slog.String("key", key), slog.Any("error", err))
	}
}

func (c *EventIndexClient) invalidateEvent(ctx context.Context, id string) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	c.cacheGen++
	if err := c.cache.Del(ctx, cache.EventKey(id)); err != nil {
		c.logger.Warn("event cache invalidation failed", slog.String("id", id), slog.Any("error", err))
	}
}

func eventPath(id, action string) string {
	p := "api/1/event/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

func validateEvent(event *models.Event) error {
	if event == nil {
		return utils.NewValidationError("event", "must not be nil")
	}
	if event.ID == "" {
		return utils.NewValidationError("event._id", "must not be empty")
	}
	return nil
}

func validateEventTags(event *models.Event, tags []string) error {
	if err := validateEvent(event); err != nil {
		return err
	}
	if len(tags) == 0 {
		return utils.NewValidationError("tags", "at least one tag is required")
	}
	return nil
}

func validateAlertGroup(group *models.AlertGroup) error {
	if group == nil {
		return utils.NewValidationError("alertGroup", "must not be nil")
	}
	if group.Event.Source.Alert == nil {
		return utils.NewValidationError("alertGroup.event._source.alert", "alert metadata is required")
	}
	if group.MinTs == "" || group.MaxTs == "" {
		return utils.NewValidationError("alertGroup.minTs", "time window is required")
	}
	return nil
}
