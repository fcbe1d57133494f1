package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/eveboxstack/evebox-review/internal/models"
	"github.com/eveboxstack/evebox-review/internal/utils"
)

type handler struct {
	store  *store
	logger *slog.Logger
}

func newRouter(s *store, logger *slog.Logger, creds map[string]string) *chi.Mux {
	h := &handler{store: s, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logRequests(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api/1", func(r chi.Router) {
		if len(creds) > 0 {
			r.Use(middleware.BasicAuth("evebox", creds))
		}
		r.Get("/version", h.version)
		r.Post("/query", h.search)
		r.Get("/event-query", h.eventQuery)
		r.Get("/alerts", h.alerts)
		r.Route("/event/{id}", func(r chi.Router) {
			r.Get("/", h.event)
			r.Post("/escalate", h.eventTags(models.TagEscalated, models.TagEveboxEscalated))
			r.Post("/de-escalate", h.eventUntag(models.TagEscalated, models.TagEveboxEscalated))
			r.Post("/archive", h.eventTags(models.TagArchived, models.TagEveboxArchived))
			r.Post("/add-tags", h.eventTagRequest(true))
			r.Post("/remove-tags", h.eventTagRequest(false))
		})
		r.Post("/escalate", h.groupTags(models.TagEscalated, models.TagEveboxEscalated))
		r.Post("/archive", h.groupTags(models.TagArchived, models.TagEveboxArchived))
		r.Post("/alert-group/add-tags", h.groupTagRequest(true))
		r.Post("/alert-group/remove-tags", h.groupTagRequest(false))
	})
	return r
}

func (h *handler) version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, models.VersionResponse{Version: "0.0.0-mock", Revision: "localdev"})
}

func (h *handler) search(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Size *int `json:"size"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid query body: "+err.Error())
		return
	}
	limit := 0
	if body.Size != nil {
		limit = *body.Size
	}
	hits := h.store.all(limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"took":      1,
		"timed_out": false,
		"hits": map[string]any{
			"total": len(hits),
			"hits":  hits,
		},
	})
}

func (h *handler) event(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	event, ok := h.store.get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "event not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (h *handler) eventQuery(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	f := eventFilter{
		eventType:   params.Get("eventType"),
		queryString: params.Get("queryString"),
	}
	for key, dst := range map[string]*time.Time{"minTs": &f.minTs, "maxTs": &f.maxTs} {
		value := params.Get(key)
		if value == "" {
			continue
		}
		ts, err := utils.ParseTimestamp(value)
		if err != nil {
			writeError(w, http.StatusBadRequest, key+": "+err.Error())
			return
		}
		*dst = ts
	}
	start := time.Now()
	data := h.store.query(f)
	if data == nil {
		data = []models.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"took":      time.Since(start).Milliseconds(),
		"timed_out": false,
		"data":      data,
	})
}

func (h *handler) alerts(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	f := alertFilter{queryString: params.Get("queryString")}
	for _, tag := range strings.Split(params.Get("tags"), ",") {
		tag = strings.TrimSpace(tag)
		switch {
		case tag == "":
		case strings.HasPrefix(tag, "-"):
			f.mustNotHave = append(f.mustNotHave, strings.TrimPrefix(tag, "-"))
		default:
			f.mustHave = append(f.mustHave, tag)
		}
	}
	if value := params.Get("timeRange"); value != "" {
		d, err := parseTimeRange(value)
		if err != nil {
			writeError(w, http.StatusBadRequest, "timeRange: "+err.Error())
			return
		}
		f.timeRange = d
	}
	writeJSON(w, http.StatusOK, models.AlertsResponse{Alerts: h.store.alertGroups(f)})
}

func (h *handler) eventTags(tags ...string) http.HandlerFunc {
	return h.mutateEvent(func(e *models.Event) { e.AddTags(tags...) })
}

func (h *handler) eventUntag(tags ...string) http.HandlerFunc {
	return h.mutateEvent(func(e *models.Event) { e.RemoveTags(tags...) })
}

func (h *handler) eventTagRequest(add bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.EventTagsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid tag request: "+err.Error())
			return
		}
		if len(req.Tags) == 0 {
			writeError(w, http.StatusBadRequest, "tags must not be empty")
			return
		}
		if add {
			h.eventTags(req.Tags...)(w, r)
			return
		}
		h.eventUntag(req.Tags...)(w, r)
	}
}

func (h *handler) mutateEvent(fn func(*models.Event)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if !h.store.tagEvent(id, fn) {
			writeError(w, http.StatusNotFound, "event not found: "+id)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{})
	}
}

func (h *handler) groupTags(tags ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var q models.AlertGroupQuery
		if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
			writeError(w, http.StatusBadRequest, "invalid alert group: "+err.Error())
			return
		}
		h.applyGroup(w, q, func(e *models.Event) { e.AddTags(tags...) })
	}
}

func (h *handler) groupTagRequest(add bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.AlertGroupTagsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid tag request: "+err.Error())
			return
		}
		if len(req.Tags) == 0 {
			writeError(w, http.StatusBadRequest, "tags must not be empty")
			return
		}
		fn := func(e *models.Event) { e.RemoveTags(req.Tags...) }
		if add {
			fn = func(e *models.Event) { e.AddTags(req.Tags...) }
		}
		h.applyGroup(w, req.AlertGroup, fn)
	}
}

func (h *handler) applyGroup(w http.ResponseWriter, q models.AlertGroupQuery, fn func(*models.Event)) {
	n, err := h.store.tagGroup(q, fn)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.Debug("alert group updated", "signature_id", q.SignatureID, "events", n)
	writeJSON(w, http.StatusOK, map[string]any{"updated": n})
}

// parseTimeRange accepts the client's "<seconds>s" form and bare seconds.
func parseTimeRange(value string) (time.Duration, error) {
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(value)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Default().Error("encode error", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func logRequests(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
