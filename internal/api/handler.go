package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/pulsemon/pulsemon/internal/alerting"
	"github.com/pulsemon/pulsemon/internal/model"
	"github.com/pulsemon/pulsemon/internal/scheduler"
	"github.com/pulsemon/pulsemon/internal/storage"
)

// Handler is the HTTP handler for all /api/v1/* endpoints. Reads go straight
// to storage; alert mutations go through the lifecycle service, which is the
// sole mutator of alert state.
type Handler struct {
	store     *storage.Store
	sched     *scheduler.Scheduler
	lifecycle *alerting.Lifecycle
	mux       *http.ServeMux
}

// New creates a Handler and registers all routes.
func New(st *storage.Store, sched *scheduler.Scheduler, lc *alerting.Lifecycle) http.Handler {
	h := &Handler{store: st, sched: sched, lifecycle: lc, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/collectors", h.listCollectors)
	h.mux.HandleFunc("/api/v1/collectors/", h.collectorAction) // subtree — extracts {id}/{action}
	h.mux.HandleFunc("/api/v1/metrics", h.metrics)
	h.mux.HandleFunc("/api/v1/rules", h.rules)
	h.mux.HandleFunc("/api/v1/alerts", h.listAlerts)
	h.mux.HandleFunc("/api/v1/alerts/", h.alertAction) // subtree — extracts {id}/{action}

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health — health counts across all collectors.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	states, err := h.store.ListHealthStates(r.Context())
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, "load health states")
		return
	}

	resp := HealthResponse{CollectorCount: len(states), State: "unknown"}
	for _, s := range states {
		switch s.Status {
		case model.HealthHealthy:
			resp.HealthyCount++
		case model.HealthDegraded:
			resp.DegradedCount++
		case model.HealthFailing:
			resp.FailingCount++
		default:
			resp.UnknownCount++
		}
	}
	switch {
	case resp.FailingCount > 0:
		resp.State = "failing"
	case resp.DegradedCount > 0:
		resp.State = "degraded"
	case resp.HealthyCount > 0:
		resp.State = "healthy"
	}

	if active, err := h.store.ListAlerts(r.Context(), model.AlertActive, 500); err == nil {
		resp.OpenAlertCount += len(active)
	}
	if acked, err := h.store.ListAlerts(r.Context(), model.AlertAcknowledged, 500); err == nil {
		resp.OpenAlertCount += len(acked)
	}

	jsonResp(w, http.StatusOK, resp)
}

// listCollectors returns GET /api/v1/collectors — scheduled jobs with health.
func (h *Handler) listCollectors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	states, err := h.store.ListHealthStates(r.Context())
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, "load health states")
		return
	}
	byID := make(map[string]*model.HealthState, len(states))
	for i := range states {
		byID[states[i].CollectorID] = &states[i]
	}

	jobs := h.sched.Jobs()
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })

	out := make([]CollectorResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, CollectorResponse{
			ID:         j.ID,
			Name:       j.Metadata.Name,
			Category:   j.Metadata.Category,
			IntervalMS: j.Interval.Milliseconds(),
			TimeoutMS:  j.Timeout.Milliseconds(),
			Health:     byID[j.ID],
		})
	}
	jsonResp(w, http.StatusOK, out)
}

// collectorAction routes /api/v1/collectors/{id}/{executions|run|check}.
func (h *Handler) collectorAction(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/collectors/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		jsonErr(w, http.StatusNotFound, "collector id required")
		return
	}

	switch {
	case action == "executions" && r.Method == http.MethodGet:
		execs, err := h.store.ListExecutions(r.Context(), id, 50)
		if err != nil {
			jsonErr(w, http.StatusInternalServerError, "load executions")
			return
		}
		jsonResp(w, http.StatusOK, execs)

	case action == "run" && r.Method == http.MethodPost:
		switch err := h.sched.RunNow(id); {
		case errors.Is(err, scheduler.ErrUnknownCollector):
			jsonErr(w, http.StatusNotFound, "unknown collector")
		case errors.Is(err, scheduler.ErrCollectorBusy):
			jsonErr(w, http.StatusConflict, "collection already in progress")
		case err != nil:
			jsonErr(w, http.StatusInternalServerError, err.Error())
		default:
			jsonResp(w, http.StatusAccepted, map[string]string{"status": "started"})
		}

	case action == "check" && r.Method == http.MethodGet:
		supported, healthy, err := h.sched.CheckHealth(r.Context(), id)
		if errors.Is(err, scheduler.ErrUnknownCollector) {
			jsonErr(w, http.StatusNotFound, "unknown collector")
			return
		}
		jsonResp(w, http.StatusOK, CheckResponse{Supported: supported, Healthy: healthy})

	default:
		jsonErr(w, http.StatusNotFound, "unknown collector action")
	}
}

// metrics returns GET /api/v1/metrics?collector_id=&metric=&start=&end= —
// raw samples in the requested range (default: the last hour).
func (h *Handler) metrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	end := time.Now().UTC()
	start := end.Add(-time.Hour)
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, "end: want RFC3339 timestamp")
			return
		}
		end = t
	}
	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, "start: want RFC3339 timestamp")
			return
		}
		start = t
	}

	metrics, err := h.store.QueryRange(r.Context(), q.Get("collector_id"), q.Get("metric"), start, end)
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, "query metrics")
		return
	}
	jsonResp(w, http.StatusOK, metrics)
}

// rules returns GET /api/v1/rules — all alert rules.
func (h *Handler) rules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rules, err := h.store.ListRules(r.Context(), false)
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, "load rules")
		return
	}
	jsonResp(w, http.StatusOK, rules)
}

// listAlerts returns GET /api/v1/alerts?status= — alerts newest first.
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := model.AlertStatus(r.URL.Query().Get("status"))
	switch status {
	case "", model.AlertActive, model.AlertAcknowledged, model.AlertResolved:
	default:
		jsonErr(w, http.StatusBadRequest, "status: want active|acknowledged|resolved")
		return
	}
	alerts, err := h.store.ListAlerts(r.Context(), status, 100)
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, "load alerts")
		return
	}
	jsonResp(w, http.StatusOK, alerts)
}

// alertAction routes POST /api/v1/alerts/{id}/{acknowledge|resolve|snooze}.
func (h *Handler) alertAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/alerts/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		jsonErr(w, http.StatusNotFound, "alert id required")
		return
	}

	var alert *model.Alert
	var err error
	switch action {
	case "acknowledge":
		var req acknowledgeRequest
		if !decodeBody(w, r, &req) {
			return
		}
		alert, err = h.lifecycle.Acknowledge(r.Context(), id, req.Actor)
	case "resolve":
		var req resolveRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Note == "" {
			req.Note = "resolved manually"
		}
		alert, err = h.lifecycle.Resolve(r.Context(), id, req.Note)
	case "snooze":
		var req snoozeRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Minutes <= 0 {
			jsonErr(w, http.StatusBadRequest, "minutes must be positive")
			return
		}
		alert, err = h.lifecycle.Snooze(r.Context(), id, req.Minutes)
	default:
		jsonErr(w, http.StatusNotFound, "unknown alert action")
		return
	}

	if err != nil {
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if alert == nil {
		jsonErr(w, http.StatusConflict, "alert not found or not in a transitionable state")
		return
	}
	jsonResp(w, http.StatusOK, alert)
}

// --- helpers ----------------------------------------------------------------

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func jsonResp(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func jsonErr(w http.ResponseWriter, status int, msg string) {
	jsonResp(w, status, errorResponse{Error: msg})
}
