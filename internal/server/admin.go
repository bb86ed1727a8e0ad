package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/jonwraymond/payrelay/auth"
	"github.com/jonwraymond/payrelay/observe"
	"github.com/jonwraymond/payrelay/resilience"
)

type admin struct {
	exec   *resilience.Executor
	queue  Queue
	logger observe.Logger
}

// CircuitsResponse is the body of GET /v1/admin/circuits.
type CircuitsResponse struct {
	Stats     resilience.RegistryStats      `json:"stats"`
	Endpoints []resilience.EndpointSnapshot `json:"endpoints"`
}

func (a *admin) circuits(w http.ResponseWriter, r *http.Request) {
	breakers := a.exec.Breakers()
	writeJSON(w, http.StatusOK, CircuitsResponse{
		Stats:     breakers.Stats(),
		Endpoints: breakers.Snapshots(),
	})
}

// resetCircuits resets one circuit (?endpoint=METHOD:/path) or all of them.
func (a *admin) resetCircuits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	breakers := a.exec.Breakers()

	endpoint := strings.TrimSpace(r.URL.Query().Get("endpoint"))
	if endpoint == "" {
		breakers.ResetAll()
		a.logger.Warn(ctx, "all circuits reset", observe.F("principal", auth.PrincipalFromContext(ctx)))
		writeJSON(w, http.StatusOK, map[string]any{"reset": "all"})
		return
	}

	if !breakers.Reset(resilience.EndpointKey(endpoint)) {
		writeError(w, http.StatusNotFound, "unknown endpoint "+endpoint)
		return
	}
	a.logger.Warn(ctx, "circuit reset",
		observe.F("endpoint", endpoint),
		observe.F("principal", auth.PrincipalFromContext(ctx)))
	writeJSON(w, http.StatusOK, map[string]any{"reset": endpoint})
}

// RateLimitsResponse is the body of GET /v1/admin/ratelimits.
type RateLimitsResponse struct {
	PerSecond  int                    `json:"per_second"`
	PerMinute  int                    `json:"per_minute"`
	Violations int64                  `json:"violations"`
	Endpoints  []resilience.RateStats `json:"endpoints"`
}

func (a *admin) rateLimits(w http.ResponseWriter, r *http.Request) {
	limiter := a.exec.RateLimiter()
	cfg := limiter.Config()
	writeJSON(w, http.StatusOK, RateLimitsResponse{
		PerSecond:  cfg.PerSecond,
		PerMinute:  cfg.PerMinute,
		Violations: limiter.Violations(),
		Endpoints:  limiter.AllStats(),
	})
}

func (a *admin) webhookStats(w http.ResponseWriter, r *http.Request) {
	st, err := a.queue.Stats(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), "webhook stats failed", observe.F("error", err))
		writeError(w, http.StatusInternalServerError, "webhook store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pending":    st.Pending,
		"processing": st.Processing,
		"delivered":  st.Delivered,
		"failed":     st.Failed,
		"total":      st.Total(),
	})
}

func (a *admin) transactionEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	events, err := a.queue.Events(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), "list transaction events failed", observe.F("transaction_id", id), observe.F("error", err))
		writeError(w, http.StatusInternalServerError, "webhook store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transaction_id": id, "events": events})
}

// retryFailed requeues failed events. ?limit= defaults to the queue's
// configured limit.
func (a *admin) retryFailed(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	n, err := a.queue.RetryFailed(r.Context(), limit)
	if err != nil {
		a.logger.Error(r.Context(), "retry failed webhooks", observe.F("error", err))
		writeError(w, http.StatusInternalServerError, "webhook store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"requeued": n})
}

func (a *admin) cleanup(w http.ResponseWriter, r *http.Request) {
	n, err := a.queue.Cleanup(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), "webhook cleanup failed", observe.F("error", err))
		writeError(w, http.StatusInternalServerError, "webhook store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
