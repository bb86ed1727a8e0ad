package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Per-request budgets for running checks from a probe.
const (
	probeBudget  = 5 * time.Second
	reportBudget = 10 * time.Second
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string                   `json:"status"`
	Timestamp string                   `json:"timestamp"`
	Checks    map[string]CheckResponse `json:"checks,omitempty"`
}

// CheckResponse is one check in a HealthResponse, and the body of
// GET /health/{name}.
type CheckResponse struct {
	Status     string         `json:"status"`
	Message    string         `json:"message,omitempty"`
	DurationMS float64        `json:"duration_ms"`
	Details    map[string]any `json:"details,omitempty"`
	Error      string         `json:"error,omitempty"`
}

func newCheckResponse(r Result) CheckResponse {
	resp := CheckResponse{
		Status:     r.Status.String(),
		Message:    r.Message,
		DurationMS: float64(r.Duration) / float64(time.Millisecond),
		Details:    r.Details,
	}
	if r.Error != nil {
		resp.Error = r.Error.Error()
	}
	return resp
}

// Routes mounts the probe endpoints on r:
//
//	GET /healthz           liveness, always 200
//	GET /readyz            readiness, 503 when any check is unhealthy
//	GET /health            every check as JSON
//	GET /health/{name}     one check as JSON
//	GET /v1/health/report  integration report, only when mon is non-nil
func Routes(r chi.Router, agg *Aggregator, mon *Monitor) {
	r.Get("/healthz", LivenessHandler())
	r.Get("/readyz", ReadinessHandler(agg))
	r.Get("/health", DetailedHandler(agg))
	r.Get("/health/{name}", SingleCheckHandler(agg))
	if mon != nil {
		r.Get("/v1/health/report", ReportHandler(mon))
	}
}

// LivenessHandler answers 200 "OK" while the process can serve HTTP.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, http.StatusOK, "OK")
	}
}

var readinessBodies = map[Status]string{
	StatusHealthy:   "OK",
	StatusDegraded:  "DEGRADED",
	StatusUnhealthy: "UNHEALTHY",
}

// ReadinessHandler runs every check. A degraded service is still ready.
func ReadinessHandler(agg *Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), probeBudget)
		defer cancel()

		overall := agg.OverallStatus(agg.CheckAll(ctx))
		writeText(w, statusCode(overall), readinessBodies[overall])
	}
}

// DetailedHandler runs every check and reports each result.
func DetailedHandler(agg *Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), reportBudget)
		defer cancel()

		results := agg.CheckAll(ctx)
		overall := agg.OverallStatus(results)
		body := HealthResponse{
			Status:    overall.String(),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Checks:    make(map[string]CheckResponse, len(results)),
		}
		for name, res := range results {
			body.Checks[name] = newCheckResponse(res)
		}
		writeJSON(w, statusCode(overall), body)
	}
}

// SingleCheckHandler runs the check named by the {name} route parameter.
func SingleCheckHandler(agg *Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), probeBudget)
		defer cancel()

		res, err := agg.Check(ctx, chi.URLParam(r, "name"))
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, statusCode(res.Status), newCheckResponse(res))
	}
}

// ReportHandler serves the payment integration report. It answers 503
// while the integration is unhealthy or any circuit is open.
func ReportHandler(mon *Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep := mon.Report(r.Context())
		code := http.StatusOK
		switch rep.Status {
		case IntegrationUnhealthy, IntegrationCircuitOpen:
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, rep)
	}
}

func statusCode(s Status) int {
	if s == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
