// Package server assembles the payrelayd HTTP surface.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jonwraymond/payrelay/auth"
	"github.com/jonwraymond/payrelay/health"
	"github.com/jonwraymond/payrelay/observe"
	"github.com/jonwraymond/payrelay/resilience"
	"github.com/jonwraymond/payrelay/webhook"
)

// Queue is the webhook queue surface the admin API drives. *webhook.Queue
// implements it.
type Queue interface {
	Stats(ctx context.Context) (webhook.Stats, error)
	RetryFailed(ctx context.Context, limit int) (int, error)
	Cleanup(ctx context.Context) (int, error)
	Events(ctx context.Context, transactionID string) ([]webhook.Event, error)
}

// Deps are the components the router exposes. Nil Monitor, Metrics or
// Receiver leave their routes unmounted; a nil Authenticator leaves the
// admin API unmounted.
type Deps struct {
	Logger     observe.Logger
	Aggregator *health.Aggregator
	Monitor    *health.Monitor
	Metrics    http.Handler
	Receiver   http.Handler
	Executor   *resilience.Executor
	Queue      Queue

	Authenticator auth.Authenticator
	Authorizer    auth.Authorizer
}

// NewRouter builds the chi router for the daemon.
func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = observe.NopLogger()
	}
	if d.Aggregator == nil {
		d.Aggregator = health.NewAggregator()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(recoverer(d.Logger))
	r.Use(requestLogger(d.Logger))

	health.Routes(r, d.Aggregator, d.Monitor)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}
	if d.Receiver != nil {
		r.Method(http.MethodPost, "/v1/webhooks", d.Receiver)
	}

	if d.Authenticator != nil && d.Executor != nil && d.Queue != nil {
		authz := d.Authorizer
		if authz == nil {
			authz = auth.NewRBACAuthorizer(auth.DefaultRBACConfig())
		}
		a := &admin{exec: d.Executor, queue: d.Queue, logger: d.Logger.With(observe.F("component", "admin"))}

		r.Route("/v1/admin", func(r chi.Router) {
			r.Use(auth.Middleware(d.Authenticator))

			r.With(auth.Require(authz, "circuits", "read")).Get("/circuits", a.circuits)
			r.With(auth.Require(authz, "circuits", "write")).Post("/circuits/reset", a.resetCircuits)
			r.With(auth.Require(authz, "ratelimits", "read")).Get("/ratelimits", a.rateLimits)
			r.With(auth.Require(authz, "webhooks", "read")).Get("/webhooks/stats", a.webhookStats)
			r.With(auth.Require(authz, "webhooks", "read")).Get("/transactions/{id}/events", a.transactionEvents)
			r.With(auth.Require(authz, "webhooks", "write")).Post("/webhooks/retry-failed", a.retryFailed)
			r.With(auth.Require(authz, "webhooks", "write")).Post("/webhooks/cleanup", a.cleanup)
		})
	}

	return r
}
