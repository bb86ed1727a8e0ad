package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/payrelay/auth"
	"github.com/jonwraymond/payrelay/cache"
	"github.com/jonwraymond/payrelay/health"
	"github.com/jonwraymond/payrelay/internal/config"
	"github.com/jonwraymond/payrelay/internal/server"
	"github.com/jonwraymond/payrelay/observe"
	"github.com/jonwraymond/payrelay/payments"
	"github.com/jonwraymond/payrelay/resilience"
	"github.com/jonwraymond/payrelay/webhook"
	"github.com/jonwraymond/payrelay/webhook/sqlstore"
)

// cleanupInterval spaces retention sweeps of the webhook store.
const cleanupInterval = time.Hour

// app is the assembled daemon.
type app struct {
	cfg      config.Config
	obs      observe.Observer
	logger   observe.Logger
	store    *sqlstore.Store
	exec     *resilience.Executor
	queue    *webhook.Queue
	handler  http.Handler
	server   *server.Server
	closeFns []func(context.Context) error
}

// newApp wires every component from cfg. Secrets in cfg must already be
// resolved.
func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg}
	if err := a.wire(ctx); err != nil {
		_ = a.close(context.WithoutCancel(ctx))
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) (err error) {
	cfg := a.cfg

	a.obs, err = observe.NewObserver(ctx, cfg.Observe.Observer())
	if err != nil {
		return fmt.Errorf("observer: %w", err)
	}
	a.closeFns = append(a.closeFns, a.obs.Shutdown)
	a.logger = a.obs.Logger()

	// Outbound resilience.
	tracker := health.NewTracker()
	callRecorder, err := observe.NewCallRecorder(a.obs)
	if err != nil {
		return fmt.Errorf("call recorder: %w", err)
	}
	breakerLog := a.logger.With(observe.F("component", "circuit_breaker"))
	breakers := resilience.NewBreakerRegistry(cfg.Breaker.CircuitBreaker(),
		resilience.WithStateChangeHook(func(key resilience.EndpointKey, from, to resilience.State) {
			tracker.OnStateChange(key, from, to)
			breakerLog.Warn(context.Background(), "circuit state changed",
				observe.F("endpoint", key.String()),
				observe.F("from", from.String()),
				observe.F("to", to.String()))
		}))
	execOpts := []resilience.ExecutorOption{
		resilience.WithRateLimiter(resilience.NewRateLimiter(cfg.RateLimit.Limiter())),
		resilience.WithBreakers(breakers),
		resilience.WithClassifier(resilience.NewTimeoutClassifier(cfg.Timeouts.Classifier())),
		resilience.WithRetry(resilience.NewRetryPolicy(cfg.Retry.Policy())),
		resilience.WithRecorder(resilience.MultiRecorder{tracker, callRecorder}),
	}
	if bh, ok := cfg.Bulkhead.Bulkhead(); ok {
		execOpts = append(execOpts, resilience.WithBulkhead(resilience.NewBulkhead(bh)))
	}
	a.exec = resilience.NewExecutor(execOpts...)

	// Transactions.
	txStore, err := a.transactionStore()
	if err != nil {
		return err
	}

	// Durable webhook queue.
	db, err := sqlstore.Open(ctx, cfg.Store.Options())
	if err != nil {
		return err
	}
	a.closeFns = append(a.closeFns, func(context.Context) error { return db.Close() })
	if a.store, err = sqlstore.New(db); err != nil {
		return err
	}
	if err := a.store.CreateSchema(ctx); err != nil {
		return err
	}

	mw, err := observe.MiddlewareFromObserver(a.obs)
	if err != nil {
		return fmt.Errorf("observe middleware: %w", err)
	}
	deliveries, err := observe.NewDeliveryRecorder(a.obs.Meter())
	if err != nil {
		return fmt.Errorf("delivery recorder: %w", err)
	}
	mux := webhook.NewMux()
	webhook.NewPaymentHandler(txStore, a.logger).Register(mux)
	a.queue = webhook.NewQueue(a.store, mux, cfg.Webhook.Queue(),
		webhook.WithLogger(a.logger),
		webhook.WithMiddleware(mw),
		webhook.WithRecorder(deliveries),
	)

	verifier, err := webhook.NewVerifier([]byte(cfg.Webhook.Secret))
	if err != nil {
		return fmt.Errorf("webhook verifier: %w", err)
	}

	// Health.
	agg := health.NewAggregator()
	agg.RegisterChecker(health.NewCircuitChecker(breakers))
	agg.RegisterChecker(health.NewRateLimitChecker(a.exec.RateLimiter()))
	agg.RegisterChecker(health.NewQueueChecker(a.queue, health.QueueCheckerConfig{}))
	agg.RegisterChecker(health.NewRuntimeChecker(health.RuntimeCheckerConfig{}))
	agg.RegisterChecker(health.NewPingChecker("store", a.store.Ping))

	deps := server.Deps{
		Logger:     a.logger,
		Aggregator: agg,
		Monitor:    health.NewMonitor(tracker, breakers, a.exec.RateLimiter()),
		Metrics:    a.obs.MetricsHandler(),
		Receiver:   webhook.NewReceiver(a.queue, verifier, a.logger),
		Executor:   a.exec,
		Queue:      a.queue,
	}
	if cfg.Auth.Enabled() {
		deps.Authenticator = auth.NewJWTAuthenticator(cfg.Auth.JWT(), auth.NewStaticKeyProvider([]byte(cfg.Auth.JWTKey)))
		deps.Authorizer = auth.NewRBACAuthorizer(auth.DefaultRBACConfig())
	} else {
		a.logger.Warn(ctx, "admin API disabled: auth.jwt_key is not set")
	}
	a.handler = server.NewRouter(deps)
	a.server = server.New(cfg.Server, a.handler, a.logger)

	return nil
}

// transactionStore returns the remote payments client, or an in-memory
// store when no base URL is configured, behind the read cache.
func (a *app) transactionStore() (payments.TransactionStore, error) {
	var store payments.TransactionStore
	if a.cfg.Payments.BaseURL == "" {
		a.logger.Warn(context.Background(), "payments.base_url not set; using in-memory transactions")
		store = payments.NewMemoryStore()
	} else {
		var opts []payments.ClientOption
		if a.cfg.Payments.Token != "" {
			opts = append(opts, payments.WithBearerToken(a.cfg.Payments.Token))
		}
		client, err := payments.NewClient(a.cfg.Payments.BaseURL, a.exec, opts...)
		if err != nil {
			return nil, err
		}
		store = client
	}

	policy := a.cfg.Cache.Policy()
	if !policy.Enabled() {
		return store, nil
	}
	m := cache.NewMiddleware(cache.NewMemoryCache(policy), nil, policy)
	return payments.NewCachedStore(store, m), nil
}

// run serves HTTP, drains the queue and sweeps old events until ctx is
// done or one of them fails.
func (a *app) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.server.Run(ctx)
	})
	g.Go(func() error {
		if err := a.queue.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("webhook queue: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := a.queue.Cleanup(ctx); err != nil {
					a.logger.Error(ctx, "webhook retention sweep failed", observe.F("error", err))
				}
			}
		}
	})

	return g.Wait()
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		errs = append(errs, a.closeFns[i](ctx))
	}
	a.closeFns = nil
	return errors.Join(errs...)
}
