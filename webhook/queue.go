package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/payrelay/observe"
	"github.com/jonwraymond/payrelay/resilience"
)

// IdempotencyKeyPrefix prefixes every generated idempotency key.
const IdempotencyKeyPrefix = "whk_"

// Delivery outcomes passed to Recorder.
const (
	OutcomeDelivered = "delivered"
	OutcomeRetry     = "retry"
	OutcomeFailed    = "failed"
)

// Recorder receives delivery outcomes. Implementations must be safe for
// concurrent use.
type Recorder interface {
	RecordDelivery(ctx context.Context, eventType string, outcome string, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordDelivery(context.Context, string, string, time.Duration) {}

// Config configures a Queue.
type Config struct {
	// MaxRetries is the number of failed attempts after which an event is
	// marked failed.
	// Default: 5
	MaxRetries int

	// BatchSize caps the events claimed per worker tick.
	// Default: 10
	BatchSize int

	// Concurrency caps the handlers running at once within a batch.
	// Default: BatchSize
	Concurrency int

	// PollInterval is the worker tick period.
	// Default: 1s
	PollInterval time.Duration

	// HandlerTimeout bounds one handler run.
	// Default: 30s
	HandlerTimeout time.Duration

	// StaleAfter is how long an event may stay processing before it is
	// reclaimed.
	// Default: 5 minutes
	StaleAfter time.Duration

	// Retention is how long events are kept before Cleanup removes them.
	// Default: 30 days
	Retention time.Duration

	// RetryFailedLimit is the default limit for RetryFailed.
	// Default: 50
	RetryFailedLimit int

	// Backoff spaces retries of one event.
	// Default: base 1s, max 60s, jitter 500ms
	Backoff resilience.Backoff

	// Now returns the current time.
	// Default: time.Now
	Now func() time.Time
}

// DefaultBackoff is the retry spacing used when Config.Backoff is zero.
var DefaultBackoff = resilience.Backoff{
	Base:   time.Second,
	Max:    60 * time.Second,
	Jitter: 500 * time.Millisecond,
}

func (c *Config) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.Concurrency <= 0 {
		c.Concurrency = c.BatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = 30 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 5 * time.Minute
	}
	if c.Retention <= 0 {
		c.Retention = 30 * 24 * time.Hour
	}
	if c.RetryFailedLimit <= 0 {
		c.RetryFailedLimit = 50
	}
	if c.Backoff.Base <= 0 {
		rnd := c.Backoff.Rand
		c.Backoff = DefaultBackoff
		c.Backoff.Rand = rnd
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Queue persists webhook events and delivers them to a Handler with
// retries. It is safe for concurrent use; one Run loop per store is
// expected, though ClaimDue keeps several loops from delivering the same
// event concurrently.
type Queue struct {
	store    Store
	handler  Handler
	config   Config
	logger   observe.Logger
	mw       *observe.Middleware
	recorder Recorder
	newID    func() string

	notify chan struct{}

	mu      sync.Mutex
	running bool
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the queue logger.
func WithLogger(l observe.Logger) Option {
	return func(q *Queue) {
		q.logger = l
	}
}

// WithMiddleware wraps every handler run.
func WithMiddleware(mw *observe.Middleware) Option {
	return func(q *Queue) {
		q.mw = mw
	}
}

// WithRecorder sets the delivery outcome recorder.
func WithRecorder(r Recorder) Option {
	return func(q *Queue) {
		q.recorder = r
	}
}

// WithIDGenerator overrides event id generation.
func WithIDGenerator(fn func() string) Option {
	return func(q *Queue) {
		q.newID = fn
	}
}

// NewQueue creates a queue over store delivering to handler.
func NewQueue(store Store, handler Handler, config Config, opts ...Option) *Queue {
	config.applyDefaults()
	q := &Queue{
		store:   store,
		handler: handler,
		config:  config,
		notify:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.logger == nil {
		q.logger = observe.NopLogger()
	}
	q.logger = q.logger.With(observe.F("component", "webhook_queue"))
	if q.mw == nil {
		q.mw = observe.NopMiddleware()
	}
	if q.recorder == nil {
		q.recorder = nopRecorder{}
	}
	if q.newID == nil {
		q.newID = func() string { return uuid.NewString() }
	}
	return q
}

// Config returns the effective configuration.
func (q *Queue) Config() Config {
	return q.config
}

// Store returns the underlying store.
func (q *Queue) Store() Store {
	return q.store
}

// Enqueue persists a new pending event and wakes the worker. Each call
// creates a distinct event with a fresh idempotency key.
func (q *Queue) Enqueue(ctx context.Context, eventType string, payload json.RawMessage, relatedID string, metadata map[string]any) (Event, error) {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return Event{}, fmt.Errorf("%w: event type is required", ErrInvalidEvent)
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return Event{}, fmt.Errorf("%w: payload is not valid JSON", ErrInvalidEvent)
	}

	now := q.config.Now()
	key := IdempotencyKeyPrefix + uuid.NewString()

	meta := maps.Clone(metadata)
	if meta == nil {
		meta = make(map[string]any, 2)
	}
	meta["enqueued_at"] = now.UTC().Format(time.RFC3339Nano)
	meta["idempotency_key"] = key

	ev := Event{
		ID:             q.newID(),
		IdempotencyKey: key,
		EventType:      eventType,
		Payload:        payload,
		RelatedID:      strings.TrimSpace(relatedID),
		Metadata:       meta,
		Status:         StatusPending,
		MaxRetries:     q.config.MaxRetries,
		NextRetryAt:    now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := q.store.Insert(ctx, ev); err != nil {
		return Event{}, fmt.Errorf("enqueue %s: %w", eventType, err)
	}

	q.logger.Info(ctx, "webhook enqueued",
		observe.F("event_id", ev.ID),
		observe.F("event_type", eventType),
		observe.F("idempotency_key", key),
	)
	q.wake()
	return ev, nil
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Run processes due events until ctx is cancelled. Each tick first
// reclaims stale claims, then delivers one batch. A full batch triggers an
// immediate next tick.
func (q *Queue) Run(ctx context.Context) error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return errors.New("webhook: queue is already running")
	}
	q.running = true
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		q.running = false
		q.mu.Unlock()
	}()

	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	q.logger.Info(ctx, "webhook worker started", observe.F("poll_interval", q.config.PollInterval.String()))
	for {
		n := q.tick(ctx)
		if n >= q.config.BatchSize {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}

		select {
		case <-ctx.Done():
			q.logger.Info(context.WithoutCancel(ctx), "webhook worker stopped")
			return ctx.Err()
		case <-ticker.C:
		case <-q.notify:
		}
	}
}

func (q *Queue) tick(ctx context.Context) int {
	if _, err := q.ReclaimStale(ctx); err != nil && ctx.Err() == nil {
		q.logger.Error(ctx, "reclaim stale events failed", observe.F("error", err))
	}
	n, err := q.ProcessDue(ctx)
	if err != nil && ctx.Err() == nil {
		q.logger.Error(ctx, "process due events failed", observe.F("error", err))
	}
	return n
}

// ProcessDue claims one batch of due events and delivers them
// concurrently. It returns the number of events claimed.
func (q *Queue) ProcessDue(ctx context.Context) (int, error) {
	events, err := q.store.ClaimDue(ctx, q.config.Now(), q.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim due events: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(q.config.Concurrency)
	for _, ev := range events {
		g.Go(func() error {
			if err := q.deliver(ctx, ev); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return len(events), errors.Join(errs...)
}

// settleErr reports a failed outcome write. A superseded claim is not a
// store failure: the event was reclaimed and belongs to its new claimer.
func (q *Queue) settleErr(ctx context.Context, ev Event, op string, err error) error {
	if errors.Is(err, ErrClaimLost) {
		q.logger.Warn(ctx, "webhook claim superseded, outcome dropped",
			observe.F("event_id", ev.ID),
			observe.F("event_type", ev.EventType),
			observe.F("claimed_at", ev.ClaimedAt),
		)
		return nil
	}
	return fmt.Errorf("%s %s: %w", op, ev.ID, err)
}

// deliver runs the handler for one claimed event and records the outcome.
// Only store failures are returned.
func (q *Queue) deliver(ctx context.Context, ev Event) error {
	meta := observe.CallMeta{
		Kind:     observe.KindWebhook,
		Name:     ev.EventType,
		EventID:  ev.ID,
		Attempts: ev.RetryCount + 1,
	}

	start := time.Now()
	herr := q.mw.Wrap(func(ctx context.Context, _ observe.CallMeta) error {
		hctx, cancel := context.WithTimeout(ctx, q.config.HandlerTimeout)
		defer cancel()
		return q.runHandler(hctx, ev)
	})(ctx, meta)
	elapsed := time.Since(start)

	now := q.config.Now()
	if herr == nil {
		q.recorder.RecordDelivery(ctx, ev.EventType, OutcomeDelivered, elapsed)
		if err := q.store.MarkDelivered(ctx, ev.Claim(), now); err != nil {
			return q.settleErr(ctx, ev, "mark delivered", err)
		}
		q.logger.Info(ctx, "webhook delivered",
			observe.F("event_id", ev.ID),
			observe.F("event_type", ev.EventType),
			observe.F("retry_count", ev.RetryCount),
		)
		return nil
	}

	retryCount := ev.RetryCount + 1
	maxRetries := ev.MaxRetries
	if maxRetries <= 0 {
		maxRetries = q.config.MaxRetries
	}

	if retryCount >= maxRetries {
		q.recorder.RecordDelivery(ctx, ev.EventType, OutcomeFailed, elapsed)
		if err := q.store.MarkFailed(ctx, ev.Claim(), retryCount, herr.Error(), now); err != nil {
			return q.settleErr(ctx, ev, "mark failed", err)
		}
		q.logger.Error(ctx, "webhook delivery failed permanently",
			observe.F("event_id", ev.ID),
			observe.F("event_type", ev.EventType),
			observe.F("retry_count", retryCount),
			observe.F("error", herr),
		)
		return nil
	}

	delay := q.config.Backoff.Delay(retryCount - 1)
	q.recorder.RecordDelivery(ctx, ev.EventType, OutcomeRetry, elapsed)
	if err := q.store.ScheduleRetry(ctx, ev.Claim(), retryCount, now.Add(delay), herr.Error(), now); err != nil {
		return q.settleErr(ctx, ev, "schedule retry", err)
	}
	q.logger.Warn(ctx, "webhook delivery failed, retry scheduled",
		observe.F("event_id", ev.ID),
		observe.F("event_type", ev.EventType),
		observe.F("retry_count", retryCount),
		observe.F("delay_ms", delay.Milliseconds()),
		observe.F("error", herr),
	)
	return nil
}

// runHandler converts a handler panic into an error so one bad event
// cannot take the worker down.
func (q *Queue) runHandler(ctx context.Context, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return q.handler.Handle(ctx, ev)
}

// RetryFailed moves up to limit failed events back to pending with a zero
// retry count. A non-positive limit uses Config.RetryFailedLimit.
func (q *Queue) RetryFailed(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = q.config.RetryFailedLimit
	}
	n, err := q.store.RequeueFailed(ctx, limit, q.config.Now())
	if err != nil {
		return 0, fmt.Errorf("requeue failed events: %w", err)
	}
	if n > 0 {
		q.logger.Info(ctx, "failed webhooks requeued", observe.F("count", n))
		q.wake()
	}
	return n, nil
}

// Cleanup deletes events older than Config.Retention.
func (q *Queue) Cleanup(ctx context.Context) (int, error) {
	cutoff := q.config.Now().Add(-q.config.Retention)
	n, err := q.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old events: %w", err)
	}
	if n > 0 {
		q.logger.Info(ctx, "old webhooks deleted", observe.F("count", n), observe.F("cutoff", cutoff.UTC().Format(time.RFC3339)))
	}
	return n, nil
}

// ReclaimStale returns events stuck in processing for longer than
// Config.StaleAfter to pending.
func (q *Queue) ReclaimStale(ctx context.Context) (int, error) {
	now := q.config.Now()
	n, err := q.store.ReclaimStale(ctx, now.Add(-q.config.StaleAfter), now)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale events: %w", err)
	}
	if n > 0 {
		q.logger.Warn(ctx, "stale webhooks reclaimed", observe.F("count", n))
	}
	return n, nil
}

// CountByStatus counts events in status.
func (q *Queue) CountByStatus(ctx context.Context, status Status) (int, error) {
	return q.store.CountByStatus(ctx, status)
}

// Stats counts events in every status.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	for _, status := range Statuses {
		n, err := q.store.CountByStatus(ctx, status)
		if err != nil {
			return Stats{}, fmt.Errorf("count %s: %w", status, err)
		}
		st.set(status, n)
	}
	return st, nil
}

// Events returns the events related to a transaction.
func (q *Queue) Events(ctx context.Context, transactionID string) ([]Event, error) {
	return q.store.ListByTransaction(ctx, transactionID)
}
