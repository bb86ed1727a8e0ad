package health

import (
	"context"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultCheckTimeout     = 10 * time.Second
	defaultCheckConcurrency = 8
)

// AggregatorConfig configures the health aggregator.
type AggregatorConfig struct {
	// Timeout bounds one CheckAll or Check call. Default: 10s.
	Timeout time.Duration

	// Concurrency caps the checks running at once. Zero or negative runs
	// checks one at a time. Default: 8.
	Concurrency int
}

// Aggregator runs the registered checkers of payrelay's components (store,
// webhook queue, circuits, rate limits, runtime) under one deadline.
type Aggregator struct {
	timeout     time.Duration
	concurrency int

	mu       sync.RWMutex
	checkers map[string]Checker
	names    []string
}

// NewAggregator creates an aggregator. Without a config it uses a 10s
// deadline and runs up to 8 checks at once.
func NewAggregator(config ...AggregatorConfig) *Aggregator {
	cfg := AggregatorConfig{Timeout: defaultCheckTimeout, Concurrency: defaultCheckConcurrency}
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCheckTimeout
	}
	return &Aggregator{
		timeout:     cfg.Timeout,
		concurrency: max(cfg.Concurrency, 1),
		checkers:    make(map[string]Checker),
	}
}

// Register adds a checker under name, replacing any previous one.
func (a *Aggregator) Register(name string, checker Checker) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.checkers[name]; !ok {
		a.names = append(a.names, name)
	}
	a.checkers[name] = checker
}

// RegisterChecker adds checker under its own name.
func (a *Aggregator) RegisterChecker(checker Checker) {
	a.Register(checker.Name(), checker)
}

// Unregister removes a checker.
func (a *Aggregator) Unregister(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.checkers, name)
	a.names = slices.DeleteFunc(a.names, func(n string) bool { return n == name })
}

// CheckerNames returns checker names in registration order.
func (a *Aggregator) CheckerNames() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.names)
}

// Check runs one named check.
func (a *Aggregator) Check(ctx context.Context, name string) (Result, error) {
	a.mu.RLock()
	checker, ok := a.checkers[name]
	a.mu.RUnlock()
	if !ok {
		return Result{}, ErrCheckerNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return probe(ctx, checker), nil
}

// CheckAll runs every registered check and returns the results by name.
// Checks that outlive the deadline are reported unhealthy with
// ErrCheckTimeout.
func (a *Aggregator) CheckAll(ctx context.Context) map[string]Result {
	a.mu.RLock()
	checkers := make(map[string]Checker, len(a.checkers))
	for name, c := range a.checkers {
		checkers[name] = c
	}
	a.mu.RUnlock()

	results := make(map[string]Result, len(checkers))
	if len(checkers) == 0 {
		return results
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	g.SetLimit(a.concurrency)
	for name, c := range checkers {
		g.Go(func() error {
			r := probe(ctx, c)
			mu.Lock()
			results[name] = r
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// OverallStatus returns the worst status in results. No results is healthy.
func (a *Aggregator) OverallStatus(results map[string]Result) Status {
	statuses := make([]Status, 0, len(results))
	for _, r := range results {
		statuses = append(statuses, r.Status)
	}
	return Worst(statuses...)
}

// probe runs checker, abandoning it when ctx expires. The abandoned
// goroutine finishes into a buffered channel.
func probe(ctx context.Context, checker Checker) Result {
	start := time.Now()
	done := make(chan Result, 1)
	go func() {
		r := checker.Check(ctx)
		if r.Timestamp.IsZero() {
			r.Timestamp = start
		}
		done <- r.WithDuration(time.Since(start))
	}()

	select {
	case r := <-done:
		return r
	case <-ctx.Done():
		r := Unhealthy(checker.Name()+" check timed out", ErrCheckTimeout).WithDuration(time.Since(start))
		r.Timestamp = start
		return r
	}
}
