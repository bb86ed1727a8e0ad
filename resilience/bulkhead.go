package resilience

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

const defaultBulkheadSize = 10

// BulkheadConfig configures the bulkhead.
type BulkheadConfig struct {
	// MaxConcurrent caps in-flight outbound calls. Default: 10.
	MaxConcurrent int

	// MaxWait is how long Acquire queues for a slot. Zero rejects at once.
	MaxWait time.Duration
}

// Bulkhead caps concurrent outbound calls across every endpoint so that one
// slow payment API cannot hold all caller goroutines.
type Bulkhead struct {
	config BulkheadConfig
	sem    *semaphore.Weighted

	active    atomic.Int64
	maxActive atomic.Int64
	rejected  atomic.Int64
}

// NewBulkhead creates a bulkhead.
func NewBulkhead(config BulkheadConfig) *Bulkhead {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = defaultBulkheadSize
	}
	return &Bulkhead{
		config: config,
		sem:    semaphore.NewWeighted(int64(config.MaxConcurrent)),
	}
}

// Acquire takes a slot, waiting up to MaxWait. It fails with
// ErrBulkheadFull when none frees up, or with ctx's error when ctx ends
// first.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	if !b.sem.TryAcquire(1) {
		if err := b.wait(ctx); err != nil {
			return err
		}
	}
	b.track(b.active.Add(1))
	return nil
}

func (b *Bulkhead) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.config.MaxWait <= 0 {
		b.rejected.Add(1)
		return ErrBulkheadFull
	}
	wctx, cancel := context.WithTimeout(ctx, b.config.MaxWait)
	defer cancel()
	if b.sem.Acquire(wctx, 1) == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b.rejected.Add(1)
	return ErrBulkheadFull
}

// track raises the high-water mark to n.
func (b *Bulkhead) track(n int64) {
	for peak := b.maxActive.Load(); n > peak; peak = b.maxActive.Load() {
		if b.maxActive.CompareAndSwap(peak, n) {
			return
		}
	}
}

// Release frees a slot taken by Acquire. Extra calls are ignored.
func (b *Bulkhead) Release() {
	for {
		n := b.active.Load()
		if n <= 0 {
			return
		}
		if b.active.CompareAndSwap(n, n-1) {
			b.sem.Release(1)
			return
		}
	}
}

// BulkheadMetrics is a point-in-time view of a Bulkhead, served by the
// admin API.
type BulkheadMetrics struct {
	Active        int   `json:"active"`
	MaxActive     int   `json:"max_active"`
	Available     int   `json:"available"`
	MaxConcurrent int   `json:"max_concurrent"`
	Rejected      int64 `json:"rejected"`
}

// Metrics returns current bulkhead metrics.
func (b *Bulkhead) Metrics() BulkheadMetrics {
	active := int(b.active.Load())
	return BulkheadMetrics{
		Active:        active,
		MaxActive:     int(b.maxActive.Load()),
		Available:     b.config.MaxConcurrent - active,
		MaxConcurrent: b.config.MaxConcurrent,
		Rejected:      b.rejected.Load(),
	}
}
