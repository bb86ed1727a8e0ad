package health

import (
	"context"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonwraymond/payrelay/resilience"
)

func BenchmarkTracker_RecordAttempt(b *testing.B) {
	tracker := NewTracker()
	ctx := context.Background()

	b.ResetTimer()
	for b.Loop() {
		tracker.RecordAttempt(ctx, "POST:/v1/payments", time.Millisecond, nil)
	}
}

func BenchmarkMonitor_Report(b *testing.B) {
	tracker := NewTracker()
	breakers := resilience.NewBreakerRegistry(resilience.CircuitBreakerConfig{FailureThreshold: 5})
	for i := range 10 {
		key := resilience.NewEndpointKey("GET", fmt.Sprintf("/v1/transactions/%d", i))
		breakers.Get(key)
		tracker.RecordAttempt(context.Background(), key.String(), time.Millisecond, nil)
	}
	mon := NewMonitor(tracker, breakers, nil)
	ctx := context.Background()

	b.ResetTimer()
	for b.Loop() {
		_ = mon.Report(ctx)
	}
}

func BenchmarkAggregator_CheckAll(b *testing.B) {
	for _, n := range []int{1, 5, 20} {
		b.Run(fmt.Sprintf("checkers=%d", n), func(b *testing.B) {
			agg := NewAggregator()
			for i := range n {
				agg.RegisterChecker(NewPingChecker(fmt.Sprintf("dep%d", i), func(context.Context) error { return nil }))
			}
			ctx := context.Background()

			b.ResetTimer()
			for b.Loop() {
				_ = agg.CheckAll(ctx)
			}
		})
	}
}

func BenchmarkDetailedHandler(b *testing.B) {
	agg := NewAggregator()
	agg.RegisterChecker(NewRuntimeChecker(RuntimeCheckerConfig{}))
	agg.RegisterChecker(NewPingChecker("store", func(context.Context) error { return nil }))
	handler := DetailedHandler(agg)
	req := httptest.NewRequest("GET", "/health", nil)

	b.ResetTimer()
	for b.Loop() {
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
}
