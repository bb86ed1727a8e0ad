package health

import (
	"context"
	"fmt"
	"runtime"
)

// RuntimeCheckerConfig configures RuntimeChecker.
type RuntimeCheckerConfig struct {
	// MaxHeapBytes is the heap size above which the process is degraded.
	// Zero disables the heap check.
	MaxHeapBytes uint64

	// MaxGoroutines is the goroutine count above which the process is
	// degraded. A leaked delivery goroutine shows up here first.
	// Default: 10000
	MaxGoroutines int
}

// RuntimeChecker reports process heap and goroutine pressure.
type RuntimeChecker struct {
	config RuntimeCheckerConfig
}

// NewRuntimeChecker creates a runtime checker.
func NewRuntimeChecker(config RuntimeCheckerConfig) *RuntimeChecker {
	if config.MaxGoroutines <= 0 {
		config.MaxGoroutines = 10000
	}
	return &RuntimeChecker{config: config}
}

// Name returns "runtime".
func (c *RuntimeChecker) Name() string {
	return "runtime"
}

// Check implements Checker.
func (c *RuntimeChecker) Check(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return Unhealthy("context cancelled", err)
	}

	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	goroutines := runtime.NumGoroutine()

	details := map[string]any{
		"heap_alloc_bytes": stats.HeapAlloc,
		"heap_sys_bytes":   stats.HeapSys,
		"num_gc":           stats.NumGC,
		"goroutines":       goroutines,
	}

	if goroutines > c.config.MaxGoroutines {
		return Degraded(fmt.Sprintf("%d goroutines exceeds %d", goroutines, c.config.MaxGoroutines)).WithDetails(details)
	}
	if c.config.MaxHeapBytes > 0 && stats.HeapAlloc > c.config.MaxHeapBytes {
		return Degraded(fmt.Sprintf("heap %.1f MiB exceeds limit", float64(stats.HeapAlloc)/(1<<20))).WithDetails(details)
	}
	return Healthy("runtime normal").WithDetails(details)
}
