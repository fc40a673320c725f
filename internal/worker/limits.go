package worker

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
)

const (
	// DefaultCap bounds the pool no matter how many cores the host reports.
	DefaultCap = 8
	// DefaultIdleTimeout is how long an idle slot survives before eviction.
	DefaultIdleTimeout = 20 * time.Second
)

// HardwareConcurrency returns the number of logical CPUs, falling back to the
// Go runtime's view when the host cannot be probed.
func HardwareConcurrency(ctx context.Context) int {
	n, err := cpu.CountsWithContext(ctx, true)
	if err != nil || n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

// MaxWorkers leaves one core for the coordinating goroutines: clamp(hw-1, 1, cap).
func MaxWorkers(hw, cap int) int {
	if cap <= 0 {
		cap = DefaultCap
	}
	n := hw - 1
	if n < 1 {
		n = 1
	}
	if n > cap {
		n = cap
	}
	return n
}
