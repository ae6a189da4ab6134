package governance

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// ErrRunTimeout is returned when a run exceeds its wall-clock budget.
var ErrRunTimeout = errors.New("run time budget exceeded")

// ExecutionGuard enforces one wall-clock budget for an entire run. It is
// consulted at node boundaries only: a node in flight always completes
// before the run stops.
type ExecutionGuard struct {
	timeout   time.Duration
	start     time.Time
	started   bool
	cancelled atomic.Bool
}

// NewExecutionGuard creates a guard with the given run budget. A zero or
// negative timeout falls back to 30 seconds.
func NewExecutionGuard(timeout time.Duration) *ExecutionGuard {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ExecutionGuard{timeout: timeout}
}

// Start begins the budget clock. Called once at run start.
func (g *ExecutionGuard) Start() {
	g.start = time.Now()
	g.started = true
	g.cancelled.Store(false)
}

// Check reports whether execution should continue. On stop it returns a
// human-readable reason.
func (g *ExecutionGuard) Check() (bool, string) {
	if g.cancelled.Load() {
		return false, "execution cancelled"
	}
	if g.started && time.Since(g.start) > g.timeout {
		return false, fmt.Sprintf("timeout exceeded (%s)", g.timeout)
	}
	return true, ""
}

// Cancel requests cooperative cancellation. The current node completes; the
// run halts at the next boundary.
func (g *ExecutionGuard) Cancel() {
	g.cancelled.Store(true)
}

// Cancelled reports whether cancellation was requested.
func (g *ExecutionGuard) Cancelled() bool {
	return g.cancelled.Load()
}

// Elapsed returns the time since Start.
func (g *ExecutionGuard) Elapsed() time.Duration {
	if !g.started {
		return 0
	}
	return time.Since(g.start)
}

// Remaining returns the budget left, floored at zero.
func (g *ExecutionGuard) Remaining() time.Duration {
	remaining := g.timeout - g.Elapsed()
	if remaining < 0 {
		return 0
	}
	return remaining
}
