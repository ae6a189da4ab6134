package governance

import (
	"strings"
	"testing"
	"time"
)

func TestExecutionGuard_AllowsWithinBudget(t *testing.T) {
	g := NewExecutionGuard(time.Minute)
	g.Start()

	ok, reason := g.Check()
	if !ok {
		t.Fatalf("fresh guard must allow, got reason %q", reason)
	}
	if g.Remaining() <= 0 {
		t.Fatal("remaining budget must be positive")
	}
}

func TestExecutionGuard_TimeoutAtBoundary(t *testing.T) {
	g := NewExecutionGuard(10 * time.Millisecond)
	g.Start()
	time.Sleep(20 * time.Millisecond)

	ok, reason := g.Check()
	if ok {
		t.Fatal("expired guard must stop the run")
	}
	if !strings.Contains(reason, "timeout") {
		t.Errorf("reason should mention timeout, got %q", reason)
	}
	if g.Remaining() != 0 {
		t.Errorf("remaining after expiry = %s, want 0", g.Remaining())
	}
}

func TestExecutionGuard_Cancel(t *testing.T) {
	g := NewExecutionGuard(time.Minute)
	g.Start()
	g.Cancel()

	if !g.Cancelled() {
		t.Fatal("cancellation flag not set")
	}
	ok, reason := g.Check()
	if ok {
		t.Fatal("cancelled guard must stop the run")
	}
	if !strings.Contains(reason, "cancelled") {
		t.Errorf("reason should mention cancellation, got %q", reason)
	}
}

func TestExecutionGuard_RestartClearsCancellation(t *testing.T) {
	g := NewExecutionGuard(time.Minute)
	g.Start()
	g.Cancel()
	g.Start()

	if ok, reason := g.Check(); !ok {
		t.Fatalf("restarted guard must allow, got reason %q", reason)
	}
}

func TestExecutionGuard_DefaultTimeout(t *testing.T) {
	g := NewExecutionGuard(0)
	if g.timeout != 30*time.Second {
		t.Fatalf("default timeout = %s, want 30s", g.timeout)
	}
}
