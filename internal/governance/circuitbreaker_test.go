package governance

import (
	"testing"
	"time"
)

func testBreakerConfig(recovery time.Duration) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  recovery,
		HalfOpenMaxCalls: 3,
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(testBreakerConfig(time.Minute))

	for i := 0; i < 4; i++ {
		cb.RecordFailure()
		if !cb.CanExecute() {
			t.Fatalf("breaker opened after %d failures, threshold is 5", i+1)
		}
	}

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("expected open after 5 consecutive failures, got %s", cb.State())
	}
	if cb.CanExecute() {
		t.Fatal("open breaker must reject calls")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(testBreakerConfig(time.Minute))

	for i := 0; i < 4; i++ {
		cb.RecordFailure()
	}
	cb.RecordSuccess()
	for i := 0; i < 4; i++ {
		cb.RecordFailure()
	}

	if cb.State() != StateClosed {
		t.Fatalf("non-consecutive failures must not trip the breaker, got %s", cb.State())
	}
}

func TestCircuitBreaker_RecoveryTransitionsToHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker(testBreakerConfig(20 * time.Millisecond))

	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	if cb.CanExecute() {
		t.Fatal("breaker should be open")
	}

	time.Sleep(30 * time.Millisecond)

	if !cb.CanExecute() {
		t.Fatal("expected half-open probe after recovery timeout")
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected half_open, got %s", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenClosesAfterConsecutiveSuccesses(t *testing.T) {
	cb := NewCircuitBreaker(testBreakerConfig(10 * time.Millisecond))

	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	time.Sleep(20 * time.Millisecond)
	if !cb.CanExecute() {
		t.Fatal("expected half-open probe")
	}

	cb.RecordSuccess()
	cb.RecordSuccess()
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected half_open after 2 successes, got %s", cb.State())
	}
	cb.RecordSuccess()
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after 3 consecutive successes, got %s", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(testBreakerConfig(10 * time.Millisecond))

	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	time.Sleep(20 * time.Millisecond)
	if !cb.CanExecute() {
		t.Fatal("expected half-open probe")
	}

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("half-open failure must re-open, got %s", cb.State())
	}
	// Timer was reset by the failure; still rejecting.
	if cb.CanExecute() {
		t.Fatal("re-opened breaker must reject immediately")
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(testBreakerConfig(time.Minute))
	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	cb.Reset()
	if cb.State() != StateClosed || !cb.CanExecute() {
		t.Fatal("reset must return the breaker to closed")
	}
}

func TestCircuitBreakerManager_LazyCreationAndSharing(t *testing.T) {
	m := NewCircuitBreakerManager(testBreakerConfig(time.Minute))

	a := m.Get("op-a")
	if a == nil {
		t.Fatal("expected breaker")
	}
	if m.Get("op-a") != a {
		t.Fatal("manager must return the same breaker per operation")
	}
	if m.Get("op-b") == a {
		t.Fatal("distinct operations must get distinct breakers")
	}

	a.RecordFailure()
	stats := m.Stats()
	if stats["op-a"].Failures != 1 {
		t.Fatalf("expected 1 failure for op-a, got %d", stats["op-a"].Failures)
	}

	m.ResetAll()
	if m.Stats()["op-a"].Failures != 0 {
		t.Fatal("ResetAll must clear failure counts")
	}
}
