package governance

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is in the open state.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerState represents the state of a circuit breaker.
type CircuitBreakerState string

const (
	// StateClosed indicates the circuit is closed and calls are allowed.
	StateClosed CircuitBreakerState = "closed"
	// StateOpen indicates the circuit is open and calls are rejected.
	StateOpen CircuitBreakerState = "open"
	// StateHalfOpen indicates the circuit is testing if the operation has recovered.
	StateHalfOpen CircuitBreakerState = "half_open"
)

// CircuitBreakerConfig defines thresholds for circuit breaking.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int
	// RecoveryTimeout is how long the circuit stays open before allowing a
	// half-open probe.
	RecoveryTimeout time.Duration
	// HalfOpenMaxCalls is the number of consecutive successful probes required
	// to close the circuit from half-open.
	HalfOpenMaxCalls int
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

// CircuitBreaker isolates a persistently failing operation so it cannot
// exhaust the retry budget of every run that touches it.
//
// State machine: Closed passes calls and counts consecutive failures; reaching
// FailureThreshold trips to Open. Open rejects everything until
// RecoveryTimeout elapses, then the next CanExecute moves to HalfOpen. In
// HalfOpen one failure re-opens immediately (timer reset) and
// HalfOpenMaxCalls consecutive successes close the circuit.
type CircuitBreaker struct {
	mu     sync.Mutex
	config CircuitBreakerConfig

	state         CircuitBreakerState
	failureCount  int
	successCount  int
	halfOpenCalls int
	lastFailure   time.Time
	lastChange    time.Time
}

// NewCircuitBreaker creates a circuit breaker with the provided configuration.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 30 * time.Second
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = 3
	}
	return &CircuitBreaker{
		state:      StateClosed,
		config:     config,
		lastChange: time.Now(),
	}
}

// CanExecute reports whether a call is currently allowed. An open circuit
// whose recovery timeout has elapsed transitions to half-open as a side
// effect, so exactly one caller observes the transition.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.lastFailure.IsZero() {
			return false
		}
		if time.Since(cb.lastFailure) >= cb.config.RecoveryTimeout {
			cb.transitionLocked(StateHalfOpen)
			cb.halfOpenCalls = 0
			return true
		}
		return false
	case StateHalfOpen:
		return cb.halfOpenCalls < cb.config.HalfOpenMaxCalls
	default:
		return false
	}
}

// RecordSuccess records a successful execution.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0
	cb.successCount++

	if cb.state == StateHalfOpen {
		cb.halfOpenCalls++
		if cb.halfOpenCalls >= cb.config.HalfOpenMaxCalls {
			cb.transitionLocked(StateClosed)
			cb.successCount = 0
		}
	}
}

// RecordFailure records a failed execution.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailure = time.Now()

	if cb.state == StateHalfOpen {
		cb.transitionLocked(StateOpen)
		return
	}
	if cb.failureCount >= cb.config.FailureThreshold {
		cb.transitionLocked(StateOpen)
	}
}

// Reset manually returns the circuit breaker to the closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.transitionLocked(StateClosed)
	cb.failureCount = 0
	cb.successCount = 0
	cb.halfOpenCalls = 0
	cb.lastFailure = time.Time{}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns current circuit breaker statistics.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerStats{
		State:            string(cb.state),
		Failures:         cb.failureCount,
		Successes:        cb.successCount,
		HalfOpenCalls:    cb.halfOpenCalls,
		FailureThreshold: cb.config.FailureThreshold,
		RecoveryTimeout:  cb.config.RecoveryTimeout.String(),
		LastStateChange:  cb.lastChange.Format(time.RFC3339),
	}
}

func (cb *CircuitBreaker) transitionLocked(newState CircuitBreakerState) {
	if cb.state == newState {
		return
	}
	cb.state = newState
	cb.lastChange = time.Now()
}

// CircuitBreakerStats exposes circuit breaker status information.
type CircuitBreakerStats struct {
	State            string `json:"state"`
	Failures         int    `json:"failures"`
	Successes        int    `json:"successes"`
	HalfOpenCalls    int    `json:"halfOpenCalls"`
	FailureThreshold int    `json:"failureThreshold"`
	RecoveryTimeout  string `json:"recoveryTimeout"`
	LastStateChange  string `json:"lastStateChange"`
}

// CircuitBreakerManager manages circuit breakers keyed by operation identity.
// Breakers live for the manager's lifetime and are shared across runs.
type CircuitBreakerManager struct {
	mu       sync.RWMutex
	config   CircuitBreakerConfig
	breakers map[string]*CircuitBreaker
}

// NewCircuitBreakerManager creates a manager that lazily builds breakers with
// the supplied configuration.
func NewCircuitBreakerManager(config CircuitBreakerConfig) *CircuitBreakerManager {
	return &CircuitBreakerManager{
		config:   config,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get retrieves the circuit breaker for an operation, creating one if needed.
func (m *CircuitBreakerManager) Get(operationID string) *CircuitBreaker {
	m.mu.RLock()
	cb, exists := m.breakers[operationID]
	m.mu.RUnlock()

	if exists {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if cb, exists := m.breakers[operationID]; exists {
		return cb
	}

	cb = NewCircuitBreaker(m.config)
	m.breakers[operationID] = cb
	return cb
}

// Stats returns statistics for all circuit breakers.
func (m *CircuitBreakerManager) Stats() map[string]CircuitBreakerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]CircuitBreakerStats, len(m.breakers))
	for operationID, cb := range m.breakers {
		stats[operationID] = cb.Stats()
	}
	return stats
}

// ResetAll resets all circuit breakers to the closed state.
func (m *CircuitBreakerManager) ResetAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, cb := range m.breakers {
		cb.Reset()
	}
}
