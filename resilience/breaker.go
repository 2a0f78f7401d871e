// resilience/breaker.go
package resilience

import (
	"sync"
	"time"
)

// BreakerState is the lifecycle position of a circuit breaker.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half-open"
)

const (
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 30 * time.Second
)

// CircuitBreaker guards one named service. It opens after consecutive
// failures reach the threshold, rejects calls until the recovery timeout
// elapses, then admits exactly one half-open trial whose outcome decides
// whether the circuit closes again.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            BreakerState
	failureCount     int
	lastFailureTime  time.Time
	failureThreshold int
	recoveryTimeout  time.Duration
	now              func() time.Time
}

func newCircuitBreaker(threshold int, recovery time.Duration, now func() time.Time) *CircuitBreaker {
	return &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: threshold,
		recoveryTimeout:  recovery,
		now:              now,
	}
}

// CanExecute reports whether a call may proceed, transitioning an open
// circuit to half-open once the recovery timeout has elapsed. While a
// half-open trial is in flight, further calls are held back.
func (b *CircuitBreaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		return false
	default:
		if b.now().Sub(b.lastFailureTime) < b.recoveryTimeout {
			return false
		}
		b.state = StateHalfOpen
		return true
	}
}

// RecordSuccess closes the circuit and forgets accumulated failures.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount = 0
	b.state = StateClosed
}

// RecordFailure counts a failure, reopening immediately from half-open and
// opening from closed once the threshold is reached.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount++
	b.lastFailureTime = b.now()
	if b.state == StateHalfOpen || b.failureCount >= b.failureThreshold {
		b.state = StateOpen
	}
}

// BreakerSnapshot is a point-in-time view of one breaker for reporting.
type BreakerSnapshot struct {
	State           BreakerState `json:"state"`
	FailureCount    int          `json:"failure_count"`
	LastFailureTime time.Time    `json:"last_failure_time,omitempty"`
}

func (b *CircuitBreaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		State:           b.state,
		FailureCount:    b.failureCount,
		LastFailureTime: b.lastFailureTime,
	}
}

func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
