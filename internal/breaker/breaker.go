// Package breaker implements the CLOSED/OPEN/HALF_OPEN circuit breaker
// that guards every bus call an agent makes, grounded on
// the CircuitBreaker dataclass in the original AMOSKYS agent base class.
package breaker

import (
	"sync"
	"time"
)

// State is one of CLOSED, OPEN, or HALF_OPEN.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "CLOSED"
	}
}

// Config holds the breaker's thresholds. Defaults:
// failure_threshold=5, recovery_timeout=30s, half_open_attempts=3.
type Config struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	HalfOpenAttempts int
}

// DefaultConfig returns the standard breaker defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenAttempts: 3,
	}
}

// Breaker is a failure-rate-based call gate. Zero value is not usable;
// construct with New.
type Breaker struct {
	cfg Config
	now func() time.Time

	mu              sync.Mutex
	state           State
	failureCount    int
	halfOpenSuccess int
	lastFailureAt   time.Time
}

// New constructs a breaker in the CLOSED state.
func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg, state: Closed, now: time.Now}
}

// ErrOpen is returned by Allow when the breaker is open and the recovery
// timeout has not yet elapsed.
type ErrOpen struct {
	RetryAfter time.Duration
}

func (e *ErrOpen) Error() string { return "breaker: circuit open" }

// Allow reports whether a call may proceed, transitioning OPEN→HALF_OPEN
// when the recovery timeout has elapsed. The agent runtime treats a
// non-nil error as a non-error path: it enqueues locally and continues.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return nil
	case HalfOpen:
		return nil
	case Open:
		elapsed := b.now().Sub(b.lastFailureAt)
		if elapsed >= b.cfg.RecoveryTimeout {
			b.state = HalfOpen
			b.halfOpenSuccess = 0
			return nil
		}
		return &ErrOpen{RetryAfter: b.cfg.RecoveryTimeout - elapsed}
	default:
		return nil
	}
}

// RecordSuccess reports a successful call. In CLOSED it resets the
// failure count; in HALF_OPEN it counts toward closing the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failureCount = 0
	case HalfOpen:
		b.halfOpenSuccess++
		if b.halfOpenSuccess >= b.cfg.HalfOpenAttempts {
			b.state = Closed
			b.failureCount = 0
			b.halfOpenSuccess = 0
		}
	case Open:
		// A success should not be observable while open; ignore.
	}
}

// RecordFailure reports a failed call. Any failure in HALF_OPEN reopens
// the breaker immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureAt = b.now()
	switch b.state {
	case Closed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.state = Open
		}
	case HalfOpen:
		b.state = Open
		b.halfOpenSuccess = 0
	case Open:
		// already open
	}
}

// State returns the current state, for health snapshots and metrics.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Call wraps fn with the breaker: if the breaker denies the call, fn is
// never invoked and the ErrOpen is returned; otherwise fn's error (if
// any) is recorded and returned.
func (b *Breaker) Call(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn()
	if err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}
