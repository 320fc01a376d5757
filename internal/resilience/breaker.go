// Package resilience keeps a failing collaborator from slowing the detector:
// a circuit breaker for per-tick best-effort calls and a backoff retry for
// startup connections.
package resilience

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// State represents circuit breaker state.
type State uint32

const (
	Closed   State = iota // calls pass through
	Open                  // calls fail fast
	HalfOpen              // probing recovery
)

func (s State) String() string {
	return [...]string{"closed", "open", "half-open"}[s]
}

// ErrOpen is returned by Allow while the breaker is open.
var ErrOpen = errors.New("circuit breaker open")

// Breaker implements the circuit breaker pattern with atomic state.
type Breaker struct {
	cfg           Config
	now           func() time.Time
	state         atomic.Uint32
	failures      atomic.Int32
	successes     atomic.Int32
	lastFailure   atomic.Int64 // unix nano
	onStateChange func(from, to State)
}

// New creates a breaker with config.
func New(cfg Config) *Breaker {
	b := &Breaker{cfg: cfg.withDefaults(), now: time.Now}
	b.state.Store(uint32(Closed))
	return b
}

// WithHook sets a state change callback.
func (b *Breaker) WithHook(fn func(from, to State)) *Breaker {
	b.onStateChange = fn
	return b
}

// WithClock replaces the time source. Intended for tests.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.now = now
	return b
}

// Name returns the configured name used in logs.
func (b *Breaker) Name() string { return b.cfg.Name }

// Allow returns nil if a call may proceed.
func (b *Breaker) Allow() error {
	switch State(b.state.Load()) {
	case Open:
		if b.shouldAttemptReset() {
			b.transition(HalfOpen)
			return nil
		}
		return ErrOpen
	default:
		return nil
	}
}

// Success records a successful call.
func (b *Breaker) Success() {
	switch State(b.state.Load()) {
	case HalfOpen:
		if b.successes.Add(1) >= int32(b.cfg.HalfOpenSuccesses) {
			b.transition(Closed)
		}
	case Closed:
		b.failures.Store(0)
	}
}

// Failure records a failed call.
func (b *Breaker) Failure() {
	b.lastFailure.Store(b.now().UnixNano())
	count := b.failures.Add(1)

	switch State(b.state.Load()) {
	case HalfOpen:
		b.transition(Open)
	case Closed:
		if count >= int32(b.cfg.Threshold) {
			b.transition(Open)
		}
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	return State(b.state.Load())
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.transition(Closed)
}

func (b *Breaker) transition(to State) {
	from := State(b.state.Swap(uint32(to)))
	if from == to {
		return
	}

	log := slog.With("breaker", b.cfg.Name)
	switch to {
	case Closed:
		b.failures.Store(0)
		b.successes.Store(0)
		log.Info("circuit breaker closed")
	case Open:
		b.successes.Store(0)
		log.Warn("circuit breaker opened", "failures", b.failures.Load(), "retry_after", b.cfg.ResetTimeout)
	case HalfOpen:
		b.successes.Store(0)
		log.Info("circuit breaker half-open")
	}

	if b.onStateChange != nil {
		b.onStateChange(from, to)
	}
}

func (b *Breaker) shouldAttemptReset() bool {
	last := b.lastFailure.Load()
	if last == 0 {
		return true
	}
	return b.now().Sub(time.Unix(0, last)) > b.cfg.ResetTimeout
}

// Execute runs fn with circuit breaker protection.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		b.Failure()
		return err
	}
	b.Success()
	return nil
}

// ExecuteWithResult runs fn returning value and error with circuit protection.
func ExecuteWithResult[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	if err := b.Allow(); err != nil {
		return zero, err
	}
	result, err := fn()
	if err != nil {
		b.Failure()
		return zero, err
	}
	b.Success()
	return result, nil
}
