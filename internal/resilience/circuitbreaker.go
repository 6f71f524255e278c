// Package resilience provides circuit breaker and provider failover primitives
// for the network collaborators of a dictation session: the speech-to-text
// stream and the free-text mapper's LLM.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open). A
// tripped breaker makes the mapper skip the LLM entirely for a while, so a
// failing backend costs nothing on the dictation hot path. [FallbackGroup]
// composes several instances of a provider type with one breaker each.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker is in
// the open state and the reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed is the normal operating state; all calls are forwarded.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// elapses.
	StateOpen

	// StateHalfOpen lets a limited number of trial calls through. If they all
	// succeed the breaker closes, any failure re-opens it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before transitioning to
	// half-open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful trial calls needed to close the
	// breaker again. Default: 3.
	HalfOpenMax int

	// IsFailure decides whether an error counts against the breaker. Default:
	// every error except context cancellation, which means the caller gave up
	// rather than the backend failing.
	IsFailure func(error) bool

	// OnStateChange, if set, is called after every transition with the lock
	// released.
	OnStateChange func(name string, from, to State)

	// Logger receives transition logs. Default: slog.Default().
	Logger *slog.Logger

	// Now is the clock. Default: time.Now.
	Now func() time.Time
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	halfOpenMax   int
	isFailure     func(error) bool
	onStateChange func(name string, from, to State)
	log           *slog.Logger
	now           func() time.Time

	mu              sync.Mutex
	state           State
	consecutiveFail int
	openedAt        time.Time
	halfOpenCalls   int
	halfOpenOK      int
}

// NewCircuitBreaker creates a [CircuitBreaker] with the supplied configuration.
// Zero-value config fields are replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = countsAsFailure
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		resetTimeout:  cfg.ResetTimeout,
		halfOpenMax:   cfg.HalfOpenMax,
		isFailure:     cfg.IsFailure,
		onStateChange: cfg.OnStateChange,
		log:           cfg.Logger,
		now:           cfg.Now,
		state:         StateClosed,
	}
}

func countsAsFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// Name returns the label the breaker was created with.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn if the breaker allows it. In the open state it returns
// [ErrCircuitOpen] without calling fn. In the half-open state at most
// HalfOpenMax trial calls are in flight or completed before the breaker
// decides.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	var from State
	changed := false
	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		from, changed = cb.transition(StateHalfOpen)
	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.halfOpenMax {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
	}
	inHalfOpen := cb.state == StateHalfOpen
	if inHalfOpen {
		cb.halfOpenCalls++
	}
	cb.mu.Unlock()
	if changed {
		cb.notify(from, StateHalfOpen)
	}

	err := fn()

	cb.mu.Lock()
	var to State
	switch {
	case err != nil && cb.isFailure(err):
		from, changed, to = cb.recordFailure(inHalfOpen)
	case err != nil:
		// Not the backend's fault; release the trial slot.
		if inHalfOpen && cb.state == StateHalfOpen {
			cb.halfOpenCalls--
		}
		changed = false
	default:
		from, changed, to = cb.recordSuccess(inHalfOpen)
	}
	cb.mu.Unlock()
	if changed {
		cb.notify(from, to)
	}
	return err
}

// transition moves to next and resets the counters of the new state. Must be
// called with cb.mu held.
func (cb *CircuitBreaker) transition(next State) (State, bool) {
	from := cb.state
	if from == next {
		return from, false
	}
	cb.state = next
	switch next {
	case StateOpen:
		cb.openedAt = cb.now()
	case StateHalfOpen:
		cb.halfOpenCalls = 0
		cb.halfOpenOK = 0
	case StateClosed:
		cb.consecutiveFail = 0
	}
	cb.log.Info("resilience: circuit breaker state changed",
		"name", cb.name, "from", from, "to", next)
	return from, true
}

// recordFailure handles failure accounting. Must be called with cb.mu held.
func (cb *CircuitBreaker) recordFailure(inHalfOpen bool) (State, bool, State) {
	if inHalfOpen {
		if cb.state != StateHalfOpen {
			return cb.state, false, cb.state
		}
		from, changed := cb.transition(StateOpen)
		return from, changed, StateOpen
	}
	cb.consecutiveFail++
	if cb.state == StateClosed && cb.consecutiveFail >= cb.maxFailures {
		cb.log.Warn("resilience: circuit breaker tripped",
			"name", cb.name, "consecutive_failures", cb.consecutiveFail)
		from, changed := cb.transition(StateOpen)
		return from, changed, StateOpen
	}
	return cb.state, false, cb.state
}

// recordSuccess handles success accounting. Must be called with cb.mu held.
func (cb *CircuitBreaker) recordSuccess(inHalfOpen bool) (State, bool, State) {
	if !inHalfOpen {
		cb.consecutiveFail = 0
		return cb.state, false, cb.state
	}
	if cb.state != StateHalfOpen {
		return cb.state, false, cb.state
	}
	cb.halfOpenOK++
	if cb.halfOpenOK >= cb.halfOpenMax {
		from, changed := cb.transition(StateClosed)
		return from, changed, StateClosed
	}
	return cb.state, false, cb.state
}

func (cb *CircuitBreaker) notify(from, to State) {
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}

// State returns the current [State] of the breaker. If the breaker is open and
// the reset timeout has elapsed, the returned state is [StateHalfOpen] (the
// actual transition happens on the next [CircuitBreaker.Execute] call).
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to [StateClosed], clearing all failure
// counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from, changed := cb.transition(StateClosed)
	cb.consecutiveFail = 0
	cb.mu.Unlock()
	if changed {
		cb.notify(from, StateClosed)
	}
}
