// Package resilience protects playback from a misbehaving output device.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open). After
// a run of consecutive failures it rejects calls for a cool-down period so a
// dead device does not stall the capture loop on every noise event.
// [GuardedSink] wraps one [audio.PlaybackSink] in a breaker and [FallbackSink]
// tries an ordered list of guarded sinks.
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

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker is
// open and its reset timeout has not elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// elapses.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. Enough
	// successes close the breaker, any failure re-opens it.
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

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels log messages and state-change callbacks.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing.
	// Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful probes required to close the
	// breaker again. Default: 1.
	HalfOpenMax int

	// OnStateChange, if set, is called after every transition. It runs with
	// the breaker's lock released and must not block.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	halfOpenMax   int
	onStateChange func(name string, from, to State)

	mu              sync.Mutex
	state           State
	consecutiveFail int
	openedAt        time.Time
	probes          int
	probeSuccesses  int
}

// NewCircuitBreaker creates a closed [CircuitBreaker]. Zero-value config
// fields are replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	return &CircuitBreaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		resetTimeout:  cfg.ResetTimeout,
		halfOpenMax:   cfg.HalfOpenMax,
		onStateChange: cfg.OnStateChange,
		state:         StateClosed,
	}
}

// Name returns the configured name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn if the breaker admits it. A cancelled or expired ctx is
// reported to the caller but never counts as a failure: shutting down in the
// middle of a playback says nothing about the device.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	probe, transition, err := cb.admit()
	cb.notify(transition)
	if err != nil {
		return err
	}

	err = fn(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		cb.release(probe)
		return err
	}

	cb.notify(cb.settle(probe, err))
	return err
}

type transition struct {
	from, to State
}

// admit decides whether a call may proceed and whether it is a half-open
// probe.
func (cb *CircuitBreaker) admit() (probe bool, t transition, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.openedAt) < cb.resetTimeout {
			return false, t, ErrCircuitOpen
		}
		t = cb.moveTo(StateHalfOpen)
		cb.probes = 0
		cb.probeSuccesses = 0
	case StateHalfOpen:
		if cb.probes >= cb.halfOpenMax {
			return false, t, ErrCircuitOpen
		}
	}

	if cb.state == StateHalfOpen {
		cb.probes++
		return true, t, nil
	}
	return false, t, nil
}

// release returns an unused probe slot.
func (cb *CircuitBreaker) release(probe bool) {
	if !probe {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen && cb.probes > 0 {
		cb.probes--
	}
}

// settle records the outcome of an admitted call.
func (cb *CircuitBreaker) settle(probe bool, err error) transition {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		if probe || cb.state == StateHalfOpen {
			cb.openedAt = time.Now()
			slog.Warn("circuit breaker re-opened from half-open", "name", cb.name, "err", err)
			return cb.moveTo(StateOpen)
		}
		cb.consecutiveFail++
		if cb.state == StateClosed && cb.consecutiveFail >= cb.maxFailures {
			cb.openedAt = time.Now()
			slog.Warn("circuit breaker opened",
				"name", cb.name,
				"consecutive_failures", cb.consecutiveFail,
				"reset_timeout", cb.resetTimeout)
			return cb.moveTo(StateOpen)
		}
		return transition{}
	}

	cb.consecutiveFail = 0
	if probe && cb.state == StateHalfOpen {
		cb.probeSuccesses++
		if cb.probeSuccesses >= cb.halfOpenMax {
			slog.Info("circuit breaker closed after successful probes", "name", cb.name)
			return cb.moveTo(StateClosed)
		}
	}
	return transition{}
}

// moveTo changes state. Must be called with cb.mu held.
func (cb *CircuitBreaker) moveTo(s State) transition {
	t := transition{from: cb.state, to: s}
	cb.state = s
	if s == StateClosed {
		cb.consecutiveFail = 0
		cb.probes = 0
		cb.probeSuccesses = 0
	}
	return t
}

func (cb *CircuitBreaker) notify(t transition) {
	if t.from == t.to || cb.onStateChange == nil {
		return
	}
	cb.onStateChange(cb.name, t.from, t.to)
}

// State returns the current state. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// Execute.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to [StateClosed].
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	t := cb.moveTo(StateClosed)
	cb.mu.Unlock()
	slog.Info("circuit breaker manually reset", "name", cb.name)
	cb.notify(t)
}
