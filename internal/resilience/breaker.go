// Package resilience protects provider traffic with circuit breakers and
// ordered failover.
//
// The central type is [Breaker], a three-state circuit breaker
// (closed, open, half-open) that stops a call from hammering a provider
// that is already failing. [Group] composes several instances of one
// provider type with a breaker per entry, so a tripped primary is skipped
// in favour of a healthy fallback.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker is open and the
// reset window has not yet elapsed.
var ErrOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects every call with [ErrOpen] until the reset window
	// elapses.
	StateOpen

	// StateHalfOpen admits a limited number of probe calls; their outcome
	// decides between closing and re-opening.
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

// BreakerConfig holds the tuning knobs for a [Breaker]. Zero-value fields
// take defaults.
type BreakerConfig struct {
	// Name labels the breaker in log messages.
	Name string

	// MaxFailures is how many consecutive failures trip a closed breaker.
	// Default: 5.
	MaxFailures int

	// ResetAfter is how long the breaker stays open before admitting
	// probes. Default: 30s.
	ResetAfter time.Duration

	// ProbeMax is how many probe calls the half-open state admits before
	// deciding. Default: 3.
	ProbeMax int
}

// Breaker is a three-state circuit breaker.
type Breaker struct {
	name        string
	maxFailures int
	resetAfter  time.Duration
	probeMax    int

	mu         sync.Mutex
	state      State
	failures   int
	openedAt   time.Time
	probes     int
	probeFails int
}

// NewBreaker creates a Breaker from cfg, applying defaults for zero-value
// fields.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetAfter <= 0 {
		cfg.ResetAfter = 30 * time.Second
	}
	if cfg.ProbeMax <= 0 {
		cfg.ProbeMax = 3
	}
	return &Breaker{
		name:        cfg.Name,
		maxFailures: cfg.MaxFailures,
		resetAfter:  cfg.ResetAfter,
		probeMax:    cfg.ProbeMax,
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Do runs fn unless the breaker rejects the call. Open breakers return
// [ErrOpen] without calling fn; half-open breakers admit at most ProbeMax
// probes.
func (b *Breaker) Do(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	callErr := fn()
	b.settle(probe, callErr)
	return callErr
}

// admit decides whether a call may proceed and reports whether it counts
// as a half-open probe.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if time.Since(b.openedAt) < b.resetAfter {
			return false, ErrOpen
		}
		b.state = StateHalfOpen
		b.probes = 0
		b.probeFails = 0
		slog.Info("circuit breaker half-open", "name", b.name)
	case StateHalfOpen:
		if b.probes >= b.probeMax {
			return false, ErrOpen
		}
	}

	if b.state == StateHalfOpen {
		b.probes++
		return true, nil
	}
	return false, nil
}

// settle records the call outcome.
func (b *Breaker) settle(probe bool, callErr error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if callErr != nil {
		if probe {
			// Any probe failure re-opens immediately.
			b.probeFails++
			b.state = StateOpen
			b.openedAt = time.Now()
			slog.Warn("circuit breaker re-opened", "name", b.name)
			return
		}
		b.failures++
		if b.failures >= b.maxFailures {
			b.state = StateOpen
			b.openedAt = time.Now()
			slog.Warn("circuit breaker opened",
				"name", b.name,
				"consecutive_failures", b.failures,
			)
		}
		return
	}

	if probe {
		if b.probes-b.probeFails >= b.probeMax {
			b.state = StateClosed
			b.failures = 0
			slog.Info("circuit breaker closed", "name", b.name)
		}
		return
	}
	b.failures = 0
}
