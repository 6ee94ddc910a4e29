package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [Group] fails or has an
// open breaker.
var ErrAllFailed = errors.New("resilience: all providers failed")

// entry pairs one provider value with its dedicated breaker.
type entry[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Group wraps a primary and zero or more fallback instances of one
// provider type. Calls go to the first entry whose breaker admits them;
// failures fall through to the next entry in registration order.
type Group[T any] struct {
	entries []entry[T]
	cfg     BreakerConfig
}

// NewGroup creates a Group with primary as the first entry. cfg seeds the
// per-entry breakers; the Name field is overridden per entry.
func NewGroup[T any](cfg BreakerConfig, primaryName string, primary T) *Group[T] {
	g := &Group[T]{cfg: cfg}
	g.Add(primaryName, primary)
	return g
}

// Add appends a fallback provider, tried after all earlier entries.
func (g *Group[T]) Add(name string, value T) {
	cfg := g.cfg
	cfg.Name = name
	g.entries = append(g.entries, entry[T]{
		name:    name,
		value:   value,
		breaker: NewBreaker(cfg),
	})
}

// Do tries fn against each entry in order until one succeeds. Entries with
// an open breaker are skipped. A package-level function because Go has no
// method-level type parameters.
func Do[T, R any](g *Group[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range g.entries {
		e := &g.entries[i]
		var result R
		err := e.breaker.Do(func() error {
			var callErr error
			result, callErr = fn(e.value)
			return callErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrOpen) {
			slog.Debug("skipping provider, circuit open", "provider", e.name)
		} else {
			slog.Warn("provider failed, trying next", "provider", e.name, "err", err)
		}
	}
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
