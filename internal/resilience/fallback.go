package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/voxlingo/voxlingo/internal/observe"
)

// ErrAllFailed is returned when every entry of a [FallbackGroup] failed or
// had an open breaker.
var ErrAllFailed = errors.New("resilience: all providers failed")

// FallbackConfig configures the per-entry breakers of a [FallbackGroup].
type FallbackConfig struct {
	Breaker BreakerConfig

	// Metrics, when set, counts provider failures under the given Stage
	// ("stt", "llm", "tts").
	Metrics *observe.Metrics
	Stage   string
}

type groupEntry[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// FallbackGroup holds a primary and zero or more fallbacks of the same
// provider type, each behind its own breaker. Entries are tried in
// registration order. The entry list is fixed after setup; Do and
// DoWithResult are safe for concurrent use.
type FallbackGroup[T any] struct {
	entries []groupEntry[T]
	cfg     FallbackConfig
	log     *slog.Logger
}

// NewFallbackGroup creates a group with primary as the first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	log := cfg.Breaker.Logger
	if log == nil {
		log = slog.Default()
	}
	g := &FallbackGroup[T]{cfg: cfg, log: log}
	g.add(primaryName, primary)
	return g
}

// AddFallback appends a fallback, tried after all earlier entries.
func (g *FallbackGroup[T]) AddFallback(name string, fallback T) {
	g.add(name, fallback)
}

func (g *FallbackGroup[T]) add(name string, value T) {
	bc := g.cfg.Breaker
	bc.Name = name
	g.entries = append(g.entries, groupEntry[T]{
		name:    name,
		value:   value,
		breaker: NewBreaker(bc),
	})
}

// Do tries fn against each entry in order until one succeeds. Open-breaker
// entries are skipped. When everything fails the last error is wrapped in
// [ErrAllFailed].
func (g *FallbackGroup[T]) Do(fn func(T) error) error {
	_, err := DoWithResult(g, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// DoWithResult tries fn against each entry in order until one succeeds and
// returns its result. A package-level function because Go methods cannot
// introduce type parameters.
func DoWithResult[T, R any](g *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range g.entries {
		entry := &g.entries[i]
		var result R
		err := entry.breaker.Do(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			g.log.Debug("skipping provider, circuit open", "provider", entry.name)
		} else {
			g.log.Warn("provider failed, trying next", "provider", entry.name, "err", err)
			if g.cfg.Metrics != nil {
				g.cfg.Metrics.RecordProviderError(context.Background(), entry.name, g.cfg.Stage)
			}
		}
	}
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
