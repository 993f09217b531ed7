// SPDX-License-Identifier: MIT

package transition

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tablebuzz/tablebuzz/internal/log"
	"github.com/tablebuzz/tablebuzz/internal/metrics"
)

// DefaultCacheTTL bounds how long a resolved (status, role) option set is
// served without re-querying the primary rule source.
const DefaultCacheTTL = 24 * time.Hour

// Engine validates status transitions against a primary rule source with the
// built-in defaults as fallback. It is safe for concurrent use.
type Engine struct {
	primary  RuleSource // may be nil: defaults only
	fallback *DefaultRuleSource
	ttl      time.Duration
	now      func() time.Time
	logger   zerolog.Logger

	mu    sync.RWMutex
	cache map[cacheKey]cacheEntry
}

type cacheKey struct {
	current Status
	role    Role
}

type cacheEntry struct {
	options []Option
	expires time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithCacheTTL overrides the option-set cache TTL.
func WithCacheTTL(ttl time.Duration) EngineOption {
	return func(e *Engine) { e.ttl = ttl }
}

// WithClock overrides the engine clock (for tests).
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine builds an engine over the given primary rule source. A nil
// primary means the built-in defaults answer every query.
func NewEngine(primary RuleSource, opts ...EngineOption) *Engine {
	e := &Engine{
		primary:  primary,
		fallback: NewDefaultRuleSource(),
		ttl:      DefaultCacheTTL,
		now:      time.Now,
		logger:   log.WithComponent("transition"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cache = make(map[cacheKey]cacheEntry)
	return e
}

// AllowedTransitions returns every legal next state for the given current
// status and actor role, stay transition first. It never fails: primary
// source errors degrade to the built-in defaults.
func (e *Engine) AllowedTransitions(ctx context.Context, current Status, role Role) []Option {
	key := cacheKey{current: current, role: role}

	e.mu.RLock()
	entry, ok := e.cache[key]
	e.mu.RUnlock()
	if ok && e.now().Before(entry.expires) {
		return entry.options
	}

	options := e.resolve(ctx, current, role)

	e.mu.Lock()
	e.cache[key] = cacheEntry{options: options, expires: e.now().Add(e.ttl)}
	e.mu.Unlock()

	return options
}

// ValidateTransition checks a requested status change for an actor role.
// It returns the new status on success, or a *RejectedError listing the
// legal alternatives.
func (e *Engine) ValidateTransition(ctx context.Context, current, requested Status, role Role) (Status, error) {
	// The stay transition is always legal, for every role.
	if current == requested {
		metrics.TransitionValidations.WithLabelValues(role.String(), "ok").Inc()
		return requested, nil
	}

	options := e.AllowedTransitions(ctx, current, role)
	for _, opt := range options {
		if opt.Target == requested {
			metrics.TransitionValidations.WithLabelValues(role.String(), "ok").Inc()
			return requested, nil
		}
	}

	metrics.TransitionValidations.WithLabelValues(role.String(), "rejected").Inc()
	return current, &RejectedError{
		Current:   current,
		Requested: requested,
		Role:      role,
		Allowed:   options,
	}
}

// RefreshCache walks all (status, role) pairs known to the primary source and
// repopulates the option cache in one swap, so readers never observe a
// partially updated cache. Used after rule edits.
func (e *Engine) RefreshCache(ctx context.Context) error {
	source := e.primary
	if source == nil {
		source = RuleSource(e.fallback)
	}
	pairs, err := source.Pairs(ctx)
	if err != nil {
		return err
	}

	fresh := make(map[cacheKey]cacheEntry, len(pairs))
	expires := e.now().Add(e.ttl)
	for _, pair := range pairs {
		options := e.resolve(ctx, pair.Current, pair.Role)
		fresh[cacheKey{current: pair.Current, role: pair.Role}] = cacheEntry{
			options: options,
			expires: expires,
		}
	}

	e.mu.Lock()
	e.cache = fresh
	e.mu.Unlock()

	e.logger.Info().
		Int("pairs", len(pairs)).
		Str(log.FieldEvent, "transition.cache_refreshed").
		Msg("transition rule cache refreshed")
	return nil
}

// resolve queries the primary source and falls back to the defaults on error
// or empty result. The stay option is guaranteed to be present.
func (e *Engine) resolve(ctx context.Context, current Status, role Role) []Option {
	var rules []Rule
	if e.primary != nil {
		var err error
		rules, err = e.primary.Rules(ctx, current, role)
		if err != nil {
			e.logger.Warn().
				Err(err).
				Str(log.FieldOldStatus, current.String()).
				Str(log.FieldRole, role.String()).
				Str(log.FieldEvent, "transition.source_unavailable").
				Msg("rule source unavailable, using built-in defaults")
			rules = nil
		}
	}
	if len(rules) == 0 {
		// Defaults never error.
		rules, _ = e.fallback.Rules(ctx, current, role)
	}

	options := make([]Option, 0, len(rules)+1)
	options = append(options, Option{Target: current, Label: current.Label()})
	for _, rule := range rules {
		if rule.Target == current {
			continue // stay is already first
		}
		options = append(options, Option{Target: rule.Target, Label: rule.Label})
	}
	return options
}
