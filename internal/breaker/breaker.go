// Package breaker tracks per-tier upstream failures and refuses calls while a
// tier is open.
package breaker

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"aigateway/internal/logging"
)

// Clock provides the current time for the registry.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

// Settings configures one tier's breaker.
type Settings struct {
	Threshold int
	OpenFor   time.Duration
}

// State is the failure record for one tier.
type State struct {
	Failures  int
	OpenUntil time.Time
}

// Open reports whether the state refuses calls at now.
func (s State) Open(now time.Time) bool {
	return !s.OpenUntil.IsZero() && now.Before(s.OpenUntil)
}

// Config wires a Registry.
type Config struct {
	Clock    Clock
	Settings map[string]Settings
	// Default applies to tiers missing from Settings.
	Default Settings
	Logger  *zerolog.Logger
}

// Registry holds breaker state for every tier. There is no half-open state:
// once OpenUntil passes the next call is allowed through as a trial call.
type Registry struct {
	mu       sync.Mutex
	clock    Clock
	settings map[string]Settings
	fallback Settings
	states   map[string]*State
	logger   zerolog.Logger
}

// New creates a Registry.
func New(cfg Config) *Registry {
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}
	settings := make(map[string]Settings, len(cfg.Settings))
	for tier, s := range cfg.Settings {
		settings[tier] = s
	}
	return &Registry{
		clock:    cfg.Clock,
		settings: settings,
		fallback: cfg.Default,
		states:   map[string]*State{},
		logger:   logging.OrNop(cfg.Logger),
	}
}

// Allow reports whether a call for tier may proceed and, when it may not, how
// long the tier stays open.
func (r *Registry) Allow(tier string) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.states[tier]
	if !ok {
		return true, 0
	}
	now := r.clock.Now()
	if state.Open(now) {
		return false, state.OpenUntil.Sub(now)
	}
	return true, 0
}

// RecordFailure counts a failure for tier. The tier opens once the count
// reaches its threshold, for hint when positive or the tier's default window
// otherwise. It reports whether the tier is open afterwards.
func (r *Registry) RecordFailure(tier string, hint time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.states[tier]
	if !ok {
		state = &State{}
		r.states[tier] = state
	}
	state.Failures++
	settings := r.settingsFor(tier)
	if settings.Threshold <= 0 || state.Failures < settings.Threshold {
		return false
	}
	openFor := settings.OpenFor
	if hint > 0 {
		openFor = hint
	}
	state.OpenUntil = r.clock.Now().Add(openFor)
	r.logger.Warn().
		Str("tier", tier).
		Int("failures", state.Failures).
		Dur("open_for", openFor).
		Msg("circuit opened")
	return true
}

// RecordSuccess closes tier and clears its failure count.
func (r *Registry) RecordSuccess(tier string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.states[tier]
	if !ok {
		return
	}
	if state.Failures > 0 || !state.OpenUntil.IsZero() {
		r.logger.Info().Str("tier", tier).Int("failures", state.Failures).Msg("circuit reset")
	}
	state.Failures = 0
	state.OpenUntil = time.Time{}
}

// Snapshot returns a copy of tier's state.
func (r *Registry) Snapshot(tier string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if state, ok := r.states[tier]; ok {
		return *state
	}
	return State{}
}

func (r *Registry) settingsFor(tier string) Settings {
	if s, ok := r.settings[tier]; ok {
		return s
	}
	return r.fallback
}
