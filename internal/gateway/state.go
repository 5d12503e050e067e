// Package gateway wires rate limiting, model resolution, the session ledger
// and the call orchestrator into a single generation entry point.
package gateway

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"aigateway/internal/breaker"
	"aigateway/internal/models"
	"aigateway/internal/ratelimit"
	"aigateway/internal/tier"
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

// State is the process-local mutable state shared by every request: breaker
// counters, rate-limit windows and model caches. Tests build isolated
// instances; a shared-store deployment swaps the fields for other
// implementations.
type State struct {
	Breakers   *breaker.Registry
	Limiter    ratelimit.Limiter
	ModelCache *models.Cache
}

// StateConfig describes how to build a fresh State.
type StateConfig struct {
	Clock            Clock
	Policy           *tier.Policy
	ModelCacheTTL    time.Duration
	RateLimitEnabled bool
	Logger           *zerolog.Logger
}

// NewState builds a State with breaker settings taken from the tier policy.
func NewState(cfg StateConfig) *State {
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}
	if cfg.Policy == nil {
		cfg.Policy = tier.DefaultPolicy()
	}
	var limiter ratelimit.Limiter = ratelimit.Noop
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewFixedWindow(cfg.Clock)
	}
	fallback := cfg.Policy.Settings("")
	return &State{
		Breakers: breaker.New(breaker.Config{
			Clock:    cfg.Clock,
			Settings: BreakerSettings(cfg.Policy),
			Default:  breaker.Settings{Threshold: fallback.BreakerThreshold, OpenFor: fallback.BreakerOpen},
			Logger:   cfg.Logger,
		}),
		Limiter:    limiter,
		ModelCache: models.NewCache(cfg.Clock, cfg.ModelCacheTTL),
	}
}

// BreakerSettings extracts per-tier breaker settings from a policy.
func BreakerSettings(policy *tier.Policy) map[string]breaker.Settings {
	out := map[string]breaker.Settings{}
	for _, name := range policy.Names() {
		s := policy.Settings(string(name))
		out[string(name)] = breaker.Settings{Threshold: s.BreakerThreshold, OpenFor: s.BreakerOpen}
	}
	return out
}

// Sweep drops expired rate-limit windows and returns how many were removed.
func (s *State) Sweep() int {
	sweeper, ok := s.Limiter.(interface{ Sweep() int })
	if !ok {
		return 0
	}
	return sweeper.Sweep()
}

// RunSweeper calls Sweep every interval until ctx is canceled.
func (s *State) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
