package config

import (
	"time"

	"aigateway/internal/orchestrator"
	"aigateway/internal/tier"
)

// Policy builds the tier policy described by the config.
func (c Config) Policy() *tier.Policy {
	tiers := make(map[tier.Name]tier.Settings, len(c.Tiers))
	for name, tc := range c.Tiers {
		tiers[tier.Name(name)] = tier.Settings{
			Budget:           tier.Budget{InputTokens: tc.InputTokens, KeepLastTurns: tc.KeepLastTurns},
			BreakerThreshold: tc.BreakerThreshold,
			BreakerOpen:      millis(tc.BreakerOpenMs),
			ExtraRetries:     tc.ExtraRetries,
			DefaultModel:     tc.DefaultModel,
		}
	}
	return tier.NewPolicy(tiers, tier.Name(c.DefaultTier))
}

// OrchestratorConfig returns the retry and timeout knobs for the orchestrator.
func (c Config) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		BaseAttempts:   c.Upstream.Attempts,
		BackoffBase:    millis(c.Upstream.BackoffBaseMs),
		BackoffCap:     millis(c.Upstream.BackoffCapMs),
		MaxHintedDelay: millis(c.Upstream.MaxRetryAfterMs),
		Timeout:        millis(c.Upstream.TimeoutMs),
	}
}

// RateLimitEnabled reports whether the fixed window is active.
func (c Config) RateLimitEnabled() bool {
	return c.RateLimit.Enabled == nil || *c.RateLimit.Enabled
}

// ModelCacheTTL returns the resolver cache lifetime.
func (c Config) ModelCacheTTL() time.Duration {
	return millis(c.Models.CacheTTLMs)
}

// RateLimitWindow returns the fixed-window length.
func (c Config) RateLimitWindow() time.Duration {
	return millis(c.RateLimit.WindowMs)
}

// SweepInterval returns how often expired windows are dropped.
func (c Config) SweepInterval() time.Duration {
	return millis(c.RateLimit.SweepMs)
}

// LedgerTimeout bounds remote ledger calls.
func (c Config) LedgerTimeout() time.Duration {
	return millis(c.Ledger.TimeoutMs)
}

// FlushInterval converts the TigerBeetle flush setting to a duration.
func (c Config) FlushInterval() time.Duration {
	if c.Ledger.TigerBeetle.FlushIntervalMicros <= 0 {
		return 0
	}
	return time.Duration(c.Ledger.TigerBeetle.FlushIntervalMicros) * time.Microsecond
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
