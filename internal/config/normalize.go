package config

import (
	"strings"

	"aigateway/internal/orchestrator"
	"aigateway/internal/tier"
	"aigateway/internal/upstream"
)

// Normalize fills defaults and canonicalizes names.
func Normalize(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}

	cfg.Upstream.BaseURL = strings.TrimSpace(cfg.Upstream.BaseURL)
	if cfg.Upstream.BaseURL == "" {
		cfg.Upstream.BaseURL = upstream.DefaultBaseURL
	}
	cfg.Upstream.APIKey = strings.TrimSpace(cfg.Upstream.APIKey)
	setDefault(&cfg.Upstream.TimeoutMs, int(orchestrator.DefaultTimeout.Milliseconds()))
	setDefault(&cfg.Upstream.Attempts, orchestrator.DefaultBaseAttempts)
	setDefault(&cfg.Upstream.BackoffBaseMs, int(orchestrator.DefaultBackoffBase.Milliseconds()))
	setDefault(&cfg.Upstream.BackoffCapMs, int(orchestrator.DefaultBackoffCap.Milliseconds()))
	setDefault(&cfg.Upstream.MaxRetryAfterMs, int(orchestrator.DefaultMaxHintedDelay.Milliseconds()))

	setDefault(&cfg.Models.CacheTTLMs, 30_000)

	cfg.DefaultTier = strings.ToLower(strings.TrimSpace(cfg.DefaultTier))
	if cfg.DefaultTier == "" {
		cfg.DefaultTier = string(tier.Basic)
	}
	tiers := make(map[string]TierConfig, len(cfg.Tiers))
	for name, tc := range cfg.Tiers {
		tiers[strings.ToLower(strings.TrimSpace(name))] = tc
	}
	defaults := tier.DefaultSettings()
	for name := range defaults {
		if _, ok := tiers[string(name)]; !ok {
			tiers[string(name)] = TierConfig{}
		}
	}
	for name, tc := range tiers {
		base, ok := defaults[tier.Name(name)]
		if !ok {
			base = defaults[tier.Basic]
		}
		setDefault(&tc.InputTokens, base.Budget.InputTokens)
		setDefault(&tc.KeepLastTurns, base.Budget.KeepLastTurns)
		setDefault(&tc.BreakerThreshold, base.BreakerThreshold)
		setDefault(&tc.BreakerOpenMs, int(base.BreakerOpen.Milliseconds()))
		if tc.ExtraRetries == 0 {
			tc.ExtraRetries = base.ExtraRetries
		}
		tc.DefaultModel = strings.TrimSpace(tc.DefaultModel)
		tiers[name] = tc
	}
	cfg.Tiers = tiers

	if cfg.RateLimit.Enabled == nil {
		enabled := true
		cfg.RateLimit.Enabled = &enabled
	}
	setDefault(&cfg.RateLimit.Max, 30)
	setDefault(&cfg.RateLimit.WindowMs, 60_000)
	setDefault(&cfg.RateLimit.SweepMs, 60_000)

	cfg.Ledger.Mode = strings.ToLower(strings.TrimSpace(cfg.Ledger.Mode))
	if cfg.Ledger.Mode == "" {
		cfg.Ledger.Mode = LedgerMemory
	}
	setDefault(&cfg.Ledger.TimeoutMs, 5_000)
	setDefault(&cfg.Ledger.TigerBeetle.Sessions, 1)

	cfg.Profiles.Mode = strings.ToLower(strings.TrimSpace(cfg.Profiles.Mode))
	if cfg.Profiles.Mode == "" {
		cfg.Profiles.Mode = ProfilesMemory
	}

	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	cfg.Logging.Format = strings.ToLower(strings.TrimSpace(cfg.Logging.Format))
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func setDefault(value *int, fallback int) {
	if *value == 0 {
		*value = fallback
	}
}
