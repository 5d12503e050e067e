package config

import (
	"fmt"
	"strings"

	"aigateway/internal/logging"
)

// Issue captures a validation problem with a config field.
type Issue struct {
	Field   string
	Message string
}

// ValidationError aggregates config validation issues.
type ValidationError struct {
	Issues []Issue
}

// Error renders validation errors as a multi-line string.
func (err *ValidationError) Error() string {
	if err == nil || len(err.Issues) == 0 {
		return "config validation failed"
	}
	lines := make([]string, 0, len(err.Issues))
	for _, issue := range err.Issues {
		lines = append(lines, fmt.Sprintf("%s: %s", issue.Field, issue.Message))
	}
	return strings.Join(lines, "\n")
}

type issueAdder func(field, message string)

// Validate checks a normalized config. A missing upstream API key is not an
// error; the gateway starts disabled instead.
func Validate(cfg *Config) error {
	var issues []Issue
	add := func(field, message string) {
		issues = append(issues, Issue{Field: field, Message: message})
	}

	validateUpstream(cfg, add)
	validateTiers(cfg, add)
	validateRateLimit(cfg, add)
	validateLedger(cfg, add)

	switch cfg.Profiles.Mode {
	case ProfilesMemory:
	case ProfilesDuckDB:
		if strings.TrimSpace(cfg.Profiles.Path) == "" {
			add("profiles.path", "is required when mode is duckdb")
		}
	default:
		add("profiles.mode", "must be one of memory, duckdb")
	}

	for token, user := range cfg.Auth.Tokens {
		if strings.TrimSpace(token) == "" {
			add("auth.tokens", "token must not be empty")
		}
		if strings.TrimSpace(user) == "" {
			add("auth.tokens", "user id must not be empty")
		}
	}

	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		add("logging.level", err.Error())
	}
	switch cfg.Logging.Format {
	case "json", "console":
	default:
		add("logging.format", "must be one of json, console")
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

func validateUpstream(cfg *Config, add issueAdder) {
	if !strings.HasPrefix(cfg.Upstream.BaseURL, "http://") && !strings.HasPrefix(cfg.Upstream.BaseURL, "https://") {
		add("upstream.base_url", "must be an http or https URL")
	}
	if cfg.Upstream.TimeoutMs < 1 {
		add("upstream.timeout_ms", "must be >= 1")
	}
	if cfg.Upstream.Attempts < 1 {
		add("upstream.attempts", "must be >= 1")
	}
	if cfg.Upstream.BackoffBaseMs < 1 {
		add("upstream.backoff_base_ms", "must be >= 1")
	}
	if cfg.Upstream.BackoffCapMs < cfg.Upstream.BackoffBaseMs {
		add("upstream.backoff_cap_ms", "must be >= backoff_base_ms")
	}
	if cfg.Upstream.MaxRetryAfterMs < 1 {
		add("upstream.max_retry_after_ms", "must be >= 1")
	}
	if cfg.Models.CacheTTLMs < 1 {
		add("models.cache_ttl_ms", "must be >= 1")
	}
}

func validateTiers(cfg *Config, add issueAdder) {
	if _, ok := cfg.Tiers[cfg.DefaultTier]; !ok {
		add("default_tier", fmt.Sprintf("unknown tier %q", cfg.DefaultTier))
	}
	for name, tc := range cfg.Tiers {
		prefix := "tiers." + name
		if name == "" {
			add("tiers", "tier name must not be empty")
		}
		if tc.InputTokens < 1 {
			add(prefix+".input_tokens", "must be >= 1")
		}
		if tc.KeepLastTurns < 2 {
			add(prefix+".keep_last_turns", "must be >= 2")
		}
		if tc.BreakerThreshold < 1 {
			add(prefix+".breaker_threshold", "must be >= 1")
		}
		if tc.BreakerOpenMs < 1 {
			add(prefix+".breaker_open_ms", "must be >= 1")
		}
		if tc.ExtraRetries < 0 {
			add(prefix+".extra_retries", "must be >= 0")
		}
	}
}

func validateRateLimit(cfg *Config, add issueAdder) {
	if cfg.RateLimit.Max < 1 {
		add("rate_limit.max", "must be >= 1")
	}
	if cfg.RateLimit.WindowMs < 1 {
		add("rate_limit.window_ms", "must be >= 1")
	}
	if cfg.RateLimit.SweepMs < 0 {
		add("rate_limit.sweep_ms", "must be >= 0")
	}
}

func validateLedger(cfg *Config, add issueAdder) {
	switch cfg.Ledger.Mode {
	case LedgerMemory:
	case LedgerRemote:
		if strings.TrimSpace(cfg.Ledger.BaseURL) == "" {
			add("ledger.base_url", "is required when mode is remote")
		}
	case LedgerTigerBeetle:
		if len(cfg.Ledger.TigerBeetle.Addresses) == 0 {
			add("ledger.tigerbeetle.addresses", "is required when mode is tigerbeetle")
		}
	default:
		add("ledger.mode", "must be one of memory, remote, tigerbeetle")
	}
	if cfg.Ledger.TimeoutMs < 1 {
		add("ledger.timeout_ms", "must be >= 1")
	}
	if len(cfg.Ledger.Seed) > 0 && cfg.Ledger.Mode != LedgerMemory {
		add("ledger.seed", "is only supported when mode is memory")
	}
	for i, seed := range cfg.Ledger.Seed {
		prefix := fmt.Sprintf("ledger.seed[%d]", i)
		if strings.TrimSpace(seed.UserID) == "" {
			add(prefix+".user_id", "is required")
		}
		if strings.TrimSpace(seed.Plan) == "" {
			add(prefix+".plan_type", "is required")
		}
		if seed.Sessions < 1 {
			add(prefix+".sessions", "must be >= 1")
		}
	}
}
