package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Environment variables that override file settings.
const (
	EnvAPIKey           = "GATEWAY_UPSTREAM_API_KEY"
	EnvAPIKeyFallback   = "LLM_API_KEY"
	EnvBaseURL          = "GATEWAY_UPSTREAM_BASE_URL"
	EnvRateLimitEnabled = "GATEWAY_RATE_LIMIT_ENABLED"
	EnvModelCacheTTLMs  = "GATEWAY_MODEL_CACHE_TTL_MS"
)

// ApplyEnv overlays environment settings onto cfg.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	if key := strings.TrimSpace(getenv(EnvAPIKey)); key != "" {
		cfg.Upstream.APIKey = key
	} else if key := strings.TrimSpace(getenv(EnvAPIKeyFallback)); key != "" && cfg.Upstream.APIKey == "" {
		cfg.Upstream.APIKey = key
	}
	if url := strings.TrimSpace(getenv(EnvBaseURL)); url != "" {
		cfg.Upstream.BaseURL = url
	}
	if raw := strings.TrimSpace(getenv(EnvRateLimitEnabled)); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvRateLimitEnabled, err)
		}
		cfg.RateLimit.Enabled = &enabled
	}
	if raw := strings.TrimSpace(getenv(EnvModelCacheTTLMs)); raw != "" {
		ttl, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvModelCacheTTLMs, err)
		}
		cfg.Models.CacheTTLMs = ttl
	}
	return nil
}
