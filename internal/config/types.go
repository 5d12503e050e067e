// Package config loads and validates gateway configuration.
package config

// Config is the gatewayd YAML configuration.
type Config struct {
	Server      ServerConfig          `yaml:"server"`
	Upstream    UpstreamConfig        `yaml:"upstream"`
	Models      ModelsConfig          `yaml:"models"`
	DefaultTier string                `yaml:"default_tier"`
	Tiers       map[string]TierConfig `yaml:"tiers"`
	RateLimit   RateLimitConfig       `yaml:"rate_limit"`
	Ledger      LedgerConfig          `yaml:"ledger"`
	Profiles    ProfileConfig         `yaml:"profiles"`
	Auth        AuthConfig            `yaml:"auth"`
	Logging     LoggingConfig         `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// UpstreamConfig configures the chat-completion provider and call policy.
type UpstreamConfig struct {
	BaseURL         string `yaml:"base_url"`
	APIKey          string `yaml:"api_key"`
	Referer         string `yaml:"referer"`
	Title           string `yaml:"title"`
	TimeoutMs       int    `yaml:"timeout_ms"`
	Attempts        int    `yaml:"attempts"`
	BackoffBaseMs   int    `yaml:"backoff_base_ms"`
	BackoffCapMs    int    `yaml:"backoff_cap_ms"`
	MaxRetryAfterMs int    `yaml:"max_retry_after_ms"`
}

// ModelsConfig configures model resolution caching.
type ModelsConfig struct {
	CacheTTLMs int `yaml:"cache_ttl_ms"`
}

// TierConfig configures one service tier.
type TierConfig struct {
	InputTokens      int    `yaml:"input_tokens"`
	KeepLastTurns    int    `yaml:"keep_last_turns"`
	BreakerThreshold int    `yaml:"breaker_threshold"`
	BreakerOpenMs    int    `yaml:"breaker_open_ms"`
	ExtraRetries     int    `yaml:"extra_retries"`
	DefaultModel     string `yaml:"default_model"`
}

// RateLimitConfig configures the per-caller fixed window.
type RateLimitConfig struct {
	Enabled  *bool `yaml:"enabled"`
	Max      int   `yaml:"max"`
	WindowMs int   `yaml:"window_ms"`
	SweepMs  int   `yaml:"sweep_ms"`
}

// LedgerConfig selects and configures the session ledger.
type LedgerConfig struct {
	Mode        string            `yaml:"mode"`
	BaseURL     string            `yaml:"base_url"`
	TimeoutMs   int               `yaml:"timeout_ms"`
	TigerBeetle TigerBeetleConfig `yaml:"tigerbeetle"`
	Seed        []SeedGrant       `yaml:"seed"`
}

// TigerBeetleConfig configures the TigerBeetle ledger.
type TigerBeetleConfig struct {
	ClusterID           uint32   `yaml:"cluster_id"`
	Addresses           []string `yaml:"addresses"`
	Sessions            int      `yaml:"sessions"`
	MaxBatchEvents      int      `yaml:"max_batch_events"`
	FlushIntervalMicros int      `yaml:"flush_interval_micros"`
}

// SeedGrant grants sessions at startup, for local development.
type SeedGrant struct {
	UserID   string `yaml:"user_id"`
	Plan     string `yaml:"plan_type"`
	Sessions int64  `yaml:"sessions"`
}

// ProfileConfig selects the profile store for model overrides.
type ProfileConfig struct {
	Mode string `yaml:"mode"`
	Path string `yaml:"path"`
}

// AuthConfig maps static bearer tokens to user ids.
type AuthConfig struct {
	Tokens map[string]string `yaml:"tokens"`
}

// LoggingConfig configures zerolog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Ledger modes.
const (
	LedgerMemory      = "memory"
	LedgerRemote      = "remote"
	LedgerTigerBeetle = "tigerbeetle"
)

// Profile store modes.
const (
	ProfilesMemory = "memory"
	ProfilesDuckDB = "duckdb"
)
