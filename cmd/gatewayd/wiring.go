package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"aigateway/internal/config"
	"aigateway/internal/ledger"
	"aigateway/internal/ledger/httpclient"
	"aigateway/internal/ledger/tb"
	"aigateway/internal/profile"
	"aigateway/internal/profile/duckdb"
	"aigateway/internal/upstream"
)

// newCompleter returns the upstream client, or nil when no API key is
// configured so the gateway starts disabled.
func newCompleter(cfg config.Config, logger *zerolog.Logger) upstream.Completer {
	client, err := upstream.New(upstream.Config{
		BaseURL: cfg.Upstream.BaseURL,
		APIKey:  cfg.Upstream.APIKey,
		Referer: cfg.Upstream.Referer,
		Title:   cfg.Upstream.Title,
		Client:  &http.Client{},
	})
	if err != nil {
		logger.Warn().Err(err).Msg("upstream client unavailable")
		return nil
	}
	return client
}

// openProfiles builds the configured profile store.
func openProfiles(ctx context.Context, cfg config.Config) (profile.Store, func(), error) {
	switch cfg.Profiles.Mode {
	case config.ProfilesDuckDB:
		store, err := duckdb.Open(ctx, cfg.Profiles.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open duckdb profiles: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return profile.NewMemory(), func() {}, nil
	}
}

// openLedger builds the configured ledger client.
func openLedger(ctx context.Context, cfg config.Config, logger *zerolog.Logger) (ledger.Client, func(), error) {
	switch cfg.Ledger.Mode {
	case config.LedgerRemote:
		return httpclient.NewWithTimeout(cfg.Ledger.BaseURL, cfg.LedgerTimeout()), func() {}, nil
	case config.LedgerTigerBeetle:
		tbCfg := cfg.Ledger.TigerBeetle
		client, err := tb.New(tb.Config{
			ClusterID:      tbCfg.ClusterID,
			Addresses:      tbCfg.Addresses,
			Sessions:       tbCfg.Sessions,
			MaxBatchEvents: tbCfg.MaxBatchEvents,
			FlushInterval:  cfg.FlushInterval(),
			Logger:         logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("tigerbeetle ledger: %w", err)
		}
		return client, func() { _ = client.Close() }, nil
	default:
		mem := ledger.NewMemory(nil)
		if err := seedLedger(ctx, mem, cfg.Ledger.Seed); err != nil {
			return nil, nil, err
		}
		return mem, func() {}, nil
	}
}

// seedLedger grants the configured starting balances.
func seedLedger(ctx context.Context, client ledger.Client, seed []config.SeedGrant) error {
	for _, grant := range seed {
		if _, err := client.Grant(ctx, ledger.Grant{
			UserID: grant.UserID,
			Plan:   grant.Plan,
			Delta:  grant.Sessions,
			Reason: "seed",
		}); err != nil {
			return fmt.Errorf("seed %s/%s: %w", grant.UserID, grant.Plan, err)
		}
	}
	return nil
}
