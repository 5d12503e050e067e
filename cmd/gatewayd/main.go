package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aigateway/internal/api"
	"aigateway/internal/auth"
	"aigateway/internal/config"
	"aigateway/internal/gateway"
	"aigateway/internal/logging"
)

// main launches gatewayd.
func main() {
	os.Exit(run())
}

// run executes gatewayd and returns an exit code.
func run() int {
	configPath := flag.String("config", "", "path to gatewayd config (defaults only when empty)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 1
	}
	logger, err := logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging error: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	profiles, closeProfiles, err := openProfiles(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("profile store")
		return 1
	}
	defer closeProfiles()

	ledgerClient, closeLedger, err := openLedger(ctx, cfg, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("ledger")
		return 1
	}
	defer closeLedger()

	policy := cfg.Policy()
	state := gateway.NewState(gateway.StateConfig{
		Policy:           policy,
		ModelCacheTTL:    cfg.ModelCacheTTL(),
		RateLimitEnabled: cfg.RateLimitEnabled(),
		Logger:           &logger,
	})
	service, err := gateway.New(gateway.Config{
		State:        state,
		Policy:       policy,
		Completer:    newCompleter(cfg, &logger),
		Profiles:     profiles,
		Ledger:       ledgerClient,
		RateLimit:    gateway.RateLimit{Max: cfg.RateLimit.Max, Window: cfg.RateLimitWindow()},
		Orchestrator: cfg.OrchestratorConfig(),
		Logger:       &logger,
	})
	if err != nil {
		logger.Error().Err(err).Msg("gateway")
		return 1
	}
	go state.RunSweeper(ctx, cfg.SweepInterval())

	server := &http.Server{
		Addr: cfg.Server.ListenAddr,
		Handler: api.NewHandler(api.Config{
			Generator:     service,
			Authenticator: auth.NewStatic(cfg.Auth.Tokens),
			Logger:        &logger,
		}),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	logger.Info().
		Str("addr", cfg.Server.ListenAddr).
		Str("ledger", cfg.Ledger.Mode).
		Str("profiles", cfg.Profiles.Mode).
		Bool("upstream_enabled", service.Enabled()).
		Msg("gatewayd listening")

	code := 0
	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		code = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	return code
}
