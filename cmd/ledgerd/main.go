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

	"aigateway/internal/ledger"
	ledgerapi "aigateway/internal/ledger/api"
	"aigateway/internal/ledger/tb"
	"aigateway/internal/logging"
)

// main launches ledgerd.
func main() {
	os.Exit(run())
}

// run executes ledgerd and returns an exit code.
func run() int {
	configPath := flag.String("config", "", "path to ledgerd config")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 1
	}
	logger, err := logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging error: %v\n", err)
		return 1
	}

	var client ledger.Client
	var closeBackend func()
	switch cfg.Server.Backend {
	case backendTigerBeetle:
		clusterID, err := parseClusterID(cfg.TigerBeetle.ClusterID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cluster id error: %v\n", err)
			return 1
		}
		tbLedger, err := tb.New(tb.Config{
			ClusterID:      clusterID,
			Addresses:      cfg.TigerBeetle.Addresses,
			Sessions:       cfg.TigerBeetle.Sessions,
			MaxBatchEvents: cfg.TigerBeetle.MaxBatchEvents,
			FlushInterval:  flushInterval(cfg),
			Logger:         &logger,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "tb ledger error: %v\n", err)
			return 1
		}
		client = tbLedger
		closeBackend = func() {
			_ = tbLedger.Close()
		}
	default:
		mem := ledger.NewMemory(nil)
		for _, seed := range cfg.Seed {
			if _, err := mem.Grant(context.Background(), ledger.Grant{
				UserID: seed.UserID,
				Plan:   seed.Plan,
				Delta:  seed.Sessions,
				Reason: "seed",
			}); err != nil {
				fmt.Fprintf(os.Stderr, "seed %s/%s: %v\n", seed.UserID, seed.Plan, err)
				return 1
			}
		}
		client = mem
	}

	server := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: ledgerapi.NewHandler(ledgerapi.Config{Ledger: client, Logger: &logger}),
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	logger.Info().Str("addr", cfg.Server.ListenAddr).Str("backend", cfg.Server.Backend).Msg("ledgerd listening")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	if closeBackend != nil {
		closeBackend()
	}
	return 0
}
