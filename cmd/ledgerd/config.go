package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	backendMemory      = "memory"
	backendTigerBeetle = "tigerbeetle"
)

// config describes the ledgerd YAML configuration.
type config struct {
	Server struct {
		ListenAddr string `yaml:"listen_addr"`
		Backend    string `yaml:"backend"`
	} `yaml:"server"`
	TigerBeetle struct {
		ClusterID           string   `yaml:"cluster_id"`
		Addresses           []string `yaml:"addresses"`
		Sessions            int      `yaml:"sessions"`
		MaxBatchEvents      int      `yaml:"max_batch_events"`
		FlushIntervalMicros int      `yaml:"flush_interval_micros"`
	} `yaml:"tigerbeetle"`
	Seed []struct {
		UserID   string `yaml:"user_id"`
		Plan     string `yaml:"plan_type"`
		Sessions int64  `yaml:"sessions"`
	} `yaml:"seed"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// loadConfig reads and validates the configuration file. A missing path
// yields a memory ledger on :8081.
func loadConfig(path string) (config, error) {
	var cfg config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := parseConfig(data, &cfg); err != nil {
			return cfg, err
		}
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8081"
	}
	if cfg.Server.Backend == "" {
		cfg.Server.Backend = backendMemory
	}
	switch cfg.Server.Backend {
	case backendMemory:
	case backendTigerBeetle:
		if len(cfg.TigerBeetle.Addresses) == 0 {
			return cfg, fmt.Errorf("tigerbeetle.addresses is required")
		}
		if cfg.TigerBeetle.ClusterID == "" {
			cfg.TigerBeetle.ClusterID = "0"
		}
		if len(cfg.Seed) > 0 {
			return cfg, fmt.Errorf("seed is only supported by the memory backend")
		}
	default:
		return cfg, fmt.Errorf("server.backend must be memory or tigerbeetle, got %q", cfg.Server.Backend)
	}
	return cfg, nil
}

func parseConfig(data []byte, cfg *config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// parseClusterID converts a config cluster_id string to uint32.
func parseClusterID(value string) (uint32, error) {
	parsed, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid cluster_id: %w", err)
	}
	return uint32(parsed), nil
}

// flushInterval converts microsecond config to a duration.
func flushInterval(cfg config) time.Duration {
	if cfg.TigerBeetle.FlushIntervalMicros <= 0 {
		return 0
	}
	return time.Duration(cfg.TigerBeetle.FlushIntervalMicros) * time.Microsecond
}
