// Package config loads the settings cmd/near-ledger needs to wire up a
// reconciliation run: the RPC endpoint, the target account, staking
// parameters, and the optional hint-source gRPC address. It follows
// account-balance-processor/go/main.go's pattern exactly: an optional
// YAML file (gopkg.in/yaml.v3) takes precedence, environment variables
// fill in whatever the file omits or when no file is given at all.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything cmd/near-ledger needs to drive one
// reconciliation run.
type Config struct {
	Account string `yaml:"account"`

	RPC struct {
		Endpoint string        `yaml:"endpoint"`
		Timeout  time.Duration `yaml:"timeout"`
	} `yaml:"rpc"`

	Staking struct {
		EpochLength uint64 `yaml:"epoch_length"`
	} `yaml:"staking"`

	Hints struct {
		GRPCAddress string        `yaml:"grpc_address"`
		Timeout     time.Duration `yaml:"timeout"`
	} `yaml:"hints"`

	HistoryPath string `yaml:"history_path"`
	TargetCount int    `yaml:"target_count"`
	HealthPort  string `yaml:"health_port"`
}

const (
	defaultRPCEndpoint  = "https://rpc.mainnet.near.org"
	defaultRPCTimeout   = 30 * time.Second
	defaultHintTimeout  = 5 * time.Second
	defaultEpochLength  = 43200
	defaultHistoryPath  = "history.json"
	defaultTargetCount  = 0
	defaultHealthPort   = "8089"
)

// Load loads configuration from a YAML file if path is non-empty,
// falling back to environment variables for anything the file doesn't
// set (or when path is empty, for everything).
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvFallback(cfg)
	applyDefaults(cfg)

	if cfg.Account == "" {
		return nil, fmt.Errorf("account is required (set \"account\" in the config file or ACCOUNT_ID)")
	}
	return cfg, nil
}

func applyEnvFallback(cfg *Config) {
	if cfg.Account == "" {
		cfg.Account = os.Getenv("ACCOUNT_ID")
	}
	if cfg.RPC.Endpoint == "" {
		cfg.RPC.Endpoint = os.Getenv("RPC_ENDPOINT")
	}
	if cfg.RPC.Timeout == 0 {
		cfg.RPC.Timeout = getDurationEnv("RPC_TIMEOUT", 0)
	}
	if cfg.Staking.EpochLength == 0 {
		cfg.Staking.EpochLength = getUint64Env("STAKING_EPOCH_LENGTH", 0)
	}
	if cfg.Hints.GRPCAddress == "" {
		cfg.Hints.GRPCAddress = os.Getenv("HINTS_GRPC_ADDRESS")
	}
	if cfg.Hints.Timeout == 0 {
		cfg.Hints.Timeout = getDurationEnv("HINTS_TIMEOUT", 0)
	}
	if cfg.HistoryPath == "" {
		cfg.HistoryPath = os.Getenv("HISTORY_PATH")
	}
	if cfg.TargetCount == 0 {
		cfg.TargetCount = int(getUint64Env("TARGET_COUNT", 0))
	}
	if cfg.HealthPort == "" {
		cfg.HealthPort = os.Getenv("HEALTH_PORT")
	}
}

func applyDefaults(cfg *Config) {
	if cfg.RPC.Endpoint == "" {
		cfg.RPC.Endpoint = defaultRPCEndpoint
	}
	if cfg.RPC.Timeout == 0 {
		cfg.RPC.Timeout = defaultRPCTimeout
	}
	if cfg.Staking.EpochLength == 0 {
		cfg.Staking.EpochLength = defaultEpochLength
	}
	if cfg.Hints.Timeout == 0 {
		cfg.Hints.Timeout = defaultHintTimeout
	}
	if cfg.HistoryPath == "" {
		cfg.HistoryPath = defaultHistoryPath
	}
	if cfg.TargetCount == 0 {
		cfg.TargetCount = defaultTargetCount
	}
	if cfg.HealthPort == "" {
		cfg.HealthPort = defaultHealthPort
	}
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultValue
	}
	return d
}

func getUint64Env(key string, defaultValue uint64) uint64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return defaultValue
	}
	return n
}
