package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banool/pictionaryd/clients/ans_client"
	"github.com/banool/pictionaryd/clients/aptos_client"
)

// Config is everything the daemon needs to find its game: which network,
// which contract, which creator's game to follow, and how to serve browsers.
// Values load from an optional YAML file, then environment variables
// override field by field.
type Config struct {
	Network         string `yaml:"network"`
	FullnodeURL     string `yaml:"fullnode_url"`
	ContractAddress string `yaml:"contract_address"`
	GameAddress     string `yaml:"game_address"`
	ListenAddr      string `yaml:"listen_addr"`
	LogLevel        string `yaml:"log_level"`
	AnsURL          string `yaml:"ans_url"`

	GamePollInterval   time.Duration `yaml:"game_poll_interval"`
	CanvasPollInterval time.Duration `yaml:"canvas_poll_interval"`
	FlushInterval      time.Duration `yaml:"flush_interval"`

	NATS struct {
		Enabled bool   `yaml:"enabled"`
		URL     string `yaml:"url"`
	} `yaml:"nats"`
}

func defaultConfig() Config {
	var cfg Config
	cfg.Network = "testnet"
	cfg.ListenAddr = "127.0.0.1:8322"
	cfg.LogLevel = "info"
	return cfg
}

// loadConfig builds the effective configuration: defaults, then the YAML
// file when present, then environment overrides.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.Network = getEnv("PICTIONARYD_NETWORK", cfg.Network)
	cfg.FullnodeURL = getEnv("PICTIONARYD_FULLNODE_URL", cfg.FullnodeURL)
	cfg.ContractAddress = getEnv("PICTIONARYD_CONTRACT_ADDRESS", cfg.ContractAddress)
	cfg.GameAddress = getEnv("PICTIONARYD_GAME_ADDRESS", cfg.GameAddress)
	cfg.ListenAddr = getEnv("PICTIONARYD_LISTEN_ADDR", cfg.ListenAddr)
	cfg.LogLevel = getEnv("PICTIONARYD_LOG_LEVEL", cfg.LogLevel)
	cfg.AnsURL = getEnv("PICTIONARYD_ANS_URL", cfg.AnsURL)
	cfg.GamePollInterval = getEnvAsDuration("PICTIONARYD_GAME_POLL_INTERVAL", cfg.GamePollInterval)
	cfg.CanvasPollInterval = getEnvAsDuration("PICTIONARYD_CANVAS_POLL_INTERVAL", cfg.CanvasPollInterval)
	cfg.FlushInterval = getEnvAsDuration("PICTIONARYD_FLUSH_INTERVAL", cfg.FlushInterval)
	cfg.NATS.Enabled = getEnvAsBool("PICTIONARYD_NATS_ENABLED", cfg.NATS.Enabled)
	cfg.NATS.URL = getEnv("PICTIONARYD_NATS_URL", cfg.NATS.URL)

	if err := cfg.resolve(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// resolve fills derived fields and rejects configurations the daemon
// cannot run with.
func (c *Config) resolve() error {
	if c.ContractAddress == "" {
		return errors.New("contract address is required (PICTIONARYD_CONTRACT_ADDRESS)")
	}
	if c.GameAddress == "" {
		return errors.New("game address is required (PICTIONARYD_GAME_ADDRESS)")
	}

	if c.FullnodeURL == "" {
		switch c.Network {
		case "mainnet":
			c.FullnodeURL = aptos_client.MainnetBaseURL
		case "testnet":
			c.FullnodeURL = aptos_client.TestnetBaseURL
		case "devnet":
			c.FullnodeURL = aptos_client.DevnetBaseURL
		default:
			return fmt.Errorf("unknown network %q and no fullnode URL set", c.Network)
		}
	}

	// ANS only exists on mainnet and testnet; elsewhere names fall back to
	// raw addresses.
	if c.AnsURL == "" {
		switch c.Network {
		case "mainnet":
			c.AnsURL = ans_client.MainnetBaseURL
		case "testnet":
			c.AnsURL = ans_client.TestnetBaseURL
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
