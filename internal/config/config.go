package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

type (
	LogConfig struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	}

	RedisConfig struct {
		Addr     string        `yaml:"addr"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		TTL      time.Duration `yaml:"ttl"`
	}

	MongoConfig struct {
		URI      string `yaml:"uri"`
		Database string `yaml:"database"`
	}

	// RelayConfig configures cmd/relay.
	RelayConfig struct {
		HTTPAddr      string      `yaml:"http_addr"`
		Store         string      `yaml:"store"`
		MemoryEntries int         `yaml:"memory_entries"`
		Redis         RedisConfig `yaml:"redis"`
		Log           LogConfig   `yaml:"log"`
	}

	// PartyConfig configures cmd/party.
	PartyConfig struct {
		ServerURL        string        `yaml:"server_url"`
		SessionID        string        `yaml:"session_id"`
		LocalPartyID     string        `yaml:"local_party_id"`
		EncryptionKeyHex string        `yaml:"encryption_key_hex"`
		EncryptGCM       bool          `yaml:"encrypt_gcm"`
		MessageID        string        `yaml:"message_id"`
		VaultName        string        `yaml:"vault_name"`
		DeviceSecret     string        `yaml:"device_secret"`
		Parties          int           `yaml:"parties"`
		PollInterval     time.Duration `yaml:"poll_interval"`
		SendAttempts     int           `yaml:"send_attempts"`
		SendRetryDelay   time.Duration `yaml:"send_retry_delay"`
		CompleteAttempts int           `yaml:"complete_attempts"`
		RequestTimeout   time.Duration `yaml:"request_timeout"`
		Mongo            MongoConfig   `yaml:"mongo"`
		Log              LogConfig     `yaml:"log"`
	}
)

func DefaultRelayConfig() *RelayConfig {
	return &RelayConfig{
		HTTPAddr:      ":8080",
		Store:         StoreMemory,
		MemoryEntries: 1000,
		Redis: RedisConfig{
			Addr: "localhost:6379",
			TTL:  5 * time.Minute,
		},
		Log: LogConfig{Level: "info"},
	}
}

func DefaultPartyConfig() *PartyConfig {
	return &PartyConfig{
		ServerURL:        "http://localhost:8080",
		EncryptGCM:       true,
		Parties:          2,
		PollInterval:     time.Second,
		SendAttempts:     3,
		SendRetryDelay:   100 * time.Millisecond,
		CompleteAttempts: 60,
		RequestTimeout:   10 * time.Second,
		Mongo: MongoConfig{
			URI:      "mongodb://localhost:27017",
			Database: "mpc",
		},
		Log: LogConfig{Level: "info"},
	}
}

// LoadRelayConfig reads a YAML file on top of DefaultRelayConfig.
func LoadRelayConfig(path string) (*RelayConfig, error) {
	cfg := DefaultRelayConfig()
	if err := load(path, cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadPartyConfig reads a YAML file on top of DefaultPartyConfig. Identity fields may
// still be empty here since flags can fill them in; call Validate after overrides.
func LoadPartyConfig(path string) (*PartyConfig, error) {
	cfg := DefaultPartyConfig()
	if err := load(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *RelayConfig) Validate() error {
	switch c.Store {
	case StoreMemory:
		if c.MemoryEntries <= 0 {
			return errors.New("memory_entries must be positive")
		}
	case StoreRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis.addr is required for the redis store")
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	return nil
}

func (c *PartyConfig) Validate() error {
	if c.ServerURL == "" {
		return errors.New("server_url is required")
	}
	if c.SessionID == "" {
		return errors.New("session_id is required")
	}
	if c.LocalPartyID == "" {
		return errors.New("local_party_id is required")
	}
	if c.EncryptionKeyHex == "" {
		return errors.New("encryption_key_hex is required")
	}
	if c.Parties < 2 {
		return errors.New("parties must be at least 2")
	}
	if c.PersistVault() && c.DeviceSecret == "" {
		return errors.New("device_secret is required to store the vault")
	}
	return nil
}

// PersistVault reports whether the vault is loaded from and saved to mongo.
func (c *PartyConfig) PersistVault() bool {
	return c.VaultName != "" && c.Mongo.URI != ""
}

func load(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}
