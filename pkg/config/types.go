package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Config represents the persistent aip configuration stored as config.toml
// in the .aip/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version     int               `toml:"version"`
	Agent       AgentConfig       `toml:"agent"`
	Relay       RelayConfig       `toml:"relay"`
	API         APIConfig         `toml:"api"`
	Storage     StorageConfig     `toml:"storage"`
	Client      ClientConfig      `toml:"client"`
	EventStream EventStreamConfig `toml:"eventstream"`
}

// AgentConfig describes the upstream agent service.
type AgentConfig struct {
	BaseURL        string `toml:"base_url,omitempty"`
	TimeoutSeconds uint   `toml:"timeout_seconds,omitempty"`
}

// RelayConfig holds relay server settings.
type RelayConfig struct {
	Listen  string `toml:"listen,omitempty"`
	Workers uint   `toml:"workers,omitempty"`
}

// APIConfig holds sessions API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// StorageConfig selects and configures the message store shared by the relay
// and the API server. Driver is one of "memory", "sqlite", "postgres", "redis".
type StorageConfig struct {
	Driver      string `toml:"driver,omitempty"`
	SQLitePath  string `toml:"sqlite_path,omitempty"`
	PostgresDSN string `toml:"postgres_dsn,omitempty"`
	RedisURL    string `toml:"redis_url,omitempty"`
}

// ClientConfig holds settings for CLI commands that connect to the running
// relay and API servers (e.g. aip chat, aip history).
// Values are full URLs (scheme + host + port).
type ClientConfig struct {
	RelayTarget string `toml:"relay_target,omitempty"`
	APITarget   string `toml:"api_target,omitempty"`
}

// EventStreamConfig configures publishing of persisted-message events.
// Publishing is disabled while KafkaBrokers is empty.
type EventStreamConfig struct {
	KafkaBrokers string `toml:"kafka_brokers,omitempty"`
	KafkaTopic   string `toml:"kafka_topic,omitempty"`
}

// Brokers splits the comma separated broker list.
func (e EventStreamConfig) Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(e.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func uintKey(name string, field func(c *Config) *uint) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if *field(c) == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(*field(c)), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = uint(n)
			return nil
		},
	}
}

func stringKey(field func(c *Config) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error { *field(c) = v; return nil },
	}
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"agent.base_url":        stringKey(func(c *Config) *string { return &c.Agent.BaseURL }),
	"agent.timeout_seconds": uintKey("agent.timeout_seconds", func(c *Config) *uint { return &c.Agent.TimeoutSeconds }),
	"relay.listen":          stringKey(func(c *Config) *string { return &c.Relay.Listen }),
	"relay.workers":         uintKey("relay.workers", func(c *Config) *uint { return &c.Relay.Workers }),
	"api.listen":            stringKey(func(c *Config) *string { return &c.API.Listen }),
	"storage.driver": {
		get: func(c *Config) string { return c.Storage.Driver },
		set: func(c *Config, v string) error {
			if !IsValidStorageDriver(v) {
				return fmt.Errorf("invalid value for storage.driver: %q (available: %s)",
					v, strings.Join(StorageDrivers(), ", "))
			}
			c.Storage.Driver = v
			return nil
		},
	},
	"storage.sqlite_path":       stringKey(func(c *Config) *string { return &c.Storage.SQLitePath }),
	"storage.postgres_dsn":      stringKey(func(c *Config) *string { return &c.Storage.PostgresDSN }),
	"storage.redis_url":         stringKey(func(c *Config) *string { return &c.Storage.RedisURL }),
	"client.relay_target":       stringKey(func(c *Config) *string { return &c.Client.RelayTarget }),
	"client.api_target":         stringKey(func(c *Config) *string { return &c.Client.APITarget }),
	"eventstream.kafka_brokers": stringKey(func(c *Config) *string { return &c.EventStream.KafkaBrokers }),
	"eventstream.kafka_topic":   stringKey(func(c *Config) *string { return &c.EventStream.KafkaTopic }),
}

// Storage driver names accepted by storage.driver.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
)

// StorageDrivers returns the recognized storage driver names.
func StorageDrivers() []string {
	return []string{StorageMemory, StorageSQLite, StoragePostgres, StorageRedis}
}

// IsValidStorageDriver returns true if name is a recognized storage driver.
func IsValidStorageDriver(name string) bool {
	for _, d := range StorageDrivers() {
		if d == name {
			return true
		}
	}
	return false
}
