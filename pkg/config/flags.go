package config

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag is the single source of truth for a CLI flag.
// Commands reference flags by registry key rather than hard-coding names,
// shorthands, defaults, and descriptions inline. This prevents flag drift
// when the same logical flag appears on multiple commands (e.g., --agent-url
// on "aip serve", "aip serve relay" and "aip chat").
type Flag struct {
	// Name is the long flag name (e.g. "agent-url").
	Name string

	// Shorthand is the one-letter short flag (e.g. "u"). Empty for no shorthand.
	Shorthand string

	// ViperKey is the dotted config key this flag maps to (e.g. "agent.base_url").
	ViperKey string

	// Description is the help text shown in --help output.
	Description string
}

// FlagSet is a mapping of flag names to Flag structs that hold their name,
// shorthand, viper key, etc.
type FlagSet map[string]Flag

// Flag registry keys.
// Use these constants when calling AddStringFlag, AddUintFlag,
// and BindRegisteredFlags to avoid typos or drift from one command to another.
const (
	FlagAgentURL     = "agent-url"
	FlagAgentTimeout = "agent-timeout"
	FlagRelayListen  = "relay-listen"
	FlagAPIListen    = "api-listen"
	FlagWorkers      = "workers"
	FlagStorage      = "storage"
	FlagSQLite       = "sqlite"
	FlagPostgres     = "postgres"
	FlagRedis        = "redis"
	FlagKafkaBrokers = "kafka-brokers"
	FlagKafkaTopic   = "kafka-topic"
	FlagRelayTarget  = "relay-target"
	FlagAPITarget    = "api-target"

	// Standalone subcommand variants use "listen" as the flag name
	// but bind to different viper keys depending on the service.
	FlagRelayListenStandalone = "relay-listen-standalone"
	FlagAPIListenStandalone   = "api-listen-standalone"
)

// Flags is the registry shared by all aip commands.
var Flags = FlagSet{
	FlagAgentURL:     {Name: "agent-url", Shorthand: "u", ViperKey: "agent.base_url", Description: "Base URL of the agent service"},
	FlagAgentTimeout: {Name: "agent-timeout", ViperKey: "agent.timeout_seconds", Description: "Agent request timeout in seconds"},
	FlagRelayListen:  {Name: "relay-listen", Shorthand: "r", ViperKey: "relay.listen", Description: "Address for the relay to listen on"},
	FlagAPIListen:    {Name: "api-listen", Shorthand: "a", ViperKey: "api.listen", Description: "Address for the API server to listen on"},
	FlagWorkers:      {Name: "workers", ViperKey: "relay.workers", Description: "Number of persistence workers"},
	FlagStorage:      {Name: "storage", ViperKey: "storage.driver", Description: "Storage driver (memory, sqlite, postgres, redis)"},
	FlagSQLite:       {Name: "sqlite", Shorthand: "s", ViperKey: "storage.sqlite_path", Description: "Path to SQLite database"},
	FlagPostgres:     {Name: "postgres", ViperKey: "storage.postgres_dsn", Description: "PostgreSQL connection string"},
	FlagRedis:        {Name: "redis", ViperKey: "storage.redis_url", Description: "Redis URL (redis://host:port/db)"},
	FlagKafkaBrokers: {Name: "kafka-brokers", ViperKey: "eventstream.kafka_brokers", Description: "Comma separated Kafka brokers for message events"},
	FlagKafkaTopic:   {Name: "kafka-topic", ViperKey: "eventstream.kafka_topic", Description: "Kafka topic for message events"},
	FlagRelayTarget:  {Name: "relay-target", Shorthand: "t", ViperKey: "client.relay_target", Description: "aip relay URL"},
	FlagAPITarget:    {Name: "api-target", ViperKey: "client.api_target", Description: "aip API server URL"},

	FlagRelayListenStandalone: {Name: "listen", Shorthand: "l", ViperKey: "relay.listen", Description: "Address for the relay to listen on"},
	FlagAPIListenStandalone:   {Name: "listen", Shorthand: "l", ViperKey: "api.listen", Description: "Address for the API server to listen on"},
}

// AddStringFlag registers a string flag on cmd from the given FlagSet.
// The flag's name, shorthand, default, and description all come from the
// FlagSet entry so they cannot drift across commands.
func AddStringFlag(cmd *cobra.Command, fs FlagSet, key string, target *string) {
	def, ok := fs[key]
	if !ok {
		return
	}

	defaultVal := defaultString(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().StringVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().StringVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddUintFlag registers a uint flag on cmd from the given FlagSet.
func AddUintFlag(cmd *cobra.Command, fs FlagSet, registryKey string, target *uint) {
	def, ok := fs[registryKey]
	if !ok {
		return
	}

	defaultVal := defaultUint(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().UintVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().UintVar(target, def.Name, defaultVal, def.Description)
	}
}

// BindRegisteredFlags binds already-registered flags to viper using definitions
// from the given FlagSet. Call this in PreRunE after InitViper to connect flags
// to the viper precedence chain (flag > env > config file > default).
func BindRegisteredFlags(v *viper.Viper, cmd *cobra.Command, fs FlagSet, registryKeys []string) {
	for _, registryKey := range registryKeys {
		def, ok := fs[registryKey]
		if !ok {
			continue
		}

		f := cmd.Flags().Lookup(def.Name)
		if f == nil {
			continue
		}

		_ = v.BindPFlag(def.ViperKey, f)
	}
}

// defaultString returns the default string value for a viper key from NewDefaultConfig.
func defaultString(viperKey string) string {
	v := viper.New()
	setViperDefaults(v)
	return v.GetString(viperKey)
}

// defaultUint returns the default uint value for a viper key from NewDefaultConfig.
func defaultUint(viperKey string) uint {
	v := viper.New()
	setViperDefaults(v)
	return v.GetUint(viperKey)
}
