// Package configcmder provides the config command for managing persistent
// aip configuration stored in the .aip/ directory.
package configcmder

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aip-agents/aip/pkg/config"
)

const configLongDesc string = `Manage persistent aip configuration.

Configuration is stored as config.toml in the .aip/ directory and provides
default values for command flags. AIP_ environment variables override the
file, and CLI flags override both.

Keys use dotted notation matching the TOML section structure:
  agent.base_url, agent.timeout_seconds,
  relay.listen, relay.workers, api.listen,
  storage.driver, storage.sqlite_path, storage.postgres_dsn, storage.redis_url,
  client.relay_target, client.api_target,
  eventstream.kafka_brokers, eventstream.kafka_topic

Use subcommands to get, set, or list configuration values:
  aip config set <key> <value>    Set a configuration value
  aip config get <key>            Get a configuration value
  aip config list                 List all configuration values

Examples:
  aip config set agent.base_url http://localhost:9000
  aip config set storage.driver postgres
  aip config get relay.listen
  aip config list`

const configShortDesc string = "Manage persistent aip configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}

func completeKeys(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	if len(args) == 0 {
		return config.ValidConfigKeys(), cobra.ShellCompDirectiveNoFileComp
	}
	return nil, cobra.ShellCompDirectiveNoFileComp
}

func checkKey(key string) error {
	if !config.IsValidConfigKey(key) {
		return fmt.Errorf("unknown config key: %q\n\nValid keys: %s",
			key, strings.Join(config.ValidConfigKeys(), ", "))
	}
	return nil
}
