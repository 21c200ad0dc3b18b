// Package aipcmder
package aipcmder

import (
	"github.com/spf13/cobra"

	chatcmder "github.com/aip-agents/aip/cmd/aip/chat"
	configcmder "github.com/aip-agents/aip/cmd/aip/config"
	historycmder "github.com/aip-agents/aip/cmd/aip/history"
	servecmder "github.com/aip-agents/aip/cmd/aip/serve"
	versioncmder "github.com/aip-agents/aip/cmd/version"
)

const aipLongDesc string = `aip relays streaming chat between clients and an agent service.

Run services using:
  aip serve relay    Run the chat relay
  aip serve api      Run the sessions API server
  aip serve          Run both servers together

Talk to an agent using:
  aip chat           Interactive chat through the relay
  aip history <id>   Print the messages of a session`

const aipShortDesc string = "aip - Agent chat relay"

func NewAipCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "aip",
		Short:        aipShortDesc,
		Long:         aipLongDesc,
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override path to .aip/ config directory")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(chatcmder.NewChatCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(historycmder.NewHistoryCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
