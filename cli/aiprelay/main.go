package main

import (
	"os"

	relaycmder "github.com/aip-agents/aip/cmd/aip/serve/relay"
)

func main() {
	cmd := relaycmder.NewRelayCmd()
	cmd.Use = "aiprelay"
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override path to .aip/ config directory")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
