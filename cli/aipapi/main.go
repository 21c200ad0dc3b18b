package main

import (
	"os"

	apicmder "github.com/aip-agents/aip/cmd/aip/serve/api"
)

func main() {
	cmd := apicmder.NewAPICmd()
	cmd.Use = "aipapi"
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override path to .aip/ config directory")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
