package main

import (
	"os"

	aipcmder "github.com/aip-agents/aip/cmd/aip"
)

func main() {
	cmd := aipcmder.NewAipCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
