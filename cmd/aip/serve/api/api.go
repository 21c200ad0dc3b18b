// Package apicmder provides the sessions API server cobra command.
package apicmder

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aip-agents/aip/api"
	"github.com/aip-agents/aip/cmd/aip/backend"
	"github.com/aip-agents/aip/pkg/config"
	"github.com/aip-agents/aip/pkg/logger"
)

type apiCommander struct {
	listen                           string
	storage, sqlite, postgres, redis string

	cfg       *config.Config
	configDir string
	debug     bool
	logger    *zap.Logger
}

var apiFlags = []string{
	config.FlagAPIListenStandalone,
	config.FlagStorage,
	config.FlagSQLite,
	config.FlagPostgres,
	config.FlagRedis,
}

const apiLongDesc string = `Run the aip sessions API server for listing chat sessions and reading their history.`

const apiShortDesc string = "Run the aip sessions API server"

func NewAPICmd() *cobra.Command {
	cmder := &apiCommander{}

	cmd := &cobra.Command{
		Use:   "api",
		Short: apiShortDesc,
		Long:  apiLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			cmder.cfg, err = backend.LoadConfig(cmd, apiFlags...)
			return err
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}

			return cmder.run()
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagAPIListenStandalone, &cmder.listen)
	config.AddStringFlag(cmd, config.Flags, config.FlagStorage, &cmder.storage)
	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &cmder.sqlite)
	config.AddStringFlag(cmd, config.Flags, config.FlagPostgres, &cmder.postgres)
	config.AddStringFlag(cmd, config.Flags, config.FlagRedis, &cmder.redis)

	return cmd
}

func (c *apiCommander) run() error {
	c.logger = logger.NewLogger(c.debug)
	defer func() { _ = c.logger.Sync() }()

	// The API server only reads; events are published by the relay.
	c.cfg.EventStream.KafkaBrokers = ""

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	stack, err := backend.OpenStack(ctx, c.cfg, c.configDir, c.logger)
	cancel()
	if err != nil {
		return err
	}
	defer stack.Close()

	server := api.NewServer(api.Config{ListenAddr: c.cfg.API.Listen}, stack.Service, c.logger)

	return server.Run()
}
