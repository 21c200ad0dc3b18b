// Package servecmder provides the serve command with subcommands for running services.
package servecmder

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aip-agents/aip/api"
	"github.com/aip-agents/aip/cmd/aip/backend"
	apicmder "github.com/aip-agents/aip/cmd/aip/serve/api"
	relaycmder "github.com/aip-agents/aip/cmd/aip/serve/relay"
	"github.com/aip-agents/aip/pkg/config"
	"github.com/aip-agents/aip/pkg/logger"
	"github.com/aip-agents/aip/relay"
)

type serveCommander struct {
	flags     flagValues
	cfg       *config.Config
	configDir string
	debug     bool
	logger    *zap.Logger
}

// flagValues receives the raw flag values; the resolved settings are read
// back through viper so config file and env values apply.
type flagValues struct {
	agentURL, relayListen, apiListen string
	storage, sqlite, postgres, redis string
	kafkaBrokers, kafkaTopic         string
	workers, agentTimeout            uint
}

// sharedFlags are the registry keys bound by "aip serve".
var sharedFlags = []string{
	config.FlagAgentURL,
	config.FlagAgentTimeout,
	config.FlagRelayListen,
	config.FlagAPIListen,
	config.FlagWorkers,
	config.FlagStorage,
	config.FlagSQLite,
	config.FlagPostgres,
	config.FlagRedis,
	config.FlagKafkaBrokers,
	config.FlagKafkaTopic,
}

const serveLongDesc string = `Run aip services.

Use subcommands to run individual services or all services together:
  aip serve          Run both relay and API server together
  aip serve api      Run just the sessions API server
  aip serve relay    Run just the chat relay

Both servers share one store. Choose it with --storage (memory, sqlite,
postgres, redis); sqlite defaults to aip.db in the .aip/ directory.`

const serveShortDesc string = "Run aip services"

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			cmder.cfg, err = backend.LoadConfig(cmd, sharedFlags...)
			return err
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}
			return cmder.run()
		},
	}

	f := &cmder.flags
	config.AddStringFlag(cmd, config.Flags, config.FlagAgentURL, &f.agentURL)
	config.AddUintFlag(cmd, config.Flags, config.FlagAgentTimeout, &f.agentTimeout)
	config.AddStringFlag(cmd, config.Flags, config.FlagRelayListen, &f.relayListen)
	config.AddStringFlag(cmd, config.Flags, config.FlagAPIListen, &f.apiListen)
	config.AddUintFlag(cmd, config.Flags, config.FlagWorkers, &f.workers)
	config.AddStringFlag(cmd, config.Flags, config.FlagStorage, &f.storage)
	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &f.sqlite)
	config.AddStringFlag(cmd, config.Flags, config.FlagPostgres, &f.postgres)
	config.AddStringFlag(cmd, config.Flags, config.FlagRedis, &f.redis)
	config.AddStringFlag(cmd, config.Flags, config.FlagKafkaBrokers, &f.kafkaBrokers)
	config.AddStringFlag(cmd, config.Flags, config.FlagKafkaTopic, &f.kafkaTopic)

	cmd.AddCommand(apicmder.NewAPICmd())
	cmd.AddCommand(relaycmder.NewRelayCmd())

	return cmd
}

func (c *serveCommander) run() error {
	c.logger = logger.NewLogger(c.debug)
	defer func() { _ = c.logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	stack, err := backend.OpenStack(ctx, c.cfg, c.configDir, c.logger)
	cancel()
	if err != nil {
		return err
	}
	defer stack.Close()

	r, err := relay.New(relay.Config{
		ListenAddr: c.cfg.Relay.Listen,
		Workers:    c.cfg.Relay.Workers,
	}, stack.Service, stack.Agent, c.logger)
	if err != nil {
		return fmt.Errorf("creating relay: %w", err)
	}
	defer r.Close()

	apiServer := api.NewServer(api.Config{ListenAddr: c.cfg.API.Listen}, stack.Service, c.logger)
	defer apiServer.Shutdown()

	// Channel to capture errors from goroutines
	errChan := make(chan error, 2)

	go func() {
		if err := r.Run(); err != nil {
			errChan <- fmt.Errorf("relay error: %w", err)
		}
	}()

	go func() {
		if err := apiServer.Run(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	// Wait for interrupt signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		return nil
	}
}
