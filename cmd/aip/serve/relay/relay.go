// Package relaycmder provides the relay server command.
package relaycmder

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aip-agents/aip/cmd/aip/backend"
	"github.com/aip-agents/aip/pkg/config"
	"github.com/aip-agents/aip/pkg/logger"
	"github.com/aip-agents/aip/relay"
)

type relayCommander struct {
	listen, agentURL                 string
	storage, sqlite, postgres, redis string
	kafkaBrokers, kafkaTopic         string
	workers, agentTimeout            uint

	cfg       *config.Config
	configDir string
	debug     bool
	logger    *zap.Logger
}

var relayFlags = []string{
	config.FlagRelayListenStandalone,
	config.FlagAgentURL,
	config.FlagAgentTimeout,
	config.FlagWorkers,
	config.FlagStorage,
	config.FlagSQLite,
	config.FlagPostgres,
	config.FlagRedis,
	config.FlagKafkaBrokers,
	config.FlagKafkaTopic,
}

const relayLongDesc string = `Run the chat relay.

The relay accepts chat turns from clients, forwards them to the agent service
and streams the agent's server-sent events back unchanged. Completed replies
are stored alongside the user's message; interrupted or failed replies are
discarded.

Endpoints:
  POST /chat/stream   Streamed turn (text/event-stream)
  POST /chat          Non-streaming turn
  GET  /health        Agent health
  GET  /metrics       Prometheus metrics`

const relayShortDesc string = "Run the aip chat relay"

func NewRelayCmd() *cobra.Command {
	cmder := &relayCommander{}

	cmd := &cobra.Command{
		Use:   "relay",
		Short: relayShortDesc,
		Long:  relayLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			cmder.cfg, err = backend.LoadConfig(cmd, relayFlags...)
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

	config.AddStringFlag(cmd, config.Flags, config.FlagRelayListenStandalone, &cmder.listen)
	config.AddStringFlag(cmd, config.Flags, config.FlagAgentURL, &cmder.agentURL)
	config.AddUintFlag(cmd, config.Flags, config.FlagAgentTimeout, &cmder.agentTimeout)
	config.AddUintFlag(cmd, config.Flags, config.FlagWorkers, &cmder.workers)
	config.AddStringFlag(cmd, config.Flags, config.FlagStorage, &cmder.storage)
	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &cmder.sqlite)
	config.AddStringFlag(cmd, config.Flags, config.FlagPostgres, &cmder.postgres)
	config.AddStringFlag(cmd, config.Flags, config.FlagRedis, &cmder.redis)
	config.AddStringFlag(cmd, config.Flags, config.FlagKafkaBrokers, &cmder.kafkaBrokers)
	config.AddStringFlag(cmd, config.Flags, config.FlagKafkaTopic, &cmder.kafkaTopic)

	return cmd
}

func (c *relayCommander) run() error {
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

	errChan := make(chan error, 1)
	go func() {
		if err := r.Run(); err != nil {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("relay error: %w", err)
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		return nil
	}
}
