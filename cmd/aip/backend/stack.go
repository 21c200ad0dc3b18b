package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aip-agents/aip/pkg/agent"
	"github.com/aip-agents/aip/pkg/chat"
	"github.com/aip-agents/aip/pkg/config"
	"github.com/aip-agents/aip/pkg/eventstream"
	"github.com/aip-agents/aip/pkg/storage"
)

// LoadConfig resolves the configuration for cmd: the flags named by flagKeys
// are bound over env, config file and defaults.
func LoadConfig(cmd *cobra.Command, flagKeys ...string) (*config.Config, error) {
	configDir, _ := cmd.Flags().GetString("config-dir")

	v, err := config.InitViper(configDir)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	config.BindRegisteredFlags(v, cmd, config.Flags, flagKeys)

	cfg := config.FromViper(v)
	if !config.IsValidStorageDriver(cfg.Storage.Driver) {
		return nil, fmt.Errorf("invalid storage driver %q", cfg.Storage.Driver)
	}
	return cfg, nil
}

// Stack is the set of shared components behind the relay and the API server.
type Stack struct {
	Store     storage.Store
	Publisher eventstream.Publisher
	Agent     *agent.Client
	Service   *chat.Service
}

// OpenStack opens the store and publisher described by cfg and wires the
// chat service on top of them.
func OpenStack(ctx context.Context, cfg *config.Config, configDir string, logger *zap.Logger) (*Stack, error) {
	store, err := OpenStore(ctx, cfg.Storage, configDir, logger)
	if err != nil {
		return nil, err
	}

	pub, err := OpenPublisher(cfg.EventStream, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	client := agent.NewClient(agent.Config{
		BaseURL: cfg.Agent.BaseURL,
		Timeout: time.Duration(cfg.Agent.TimeoutSeconds) * time.Second,
	}, logger)

	return &Stack{
		Store:     store,
		Publisher: pub,
		Agent:     client,
		Service:   chat.NewService(store, client, pub, logger),
	}, nil
}

// Close flushes the publisher and closes the store.
func (s *Stack) Close() error {
	return errors.Join(s.Publisher.Close(), s.Store.Close())
}
