// Package backend opens the storage and event stream backends selected by
// the aip configuration.
package backend

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/aip-agents/aip/pkg/config"
	"github.com/aip-agents/aip/pkg/eventstream"
	"github.com/aip-agents/aip/pkg/eventstream/kafka"
	"github.com/aip-agents/aip/pkg/eventstream/nop"
	"github.com/aip-agents/aip/pkg/storage"
	"github.com/aip-agents/aip/pkg/storage/inmemory"
	"github.com/aip-agents/aip/pkg/storage/postgres"
	"github.com/aip-agents/aip/pkg/storage/redis"
	"github.com/aip-agents/aip/pkg/storage/sqlite"
)

// OpenStore opens the store named by cfg.Driver. configDir is the .aip/
// override used to place the default SQLite database.
func OpenStore(ctx context.Context, cfg config.StorageConfig, configDir string, logger *zap.Logger) (storage.Store, error) {
	switch cfg.Driver {
	case "", config.StorageMemory:
		logger.Info("using in-memory storage")
		return inmemory.NewDriver(), nil

	case config.StorageSQLite:
		path, err := ResolveSQLitePath(cfg.SQLitePath, configDir)
		if err != nil {
			return nil, err
		}
		driver, err := sqlite.NewDriver(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite storer: %w", err)
		}
		logger.Info("using SQLite storage", zap.String("path", path))
		return driver, nil

	case config.StoragePostgres:
		if cfg.PostgresDSN == "" {
			return nil, errors.New("postgres storage requires storage.postgres_dsn")
		}
		driver, err := postgres.NewDriver(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to create PostgreSQL storer: %w", err)
		}
		logger.Info("using PostgreSQL storage")
		return driver, nil

	case config.StorageRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New("redis storage requires storage.redis_url")
		}
		driver, err := redis.NewDriver(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create Redis storer: %w", err)
		}
		logger.Info("using Redis storage")
		return driver, nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// OpenPublisher returns a Kafka publisher when brokers are configured and a
// no-op publisher otherwise.
func OpenPublisher(cfg config.EventStreamConfig, logger *zap.Logger) (eventstream.Publisher, error) {
	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		return nop.NewPublisher(), nil
	}

	pub, err := kafka.NewPublisher(kafka.Config{Brokers: brokers, Topic: cfg.KafkaTopic}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating kafka publisher: %w", err)
	}
	logger.Info("publishing message events to kafka",
		zap.Strings("brokers", brokers),
		zap.String("topic", cfg.KafkaTopic),
	)
	return pub, nil
}
