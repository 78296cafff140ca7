package container

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/medgenius/ledger/cmd/ledger/service"
	"github.com/medgenius/ledger/common/bootstrap"
	"github.com/medgenius/ledger/common/config"
	rediscommon "github.com/medgenius/ledger/common/redis"
	"github.com/medgenius/ledger/common/store"
)

// Container holds all initialized services (singleton pattern)
type Container struct {
	Components *bootstrap.Components
	Redis      *rediscommon.Client

	Store  store.Store
	Ledger *service.Ledger
	Query  *service.QueryEvaluator
}

// NewContainer initializes the record store and services once
func NewContainer(ctx context.Context, components *bootstrap.Components) (*Container, error) {
	c := &Container{
		Components: components,
	}

	st, err := c.buildStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build record store: %w", err)
	}
	c.Store = st

	c.Ledger = service.NewLedger(
		st,
		components.Queue,
		components.Logger,
		service.WithVerifyOnRead(components.Config.Features.VerifyOnRead),
	)
	c.Query = service.NewQueryEvaluator()

	return c, nil
}

// buildStore creates the configured store backend
func (c *Container) buildStore(ctx context.Context) (store.Store, error) {
	cfg := c.Components.Config
	log := c.Components.Logger

	log.Info("initializing record store", "backend", cfg.Store.Backend)

	switch cfg.Store.Backend {
	case config.BackendMemory:
		return store.NewMemoryStore(), nil

	case config.BackendFile:
		return store.NewFileStore(cfg.Store.FilePath, log), nil

	case config.BackendSQLite:
		return store.NewSQLiteStore(cfg.Store.SQLitePath, log)

	case config.BackendPostgres:
		if c.Components.DB == nil {
			return nil, fmt.Errorf("postgres store requires a database connection")
		}
		pg := store.NewPostgresStore(c.Components.DB, log)
		if err := pg.InitSchema(ctx); err != nil {
			return nil, err
		}
		return pg, nil

	case config.BackendRedis:
		raw := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		c.Redis = rediscommon.NewClient(raw, log)
		if err := c.Redis.Health(ctx); err != nil {
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		return store.NewRedisStore(c.Redis, cfg.Store.RedisKey, log), nil

	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Store.Backend)
	}
}
