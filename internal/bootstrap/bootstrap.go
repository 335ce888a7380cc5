// Package bootstrap opens the storage and event drivers selected in config and
// hands the binaries ready adapters behind the core ports.
package bootstrap

import (
	"context"
	"fmt"

	postgresConfig "github.com/crabzie/hive/config/storage/postgresql"
	redisConfig "github.com/crabzie/hive/config/storage/redis"
	sqliteConfig "github.com/crabzie/hive/config/storage/sqlite"
	config "github.com/crabzie/hive/config/utils"
	"github.com/crabzie/hive/internal/adapter/queue/rabbitmq"
	"github.com/crabzie/hive/internal/adapter/storage/postgres"
	redisAdapter "github.com/crabzie/hive/internal/adapter/storage/redis"
	"github.com/crabzie/hive/internal/adapter/storage/sqlite"
	"github.com/crabzie/hive/internal/core/port"
	"github.com/crabzie/hive/internal/core/service"
	"go.uber.org/zap"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	EventsRabbitMQ = "rabbitmq"
	EventsRedis    = "redis"
	EventsNone     = "none"
)

// Infra is everything a binary needs to build the core services.
// Coordinator, Cache, Publisher and Subscriber are nil when their backend is not configured.
type Infra struct {
	Repo        port.TaskRepository
	Coordinator port.BeeCoordinator
	Cache       port.ResultCache
	Publisher   port.EventPublisher
	Subscriber  port.EventSubscriber
	Checks      map[string]func(ctx context.Context) error

	redis   *redisConfig.Redis
	closers []func()
	log     *zap.Logger
}

// Open connects every backend named in cfg. With migrate set the postgres
// schema is brought up to date before the repository is returned.
func Open(ctx context.Context, cfg *config.AppConfig, log *zap.Logger, migrate bool) (*Infra, error) {
	infra := &Infra{
		Checks: map[string]func(ctx context.Context) error{},
		log:    log,
	}

	if err := infra.openDB(ctx, cfg.DB, migrate); err != nil {
		infra.Close()
		return nil, err
	}
	if err := infra.openRedis(ctx, cfg.Redis, cfg.Cache); err != nil {
		infra.Close()
		return nil, err
	}
	if err := infra.openEvents(cfg.Events); err != nil {
		infra.Close()
		return nil, err
	}
	return infra, nil
}

func (i *Infra) openDB(ctx context.Context, cfg *config.DB, migrate bool) error {
	dbLogger := i.log.Named("DB")

	switch cfg.Connection {
	case DriverPostgres, "":
		db, err := postgresConfig.New(ctx, cfg, dbLogger)
		if err != nil {
			return fmt.Errorf("init postgres: %w", err)
		}
		i.closers = append(i.closers, db.Close)
		if migrate {
			if err := db.Migrate(); err != nil {
				return fmt.Errorf("migrate postgres: %w", err)
			}
			dbLogger.Info("Successfully migrated the database")
		}
		i.Repo = postgres.NewTaskRepository(db.Pool, i.log)

	case DriverSQLite:
		path := cfg.Path
		if path == "" {
			path = "hive.db"
		}
		db, err := sqliteConfig.New(ctx, path)
		if err != nil {
			return fmt.Errorf("init sqlite: %w", err)
		}
		i.closers = append(i.closers, func() { db.Close() })
		i.Repo = sqlite.NewTaskRepository(db.DB, i.log)

	default:
		return fmt.Errorf("unknown db connection %q", cfg.Connection)
	}

	i.Checks["db"] = i.Repo.Ping
	dbLogger.Info("Successfully connected to the database", zap.String("db", cfg.Connection))
	return nil
}

// openRedis is optional: no address means no presence tracking and no result cache
func (i *Infra) openRedis(ctx context.Context, cfg *config.Redis, cache *config.Cache) error {
	if cfg.Addr == "" && cfg.Host == "" {
		i.log.Warn("Redis not configured, bee presence and result cache disabled")
		return nil
	}

	r, err := redisConfig.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init redis: %w", err)
	}
	i.closers = append(i.closers, func() { r.Close() })

	i.Coordinator = redisAdapter.NewBeeCoordinator(r.Client, i.log)
	i.Cache = redisAdapter.NewResultCache(r.Storage, cache.TTL)
	i.Checks["redis"] = func(ctx context.Context) error { return r.Client.Ping(ctx).Err() }
	i.redis = r

	i.log.Info("Successfully connected to the cache server", zap.String("address", cfg.Addr))
	return nil
}

func (i *Infra) openEvents(cfg *config.Events) error {
	switch cfg.Driver {
	case EventsRabbitMQ:
		bus, err := rabbitmq.NewEventBus(cfg.AMQPURL, cfg.Exchange, i.log)
		if err != nil {
			return fmt.Errorf("init rabbitmq: %w", err)
		}
		i.closers = append(i.closers, func() { bus.Close() })
		i.Publisher, i.Subscriber = bus, bus
		i.Checks["events"] = func(context.Context) error { return bus.Ping() }

	case EventsRedis:
		if i.redis == nil {
			return fmt.Errorf("events driver redis needs redis.addr")
		}
		bus := redisAdapter.NewEventBus(i.redis.Client, i.log)
		i.Publisher, i.Subscriber = bus, bus

	case EventsNone, "":
		i.log.Info("Event stream disabled, completion is observed by polling only")

	default:
		return fmt.Errorf("unknown events driver %q", cfg.Driver)
	}
	return nil
}

// Tasks builds the enqueue and completion service over the opened backends
func (i *Infra) Tasks(cfg *config.Await) port.TaskService {
	return service.NewEnqueuer(i.Repo, i.Publisher, i.Subscriber, i.Cache, service.AwaitOptions{
		PollInterval:   cfg.PollInterval,
		DefaultTimeout: cfg.DefaultTimeout,
		MaxTimeout:     cfg.MaxTimeout,
	}, i.log)
}

// Close releases backends in reverse opening order
func (i *Infra) Close() {
	for n := len(i.closers) - 1; n >= 0; n-- {
		i.closers[n]()
	}
	i.closers = nil
}
