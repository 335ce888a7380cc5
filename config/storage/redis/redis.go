// Package redis provides Redis cache server implimentation logic.
package redis

import (
	"context"
	"time"

	config "github.com/crabzie/hive/config/utils"

	"github.com/gofiber/storage/redis/v3"
	redigo "github.com/redis/go-redis/v9"
)

// Redis holds the raw client (presence, pub/sub) and a fiber storage view of
// the same connection pool (result cache)
type Redis struct {
	Client  redigo.UniversalClient
	Storage *redis.Storage
}

// New creates a new instance of Redis
func New(ctx context.Context, config *config.Redis) (*Redis, error) {
	addr := config.Addr
	if addr == "" && config.Host != "" {
		addr = config.Host + ":" + config.Port
	}

	client := redigo.NewUniversalClient(&redigo.UniversalOptions{
		Addrs:           []string{addr},
		Password:        config.Password,
		DB:              0,
		MaxRetries:      3,
		MinRetryBackoff: 100 * time.Millisecond,
		MaxRetryBackoff: 1 * time.Second,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		PoolSize:        10,
		MinIdleConns:    2,
		ConnMaxIdleTime: 5 * time.Minute,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, err
	}

	return &Redis{
		Client:  client,
		Storage: redis.NewFromConnection(client),
	}, nil
}

// Close releases the shared pool
func (r *Redis) Close() error {
	return r.Client.Close()
}
