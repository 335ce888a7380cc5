package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/crabzie/hive/internal/core/domain"
	"github.com/crabzie/hive/internal/core/port"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const beeKeyPrefix = "bee:"

type beeCoordinator struct {
	client redis.UniversalClient
	log    *zap.Logger
}

// NewBeeCoordinator creates a Redis adapter for bee presence
func NewBeeCoordinator(client redis.UniversalClient, log *zap.Logger) port.BeeCoordinator {
	return &beeCoordinator{
		client: client,
		log:    log,
	}
}

func beeKey(id string) string {
	return beeKeyPrefix + id
}

// RegisterBee saves the bee snapshot; the key expires after ttl without a new heartbeat
func (c *beeCoordinator) RegisterBee(ctx context.Context, bee *domain.Bee, ttl time.Duration) error {
	data, err := json.Marshal(bee)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, beeKey(bee.ID), data, ttl).Err()
}

func (c *beeCoordinator) GetActiveBees(ctx context.Context) ([]*domain.Bee, error) {
	var bees []*domain.Bee

	iter := c.client.Scan(ctx, 0, beeKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		val, err := c.client.Get(ctx, iter.Val()).Result()
		if err != nil {
			continue // expired between scan and get
		}

		var bee domain.Bee
		if err := json.Unmarshal([]byte(val), &bee); err != nil {
			c.log.Warn("Skipping malformed bee record", zap.String("key", iter.Val()), zap.Error(err))
			continue
		}
		bees = append(bees, &bee)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan bees: %w", err)
	}
	return bees, nil
}

func (c *beeCoordinator) GetBee(ctx context.Context, beeID string) (*domain.Bee, error) {
	val, err := c.client.Get(ctx, beeKey(beeID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get bee %s: %w", beeID, err)
	}

	var bee domain.Bee
	if err := json.Unmarshal([]byte(val), &bee); err != nil {
		return nil, fmt.Errorf("decode bee %s: %w", beeID, err)
	}
	return &bee, nil
}
