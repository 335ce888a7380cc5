package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/crabzie/hive/internal/core/domain"
	"github.com/crabzie/hive/internal/core/port"
	"github.com/gofiber/storage/redis/v3"
)

const resultKeyPrefix = "task:result:"

type resultCache struct {
	storage *redis.Storage
	ttl     time.Duration
}

// NewResultCache keeps terminal task records in Redis for ttl
func NewResultCache(storage *redis.Storage, ttl time.Duration) port.ResultCache {
	return &resultCache{
		storage: storage,
		ttl:     ttl,
	}
}

// Put stores terminal records only, anything else can still change
func (c *resultCache) Put(_ context.Context, task *domain.TaskRecord) error {
	if !task.IsTerminal() {
		return nil
	}
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return c.storage.Set(resultKeyPrefix+task.ID, data, c.ttl)
}

func (c *resultCache) Get(_ context.Context, id string) (*domain.TaskRecord, error) {
	data, err := c.storage.Get(resultKeyPrefix + id)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, domain.ErrTaskNotFound
	}

	var task domain.TaskRecord
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, err
	}
	return &task, nil
}
