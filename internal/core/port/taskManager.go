// Package port provides behavior interfaces that connects service & storage & handler.
package port

import (
	"context"
	"time"

	"github.com/crabzie/hive/internal/core/domain"
)

// TaskService is the enqueue & completion observation surface used by HTTP handlers,
// cron schedules and handlers that bridge work to other subsystems.
type TaskService interface {
	Enqueue(ctx context.Context, req domain.EnqueueRequest) (*domain.TaskRecord, error)
	Get(ctx context.Context, id string) (*domain.TaskRecord, error)
	List(ctx context.Context, filter domain.TaskFilter, limit int) ([]*domain.TaskRecord, error)
	Await(ctx context.Context, id string, timeout time.Duration) (*domain.TaskRecord, error)
	Subscribe(ctx context.Context, id string) (<-chan domain.TaskEvent, error)
}
