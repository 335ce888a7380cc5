package port

import (
	"context"
	"time"

	"github.com/crabzie/hive/internal/core/domain"
)

// TaskRepository defines how tasks are persisted.
// UpdateStatus is the only concurrency control over the table: it must apply
// the write only when the row still holds `from`, and report whether it did.
type TaskRepository interface {
	Insert(ctx context.Context, task *domain.TaskRecord) error
	FindNextEligible(ctx context.Context, filter domain.TaskFilter) (*domain.TaskRecord, error)
	UpdateStatus(ctx context.Context, id string, from, to domain.TaskStatus, fields domain.TaskUpdate) (bool, error)
	GetByID(ctx context.Context, id string) (*domain.TaskRecord, error)
	List(ctx context.Context, filter domain.TaskFilter, limit int) ([]*domain.TaskRecord, error)
	ListStuck(ctx context.Context, startedBefore time.Time, limit int) ([]*domain.TaskRecord, error)
	Ping(ctx context.Context) error
}

// BeeCoordinator defines how we track live bees (Redis)
type BeeCoordinator interface {
	RegisterBee(ctx context.Context, bee *domain.Bee, ttl time.Duration) error
	GetActiveBees(ctx context.Context) ([]*domain.Bee, error)
	// GetBee returns the latest snapshot of a live bee, nil when its heartbeat expired
	GetBee(ctx context.Context, beeID string) (*domain.Bee, error)
}

// EventPublisher announces task transitions
type EventPublisher interface {
	PublishEvent(ctx context.Context, event domain.TaskEvent) error
}

// EventSubscriber streams task transitions. An empty taskID subscribes to every task.
// The channel is closed when ctx is done.
type EventSubscriber interface {
	Subscribe(ctx context.Context, taskID string) (<-chan domain.TaskEvent, error)
}

// ResultCache keeps terminal records close to readers
type ResultCache interface {
	Put(ctx context.Context, task *domain.TaskRecord) error
	Get(ctx context.Context, id string) (*domain.TaskRecord, error)
}

// Handler runs the work behind a capability
type Handler interface {
	Run(ctx context.Context, payload map[string]any) (map[string]any, error)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, payload map[string]any) (map[string]any, error)

func (f HandlerFunc) Run(ctx context.Context, payload map[string]any) (map[string]any, error) {
	return f(ctx, payload)
}

// Executor turns a claimed task into a result. It must not panic or return errors.
type Executor interface {
	Dispatch(ctx context.Context, task *domain.TaskRecord) domain.TaskResult
}
