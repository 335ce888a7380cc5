package service

import (
	"context"
	"time"

	"github.com/crabzie/hive/internal/core/domain"
	"github.com/crabzie/hive/internal/core/port"
	"go.uber.org/zap"
)

// Claimer takes ownership of pending tasks with a compare-and-swap on status
type Claimer struct {
	repo port.TaskRepository
	log  *zap.Logger
	now  func() time.Time
}

func NewClaimer(repo port.TaskRepository, log *zap.Logger) *Claimer {
	return &Claimer{
		repo: repo,
		log:  log.Named("claimer"),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Claim moves task from pending to processing for workerID.
// false with a nil error means another worker got there first.
func (c *Claimer) Claim(ctx context.Context, task *domain.TaskRecord, workerID string) (bool, error) {
	startedAt := c.now()
	ok, err := c.repo.UpdateStatus(ctx, task.ID, domain.TaskStatusPending, domain.TaskStatusProcessing, domain.TaskUpdate{
		AssignedTo: &workerID,
		StartedAt:  &startedAt,
	})
	if err != nil {
		return false, err
	}
	if !ok {
		c.log.Debug("Claim lost", zap.String("task_id", task.ID), zap.String("bee", workerID), zap.Error(domain.ErrClaimLost))
		return false, nil
	}

	task.Status = domain.TaskStatusProcessing
	task.AssignedTo = &workerID
	task.StartedAt = &startedAt
	return true, nil
}
