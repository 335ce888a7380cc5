package service

import (
	"context"
	"fmt"
	"time"

	"github.com/crabzie/hive/internal/core/domain"
	"github.com/crabzie/hive/internal/core/port"
	"go.uber.org/zap"
)

// ReaperOptions configures the stuck task sweep
type ReaperOptions struct {
	Interval   time.Duration
	StuckAfter time.Duration
	Batch      int
}

// StuckReaper fails processing tasks whose owner is no longer running them.
// Rows are never put back to pending; a retry is a new enqueue.
type StuckReaper struct {
	repo        port.TaskRepository
	coordinator port.BeeCoordinator
	events      port.EventPublisher
	cache       port.ResultCache
	opts        ReaperOptions
	log         *zap.Logger
	now         func() time.Time
}

// NewStuckReaper builds a reaper. Without a coordinator every task older
// than StuckAfter counts as orphaned.
func NewStuckReaper(
	repo port.TaskRepository,
	coordinator port.BeeCoordinator,
	events port.EventPublisher,
	cache port.ResultCache,
	opts ReaperOptions,
	log *zap.Logger,
) *StuckReaper {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.StuckAfter <= 0 {
		opts.StuckAfter = 15 * time.Minute
	}
	if opts.Batch <= 0 {
		opts.Batch = 100
	}
	return &StuckReaper{
		repo:        repo,
		coordinator: coordinator,
		events:      publisherOrNop(events),
		cache:       cacheOrNop(cache),
		opts:        opts,
		log:         log.Named("reaper"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (r *StuckReaper) Run(ctx context.Context) {
	r.log.Info("Starting stuck task reaper",
		zap.Duration("interval", r.opts.Interval),
		zap.Duration("stuck_after", r.opts.StuckAfter))

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("Stopping reaper loop")
			return
		case <-ticker.C:
			if _, err := r.Reap(ctx); err != nil && ctx.Err() == nil {
				r.log.Error("Failed to reap stuck tasks", zap.Error(err))
			}
		}
	}
}

// Reap runs one sweep and returns how many tasks it failed
func (r *StuckReaper) Reap(ctx context.Context) (int, error) {
	now := r.now()
	tasks, err := r.repo.ListStuck(ctx, now.Add(-r.opts.StuckAfter), r.opts.Batch)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, task := range tasks {
		owner := ""
		if task.AssignedTo != nil {
			owner = *task.AssignedTo
		}

		if r.coordinator != nil && owner != "" {
			bee, err := r.coordinator.GetBee(ctx, owner)
			if err != nil {
				r.log.Warn("Could not check owner heartbeat, skipping",
					zap.String("task_id", task.ID), zap.String("bee", owner), zap.Error(err))
				continue
			}
			if ownsTask(bee, task) {
				continue
			}
		}

		msg := fmt.Sprintf("%s: owner %q is no longer running it", domain.ErrStuckTask, owner)
		if task.StartedAt != nil {
			msg = fmt.Sprintf("%s, processing since %s", msg, task.StartedAt.Format(time.RFC3339))
		}
		completedAt := now
		ok, err := r.repo.UpdateStatus(ctx, task.ID, domain.TaskStatusProcessing, domain.TaskStatusFailed, domain.TaskUpdate{
			Error:       &msg,
			CompletedAt: &completedAt,
		})
		if err != nil {
			return reaped, err
		}
		if !ok {
			// finished while we were looking
			continue
		}
		reaped++

		task.Status = domain.TaskStatusFailed
		task.Error = &msg
		task.CompletedAt = &completedAt

		r.log.Warn("Reaped stuck task", zap.String("task_id", task.ID), zap.String("bee", owner))
		if err := r.events.PublishEvent(ctx, domain.TaskEvent{
			TaskID:   task.ID,
			Command:  task.Command,
			From:     domain.TaskStatusProcessing,
			To:       domain.TaskStatusFailed,
			WorkerID: owner,
			Error:    msg,
			At:       completedAt,
		}); err != nil {
			r.log.Warn("Failed to publish task event", zap.String("task_id", task.ID), zap.Error(err))
		}
		if err := r.cache.Put(ctx, task); err != nil {
			r.log.Debug("Failed to cache reaped task", zap.String("task_id", task.ID), zap.Error(err))
		}
	}
	return reaped, nil
}

// ownsTask reports whether a live bee is still executing task. A bee that
// restarted under the same id heartbeats again but no longer runs the task.
func ownsTask(bee *domain.Bee, task *domain.TaskRecord) bool {
	return bee != nil && bee.CurrentTaskID == task.ID
}
