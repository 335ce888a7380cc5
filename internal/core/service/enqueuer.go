package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/crabzie/hive/internal/core/domain"
	"github.com/crabzie/hive/internal/core/port"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AwaitOptions bounds how long callers may block on completion
type AwaitOptions struct {
	PollInterval   time.Duration
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
}

type enqueuer struct {
	repo       port.TaskRepository
	events     port.EventPublisher
	subscriber port.EventSubscriber
	cache      port.ResultCache
	await      AwaitOptions
	log        *zap.Logger
}

// NewEnqueuer builds the task service used by every enqueue point.
// events, subscriber and cache may be nil.
func NewEnqueuer(
	repo port.TaskRepository,
	events port.EventPublisher,
	subscriber port.EventSubscriber,
	cache port.ResultCache,
	await AwaitOptions,
	log *zap.Logger,
) port.TaskService {
	if await.PollInterval <= 0 {
		await.PollInterval = 500 * time.Millisecond
	}
	if await.DefaultTimeout <= 0 {
		await.DefaultTimeout = 30 * time.Second
	}
	if await.MaxTimeout < await.DefaultTimeout {
		await.MaxTimeout = await.DefaultTimeout
	}

	return &enqueuer{
		repo:       repo,
		events:     publisherOrNop(events),
		subscriber: subscriber,
		cache:      cacheOrNop(cache),
		await:      await,
		log:        log.Named("enqueuer"),
	}
}

// Enqueue durably inserts a pending task and returns without waiting for it
func (e *enqueuer) Enqueue(ctx context.Context, req domain.EnqueueRequest) (*domain.TaskRecord, error) {
	command := strings.TrimSpace(req.Command)
	if command == "" {
		return nil, fmt.Errorf("%w: empty command", domain.ErrInvalidTask)
	}
	priority, err := domain.ParsePriority(string(req.Priority))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidTask, err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("%w: generate id: %w", domain.ErrEnqueueFailure, err)
	}

	payload := req.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	task := &domain.TaskRecord{
		ID:        id.String(),
		Command:   command,
		Payload:   payload,
		Metadata:  req.Metadata,
		Status:    domain.TaskStatusPending,
		Priority:  priority,
		CreatedAt: time.Now().UTC(),
	}
	if req.Affinity != "" {
		affinity := req.Affinity
		task.Affinity = &affinity
	}

	if err := e.repo.Insert(ctx, task); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrEnqueueFailure, err)
	}

	e.log.Info("Task enqueued",
		zap.String("task_id", task.ID),
		zap.String("command", task.Command),
		zap.String("priority", string(task.Priority)))

	if err := e.events.PublishEvent(ctx, domain.TaskEvent{
		TaskID:  task.ID,
		Command: task.Command,
		To:      domain.TaskStatusPending,
		At:      task.CreatedAt,
	}); err != nil {
		e.log.Warn("Failed to publish task event", zap.String("task_id", task.ID), zap.Error(err))
	}

	return task, nil
}

// Get reads the cache first; terminal records are immutable so a hit is final
func (e *enqueuer) Get(ctx context.Context, id string) (*domain.TaskRecord, error) {
	if task, err := e.cache.Get(ctx, id); err == nil && task != nil {
		return task, nil
	}

	task, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.IsTerminal() {
		if err := e.cache.Put(ctx, task); err != nil {
			e.log.Debug("Failed to warm result cache", zap.String("task_id", id), zap.Error(err))
		}
	}
	return task, nil
}

func (e *enqueuer) List(ctx context.Context, filter domain.TaskFilter, limit int) ([]*domain.TaskRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return e.repo.List(ctx, filter, limit)
}

// Await blocks until the task is terminal or timeout elapses. On timeout it
// returns the latest record together with ErrStillProcessing.
func (e *enqueuer) Await(ctx context.Context, id string, timeout time.Duration) (*domain.TaskRecord, error) {
	if timeout <= 0 {
		timeout = e.await.DefaultTimeout
	}
	if timeout > e.await.MaxTimeout {
		timeout = e.await.MaxTimeout
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var events <-chan domain.TaskEvent
	if e.subscriber != nil {
		ch, err := e.subscriber.Subscribe(waitCtx, id)
		if err != nil {
			e.log.Warn("Event subscription failed, polling only", zap.String("task_id", id), zap.Error(err))
		} else {
			events = ch
		}
	}

	ticker := time.NewTicker(e.await.PollInterval)
	defer ticker.Stop()

	for {
		task, err := e.Get(waitCtx, id)
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if task != nil && task.IsTerminal() {
			return task, nil
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return task, ctx.Err()
			}
			if task == nil {
				// the last read raced the deadline
				task, err = e.Get(ctx, id)
				if err != nil {
					return nil, err
				}
				if task.IsTerminal() {
					return task, nil
				}
			}
			return task, domain.ErrStillProcessing
		case <-ticker.C:
		case _, ok := <-events:
			if !ok {
				events = nil
			}
		}
	}
}

// Subscribe streams transitions of one task, or of every task when id is empty
func (e *enqueuer) Subscribe(ctx context.Context, id string) (<-chan domain.TaskEvent, error) {
	if e.subscriber == nil {
		return nil, domain.ErrNoEventStream
	}
	return e.subscriber.Subscribe(ctx, id)
}
