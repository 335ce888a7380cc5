package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crabzie/hive/internal/core/domain"
	"github.com/crabzie/hive/internal/core/port"
	"go.uber.org/zap"
)

// Outcome is what a single forage cycle ended with
type Outcome int

const (
	OutcomeIdle      Outcome = iota // nothing eligible
	OutcomeBusy                     // a cycle was already in flight
	OutcomeClaimLost                // another bee claimed the task first
	OutcomeCompleted
	OutcomeFailed
	OutcomeStale // terminal write rejected, the row left processing under us
	OutcomeError // store unavailable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIdle:
		return "idle"
	case OutcomeBusy:
		return "busy"
	case OutcomeClaimLost:
		return "claim_lost"
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	case OutcomeStale:
		return "stale"
	default:
		return "error"
	}
}

// BeeOptions configures a single poller
type BeeOptions struct {
	ID                string
	Hostname          string
	Interval          time.Duration
	Types             []string
	HeartbeatInterval time.Duration
	HeartbeatTTL      time.Duration
}

// Bee polls the task table, claims one task at a time and writes its terminal state
type Bee struct {
	opts        BeeOptions
	repo        port.TaskRepository
	claimer     *Claimer
	executor    port.Executor
	events      port.EventPublisher
	cache       port.ResultCache
	coordinator port.BeeCoordinator
	caps        []string
	log         *zap.Logger

	busy     atomic.Bool
	draining atomic.Bool

	mu        sync.Mutex
	state     domain.BeeState
	current   string
	startedAt time.Time
}

// NewBee wires a bee. events, cache and coordinator may be nil.
func NewBee(
	opts BeeOptions,
	repo port.TaskRepository,
	executor port.Executor,
	events port.EventPublisher,
	cache port.ResultCache,
	coordinator port.BeeCoordinator,
	capabilities []string,
	log *zap.Logger,
) *Bee {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 10 * time.Second
	}
	if opts.HeartbeatTTL <= 0 {
		opts.HeartbeatTTL = 3 * opts.HeartbeatInterval
	}
	log = log.Named("bee").With(zap.String("bee", opts.ID))

	return &Bee{
		opts:        opts,
		repo:        repo,
		claimer:     NewClaimer(repo, log),
		executor:    executor,
		events:      publisherOrNop(events),
		cache:       cacheOrNop(cache),
		coordinator: coordinator,
		caps:        capabilities,
		log:         log,
		state:       domain.BeeStateIdle,
		startedAt:   time.Now().UTC(),
	}
}

func (b *Bee) ID() string { return b.opts.ID }

// State reports the current forage state
func (b *Bee) State() domain.BeeState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot is the presence record sent with heartbeats
func (b *Bee) Snapshot() *domain.Bee {
	b.mu.Lock()
	defer b.mu.Unlock()
	status := domain.BeeStatusActive
	if b.draining.Load() {
		status = domain.BeeStatusDraining
	}
	return &domain.Bee{
		ID:            b.opts.ID,
		Hostname:      b.opts.Hostname,
		Capabilities:  b.caps,
		Status:        status,
		State:         b.state,
		CurrentTaskID: b.current,
		StartedAt:     b.startedAt,
		LastHeartbeat: time.Now().UTC(),
	}
}

func (b *Bee) setState(state domain.BeeState, taskID string) {
	b.mu.Lock()
	b.state = state
	b.current = taskID
	b.mu.Unlock()
}

// Run forages on every tick until ctx is done. A task claimed before
// cancellation still runs to its terminal write before Run returns.
func (b *Bee) Run(ctx context.Context) error {
	b.log.Info("Starting bee",
		zap.Duration("interval", b.opts.Interval),
		zap.Strings("types", b.opts.Types),
		zap.Strings("capabilities", b.caps))

	var wg sync.WaitGroup
	if b.coordinator != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.heartbeatLoop(ctx)
		}()
	}
	defer wg.Wait()

	ticker := time.NewTicker(b.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.log.Info("Stopping bee")
			return nil
		case <-ticker.C:
			b.Forage(ctx)
		}
	}
}

// Forage runs one cycle: find, claim, execute, terminal write.
// It never starts while another cycle of the same bee is in flight.
func (b *Bee) Forage(ctx context.Context) Outcome {
	if !b.busy.CompareAndSwap(false, true) {
		return OutcomeBusy
	}
	defer b.busy.Store(false)
	defer b.setState(domain.BeeStateIdle, "")

	b.setState(domain.BeeStateForaging, "")

	task, err := b.repo.FindNextEligible(ctx, domain.TaskFilter{
		Statuses:       []domain.TaskStatus{domain.TaskStatusPending},
		Types:          b.opts.Types,
		WorkerAffinity: b.opts.ID,
	})
	if err != nil {
		if ctx.Err() == nil {
			b.log.Error("Failed to find eligible task", zap.Error(err))
		}
		return OutcomeError
	}
	if task == nil {
		return OutcomeIdle
	}

	ok, err := b.claimer.Claim(ctx, task, b.opts.ID)
	if err != nil {
		b.log.Error("Failed to claim task", zap.String("task_id", task.ID), zap.Error(err))
		return OutcomeError
	}
	if !ok {
		return OutcomeClaimLost
	}

	// the claim is ours now; shutdown must not strand the row in processing
	execCtx := context.WithoutCancel(ctx)
	b.publish(execCtx, task, domain.TaskStatusPending, "")
	b.setState(domain.BeeStateExecuting, task.ID)
	if b.coordinator != nil {
		// presence names the task before it can look stuck
		b.heartbeat(execCtx)
	}

	return b.execute(execCtx, task)
}

func (b *Bee) execute(ctx context.Context, task *domain.TaskRecord) Outcome {
	log := b.log.With(zap.String("task_id", task.ID), zap.String("command", task.Command))
	log.Info("Executing task")

	result := b.executor.Dispatch(ctx, task)
	completedAt := time.Now().UTC()

	to := domain.TaskStatusCompleted
	update := domain.TaskUpdate{CompletedAt: &completedAt}
	if result.Success {
		update.Result = result.Data
		if update.Result == nil {
			update.Result = map[string]any{}
		}
	} else {
		to = domain.TaskStatusFailed
		msg := result.Error
		if msg == "" {
			msg = domain.ErrHandlerExecution.Error()
		}
		update.Error = &msg
	}

	ok, err := b.repo.UpdateStatus(ctx, task.ID, domain.TaskStatusProcessing, to, update)
	if err != nil {
		log.Error("Failed to write terminal status", zap.String("status", string(to)), zap.Error(err))
		return OutcomeError
	}
	if !ok {
		log.Warn("Terminal write rejected, task no longer processing", zap.String("status", string(to)))
		return OutcomeStale
	}

	task.Status = to
	task.CompletedAt = &completedAt
	task.Result = update.Result
	task.Error = update.Error

	b.publish(ctx, task, domain.TaskStatusProcessing, result.Error)
	if err := b.cache.Put(ctx, task); err != nil {
		log.Warn("Failed to cache result", zap.Error(err))
	}

	if result.Success {
		log.Info("Task completed", zap.String("handler", result.HandlerID), zap.String("capability", result.Capability))
		return OutcomeCompleted
	}
	log.Warn("Task failed",
		zap.String("handler", result.HandlerID),
		zap.String("capability", result.Capability),
		zap.String("error", result.Error))
	return OutcomeFailed
}

func (b *Bee) publish(ctx context.Context, task *domain.TaskRecord, from domain.TaskStatus, errMsg string) {
	event := domain.TaskEvent{
		TaskID:   task.ID,
		Command:  task.Command,
		From:     from,
		To:       task.Status,
		WorkerID: b.opts.ID,
		Error:    errMsg,
		At:       time.Now().UTC(),
	}
	if err := b.events.PublishEvent(ctx, event); err != nil {
		b.log.Warn("Failed to publish task event", zap.String("task_id", task.ID), zap.Error(err))
	}
}

func (b *Bee) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(b.opts.HeartbeatInterval)
	defer ticker.Stop()

	b.heartbeat(ctx)
	for {
		select {
		case <-ctx.Done():
			// last word: draining until the key expires
			b.draining.Store(true)
			b.heartbeat(context.WithoutCancel(ctx))
			return
		case <-ticker.C:
			b.heartbeat(ctx)
		}
	}
}

func (b *Bee) heartbeat(ctx context.Context) {
	if err := b.coordinator.RegisterBee(ctx, b.Snapshot(), b.opts.HeartbeatTTL); err != nil {
		if ctx.Err() == nil {
			b.log.Error("Heartbeat failed", zap.Error(err))
		}
		return
	}
	b.log.Debug("Heartbeat sent")
}
