package service

import (
	"context"
	"fmt"
	"time"

	"github.com/crabzie/hive/internal/core/domain"
	"github.com/crabzie/hive/internal/core/port"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Schedule enqueues Command every time Spec fires
type Schedule struct {
	Name     string
	Spec     string
	Command  string
	Payload  map[string]any
	Priority domain.Priority
}

// cronParser accepts 5 or 6 fields and descriptors like @every 5m
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type schedulerService struct {
	tasks     port.TaskService
	cron      *cron.Cron
	schedules []Schedule
	names     map[cron.EntryID]string
	log       *zap.Logger
}

// NewSchedulerService validates every schedule up front; a bad spec is a startup error
func NewSchedulerService(tasks port.TaskService, schedules []Schedule, log *zap.Logger) (*schedulerService, error) {
	log = log.Named("scheduler")
	s := &schedulerService{
		tasks: tasks,
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLogger{log.Sugar()}),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger{log.Sugar()})),
		),
		schedules: schedules,
		names:     make(map[cron.EntryID]string, len(schedules)),
		log:       log,
	}

	for _, sch := range schedules {
		if sch.Command == "" {
			return nil, fmt.Errorf("schedule %q: %w: empty command", sch.Name, domain.ErrInvalidTask)
		}
		if _, err := domain.ParsePriority(string(sch.Priority)); err != nil {
			return nil, fmt.Errorf("schedule %q: %w", sch.Name, err)
		}
		sch := sch
		id, err := s.cron.AddFunc(sch.Spec, func() {
			if _, err := s.Trigger(context.Background(), sch); err != nil {
				s.log.Error("Scheduled enqueue failed", zap.String("schedule", sch.Name), zap.Error(err))
			}
		})
		if err != nil {
			return nil, fmt.Errorf("schedule %q: invalid spec %q: %w", sch.Name, sch.Spec, err)
		}
		s.names[id] = sch.Name
	}
	return s, nil
}

// StartScheduler runs the cron entries until ctx is done
func (s *schedulerService) StartScheduler(ctx context.Context) {
	s.log.Info("Starting scheduler", zap.Int("schedules", len(s.schedules)))
	s.cron.Start()

	<-ctx.Done()
	s.log.Info("Stopping scheduler loop")
	<-s.cron.Stop().Done()
}

// Trigger enqueues one run of sch immediately
func (s *schedulerService) Trigger(ctx context.Context, sch Schedule) (*domain.TaskRecord, error) {
	payload := make(map[string]any, len(sch.Payload))
	for k, v := range sch.Payload {
		payload[k] = v
	}

	task, err := s.tasks.Enqueue(ctx, domain.EnqueueRequest{
		Command:  sch.Command,
		Payload:  payload,
		Priority: sch.Priority,
		Metadata: map[string]any{
			"source":   "schedule",
			"schedule": sch.Name,
		},
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("Scheduled task enqueued",
		zap.String("schedule", sch.Name),
		zap.String("task_id", task.ID),
		zap.String("command", task.Command))
	return task, nil
}

// Next reports when each schedule fires next, keyed by name
func (s *schedulerService) Next() map[string]time.Time {
	next := make(map[string]time.Time, len(s.names))
	for _, e := range s.cron.Entries() {
		next[s.names[e.ID]] = e.Next
	}
	return next
}

// cronLogger routes cron's own logging into zap
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
