package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/crabzie/hive/internal/adapter/storage/query"
	"github.com/crabzie/hive/internal/core/domain"
	"github.com/crabzie/hive/internal/core/port"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type taskRepository struct {
	db  *pgxpool.Pool
	log *zap.Logger
}

// NewTaskRepository creates a new postgres repository
func NewTaskRepository(db *pgxpool.Pool, log *zap.Logger) port.TaskRepository {
	return &taskRepository{
		db:  db,
		log: log,
	}
}

func (r *taskRepository) Insert(ctx context.Context, task *domain.TaskRecord) error {
	stmt, args, err := query.Postgres.Insert(task)
	if err != nil {
		return err
	}
	if _, err := r.db.Exec(ctx, stmt, args...); err != nil {
		r.log.Error("Failed to insert task", zap.String("task_id", task.ID), zap.Error(err))
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (r *taskRepository) FindNextEligible(ctx context.Context, filter domain.TaskFilter) (*domain.TaskRecord, error) {
	if len(filter.Statuses) == 0 {
		filter.Statuses = []domain.TaskStatus{domain.TaskStatusPending}
	}
	stmt, args, err := query.Postgres.NextEligible(filter)
	if err != nil {
		return nil, err
	}
	task, err := r.queryOne(ctx, stmt, args...)
	if errors.Is(err, domain.ErrTaskNotFound) {
		return nil, nil
	}
	return task, err
}

func (r *taskRepository) UpdateStatus(ctx context.Context, id string, from, to domain.TaskStatus, fields domain.TaskUpdate) (bool, error) {
	if !domain.CanTransition(from, to) {
		return false, nil
	}
	stmt, args, err := query.Postgres.UpdateStatus(id, from, to, fields)
	if err != nil {
		return false, err
	}
	tag, err := r.db.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("update task %s %s->%s: %w", id, from, to, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *taskRepository) GetByID(ctx context.Context, id string) (*domain.TaskRecord, error) {
	stmt, args, err := query.Postgres.GetByID(id)
	if err != nil {
		return nil, err
	}
	return r.queryOne(ctx, stmt, args...)
}

func (r *taskRepository) List(ctx context.Context, filter domain.TaskFilter, limit int) ([]*domain.TaskRecord, error) {
	stmt, args, err := query.Postgres.List(filter, limit)
	if err != nil {
		return nil, err
	}
	return r.queryMany(ctx, stmt, args...)
}

func (r *taskRepository) ListStuck(ctx context.Context, startedBefore time.Time, limit int) ([]*domain.TaskRecord, error) {
	stmt, args, err := query.Postgres.ListStuck(startedBefore, limit)
	if err != nil {
		return nil, err
	}
	return r.queryMany(ctx, stmt, args...)
}

func (r *taskRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func (r *taskRepository) queryOne(ctx context.Context, stmt string, args ...any) (*domain.TaskRecord, error) {
	rows, err := r.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}
	row, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[query.TaskRow])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	return row.Record()
}

func (r *taskRepository) queryMany(ctx context.Context, stmt string, args ...any) ([]*domain.TaskRecord, error) {
	rows, err := r.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	collected, err := pgx.CollectRows(rows, pgx.RowToStructByName[query.TaskRow])
	if err != nil {
		return nil, fmt.Errorf("scan tasks: %w", err)
	}

	tasks := make([]*domain.TaskRecord, 0, len(collected))
	for _, row := range collected {
		t, err := row.Record()
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}
