package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/crabzie/hive/internal/adapter/storage/query"
	"github.com/crabzie/hive/internal/core/domain"
	"github.com/crabzie/hive/internal/core/port"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

type taskRepository struct {
	db  *sqlx.DB
	log *zap.Logger
}

// NewTaskRepository creates a new sqlite repository
func NewTaskRepository(db *sqlx.DB, log *zap.Logger) port.TaskRepository {
	return &taskRepository{
		db:  db,
		log: log,
	}
}

func (r *taskRepository) Insert(ctx context.Context, task *domain.TaskRecord) error {
	stmt, args, err := query.SQLite.Insert(task)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, stmt, args...); err != nil {
		r.log.Error("Failed to insert task", zap.String("task_id", task.ID), zap.Error(err))
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (r *taskRepository) FindNextEligible(ctx context.Context, filter domain.TaskFilter) (*domain.TaskRecord, error) {
	if len(filter.Statuses) == 0 {
		filter.Statuses = []domain.TaskStatus{domain.TaskStatusPending}
	}
	stmt, args, err := query.SQLite.NextEligible(filter)
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
	stmt, args, err := query.SQLite.UpdateStatus(id, from, to, fields)
	if err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("update task %s %s->%s: %w", id, from, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (r *taskRepository) GetByID(ctx context.Context, id string) (*domain.TaskRecord, error) {
	stmt, args, err := query.SQLite.GetByID(id)
	if err != nil {
		return nil, err
	}
	return r.queryOne(ctx, stmt, args...)
}

func (r *taskRepository) List(ctx context.Context, filter domain.TaskFilter, limit int) ([]*domain.TaskRecord, error) {
	stmt, args, err := query.SQLite.List(filter, limit)
	if err != nil {
		return nil, err
	}
	return r.queryMany(ctx, stmt, args...)
}

func (r *taskRepository) ListStuck(ctx context.Context, startedBefore time.Time, limit int) ([]*domain.TaskRecord, error) {
	stmt, args, err := query.SQLite.ListStuck(startedBefore, limit)
	if err != nil {
		return nil, err
	}
	return r.queryMany(ctx, stmt, args...)
}

func (r *taskRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *taskRepository) queryOne(ctx context.Context, stmt string, args ...any) (*domain.TaskRecord, error) {
	var row query.TaskRow
	if err := r.db.GetContext(ctx, &row, stmt, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("query task: %w", err)
	}
	return row.Record()
}

func (r *taskRepository) queryMany(ctx context.Context, stmt string, args ...any) ([]*domain.TaskRecord, error) {
	var rows []query.TaskRow
	if err := r.db.SelectContext(ctx, &rows, stmt, args...); err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}

	tasks := make([]*domain.TaskRecord, 0, len(rows))
	for _, row := range rows {
		t, err := row.Record()
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}
