// Package query builds the task table SQL shared by the postgres and sqlite repositories.
package query

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/crabzie/hive/internal/core/domain"
)

// Table is the single shared queue table
const Table = "tasks"

// Dialect carries the few differences between the supported SQL engines
type Dialect struct {
	Name      string
	builder   squirrel.StatementBuilderType
	jsonWrite string // placeholder wrapping JSON arguments
	jsonRead  string // cast applied to JSON columns on read
}

var (
	Postgres = Dialect{
		Name:      "postgres",
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		jsonWrite: "?::jsonb",
		jsonRead:  "::text",
	}
	SQLite = Dialect{
		Name:      "sqlite",
		builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
		jsonWrite: "?",
	}
)

var jsonColumns = map[string]bool{"payload": true, "metadata": true, "result": true}

var columns = []string{
	"id", "command", "payload", "metadata", "status", "priority", "affinity",
	"assigned_to", "result", "error", "created_at", "started_at", "completed_at",
}

// priorityOrder sorts high before normal before low
var priorityOrder = fmt.Sprintf("CASE priority WHEN '%s' THEN 0 WHEN '%s' THEN 1 ELSE 2 END",
	domain.PriorityHigh, domain.PriorityNormal)

// TaskRow is the scan target for both pgx and sqlx
type TaskRow struct {
	ID          string         `db:"id"`
	Command     string         `db:"command"`
	Payload     string         `db:"payload"`
	Metadata    sql.NullString `db:"metadata"`
	Status      string         `db:"status"`
	Priority    string         `db:"priority"`
	Affinity    sql.NullString `db:"affinity"`
	AssignedTo  sql.NullString `db:"assigned_to"`
	Result      sql.NullString `db:"result"`
	Error       sql.NullString `db:"error"`
	CreatedAt   time.Time      `db:"created_at"`
	StartedAt   sql.NullTime   `db:"started_at"`
	CompletedAt sql.NullTime   `db:"completed_at"`
}

// Record converts the row into a domain record
func (r TaskRow) Record() (*domain.TaskRecord, error) {
	t := &domain.TaskRecord{
		ID:        r.ID,
		Command:   r.Command,
		Status:    domain.TaskStatus(r.Status),
		Priority:  domain.Priority(r.Priority),
		CreatedAt: r.CreatedAt.UTC(),
	}

	var err error
	if t.Payload, err = decodeJSON(r.Payload); err != nil {
		return nil, fmt.Errorf("decode payload of task %s: %w", r.ID, err)
	}
	if r.Metadata.Valid {
		if t.Metadata, err = decodeJSON(r.Metadata.String); err != nil {
			return nil, fmt.Errorf("decode metadata of task %s: %w", r.ID, err)
		}
	}
	if r.Result.Valid {
		if t.Result, err = decodeJSON(r.Result.String); err != nil {
			return nil, fmt.Errorf("decode result of task %s: %w", r.ID, err)
		}
	}
	t.Affinity = nullString(r.Affinity)
	t.AssignedTo = nullString(r.AssignedTo)
	t.Error = nullString(r.Error)
	t.StartedAt = nullTime(r.StartedAt)
	t.CompletedAt = nullTime(r.CompletedAt)
	return t, nil
}

// Columns returns the select list, casting JSON columns where the dialect needs it
func (d Dialect) Columns() []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		if d.jsonRead != "" && jsonColumns[c] {
			out[i] = c + d.jsonRead + " AS " + c
			continue
		}
		out[i] = c
	}
	return out
}

// Insert builds the insert of a new pending task
func (d Dialect) Insert(t *domain.TaskRecord) (string, []any, error) {
	payload, err := encodeJSON(t.Payload, true)
	if err != nil {
		return "", nil, fmt.Errorf("encode payload: %w", err)
	}
	metadata, err := encodeJSON(t.Metadata, false)
	if err != nil {
		return "", nil, fmt.Errorf("encode metadata: %w", err)
	}

	return d.builder.Insert(Table).
		Columns("id", "command", "payload", "metadata", "status", "priority", "affinity", "created_at").
		Values(
			t.ID,
			t.Command,
			d.jsonArg(payload),
			d.jsonArg(metadata),
			string(t.Status),
			string(t.Priority),
			stringArg(t.Affinity),
			t.CreatedAt.UTC(),
		).
		ToSql()
}

// NextEligible selects at most one candidate ordered by priority then age
func (d Dialect) NextEligible(f domain.TaskFilter) (string, []any, error) {
	return d.selectTasks(f).
		OrderBy(priorityOrder, "created_at ASC", "id ASC").
		Limit(1).
		ToSql()
}

// List selects tasks matching the filter, newest first
func (d Dialect) List(f domain.TaskFilter, limit int) (string, []any, error) {
	return d.selectTasks(f).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit)).
		ToSql()
}

// GetByID selects a single task
func (d Dialect) GetByID(id string) (string, []any, error) {
	return d.builder.Select(d.Columns()...).
		From(Table).
		Where(squirrel.Eq{"id": id}).
		ToSql()
}

// ListStuck selects processing tasks started before the cutoff, oldest first
func (d Dialect) ListStuck(startedBefore time.Time, limit int) (string, []any, error) {
	return d.builder.Select(d.Columns()...).
		From(Table).
		Where(squirrel.Eq{"status": string(domain.TaskStatusProcessing)}).
		Where(squirrel.Lt{"started_at": startedBefore.UTC()}).
		OrderBy("started_at ASC").
		Limit(uint64(limit)).
		ToSql()
}

// UpdateStatus builds the conditional status write.
// The WHERE on the current status is what makes claims and terminal writes race-safe.
func (d Dialect) UpdateStatus(id string, from, to domain.TaskStatus, u domain.TaskUpdate) (string, []any, error) {
	q := d.builder.Update(Table).Set("status", string(to))

	if u.AssignedTo != nil {
		q = q.Set("assigned_to", *u.AssignedTo)
	}
	if u.StartedAt != nil {
		q = q.Set("started_at", u.StartedAt.UTC())
	}
	if u.CompletedAt != nil {
		q = q.Set("completed_at", u.CompletedAt.UTC())
	}
	if u.Result != nil {
		result, err := encodeJSON(u.Result, true)
		if err != nil {
			return "", nil, fmt.Errorf("encode result: %w", err)
		}
		q = q.Set("result", d.jsonArg(result))
	}
	if u.Error != nil {
		q = q.Set("error", *u.Error)
	}

	return q.Where(squirrel.Eq{"id": id, "status": string(from)}).ToSql()
}

func (d Dialect) selectTasks(f domain.TaskFilter) squirrel.SelectBuilder {
	q := d.builder.Select(d.Columns()...).From(Table)

	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		q = q.Where(squirrel.Eq{"status": statuses})
	}
	if len(f.Types) > 0 {
		q = q.Where(squirrel.Eq{"command": f.Types})
	}
	if f.WorkerAffinity != "" {
		q = q.Where(squirrel.Or{
			squirrel.Eq{"affinity": nil},
			squirrel.Eq{"affinity": f.WorkerAffinity},
		})
	}
	return q
}

func (d Dialect) jsonArg(v any) any {
	if v == nil {
		return nil
	}
	return squirrel.Expr(d.jsonWrite, v)
}

// encodeJSON renders a map as a JSON object; required maps never encode as NULL
func encodeJSON(m map[string]any, required bool) (any, error) {
	if m == nil {
		if !required {
			return nil, nil
		}
		m = map[string]any{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeJSON(s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func stringArg(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
