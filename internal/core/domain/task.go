package domain

import (
	"fmt"
	"strings"
	"time"
)

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// IsTerminal reports whether no further status writes are allowed
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// transitions is the whole lifecycle; anything not listed is rejected
var transitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:    {TaskStatusProcessing},
	TaskStatusProcessing: {TaskStatusCompleted, TaskStatusFailed},
}

// CanTransition reports whether from -> to is a legal lifecycle step
func CanTransition(from, to TaskStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Rank orders priorities, lower first
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// ParsePriority maps user input to a Priority, empty input means normal
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PriorityNormal, nil
	case PriorityHigh, PriorityNormal, PriorityLow:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPriority, s)
	}
}

// TaskRecord is the persisted unit of work
type TaskRecord struct {
	ID          string         `json:"id"`
	Command     string         `json:"command"`
	Payload     map[string]any `json:"payload"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Status      TaskStatus     `json:"status"`
	Priority    Priority       `json:"priority"`
	Affinity    *string        `json:"affinity,omitempty"`     // only this bee may claim the task
	AssignedTo  *string        `json:"assigned_to,omitempty"`  // last owner, kept after completion
	Result      map[string]any `json:"result,omitempty"`       // completed only
	Error       *string        `json:"error,omitempty"`        // failed only
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the record reached completed or failed
func (t *TaskRecord) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// TaskFilter narrows the eligible set a bee forages from
type TaskFilter struct {
	Statuses       []TaskStatus
	Types          []string
	WorkerAffinity string
}

// TaskUpdate holds the columns written together with a status change.
// Nil fields are left untouched.
type TaskUpdate struct {
	AssignedTo  *string
	StartedAt   *time.Time
	CompletedAt *time.Time
	Result      map[string]any
	Error       *string
}

// EnqueueRequest is what enqueue points hand to the queue
type EnqueueRequest struct {
	Command  string         `json:"command"`
	Payload  map[string]any `json:"payload"`
	Priority Priority       `json:"priority"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Affinity string         `json:"affinity,omitempty"`
}
