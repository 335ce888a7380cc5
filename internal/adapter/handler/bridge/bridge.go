// Package bridge serves the bridge capability: it hands work over to another
// capability by enqueueing a follow-up task, optionally waiting for it.
package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/crabzie/hive/internal/core/domain"
	"github.com/crabzie/hive/internal/core/port"
	"github.com/spf13/cast"
	"go.uber.org/zap"
)

// ErrChildUnclaimed means no bee picked up the child while the bridge waited
var ErrChildUnclaimed = errors.New("bridged task was not claimed")

type Handler struct {
	tasks port.TaskService
	log   *zap.Logger
}

func New(tasks port.TaskService, log *zap.Logger) *Handler {
	return &Handler{
		tasks: tasks,
		log:   log.Named("bridge"),
	}
}

func (h *Handler) Descriptor() domain.HandlerDescriptor {
	return domain.HandlerDescriptor{
		ID:           "bridge",
		Capabilities: []string{"bridge"},
	}
}

// Run payload: command, payload, priority, affinity, wait (bool), timeout (duration).
// The follow-up task records its parent in metadata when the payload carries parent_id.
//
// With wait the bee running the bridge task is held until the child finishes, so the
// child needs another bee able to claim it. A child still pending when the timeout
// elapses fails the bridge task with ErrChildUnclaimed; a child that was claimed but
// has not finished is reported with its status.
func (h *Handler) Run(ctx context.Context, payload map[string]any) (map[string]any, error) {
	command := cast.ToString(payload["command"])
	if command == "" {
		return nil, errors.New("bridge: missing command")
	}

	inner, err := cast.ToStringMapE(payload["payload"])
	if payload["payload"] != nil && err != nil {
		return nil, fmt.Errorf("bridge: payload must be an object: %w", err)
	}

	metadata := map[string]any{"source": "bridge"}
	if parent := cast.ToString(payload["parent_id"]); parent != "" {
		metadata["parent_id"] = parent
	}

	task, err := h.tasks.Enqueue(ctx, domain.EnqueueRequest{
		Command:  command,
		Payload:  inner,
		Priority: domain.Priority(cast.ToString(payload["priority"])),
		Metadata: metadata,
		Affinity: cast.ToString(payload["affinity"]),
	})
	if err != nil {
		return nil, err
	}
	h.log.Info("Bridged task", zap.String("task_id", task.ID), zap.String("command", command))

	result := map[string]any{
		"task_id": task.ID,
		"command": task.Command,
		"status":  string(task.Status),
	}
	if !cast.ToBool(payload["wait"]) {
		return result, nil
	}

	done, err := h.tasks.Await(ctx, task.ID, cast.ToDuration(payload["timeout"]))
	if errors.Is(err, domain.ErrStillProcessing) {
		if done == nil || done.Status == domain.TaskStatusPending {
			return nil, fmt.Errorf("%w: %s is still pending, no other bee serves %q", ErrChildUnclaimed, task.ID, command)
		}
		result["status"] = string(done.Status)
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	result["status"] = string(done.Status)
	if done.Status == domain.TaskStatusFailed && done.Error != nil {
		return nil, fmt.Errorf("bridged task %s failed: %s", done.ID, *done.Error)
	}
	result["result"] = done.Result
	return result, nil
}

var _ port.Handler = (*Handler)(nil)
