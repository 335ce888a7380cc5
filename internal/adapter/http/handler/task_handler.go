package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/crabzie/hive/internal/core/domain"
	"github.com/crabzie/hive/internal/core/port"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/spf13/cast"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type TaskHandler struct {
	tasks port.TaskService
	log   *zap.Logger
}

func NewTaskHandler(tasks port.TaskService, log *zap.Logger) *TaskHandler {
	return &TaskHandler{tasks: tasks, log: log.Named("http")}
}

// CreateTaskRequest is the body of POST /api/v1/tasks
type CreateTaskRequest struct {
	Command  string         `json:"command" binding:"required"`
	Payload  map[string]any `json:"payload"`
	Priority string         `json:"priority" binding:"omitempty,oneof=high normal low"`
	Metadata map[string]any `json:"metadata"`
	Affinity string         `json:"affinity"`
}

// POST /api/v1/tasks
func (h *TaskHandler) CreateTask(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": err.Error()})
		return
	}

	task, err := h.tasks.Enqueue(c.Request.Context(), domain.EnqueueRequest{
		Command:  req.Command,
		Payload:  req.Payload,
		Priority: domain.Priority(req.Priority),
		Metadata: req.Metadata,
		Affinity: req.Affinity,
	})
	switch {
	case errors.Is(err, domain.ErrInvalidTask):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task", "detail": err.Error()})
		return
	case err != nil:
		h.log.Error("Enqueue failed", zap.String("command", req.Command), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create task failed", "detail": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"task_id": task.ID, "status": task.Status})
}

// GET /api/v1/tasks?status=pending,processing&command=check_vitals&limit=50
func (h *TaskHandler) ListTasks(c *gin.Context) {
	var filter domain.TaskFilter
	for _, s := range splitList(c.Query("status")) {
		filter.Statuses = append(filter.Statuses, domain.TaskStatus(s))
	}
	filter.Types = splitList(c.Query("command"))

	tasks, err := h.tasks.List(c.Request.Context(), filter, cast.ToInt(c.Query("limit")))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list tasks failed", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "count": len(tasks)})
}

// GET /api/v1/tasks/:id
func (h *TaskHandler) GetTask(c *gin.Context) {
	task, err := h.tasks.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.taskError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": task})
}

// GET /api/v1/tasks/:id/wait?timeout=30s
// 200 once the task is terminal, 202 with the latest record when the timeout elapses first.
func (h *TaskHandler) WaitTask(c *gin.Context) {
	timeout, err := parseTimeout(c.Query("timeout"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid timeout", "detail": err.Error()})
		return
	}

	task, err := h.tasks.Await(c.Request.Context(), c.Param("id"), timeout)
	if errors.Is(err, domain.ErrStillProcessing) {
		c.JSON(http.StatusAccepted, gin.H{"task": task, "terminal": false})
		return
	}
	if err != nil {
		h.taskError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": task, "terminal": true})
}

// GET /api/v1/tasks/:id/events (websocket)
// The first frame is the task's current state, then every later transition.
// The socket closes after the terminal one.
func (h *TaskHandler) StreamEvents(c *gin.Context) {
	id := c.Param("id")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	events, err := h.tasks.Subscribe(ctx, id)
	if errors.Is(err, domain.ErrNoEventStream) {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "event stream disabled"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "subscribe failed", "detail": err.Error()})
		return
	}

	// read after subscribing so a transition in between is not lost
	task, err := h.tasks.Get(ctx, id)
	if err != nil {
		h.taskError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("Failed to upgrade websocket", zap.String("task_id", id), zap.Error(err))
		return
	}
	defer conn.Close()

	// reader: notice the client going away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := h.writeEvent(conn, snapshotEvent(task)); err != nil {
		return
	}
	if task.IsTerminal() {
		closeNormal(conn)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			// already sent as the snapshot
			if e.To == task.Status {
				continue
			}
			if err := h.writeEvent(conn, e); err != nil {
				return
			}
			if e.To.IsTerminal() {
				closeNormal(conn)
				return
			}
		}
	}
}

func (h *TaskHandler) writeEvent(conn *websocket.Conn, e domain.TaskEvent) error {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(e); err != nil {
		h.log.Debug("Websocket write failed", zap.String("task_id", e.TaskID), zap.Error(err))
		return err
	}
	return nil
}

func (h *TaskHandler) taskError(c *gin.Context, err error) {
	if errors.Is(err, domain.ErrTaskNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	h.log.Error("Task lookup failed", zap.String("task_id", c.Param("id")), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "task lookup failed", "detail": err.Error()})
}

func closeNormal(conn *websocket.Conn) {
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "task finished"),
		time.Now().Add(time.Second))
}

// parseTimeout accepts Go durations ("30s") and bare seconds ("30")
func parseTimeout(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	secs, err := cast.ToIntE(s)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs) * time.Second, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// snapshotEvent describes the stored state of t as the transition that produced it
func snapshotEvent(t *domain.TaskRecord) domain.TaskEvent {
	at := t.CreatedAt
	switch {
	case t.CompletedAt != nil:
		at = *t.CompletedAt
	case t.StartedAt != nil:
		at = *t.StartedAt
	}
	return domain.TaskEvent{
		TaskID:   t.ID,
		Command:  t.Command,
		To:       t.Status,
		WorkerID: deref(t.AssignedTo),
		Error:    deref(t.Error),
		At:       at,
	}
}
