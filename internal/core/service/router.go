package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/crabzie/hive/internal/core/domain"
	"github.com/crabzie/hive/internal/core/port"
	"go.uber.org/zap"
)

const DefaultCapability = "general"

// DefaultRules is the keyword table used when config provides none. Order matters.
var DefaultRules = []domain.CapabilityRule{
	{Keyword: "chat", Capability: "chat"},
	{Keyword: "image", Capability: "image"},
	{Keyword: "video", Capability: "video"},
	{Keyword: "moderat", Capability: "moderation"},
	{Keyword: "vitals", Capability: "vitals"},
	{Keyword: "bridge", Capability: "bridge"},
	{Keyword: "run_bee", Capability: "bee"},
}

// CapabilityRouter resolves a task type to a capability and runs the first handler for it
type CapabilityRouter struct {
	registry *HandlerRegistry
	rules    []domain.CapabilityRule
	fallback string
	log      *zap.Logger
}

// NewCapabilityRouter builds a router; nil rules and an empty fallback use the defaults
func NewCapabilityRouter(registry *HandlerRegistry, rules []domain.CapabilityRule, fallback string, log *zap.Logger) *CapabilityRouter {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	if fallback == "" {
		fallback = DefaultCapability
	}

	normalized := make([]domain.CapabilityRule, 0, len(rules))
	for _, r := range rules {
		if r.Keyword == "" || r.Capability == "" {
			continue
		}
		normalized = append(normalized, domain.CapabilityRule{
			Keyword:    strings.ToLower(r.Keyword),
			Capability: strings.ToLower(r.Capability),
		})
	}

	return &CapabilityRouter{
		registry: registry,
		rules:    normalized,
		fallback: strings.ToLower(fallback),
		log:      log.Named("router"),
	}
}

// Resolve never fails: unknown types map to the fallback capability
func (r *CapabilityRouter) Resolve(taskType string) string {
	t := strings.ToLower(taskType)
	for _, rule := range r.rules {
		if strings.Contains(t, rule.Keyword) {
			return rule.Capability
		}
	}
	return r.fallback
}

// Dispatch runs the task on the first handler registered for its capability.
// Every failure, including a handler panic, comes back as an unsuccessful result.
func (r *CapabilityRouter) Dispatch(ctx context.Context, task *domain.TaskRecord) domain.TaskResult {
	capability := r.Resolve(task.Command)

	handlers := r.registry.HandlersFor(capability)
	if len(handlers) == 0 {
		r.log.Warn("No handler for capability",
			zap.String("task_id", task.ID),
			zap.String("command", task.Command),
			zap.String("capability", capability))
		return domain.TaskResult{
			Success:    false,
			Capability: capability,
			Error:      fmt.Sprintf("%s: %s", domain.ErrNoHandlerForCapability, capability),
		}
	}

	h := handlers[0]
	result := runHandler(ctx, h.Handler, task.Payload)
	result.Capability = capability
	result.HandlerID = h.Descriptor.ID
	return result
}

// DirectExecutor bypasses routing and runs every task on one handler
type DirectExecutor struct {
	ID      string
	Handler port.Handler
}

func (d DirectExecutor) Dispatch(ctx context.Context, task *domain.TaskRecord) domain.TaskResult {
	result := runHandler(ctx, d.Handler, task.Payload)
	result.HandlerID = d.ID
	return result
}

func runHandler(ctx context.Context, h port.Handler, payload map[string]any) (result domain.TaskResult) {
	defer func() {
		if rec := recover(); rec != nil {
			result = domain.TaskResult{
				Success: false,
				Error:   fmt.Sprintf("%s: panic: %v", domain.ErrHandlerExecution, rec),
			}
		}
	}()

	if payload == nil {
		payload = map[string]any{}
	}
	data, err := h.Run(ctx, payload)
	if err != nil {
		return domain.TaskResult{Success: false, Error: err.Error()}
	}
	if data == nil {
		data = map[string]any{}
	}
	return domain.TaskResult{Success: true, Data: data}
}
