// Package vitals serves the vitals capability: a health snapshot of the
// fleet read from Prometheus.
package vitals

import (
	"context"
	"fmt"

	"github.com/crabzie/hive/internal/core/domain"
	"github.com/spf13/cast"
	"go.uber.org/zap"
)

const (
	ScopeBasic = "basic"
	ScopeFull  = "full"

	defaultCPUThreshold = 90.0
)

// Querier is the part of the Prometheus client the handler needs
type Querier interface {
	Query(ctx context.Context, query string) (float64, error)
}

type Handler struct {
	prom Querier
	log  *zap.Logger
}

func New(prom Querier, log *zap.Logger) *Handler {
	return &Handler{
		prom: prom,
		log:  log.Named("vitals"),
	}
}

func (h *Handler) Descriptor() domain.HandlerDescriptor {
	return domain.HandlerDescriptor{
		ID:           "vitals-prometheus",
		Capabilities: []string{"vitals"},
	}
}

// Run reads target health and, for the full scope, CPU and memory usage.
// Payload: scope (basic|full), instance (optional), cpu_threshold (percent).
func (h *Handler) Run(ctx context.Context, payload map[string]any) (map[string]any, error) {
	scope := cast.ToString(payload["scope"])
	if scope == "" {
		scope = ScopeBasic
	}
	if scope != ScopeBasic && scope != ScopeFull {
		return nil, fmt.Errorf("unknown vitals scope %q", scope)
	}
	instance := cast.ToString(payload["instance"])
	threshold := cast.ToFloat64(payload["cpu_threshold"])
	if threshold <= 0 {
		threshold = defaultCPUThreshold
	}

	selector := ""
	if instance != "" {
		selector = fmt.Sprintf(`{instance="%s"}`, instance)
	}

	up, err := h.prom.Query(ctx, fmt.Sprintf("sum(up%s)", selector))
	if err != nil {
		return nil, fmt.Errorf("query targets up: %w", err)
	}
	total, err := h.prom.Query(ctx, fmt.Sprintf("count(up%s)", selector))
	if err != nil {
		return nil, fmt.Errorf("query targets: %w", err)
	}

	status := "ok"
	if up < total {
		status = "degraded"
	}
	result := map[string]any{
		"scope":         scope,
		"targets_up":    int(up),
		"targets_total": int(total),
	}
	if instance != "" {
		result["instance"] = instance
	}

	if scope == ScopeFull {
		idle := `mode="idle"`
		if instance != "" {
			idle = fmt.Sprintf(`mode="idle",instance="%s"`, instance)
		}
		cpu, err := h.prom.Query(ctx, fmt.Sprintf(`100 - (avg(rate(node_cpu_seconds_total{%s}[1m])) * 100)`, idle))
		if err != nil {
			return nil, fmt.Errorf("query cpu: %w", err)
		}
		mem, err := h.prom.Query(ctx, fmt.Sprintf(`sum(node_memory_MemTotal_bytes%s - node_memory_MemAvailable_bytes%s)`, selector, selector))
		if err != nil {
			return nil, fmt.Errorf("query memory: %w", err)
		}

		result["cpu_percent"] = cpu
		result["memory_used_mb"] = mem / 1024 / 1024
		if cpu >= threshold {
			status = "degraded"
		}
	}

	result["status"] = status
	h.log.Info("Vitals checked", zap.String("status", status), zap.String("scope", scope))
	return result, nil
}
