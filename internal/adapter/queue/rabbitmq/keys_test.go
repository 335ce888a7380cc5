package rabbitmq

import (
	"testing"

	"github.com/crabzie/hive/internal/core/domain"
)

func TestRoutingKeys(t *testing.T) {
	e := domain.TaskEvent{TaskID: "0192d5c4-7b1e-7c3a-9f1e-1a2b3c4d5e6f", To: domain.TaskStatusCompleted}
	if got := routingKey(e); got != "task.0192d5c4-7b1e-7c3a-9f1e-1a2b3c4d5e6f.completed" {
		t.Fatalf("unexpected routing key %q", got)
	}
	if got := bindingKey(e.TaskID); got != "task.0192d5c4-7b1e-7c3a-9f1e-1a2b3c4d5e6f.*" {
		t.Fatalf("unexpected binding key %q", got)
	}
	if got := bindingKey(""); got != "task.#" {
		t.Fatalf("unexpected wildcard binding %q", got)
	}
}
