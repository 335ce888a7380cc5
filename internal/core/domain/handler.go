package domain

import "time"

// HandlerDescriptor declares what a handler can do
type HandlerDescriptor struct {
	ID           string   `json:"id" mapstructure:"id"`
	Capabilities []string `json:"capabilities" mapstructure:"capabilities"`
	Model        string   `json:"model,omitempty" mapstructure:"model"`
	CostPerCall  float64  `json:"cost_per_call,omitempty" mapstructure:"costPerCall"`
}

// CapabilityRule maps task types containing Keyword to Capability
type CapabilityRule struct {
	Keyword    string `mapstructure:"keyword"`
	Capability string `mapstructure:"capability"`
}

// TaskResult is what dispatching a task yields; failures are values, not errors
type TaskResult struct {
	Success    bool           `json:"success"`
	Data       map[string]any `json:"data,omitempty"`
	HandlerID  string         `json:"handler_id,omitempty"`
	Capability string         `json:"capability"`
	Error      string         `json:"error,omitempty"`
}

// TaskEvent is emitted once per status transition, including the initial insert
type TaskEvent struct {
	TaskID   string     `json:"task_id"`
	Command  string     `json:"command"`
	From     TaskStatus `json:"from,omitempty"`
	To       TaskStatus `json:"to"`
	WorkerID string     `json:"worker_id,omitempty"`
	Error    string     `json:"error,omitempty"`
	At       time.Time  `json:"at"`
}
