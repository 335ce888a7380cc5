package domain

import "time"

type BeeStatus string

const (
	BeeStatusActive   BeeStatus = "ACTIVE"
	BeeStatusDraining BeeStatus = "DRAINING"
)

// BeeState is where a bee is in its forage cycle
type BeeState string

const (
	BeeStateIdle      BeeState = "idle"
	BeeStateForaging  BeeState = "foraging"
	BeeStateExecuting BeeState = "executing"
)

// Bee is the presence record a poller publishes with every heartbeat
type Bee struct {
	ID            string    `json:"id"`
	Hostname      string    `json:"hostname"`
	Capabilities  []string  `json:"capabilities"`
	Status        BeeStatus `json:"status"`
	State         BeeState  `json:"state"`
	CurrentTaskID string    `json:"current_task_id,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}
