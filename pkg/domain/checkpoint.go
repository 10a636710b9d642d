package domain

import (
	"encoding/json"
	"time"
)

// Checkpoint is the durable per-(project, node) exploration record. The
// State blob is opaque to the orchestration core; it is owned entirely by
// the node's Task Executor. Records are versioned: every successful
// initialization or state update appends a new version rather than
// overwriting, and a branch pointer selects the current one.
type Checkpoint struct {
	Project     string          `json:"project"`
	Node        string          `json:"node"`
	Initialized bool            `json:"initialized"`
	State       json.RawMessage `json:"state,omitempty"`
	Version     int             `json:"version"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// CheckpointInfo is the administrative view of a node's checkpoint status.
type CheckpointInfo struct {
	Node        string    `json:"node"`
	Initialized bool      `json:"initialized"`
	Version     int       `json:"version"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}
