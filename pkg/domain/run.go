package domain

import (
	"time"
)

// RunPhase is the orchestrator's per-run state machine position.
type RunPhase string

const (
	PhaseRouting       RunPhase = "routing"
	PhaseInitializing  RunPhase = "initializing"
	PhaseNegotiating   RunPhase = "negotiating"
	PhaseExecuting     RunPhase = "executing"
	PhaseConsolidating RunPhase = "consolidating"
	PhaseDone          RunPhase = "done"
	PhaseFailed        RunPhase = "failed"
)

// NodeStatus is a node's sub-state within a run.
type NodeStatus string

const (
	NodeStatusPending NodeStatus = "pending"
	NodeStatusRunning NodeStatus = "running"
	NodeStatusDone    NodeStatus = "done"
	NodeStatusFailed  NodeStatus = "failed"
	NodeStatusBlocked NodeStatus = "blocked"
)

// Terminal reports whether the status is one of the per-node end states.
func (s NodeStatus) Terminal() bool {
	switch s {
	case NodeStatusDone, NodeStatusFailed, NodeStatusBlocked:
		return true
	}
	return false
}

// Seed pairs a selected node with the instruction tailored for it. The first
// seed of a run is its root: its plan leads the consolidated report.
type Seed struct {
	Node        string `json:"node"`
	Instruction string `json:"instruction"`
}

// ExecutionRequest describes one planning run. Seeds may be supplied
// explicitly; when empty, the orchestrator's Router selects them.
type ExecutionRequest struct {
	Project string `json:"project"`
	Request string `json:"request"`
	Seeds   []Seed `json:"seeds,omitempty"`
}

// NodeState tracks a single node through a run.
type NodeState struct {
	Node              string     `json:"node"`
	Status            NodeStatus `json:"status"`
	NegotiationFailed bool       `json:"negotiation_failed,omitempty"`
	Reason            string     `json:"reason,omitempty"`
	Plan              string     `json:"plan,omitempty"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// PlanSection is one node's contribution to the consolidated report.
type PlanSection struct {
	Node   string     `json:"node"`
	Status NodeStatus `json:"status"`
	Plan   string     `json:"plan,omitempty"`
}

// NodeDiagnostic names a node that did not reach Done and why.
type NodeDiagnostic struct {
	Node   string     `json:"node"`
	Status NodeStatus `json:"status"`
	Reason string     `json:"reason"`
}

// ConsolidatedPlan is the merged report for one run: the root node's plan
// first, followed by referenced dependency plans, with every failed or
// blocked node of the relevant subgraph listed explicitly.
type ConsolidatedPlan struct {
	Root        string           `json:"root"`
	Request     string           `json:"request"`
	Sections    []PlanSection    `json:"sections"`
	Failures    []NodeDiagnostic `json:"failures,omitempty"`
	NextSteps   []string         `json:"next_steps"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// RunState is the full in-memory state of one run. It is owned exclusively
// by the orchestrator for the lifetime of the run and is not persisted to
// the durable stores.
type RunState struct {
	RunID       string                `json:"run_id"`
	Project     string                `json:"project"`
	Request     string                `json:"request"`
	Phase       RunPhase              `json:"phase"`
	Seeds       []Seed                `json:"seeds,omitempty"`
	Relevant    []string              `json:"relevant,omitempty"`
	NodeStates  map[string]*NodeState `json:"node_states"`
	Plan        *ConsolidatedPlan     `json:"plan,omitempty"`
	Error       string                `json:"error,omitempty"`
	SubmittedAt time.Time             `json:"submitted_at"`
	StartedAt   *time.Time            `json:"started_at,omitempty"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
}
