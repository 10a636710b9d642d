package domain

import (
	"time"
)

// EventType identifies a run or node lifecycle event.
type EventType string

const (
	EventTypeRunSubmitted EventType = "run.submitted"
	EventTypeRunPhase     EventType = "run.phase"
	EventTypeRunCompleted EventType = "run.completed"
	EventTypeRunFailed    EventType = "run.failed"
	EventTypeRunCancelled EventType = "run.cancelled"

	EventTypeNodeStarted     EventType = "node.started"
	EventTypeNodeCompleted   EventType = "node.completed"
	EventTypeNodeFailed      EventType = "node.failed"
	EventTypeNodeBlocked     EventType = "node.blocked"
	EventTypeContractWritten EventType = "contract.written"
)

// Topics used on the event bus.
const (
	TopicRunRequests = "run.requests"
	TopicRunEvents   = "run.events"
)

// Event is a single entry in the run event stream.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	RunID     string                 `json:"run_id"`
	Node      string                 `json:"node,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}
