package ports

import (
	"context"
	"time"

	"github.com/aescanero/dagplan/pkg/domain"
)

// CheckpointStore owns durable per-(project, node) exploration state.
// Writes are atomic: either the full record is visible or none of it is.
// Failed or corrupt reads surface as domain.ErrNotFound, never as hard I/O
// errors, so initialization is always safe to retry.
type CheckpointStore interface {
	// IsInitialized reports whether the node has a durable initialized record.
	IsInitialized(ctx context.Context, project, node string) (bool, error)

	// MarkInitialized appends a new checkpoint version carrying the executor's
	// opaque state blob and repoints the branch head to it.
	MarkInitialized(ctx context.Context, project, node string, state []byte) error

	// Load returns the state blob at the branch head.
	Load(ctx context.Context, project, node string) ([]byte, error)

	// Versions lists all stored versions for a node, oldest first.
	Versions(ctx context.Context, project, node string) ([]domain.Checkpoint, error)

	// Fork repoints the branch head to an existing version. Durable effects
	// outside the checkpoint blob are untouched.
	Fork(ctx context.Context, project, node string, version int) error

	// Clear removes the node's record; with an empty node it clears every
	// node of the project. This is the only administrative rollback primitive.
	Clear(ctx context.Context, project, node string) error

	// List returns the initialization status of every known node of a project.
	List(ctx context.Context, project string) ([]domain.CheckpointInfo, error)

	// Lock acquires the single-writer lease for a (project, node) key.
	// Concurrent initializers for the same key serialize behind it.
	Lock(ctx context.Context, project, node string) (release func(), err error)
}

// ContractStore owns durable contract records keyed by
// (producer, consumer, direction) within a project. Put fully replaces any
// prior record for the same key.
type ContractStore interface {
	Put(ctx context.Context, project string, contract domain.Contract) error
	Get(ctx context.Context, project, producer, consumer string, direction domain.ContractDirection) (*domain.Contract, error)
	ListForNode(ctx context.Context, project, node string) ([]domain.Contract, error)
}

// DelegateFunc lets a Task Executor request execution of one of its direct
// dependencies during its own run_task call. The returned string is the
// dependency's plan.
type DelegateFunc func(ctx context.Context, dependency, task string) (string, error)

// TaskExecutor performs the actual analysis work for one node. The
// orchestration core never inspects its internals; any failure is treated
// as a node-local terminal state.
type TaskExecutor interface {
	// Explore is called once during Initializing and returns the opaque
	// state blob persisted in the node's checkpoint.
	Explore(ctx context.Context) ([]byte, error)

	// DeclareInputContracts returns, per direct dependency, what this node
	// needs from it.
	DeclareInputContracts(ctx context.Context, dependencies []string) (map[string]string, error)

	// DeclareOutputContracts receives the input contracts of this node's
	// dependents and returns, per dependent, what this node provides.
	DeclareOutputContracts(ctx context.Context, dependentInputs map[string]string) (map[string]string, error)

	// RunTask produces the node's development plan. It may call delegate to
	// trigger execution of a direct dependency.
	RunTask(ctx context.Context, task string, dependencyOutputs map[string]string, delegate DelegateFunc) (string, error)
}

// ExecutorFactory binds a TaskExecutor instance to a node.
type ExecutorFactory interface {
	ExecutorFor(project string, node *domain.Node) TaskExecutor
}

// Router is the pluggable seed-selection strategy: it maps a request to the
// seed nodes (with per-node instructions) the run should start from. It must
// be deterministic for a given request and graph, stub implementations
// included.
type Router interface {
	Route(ctx context.Context, request string, graph *domain.Graph) ([]domain.Seed, error)
}

// LLMClient abstracts a text-generation backend.
type LLMClient interface {
	GenerateCompletion(ctx context.Context, req *domain.LLMRequest) (*domain.LLMResponse, error)
}

// EventHandler consumes events from a topic subscription.
type EventHandler func(ctx context.Context, event domain.Event) error

// EventBus publishes and delivers run lifecycle events.
type EventBus interface {
	Publish(ctx context.Context, topic string, event domain.Event) error
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Close() error
}

// MetricsCollector records orchestration metrics.
type MetricsCollector interface {
	RecordRunSubmitted(status string)
	RecordRunCompleted(status string, duration time.Duration)
	RecordNodeExecuted(status string, duration time.Duration)
	RecordExecutorCall(op, status string, duration time.Duration)
	RecordContractWritten(direction string)
	SetWorkerCounts(idle, busy, stopped int)
	SetActiveRuns(count int)
}
