package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aescanero/dagplan/pkg/domain"
	"github.com/aescanero/dagplan/pkg/ports"
)

// Timeouts bounds the orchestrator's interaction with external collaborators.
type Timeouts struct {
	// Run caps a whole run.
	Run time.Duration
	// Node caps one run_task executor call, delegation included.
	Node time.Duration
	// Call caps every other executor call.
	Call time.Duration
}

// Manager owns the in-process run registry. Run state lives here for the
// lifetime of the run and is never written to the durable stores.
type Manager struct {
	checkpoints ports.CheckpointStore
	contracts   ports.ContractStore
	eventBus    ports.EventBus
	metrics     ports.MetricsCollector
	router      ports.Router
	executors   ports.ExecutorFactory
	validator   *Validator
	logger      *zap.Logger

	timeouts     Timeouts
	storeRetries int

	runs       sync.Map // map[string]*runHandle
	activeRuns atomic.Int64
}

// runHandle tracks one submitted run.
type runHandle struct {
	mu     sync.RWMutex
	state  *domain.RunState
	graph  *domain.Graph
	req    domain.ExecutionRequest
	cancel context.CancelFunc
}

// NewManager creates an orchestrator manager.
func NewManager(
	checkpoints ports.CheckpointStore,
	contracts ports.ContractStore,
	eventBus ports.EventBus,
	metrics ports.MetricsCollector,
	router ports.Router,
	executors ports.ExecutorFactory,
	validator *Validator,
	logger *zap.Logger,
	timeouts Timeouts,
	storeRetries int,
) *Manager {
	if storeRetries < 1 {
		storeRetries = 1
	}
	return &Manager{
		checkpoints:  checkpoints,
		contracts:    contracts,
		eventBus:     eventBus,
		metrics:      metrics,
		router:       router,
		executors:    executors,
		validator:    validator,
		logger:       logger,
		timeouts:     timeouts,
		storeRetries: storeRetries,
	}
}

// SubmitRun validates the request and graph description, registers the run
// and announces it on the run-requests topic. Graph construction errors are
// fatal and fail the submission before any phase starts.
func (m *Manager) SubmitRun(ctx context.Context, req domain.ExecutionRequest, specs []domain.NodeSpec) (string, error) {
	if err := m.validator.ValidateRequest(&req); err != nil {
		m.metrics.RecordRunSubmitted(string(domain.PhaseFailed))
		return "", fmt.Errorf("invalid request: %w", err)
	}
	if err := m.validator.ValidateSpecs(specs); err != nil {
		m.metrics.RecordRunSubmitted(string(domain.PhaseFailed))
		return "", fmt.Errorf("invalid graph description: %w", err)
	}

	graph, err := domain.BuildGraph(specs)
	if err != nil {
		m.logger.Error("graph construction failed",
			zap.String("project", req.Project),
			zap.Error(err))
		m.metrics.RecordRunSubmitted(string(domain.PhaseFailed))
		return "", fmt.Errorf("graph construction failed: %w", err)
	}

	runID := uuid.New().String()
	handle := &runHandle{
		state: &domain.RunState{
			RunID:       runID,
			Project:     req.Project,
			Request:     req.Request,
			Phase:       domain.PhaseRouting,
			NodeStates:  make(map[string]*domain.NodeState),
			SubmittedAt: time.Now().UTC(),
		},
		graph: graph,
		req:   req,
	}
	m.runs.Store(runID, handle)

	if err := m.publishEvent(ctx, domain.TopicRunRequests, domain.Event{
		ID:        uuid.New().String(),
		Type:      domain.EventTypeRunSubmitted,
		RunID:     runID,
		Timestamp: time.Now().UTC(),
		Data: map[string]interface{}{
			"project": req.Project,
		},
	}); err != nil {
		m.runs.Delete(runID)
		return "", fmt.Errorf("failed to announce run: %w", err)
	}

	m.metrics.RecordRunSubmitted(string(domain.PhaseRouting))
	m.logger.Info("run submitted",
		zap.String("run_id", runID),
		zap.String("project", req.Project),
		zap.Int("nodes", graph.Len()))

	return runID, nil
}

// ExecuteRun drives a submitted run through all phases. It is invoked by
// the worker pool and returns once the run reaches a terminal phase.
func (m *Manager) ExecuteRun(ctx context.Context, runID string) error {
	handle, err := m.handle(runID)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(ctx, m.timeouts.Run)
	defer cancel()

	handle.mu.Lock()
	if handle.state.StartedAt != nil {
		handle.mu.Unlock()
		return fmt.Errorf("run already started: %s", runID)
	}
	now := time.Now().UTC()
	handle.state.StartedAt = &now
	handle.cancel = cancel
	handle.mu.Unlock()

	m.metrics.SetActiveRuns(int(m.activeRuns.Add(1)))
	defer func() {
		m.metrics.SetActiveRuns(int(m.activeRuns.Add(-1)))
	}()

	r := newRunner(m, handle)
	r.run(runCtx)

	handle.mu.RLock()
	phase := handle.state.Phase
	duration := time.Since(*handle.state.StartedAt)
	handle.mu.RUnlock()

	m.metrics.RecordRunCompleted(string(phase), duration)
	m.logger.Info("run finished",
		zap.String("run_id", runID),
		zap.String("phase", string(phase)),
		zap.Duration("duration", duration))
	return nil
}

// GetRun returns a snapshot of the run's state.
func (m *Manager) GetRun(runID string) (*domain.RunState, error) {
	handle, err := m.handle(runID)
	if err != nil {
		return nil, err
	}

	handle.mu.RLock()
	defer handle.mu.RUnlock()
	return snapshotState(handle.state), nil
}

// CancelRun stops a run's in-flight work. Durable checkpoints and contracts
// written so far are kept.
func (m *Manager) CancelRun(ctx context.Context, runID string) error {
	handle, err := m.handle(runID)
	if err != nil {
		return err
	}

	handle.mu.Lock()
	if handle.state.Phase == domain.PhaseDone || handle.state.Phase == domain.PhaseFailed {
		handle.mu.Unlock()
		return fmt.Errorf("run already in terminal phase: %s", handle.state.Phase)
	}
	cancel := handle.cancel
	handle.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if err := m.publishEvent(ctx, domain.TopicRunEvents, domain.Event{
		ID:        uuid.New().String(),
		Type:      domain.EventTypeRunCancelled,
		RunID:     runID,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		m.logger.Error("failed to publish run cancelled event",
			zap.String("run_id", runID),
			zap.Error(err))
	}

	m.logger.Info("run cancelled", zap.String("run_id", runID))
	return nil
}

// Shutdown cancels every in-flight run.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down orchestrator manager")

	m.runs.Range(func(key, value interface{}) bool {
		handle := value.(*runHandle)
		handle.mu.RLock()
		cancel := handle.cancel
		handle.mu.RUnlock()
		if cancel != nil {
			cancel()
		}
		return true
	})

	m.logger.Info("orchestrator manager shut down")
	return nil
}

func (m *Manager) handle(runID string) (*runHandle, error) {
	val, ok := m.runs.Load(runID)
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
	}
	return val.(*runHandle), nil
}

func (m *Manager) publishEvent(ctx context.Context, topic string, event domain.Event) error {
	return m.eventBus.Publish(ctx, topic, event)
}

// snapshotState deep-copies a run state so callers never observe in-flight
// mutation.
func snapshotState(state *domain.RunState) *domain.RunState {
	out := *state
	out.Seeds = append([]domain.Seed(nil), state.Seeds...)
	out.Relevant = append([]string(nil), state.Relevant...)
	out.NodeStates = make(map[string]*domain.NodeState, len(state.NodeStates))
	for name, ns := range state.NodeStates {
		copied := *ns
		out.NodeStates[name] = &copied
	}
	if state.Plan != nil {
		plan := *state.Plan
		plan.Sections = append([]domain.PlanSection(nil), state.Plan.Sections...)
		plan.Failures = append([]domain.NodeDiagnostic(nil), state.Plan.Failures...)
		plan.NextSteps = append([]string(nil), state.Plan.NextSteps...)
		out.Plan = &plan
	}
	return &out
}
