package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/aescanero/dagplan/pkg/domain"
	"github.com/aescanero/dagplan/pkg/ports"
)

const storeRetryBackoff = 100 * time.Millisecond

// runner drives one run through the phase machine:
// Routing -> Initializing -> Negotiating -> Executing -> Consolidating.
// Fatal errors occur only before Initializing; afterwards every failure is
// folded into a node's terminal status and the run still consolidates.
type runner struct {
	m       *Manager
	h       *runHandle
	graph   *domain.Graph
	project string
	request string
	logger  *zap.Logger

	seeds    []domain.Seed
	relevant []string

	execMu    sync.Mutex
	executors map[string]ports.TaskExecutor

	memoMu sync.Mutex
	memo   map[string]nodeResult
	flight singleflight.Group
}

type nodeResult struct {
	plan string
	err  error
}

func newRunner(m *Manager, h *runHandle) *runner {
	return &runner{
		m:         m,
		h:         h,
		graph:     h.graph,
		project:   h.req.Project,
		request:   h.req.Request,
		logger:    m.logger.With(zap.String("run_id", h.state.RunID), zap.String("project", h.req.Project)),
		executors: make(map[string]ports.TaskExecutor),
		memo:      make(map[string]nodeResult),
	}
}

func (r *runner) run(ctx context.Context) {
	if err := r.route(ctx); err != nil {
		r.failRun(ctx, err)
		return
	}

	r.setPhase(ctx, domain.PhaseInitializing)
	r.initialize(ctx)
	if ctx.Err() != nil {
		r.failRun(ctx, fmt.Errorf("run aborted: %w", ctx.Err()))
		return
	}

	r.setPhase(ctx, domain.PhaseNegotiating)
	r.negotiate(ctx)
	if ctx.Err() != nil {
		r.failRun(ctx, fmt.Errorf("run aborted: %w", ctx.Err()))
		return
	}

	r.setPhase(ctx, domain.PhaseExecuting)
	r.execute(ctx)
	if ctx.Err() != nil {
		r.failRun(ctx, fmt.Errorf("run aborted: %w", ctx.Err()))
		return
	}

	r.setPhase(ctx, domain.PhaseConsolidating)
	plan := NewEngine().Consolidate(r.graph, r.seeds, r.relevant, r.request, r.nodeStates())

	now := time.Now().UTC()
	r.h.mu.Lock()
	r.h.state.Plan = plan
	r.h.state.Phase = domain.PhaseDone
	r.h.state.CompletedAt = &now
	r.h.mu.Unlock()

	r.publishRunEvent(ctx, domain.EventTypeRunCompleted, map[string]interface{}{
		"root": plan.Root,
	})
}

// route resolves the seed set and the relevant subgraph. Any error here is
// fatal: the run fails before Initializing starts.
func (r *runner) route(ctx context.Context) error {
	seeds := r.h.req.Seeds
	if len(seeds) == 0 {
		routeCtx, cancel := context.WithTimeout(ctx, r.m.timeouts.Call)
		defer cancel()

		var err error
		seeds, err = r.m.router.Route(routeCtx, r.request, r.graph)
		if err != nil {
			return fmt.Errorf("routing failed: %w", err)
		}
	}

	// Drop duplicate seeds, first instruction wins.
	seen := make(map[string]bool, len(seeds))
	deduped := seeds[:0]
	for _, seed := range seeds {
		if seen[seed.Node] {
			continue
		}
		seen[seed.Node] = true
		if seed.Instruction == "" {
			seed.Instruction = r.request
		}
		deduped = append(deduped, seed)
	}
	seeds = deduped

	if len(seeds) == 0 {
		return fmt.Errorf("routing selected no nodes for request %q", r.request)
	}

	names := make([]string, len(seeds))
	for i, seed := range seeds {
		names[i] = seed.Node
	}
	relevant, err := r.graph.RelevantSubgraph(names)
	if err != nil {
		return fmt.Errorf("routing failed: %w", err)
	}

	r.seeds = seeds
	r.relevant = relevant

	r.h.mu.Lock()
	r.h.state.Seeds = append([]domain.Seed(nil), seeds...)
	r.h.state.Relevant = append([]string(nil), relevant...)
	for _, name := range relevant {
		r.h.state.NodeStates[name] = &domain.NodeState{
			Node:   name,
			Status: domain.NodeStatusPending,
		}
	}
	r.h.mu.Unlock()

	r.logger.Info("routing complete",
		zap.String("root", seeds[0].Node),
		zap.Int("seeds", len(seeds)),
		zap.Int("relevant", len(relevant)))
	return nil
}

// initialize walks the relevant nodes strictly sequentially, dependencies
// before dependents, exploring each uninitialized node once. Sequencing is
// a load-bounding policy toward the executor backend. A failed exploration
// marks the node Failed and the walk continues.
func (r *runner) initialize(ctx context.Context) {
	for _, name := range r.graph.TopoSort(r.relevant) {
		if ctx.Err() != nil {
			return
		}
		if err := r.initializeNode(ctx, name); err != nil {
			r.logger.Warn("node initialization failed",
				zap.String("node", name),
				zap.Error(err))
			r.setNodeTerminal(ctx, name, domain.NodeStatusFailed, err.Error())
		}
	}
}

func (r *runner) initializeNode(ctx context.Context, name string) error {
	initialized, err := r.m.checkpoints.IsInitialized(ctx, r.project, name)
	if err != nil {
		return fmt.Errorf("checkpoint read: %w", err)
	}
	if initialized {
		r.logger.Debug("node already initialized", zap.String("node", name))
		return nil
	}

	// Single-writer lease: concurrent initializers for the same key collapse
	// to one exploration, the rest observe the committed checkpoint.
	release, err := r.m.checkpoints.Lock(ctx, r.project, name)
	if err != nil {
		return fmt.Errorf("checkpoint lease: %w", err)
	}
	defer release()

	initialized, err = r.m.checkpoints.IsInitialized(ctx, r.project, name)
	if err != nil {
		return fmt.Errorf("checkpoint read: %w", err)
	}
	if initialized {
		return nil
	}

	r.logger.Info("exploring node", zap.String("node", name))

	var state []byte
	err = r.execCall(ctx, "explore", name, r.m.timeouts.Call, func(callCtx context.Context) error {
		var exploreErr error
		state, exploreErr = r.executorFor(name).Explore(callCtx)
		return exploreErr
	})
	if err != nil {
		return err
	}

	if err := r.withStoreRetries(ctx, func() error {
		return r.m.checkpoints.MarkInitialized(ctx, r.project, name, state)
	}); err != nil {
		return &domain.ExecutorError{Node: name, Op: "explore", Err: fmt.Errorf("persist checkpoint: %w", err)}
	}
	return nil
}

// execute fans out over the relevant nodes. Seeded nodes run their routed
// instruction, the rest run the raw request. Node failures never abort
// siblings; only run cancellation stops the fan-out.
func (r *runner) execute(ctx context.Context) {
	tasks := make(map[string]string, len(r.relevant))
	for _, name := range r.relevant {
		tasks[name] = r.request
	}
	for _, seed := range r.seeds {
		tasks[seed.Node] = seed.Instruction
	}

	var g errgroup.Group
	for _, name := range r.relevant {
		name := name
		g.Go(func() error {
			_, _ = r.executeNode(ctx, name, tasks[name], nil)
			return nil
		})
	}
	_ = g.Wait()
}

// executeNode runs one node at most once per run. Concurrent requesters
// collapse onto the same execution; later requesters get the memoized
// result. path carries the delegation chain for cycle detection.
func (r *runner) executeNode(ctx context.Context, name, task string, path []string) (string, error) {
	for _, ancestor := range path {
		if ancestor == name {
			chain := append(append([]string(nil), path...), name)
			return "", &domain.DelegationCycleError{Chain: chain}
		}
	}

	if result, ok := r.cached(name); ok {
		return result.plan, result.err
	}

	v, err, _ := r.flight.Do(name, func() (interface{}, error) {
		if result, ok := r.cached(name); ok {
			return result.plan, result.err
		}
		plan, runErr := r.runNode(ctx, name, task, path)
		r.memoMu.Lock()
		r.memo[name] = nodeResult{plan: plan, err: runErr}
		r.memoMu.Unlock()
		return plan, runErr
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *runner) runNode(ctx context.Context, name, task string, path []string) (string, error) {
	state := r.nodeState(name)
	if state == nil {
		return "", fmt.Errorf("node %s is outside the relevant subgraph", name)
	}
	if state.Status == domain.NodeStatusFailed {
		return "", fmt.Errorf("node %s failed earlier: %s", name, state.Reason)
	}

	// A dependent that declared a need which was never answered executes as
	// Blocked, naming the producer.
	outputs := make(map[string]string)
	for _, dep := range r.graph.Dependencies(name) {
		if _, err := r.m.contracts.Get(ctx, r.project, dep, name, domain.DirectionInput); err != nil {
			continue
		}
		output, err := r.m.contracts.Get(ctx, r.project, dep, name, domain.DirectionOutput)
		if err != nil {
			// Stores collapse read failures to not-found; for a declared
			// need that means Blocked.
			missing := &domain.ContractMissingError{Producer: dep, Consumer: name}
			r.setNodeTerminal(ctx, name, domain.NodeStatusBlocked, missing.Error())
			return "", missing
		}
		outputs[dep] = output.Content
	}

	r.setNodeRunning(ctx, name)

	delegate := func(delegateCtx context.Context, dependency, subTask string) (string, error) {
		if !r.isDirectDependency(name, dependency) {
			return "", fmt.Errorf("node %s cannot delegate to %s: not a direct dependency", name, dependency)
		}
		chain := append(append([]string(nil), path...), name)
		return r.executeNode(delegateCtx, dependency, subTask, chain)
	}

	start := time.Now()
	var plan string
	err := r.execCall(ctx, "run_task", name, r.m.timeouts.Node, func(callCtx context.Context) error {
		var runErr error
		plan, runErr = r.executorFor(name).RunTask(callCtx, task, outputs, delegate)
		return runErr
	})
	if err != nil {
		r.setNodeTerminal(ctx, name, domain.NodeStatusFailed, err.Error())
		r.m.metrics.RecordNodeExecuted(string(domain.NodeStatusFailed), time.Since(start))
		return "", err
	}

	r.setNodeDone(ctx, name, plan)
	r.m.metrics.RecordNodeExecuted(string(domain.NodeStatusDone), time.Since(start))
	return plan, nil
}

func (r *runner) isDirectDependency(node, candidate string) bool {
	for _, dep := range r.graph.Dependencies(node) {
		if dep == candidate {
			return true
		}
	}
	return false
}

func (r *runner) cached(name string) (nodeResult, bool) {
	r.memoMu.Lock()
	defer r.memoMu.Unlock()
	result, ok := r.memo[name]
	return result, ok
}

// executorFor binds one executor instance per node for the run.
func (r *runner) executorFor(name string) ports.TaskExecutor {
	r.execMu.Lock()
	defer r.execMu.Unlock()

	if e, ok := r.executors[name]; ok {
		return e
	}
	node, _ := r.graph.Node(name)
	e := r.m.executors.ExecutorFor(r.project, node)
	r.executors[name] = e
	return e
}

// execCall applies the per-call timeout and records metrics. A failure is
// wrapped as the node's ExecutorError.
func (r *runner) execCall(ctx context.Context, op, node string, timeout time.Duration, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := fn(callCtx)
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.m.metrics.RecordExecutorCall(op, status, time.Since(start))

	if err != nil {
		return &domain.ExecutorError{Node: node, Op: op, Err: err}
	}
	return nil
}

// withStoreRetries retries a store write up to the configured attempt count.
func (r *runner) withStoreRetries(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < r.m.storeRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(storeRetryBackoff * time.Duration(attempt)):
			}
		}
		if err = fn(); err == nil {
			return nil
		}
	}
	return err
}

func (r *runner) nodeStates() map[string]*domain.NodeState {
	r.h.mu.RLock()
	defer r.h.mu.RUnlock()

	states := make(map[string]*domain.NodeState, len(r.h.state.NodeStates))
	for name, ns := range r.h.state.NodeStates {
		copied := *ns
		states[name] = &copied
	}
	return states
}

func (r *runner) nodeState(name string) *domain.NodeState {
	r.h.mu.RLock()
	defer r.h.mu.RUnlock()

	ns, ok := r.h.state.NodeStates[name]
	if !ok {
		return nil
	}
	copied := *ns
	return &copied
}

func (r *runner) setNodeRunning(ctx context.Context, name string) {
	now := time.Now().UTC()
	r.h.mu.Lock()
	if ns, ok := r.h.state.NodeStates[name]; ok {
		ns.Status = domain.NodeStatusRunning
		ns.StartedAt = &now
	}
	r.h.mu.Unlock()

	r.publishNodeEvent(ctx, domain.EventTypeNodeStarted, name, nil)
}

func (r *runner) setNodeDone(ctx context.Context, name, plan string) {
	now := time.Now().UTC()
	r.h.mu.Lock()
	if ns, ok := r.h.state.NodeStates[name]; ok {
		ns.Status = domain.NodeStatusDone
		ns.Plan = plan
		ns.CompletedAt = &now
	}
	r.h.mu.Unlock()

	r.publishNodeEvent(ctx, domain.EventTypeNodeCompleted, name, nil)
}

func (r *runner) setNodeTerminal(ctx context.Context, name string, status domain.NodeStatus, reason string) {
	now := time.Now().UTC()
	r.h.mu.Lock()
	if ns, ok := r.h.state.NodeStates[name]; ok {
		ns.Status = status
		ns.Reason = reason
		ns.CompletedAt = &now
	}
	r.h.mu.Unlock()

	eventType := domain.EventTypeNodeFailed
	if status == domain.NodeStatusBlocked {
		eventType = domain.EventTypeNodeBlocked
	}
	r.publishNodeEvent(ctx, eventType, name, map[string]interface{}{
		"reason": reason,
	})
}

func (r *runner) markNegotiationFailed(name, reason string) {
	r.h.mu.Lock()
	if ns, ok := r.h.state.NodeStates[name]; ok {
		ns.NegotiationFailed = true
		if ns.Reason == "" {
			ns.Reason = reason
		}
	}
	r.h.mu.Unlock()
}

func (r *runner) setPhase(ctx context.Context, phase domain.RunPhase) {
	r.h.mu.Lock()
	r.h.state.Phase = phase
	r.h.mu.Unlock()

	r.logger.Info("phase change", zap.String("phase", string(phase)))
	r.publishRunEvent(ctx, domain.EventTypeRunPhase, map[string]interface{}{
		"phase": string(phase),
	})
}

func (r *runner) failRun(ctx context.Context, err error) {
	now := time.Now().UTC()
	r.h.mu.Lock()
	r.h.state.Phase = domain.PhaseFailed
	r.h.state.Error = err.Error()
	r.h.state.CompletedAt = &now
	r.h.mu.Unlock()

	r.logger.Error("run failed", zap.Error(err))
	r.publishRunEvent(ctx, domain.EventTypeRunFailed, map[string]interface{}{
		"error": err.Error(),
	})
}

func (r *runner) publishRunEvent(ctx context.Context, eventType domain.EventType, data map[string]interface{}) {
	r.publishEvent(ctx, domain.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		RunID:     r.h.state.RunID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
}

func (r *runner) publishNodeEvent(ctx context.Context, eventType domain.EventType, node string, data map[string]interface{}) {
	r.publishEvent(ctx, domain.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		RunID:     r.h.state.RunID,
		Node:      node,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
}

func (r *runner) publishEvent(ctx context.Context, event domain.Event) {
	// Events survive cancellation so subscribers see the terminal state.
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	if err := r.m.eventBus.Publish(ctx, domain.TopicRunEvents, event); err != nil {
		r.logger.Error("failed to publish event",
			zap.String("type", string(event.Type)),
			zap.Error(err))
	}
}
