package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/dagplan/pkg/adapters/events/memory"
	"github.com/aescanero/dagplan/pkg/adapters/executor/stub"
	"github.com/aescanero/dagplan/pkg/adapters/metrics/noop"
	memorystorage "github.com/aescanero/dagplan/pkg/adapters/storage/memory"
	"github.com/aescanero/dagplan/pkg/domain"
	"github.com/aescanero/dagplan/pkg/ports"
)

// fixedRouter returns a canned seed list.
type fixedRouter struct {
	seeds []domain.Seed
	err   error
}

func (r *fixedRouter) Route(ctx context.Context, request string, graph *domain.Graph) ([]domain.Seed, error) {
	return r.seeds, r.err
}

type testEnv struct {
	manager     *Manager
	checkpoints ports.CheckpointStore
	contracts   ports.ContractStore
	factory     *stub.Factory
}

func newTestEnv(t *testing.T, router ports.Router) *testEnv {
	t.Helper()
	if router == nil {
		router = &fixedRouter{}
	}
	checkpoints := memorystorage.NewCheckpointStore()
	contracts := memorystorage.NewContractStore()
	factory := stub.NewFactory()

	manager := NewManager(
		checkpoints,
		contracts,
		memory.NewBus(),
		noop.NewCollector(),
		router,
		factory,
		NewValidator(),
		zap.NewNop(),
		Timeouts{Run: 30 * time.Second, Node: 10 * time.Second, Call: 10 * time.Second},
		2,
	)
	return &testEnv{
		manager:     manager,
		checkpoints: checkpoints,
		contracts:   contracts,
		factory:     factory,
	}
}

func langStackSpecs() []domain.NodeSpec {
	return []domain.NodeSpec{
		{Name: "core", Path: "libs/core"},
		{Name: "rs", Path: "bindings/rs", Deps: []string{"core"}},
		{Name: "py", Path: "bindings/py", Deps: []string{"core"}},
		{Name: "wasm", Path: "bindings/wasm", Deps: []string{"core"}},
	}
}

func runToCompletion(t *testing.T, env *testEnv, req domain.ExecutionRequest, specs []domain.NodeSpec) *domain.RunState {
	t.Helper()
	ctx := context.Background()

	runID, err := env.manager.SubmitRun(ctx, req, specs)
	require.NoError(t, err)
	require.NoError(t, env.manager.ExecuteRun(ctx, runID))

	state, err := env.manager.GetRun(runID)
	require.NoError(t, err)
	return state
}

func TestRunEndToEnd(t *testing.T) {
	env := newTestEnv(t, nil)

	state := runToCompletion(t, env, domain.ExecutionRequest{
		Project: "proj",
		Request: "add streaming read support",
		Seeds: []domain.Seed{
			{Node: "rs", Instruction: "expose streaming reads"},
			{Node: "py", Instruction: "add streaming iterator"},
		},
	}, langStackSpecs())

	require.Equal(t, domain.PhaseDone, state.Phase)
	assert.Equal(t, []string{"core", "rs", "py"}, state.Relevant)

	for _, name := range []string{"core", "rs", "py"} {
		require.Contains(t, state.NodeStates, name)
		assert.Equal(t, domain.NodeStatusDone, state.NodeStates[name].Status, name)
		assert.NotEmpty(t, state.NodeStates[name].Plan, name)
	}

	// Seeded nodes run their routed instruction.
	assert.Contains(t, state.NodeStates["rs"].Plan, "expose streaming reads")
	assert.Contains(t, state.NodeStates["py"].Plan, "add streaming iterator")
	// Non-seeded relevant nodes run the raw request.
	assert.Contains(t, state.NodeStates["core"].Plan, "add streaming read support")

	// Nodes outside the relevant subgraph are never touched.
	assert.Nil(t, env.factory.Executor("wasm"))

	// The consolidated plan leads with the first seed.
	require.NotNil(t, state.Plan)
	assert.Equal(t, "rs", state.Plan.Root)
	require.NotEmpty(t, state.Plan.Sections)
	assert.Equal(t, "rs", state.Plan.Sections[0].Node)
	assert.Empty(t, state.Plan.Failures)
}

func TestRunNegotiatesContracts(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	runToCompletion(t, env, domain.ExecutionRequest{
		Project: "proj",
		Request: "task",
		Seeds:   []domain.Seed{{Node: "rs"}, {Node: "py"}},
	}, langStackSpecs())

	// Consumers declared what they need; the producer answered each.
	input, err := env.contracts.Get(ctx, "proj", "core", "rs", domain.DirectionInput)
	require.NoError(t, err)
	assert.Equal(t, "rs needs core", input.Content)

	output, err := env.contracts.Get(ctx, "proj", "core", "rs", domain.DirectionOutput)
	require.NoError(t, err)
	assert.Equal(t, "core provides for rs", output.Content)

	output, err = env.contracts.Get(ctx, "proj", "core", "py", domain.DirectionOutput)
	require.NoError(t, err)
	assert.Equal(t, "core provides for py", output.Content)

	// A node never seeded declared nothing.
	_, err = env.contracts.Get(ctx, "proj", "core", "wasm", domain.DirectionInput)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Both halves of the rs<->core negotiation are listed for rs.
	listed, err := env.contracts.ListForNode(ctx, "proj", "rs")
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	rsExec := env.factory.Executor("rs")
	require.NotNil(t, rsExec)
	assert.Equal(t, 1, rsExec.RunCalls)
}

func TestNegotiationWaveChain(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	runToCompletion(t, env, domain.ExecutionRequest{
		Project: "proj",
		Request: "task",
		Seeds:   []domain.Seed{{Node: "app"}},
	}, []domain.NodeSpec{
		{Name: "base"},
		{Name: "lib", Deps: []string{"base"}},
		{Name: "app", Deps: []string{"lib"}},
	})

	// Both producer links negotiated along the chain.
	output, err := env.contracts.Get(ctx, "proj", "base", "lib", domain.DirectionOutput)
	require.NoError(t, err)
	assert.Equal(t, "base provides for lib", output.Content)

	output, err = env.contracts.Get(ctx, "proj", "lib", "app", domain.DirectionOutput)
	require.NoError(t, err)
	assert.Equal(t, "lib provides for app", output.Content)
}

func TestInitializeIdempotentAcrossRuns(t *testing.T) {
	env := newTestEnv(t, nil)

	req := domain.ExecutionRequest{
		Project: "proj",
		Request: "task",
		Seeds:   []domain.Seed{{Node: "rs"}},
	}
	runToCompletion(t, env, req, langStackSpecs())
	runToCompletion(t, env, req, langStackSpecs())

	// Checkpoints survive between runs; nothing re-explores.
	assert.Equal(t, 1, env.factory.Executor("core").ExploreCalls)
	assert.Equal(t, 1, env.factory.Executor("rs").ExploreCalls)
}

func TestClearTriggersReExploration(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	req := domain.ExecutionRequest{
		Project: "proj",
		Request: "task",
		Seeds:   []domain.Seed{{Node: "rs"}},
	}
	runToCompletion(t, env, req, langStackSpecs())

	require.NoError(t, env.checkpoints.Clear(ctx, "proj", "core"))

	runToCompletion(t, env, req, langStackSpecs())

	assert.Equal(t, 2, env.factory.Executor("core").ExploreCalls, "cleared node re-explores exactly once")
	assert.Equal(t, 1, env.factory.Executor("rs").ExploreCalls, "untouched node does not")
}

func TestSingleFlightUnderDelegation(t *testing.T) {
	env := newTestEnv(t, nil)
	env.factory.Delegations = map[string][]string{
		"rs": {"core"},
		"py": {"core"},
	}

	state := runToCompletion(t, env, domain.ExecutionRequest{
		Project: "proj",
		Request: "task",
		Seeds:   []domain.Seed{{Node: "rs"}, {Node: "py"}},
	}, langStackSpecs())

	require.Equal(t, domain.PhaseDone, state.Phase)

	// core is in the fan-out and delegated to from two dependents, yet runs once.
	assert.Equal(t, 1, env.factory.Executor("core").RunCalls)

	// Both delegators observe the same memoized plan.
	assert.Contains(t, state.NodeStates["rs"].Plan, "delegated core:")
	assert.Contains(t, state.NodeStates["py"].Plan, "delegated core:")
}

func TestDelegationToNonDependencyFails(t *testing.T) {
	env := newTestEnv(t, nil)
	env.factory.Delegations = map[string][]string{
		"rs": {"py"}, // sibling, not a dependency
	}

	state := runToCompletion(t, env, domain.ExecutionRequest{
		Project: "proj",
		Request: "task",
		Seeds:   []domain.Seed{{Node: "rs"}, {Node: "py"}},
	}, langStackSpecs())

	require.Equal(t, domain.PhaseDone, state.Phase)
	assert.Equal(t, domain.NodeStatusFailed, state.NodeStates["rs"].Status)
	assert.Contains(t, state.NodeStates["rs"].Reason, "not a direct dependency")

	// The rejected delegation never leaks into siblings.
	assert.Equal(t, domain.NodeStatusDone, state.NodeStates["py"].Status)
}

func TestExplorationFailureIsIsolated(t *testing.T) {
	env := newTestEnv(t, nil)
	env.factory.ExploreErr = map[string]error{"rs": errors.New("workspace unreadable")}

	state := runToCompletion(t, env, domain.ExecutionRequest{
		Project: "proj",
		Request: "task",
		Seeds:   []domain.Seed{{Node: "rs"}, {Node: "py"}},
	}, langStackSpecs())

	// The run still consolidates; only the failing node is terminal Failed.
	require.Equal(t, domain.PhaseDone, state.Phase)
	assert.Equal(t, domain.NodeStatusFailed, state.NodeStates["rs"].Status)
	assert.Contains(t, state.NodeStates["rs"].Reason, "workspace unreadable")
	assert.Equal(t, domain.NodeStatusDone, state.NodeStates["py"].Status)
	assert.Equal(t, domain.NodeStatusDone, state.NodeStates["core"].Status)

	require.NotNil(t, state.Plan)
	require.Len(t, state.Plan.Failures, 1)
	assert.Equal(t, "rs", state.Plan.Failures[0].Node)
}

func TestBlockedWhenOutputContractMissing(t *testing.T) {
	env := newTestEnv(t, nil)
	env.factory.OutputErr = map[string]error{"core": errors.New("model overloaded")}

	state := runToCompletion(t, env, domain.ExecutionRequest{
		Project: "proj",
		Request: "task",
		Seeds:   []domain.Seed{{Node: "rs"}},
	}, langStackSpecs())

	require.Equal(t, domain.PhaseDone, state.Phase)

	// rs declared a need that core never answered: rs is Blocked, naming core.
	assert.Equal(t, domain.NodeStatusBlocked, state.NodeStates["rs"].Status)
	assert.Contains(t, state.NodeStates["rs"].Reason, "core")
	assert.True(t, state.NodeStates["core"].NegotiationFailed)

	require.NotNil(t, state.Plan)
	require.Len(t, state.Plan.Failures, 1)
	assert.Equal(t, "rs", state.Plan.Failures[0].Node)
	assert.Equal(t, domain.NodeStatusBlocked, state.Plan.Failures[0].Status)
}

// faultyContractStore delegates to an inner store but fails output reads
// for one producer/consumer pair with a backend error.
type faultyContractStore struct {
	ports.ContractStore
	producer string
	consumer string
}

func (s *faultyContractStore) Get(ctx context.Context, project, producer, consumer string, direction domain.ContractDirection) (*domain.Contract, error) {
	if direction == domain.DirectionOutput && producer == s.producer && consumer == s.consumer {
		return nil, errors.New("backend unavailable")
	}
	return s.ContractStore.Get(ctx, project, producer, consumer, direction)
}

func TestBlockedWhenOutputContractReadFails(t *testing.T) {
	contracts := &faultyContractStore{
		ContractStore: memorystorage.NewContractStore(),
		producer:      "core",
		consumer:      "rs",
	}
	factory := stub.NewFactory()
	manager := NewManager(
		memorystorage.NewCheckpointStore(),
		contracts,
		memory.NewBus(),
		noop.NewCollector(),
		&fixedRouter{},
		factory,
		NewValidator(),
		zap.NewNop(),
		Timeouts{Run: 30 * time.Second, Node: 10 * time.Second, Call: 10 * time.Second},
		2,
	)

	ctx := context.Background()
	runID, err := manager.SubmitRun(ctx, domain.ExecutionRequest{
		Project: "proj",
		Request: "task",
		Seeds:   []domain.Seed{{Node: "rs"}},
	}, langStackSpecs())
	require.NoError(t, err)
	require.NoError(t, manager.ExecuteRun(ctx, runID))

	state, err := manager.GetRun(runID)
	require.NoError(t, err)

	// A store read failure on a declared need behaves like a missing output
	// contract: the consumer is Blocked, siblings are untouched.
	require.Equal(t, domain.PhaseDone, state.Phase)
	assert.Equal(t, domain.NodeStatusBlocked, state.NodeStates["rs"].Status)
	assert.Contains(t, state.NodeStates["rs"].Reason, "core")
	assert.Equal(t, domain.NodeStatusDone, state.NodeStates["py"].Status)
}

func TestSubmitRunRejectsCycle(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.manager.SubmitRun(context.Background(), domain.ExecutionRequest{
		Project: "proj",
		Request: "task",
	}, []domain.NodeSpec{
		{Name: "a", Deps: []string{"b"}},
		{Name: "b", Deps: []string{"a"}},
	})
	require.Error(t, err)
	assert.True(t, domain.IsGraphError(err))
}

func TestSubmitRunRejectsUnknownDependency(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.manager.SubmitRun(context.Background(), domain.ExecutionRequest{
		Project: "proj",
		Request: "task",
	}, []domain.NodeSpec{
		{Name: "a", Deps: []string{"ghost"}},
	})
	require.Error(t, err)

	var unknown *domain.UnknownNodeError
	assert.True(t, errors.As(err, &unknown))
}

func TestSubmitRunRejectsInvalidRequest(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.manager.SubmitRun(context.Background(), domain.ExecutionRequest{
		Project: "",
		Request: "task",
	}, langStackSpecs())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "project is required")
}

func TestRoutedRun(t *testing.T) {
	router := &fixedRouter{seeds: []domain.Seed{{Node: "py", Instruction: "routed instruction"}}}
	env := newTestEnv(t, router)

	state := runToCompletion(t, env, domain.ExecutionRequest{
		Project: "proj",
		Request: "original request",
	}, langStackSpecs())

	require.Equal(t, domain.PhaseDone, state.Phase)
	assert.Equal(t, []domain.Seed{{Node: "py", Instruction: "routed instruction"}}, state.Seeds)
	assert.Equal(t, []string{"core", "py"}, state.Relevant)
	assert.Contains(t, state.NodeStates["py"].Plan, "routed instruction")
}

func TestRunFailsWhenRouterSelectsNothing(t *testing.T) {
	env := newTestEnv(t, &fixedRouter{})

	state := runToCompletion(t, env, domain.ExecutionRequest{
		Project: "proj",
		Request: "no match",
	}, langStackSpecs())

	assert.Equal(t, domain.PhaseFailed, state.Phase)
	assert.Contains(t, state.Error, "routing selected no nodes")
}

func TestGetRunUnknown(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.manager.GetRun("nonexistent")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCancelTerminalRun(t *testing.T) {
	env := newTestEnv(t, nil)

	req := domain.ExecutionRequest{
		Project: "proj",
		Request: "task",
		Seeds:   []domain.Seed{{Node: "core"}},
	}
	ctx := context.Background()
	runID, err := env.manager.SubmitRun(ctx, req, langStackSpecs())
	require.NoError(t, err)
	require.NoError(t, env.manager.ExecuteRun(ctx, runID))

	err = env.manager.CancelRun(ctx, runID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "terminal phase")
}

func TestExecuteRunTwice(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	runID, err := env.manager.SubmitRun(ctx, domain.ExecutionRequest{
		Project: "proj",
		Request: "task",
		Seeds:   []domain.Seed{{Node: "core"}},
	}, langStackSpecs())
	require.NoError(t, err)

	require.NoError(t, env.manager.ExecuteRun(ctx, runID))
	err = env.manager.ExecuteRun(ctx, runID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already started")
}
