// Package stub provides a scripted task executor.
// This is for testing purposes only.
package stub

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aescanero/dagplan/pkg/domain"
	"github.com/aescanero/dagplan/pkg/ports"
)

// Factory hands out one Executor per node and keeps it for inspection.
type Factory struct {
	mu        sync.Mutex
	executors map[string]*Executor

	// Optional per-node overrides, keyed by node name.
	ExploreErr map[string]error
	RunErr     map[string]error
	InputErr   map[string]error
	OutputErr  map[string]error

	// Delegations maps a node to the dependencies its RunTask delegates to.
	Delegations map[string][]string
}

// NewFactory creates an empty stub factory.
func NewFactory() *Factory {
	return &Factory{executors: make(map[string]*Executor)}
}

// ExecutorFor returns the node's executor, creating it on first use.
func (f *Factory) ExecutorFor(project string, node *domain.Node) ports.TaskExecutor {
	f.mu.Lock()
	defer f.mu.Unlock()

	if e, ok := f.executors[node.Name]; ok {
		return e
	}
	e := &Executor{
		node:        node,
		exploreErr:  f.ExploreErr[node.Name],
		runErr:      f.RunErr[node.Name],
		inputErr:    f.InputErr[node.Name],
		outputErr:   f.OutputErr[node.Name],
		delegations: f.Delegations[node.Name],
	}
	f.executors[node.Name] = e
	return e
}

// Executor returns the node's executor if it was ever requested.
func (f *Factory) Executor(node string) *Executor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.executors[node]
}

// Executor counts calls and returns deterministic canned results.
type Executor struct {
	mu          sync.Mutex
	node        *domain.Node
	exploreErr  error
	runErr      error
	inputErr    error
	outputErr   error
	delegations []string

	ExploreCalls int
	InputCalls   int
	OutputCalls  int
	RunCalls     int
	RunTasks     []string
}

// Explore returns a canned state blob.
func (e *Executor) Explore(ctx context.Context) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ExploreCalls++
	if e.exploreErr != nil {
		return nil, e.exploreErr
	}
	return []byte(fmt.Sprintf(`{"summary":"explored %s"}`, e.node.Name)), nil
}

// DeclareInputContracts returns one canned need per dependency.
func (e *Executor) DeclareInputContracts(ctx context.Context, dependencies []string) (map[string]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.InputCalls++
	if e.inputErr != nil {
		return nil, e.inputErr
	}
	out := make(map[string]string, len(dependencies))
	for _, dep := range dependencies {
		out[dep] = fmt.Sprintf("%s needs %s", e.node.Name, dep)
	}
	return out, nil
}

// DeclareOutputContracts answers every dependent input with a canned offer.
func (e *Executor) DeclareOutputContracts(ctx context.Context, dependentInputs map[string]string) (map[string]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.OutputCalls++
	if e.outputErr != nil {
		return nil, e.outputErr
	}
	out := make(map[string]string, len(dependentInputs))
	for dependent := range dependentInputs {
		out[dependent] = fmt.Sprintf("%s provides for %s", e.node.Name, dependent)
	}
	return out, nil
}

// RunTask returns a canned plan and delegates to the configured dependencies.
func (e *Executor) RunTask(ctx context.Context, task string, dependencyOutputs map[string]string, delegate ports.DelegateFunc) (string, error) {
	e.mu.Lock()
	e.RunCalls++
	e.RunTasks = append(e.RunTasks, task)
	runErr := e.runErr
	delegations := append([]string(nil), e.delegations...)
	e.mu.Unlock()

	if runErr != nil {
		return "", runErr
	}

	plan := fmt.Sprintf("plan for %s: %s", e.node.Name, task)

	deps := make([]string, 0, len(dependencyOutputs))
	for dep := range dependencyOutputs {
		deps = append(deps, dep)
	}
	sort.Strings(deps)
	for _, dep := range deps {
		plan += fmt.Sprintf("\nusing %s: %s", dep, dependencyOutputs[dep])
	}

	for _, dep := range delegations {
		depPlan, err := delegate(ctx, dep, fmt.Sprintf("subtask from %s", e.node.Name))
		if err != nil {
			return "", err
		}
		plan += fmt.Sprintf("\ndelegated %s: %s", dep, depPlan)
	}

	return plan, nil
}
