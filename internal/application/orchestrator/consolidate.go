package orchestrator

import (
	"time"

	"github.com/aescanero/dagplan/pkg/domain"
)

// Engine merges per-node plans into one consolidated report. The root
// node's plan leads, followed by the remaining seeded nodes, then their
// dependencies ordered dependents-before-dependencies. Every failed or
// blocked node of the relevant subgraph is listed with its reason; nothing
// is silently dropped. Only plans and contract-derived content cross node
// boundaries, never exploration internals.
type Engine struct{}

// NewEngine creates a consolidation engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Consolidate builds the report for one finished run.
func (e *Engine) Consolidate(
	graph *domain.Graph,
	seeds []domain.Seed,
	relevant []string,
	request string,
	states map[string]*domain.NodeState,
) *domain.ConsolidatedPlan {
	plan := &domain.ConsolidatedPlan{
		Request:     request,
		GeneratedAt: time.Now().UTC(),
	}
	if len(seeds) > 0 {
		plan.Root = seeds[0].Node
	}

	for _, name := range e.order(graph, seeds, relevant) {
		state, ok := states[name]
		if !ok {
			continue
		}

		plan.Sections = append(plan.Sections, domain.PlanSection{
			Node:   name,
			Status: state.Status,
			Plan:   state.Plan,
		})

		if state.Status == domain.NodeStatusFailed || state.Status == domain.NodeStatusBlocked {
			reason := state.Reason
			if reason == "" {
				reason = "no reason recorded"
			}
			plan.Failures = append(plan.Failures, domain.NodeDiagnostic{
				Node:   name,
				Status: state.Status,
				Reason: reason,
			})
		}
	}

	plan.NextSteps = e.nextSteps(len(plan.Failures) > 0)
	return plan
}

// order lists the seeds first, then the rest of the relevant subgraph with
// each dependent ahead of its dependencies.
func (e *Engine) order(graph *domain.Graph, seeds []domain.Seed, relevant []string) []string {
	ordered := make([]string, 0, len(relevant))
	seen := make(map[string]bool, len(relevant))
	for _, seed := range seeds {
		if !seen[seed.Node] {
			seen[seed.Node] = true
			ordered = append(ordered, seed.Node)
		}
	}

	topo := graph.TopoSort(relevant)
	for i := len(topo) - 1; i >= 0; i-- {
		if !seen[topo[i]] {
			seen[topo[i]] = true
			ordered = append(ordered, topo[i])
		}
	}
	return ordered
}

func (e *Engine) nextSteps(hasFailures bool) []string {
	steps := []string{
		"Review the plans for each affected node",
		"Follow test-driven development: run the suggested tests first, they should fail",
		"Implement changes as described per node",
		"Verify the suggested tests pass in each node",
	}
	if hasFailures {
		steps = append(steps, "Resolve the failed or blocked nodes listed above and rerun the request")
	}
	return steps
}
