package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/dagplan/pkg/domain"
)

func consolidationGraph(t *testing.T) *domain.Graph {
	t.Helper()
	g, err := domain.BuildGraph([]domain.NodeSpec{
		{Name: "base"},
		{Name: "lib", Deps: []string{"base"}},
		{Name: "app", Deps: []string{"lib"}},
	})
	require.NoError(t, err)
	return g
}

func TestConsolidateOrdering(t *testing.T) {
	g := consolidationGraph(t)
	states := map[string]*domain.NodeState{
		"base": {Node: "base", Status: domain.NodeStatusDone, Plan: "base plan"},
		"lib":  {Node: "lib", Status: domain.NodeStatusDone, Plan: "lib plan"},
		"app":  {Node: "app", Status: domain.NodeStatusDone, Plan: "app plan"},
	}

	plan := NewEngine().Consolidate(
		g,
		[]domain.Seed{{Node: "app", Instruction: "do it"}},
		[]string{"base", "lib", "app"},
		"do it",
		states,
	)

	assert.Equal(t, "app", plan.Root)
	assert.Equal(t, "do it", plan.Request)

	// Root first, then dependents before dependencies.
	names := make([]string, 0, len(plan.Sections))
	for _, s := range plan.Sections {
		names = append(names, s.Node)
	}
	assert.Equal(t, []string{"app", "lib", "base"}, names)

	assert.Empty(t, plan.Failures)
	assert.NotEmpty(t, plan.NextSteps)
	assert.NotContains(t, plan.NextSteps[len(plan.NextSteps)-1], "failed or blocked")
}

func TestConsolidateReportsFailures(t *testing.T) {
	g := consolidationGraph(t)
	states := map[string]*domain.NodeState{
		"base": {Node: "base", Status: domain.NodeStatusDone, Plan: "base plan"},
		"lib":  {Node: "lib", Status: domain.NodeStatusFailed, Reason: "executor crashed"},
		"app":  {Node: "app", Status: domain.NodeStatusBlocked},
	}

	plan := NewEngine().Consolidate(
		g,
		[]domain.Seed{{Node: "app"}},
		[]string{"base", "lib", "app"},
		"req",
		states,
	)

	// Failed and blocked nodes keep their sections and appear in Failures.
	require.Len(t, plan.Sections, 3)
	require.Len(t, plan.Failures, 2)

	byNode := make(map[string]domain.NodeDiagnostic)
	for _, f := range plan.Failures {
		byNode[f.Node] = f
	}
	assert.Equal(t, "executor crashed", byNode["lib"].Reason)
	assert.Equal(t, domain.NodeStatusBlocked, byNode["app"].Status)
	assert.Equal(t, "no reason recorded", byNode["app"].Reason)

	assert.Contains(t, plan.NextSteps[len(plan.NextSteps)-1], "failed or blocked")
}

func TestConsolidateMultipleSeeds(t *testing.T) {
	g, err := domain.BuildGraph([]domain.NodeSpec{
		{Name: "core"},
		{Name: "rs", Deps: []string{"core"}},
		{Name: "py", Deps: []string{"core"}},
	})
	require.NoError(t, err)

	states := map[string]*domain.NodeState{
		"core": {Node: "core", Status: domain.NodeStatusDone},
		"rs":   {Node: "rs", Status: domain.NodeStatusDone},
		"py":   {Node: "py", Status: domain.NodeStatusDone},
	}

	plan := NewEngine().Consolidate(
		g,
		[]domain.Seed{{Node: "py"}, {Node: "rs"}},
		[]string{"core", "rs", "py"},
		"req",
		states,
	)

	assert.Equal(t, "py", plan.Root)
	names := make([]string, 0, len(plan.Sections))
	for _, s := range plan.Sections {
		names = append(names, s.Node)
	}
	assert.Equal(t, []string{"py", "rs", "core"}, names)
}
