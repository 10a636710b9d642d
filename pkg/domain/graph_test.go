package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func webStackSpecs() []NodeSpec {
	return []NodeSpec{
		{Name: "proto", Path: "libs/proto", Tags: []string{"api"}},
		{Name: "core", Path: "libs/core", Deps: []string{"proto"}},
		{Name: "api", Path: "services/api", Tags: []string{"http"}, Deps: []string{"core", "proto"}},
		{Name: "worker", Path: "services/worker", Deps: []string{"core"}},
		{Name: "web", Path: "apps/web", Tags: []string{"frontend"}, Deps: []string{"api"}},
	}
}

func TestBuildGraph(t *testing.T) {
	g, err := BuildGraph(webStackSpecs())
	require.NoError(t, err)
	require.Equal(t, 5, g.Len())

	core, ok := g.Node("core")
	require.True(t, ok)
	assert.Equal(t, []string{"proto"}, core.Deps)
	assert.Equal(t, []string{"api", "worker"}, core.Dependents)

	assert.Equal(t, []string{"core", "proto"}, g.Dependencies("api"))
	assert.Equal(t, []string{"core", "api"}, g.Dependents("proto"))
}

func TestBuildGraphDuplicateNode(t *testing.T) {
	_, err := BuildGraph([]NodeSpec{
		{Name: "a"},
		{Name: "a"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate node")
}

func TestBuildGraphUnknownDependency(t *testing.T) {
	g, err := BuildGraph([]NodeSpec{
		{Name: "a", Deps: []string{"missing"}},
	})
	require.Error(t, err)
	assert.Nil(t, g, "no partial graph on error")

	var unknown *UnknownNodeError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "missing", unknown.Node)
	assert.Equal(t, "a", unknown.ReferencedBy)
}

func TestBuildGraphCycle(t *testing.T) {
	g, err := BuildGraph([]NodeSpec{
		{Name: "a", Deps: []string{"c"}},
		{Name: "b", Deps: []string{"a"}},
		{Name: "c", Deps: []string{"b"}},
		{Name: "standalone"},
	})
	require.Error(t, err)
	assert.Nil(t, g, "no partial graph on error")

	var cycle *CycleError
	require.True(t, errors.As(err, &cycle))
	assert.ElementsMatch(t, []string{"a", "b", "c"}, cycle.Nodes)
}

func TestRelevantSubgraph(t *testing.T) {
	g, err := BuildGraph(webStackSpecs())
	require.NoError(t, err)

	// Seeds plus transitive dependencies, never dependents.
	relevant, err := g.RelevantSubgraph([]string{"api"})
	require.NoError(t, err)
	assert.Equal(t, []string{"proto", "core", "api"}, relevant)

	relevant, err = g.RelevantSubgraph([]string{"worker", "web"})
	require.NoError(t, err)
	assert.Equal(t, []string{"proto", "core", "api", "worker", "web"}, relevant)

	relevant, err = g.RelevantSubgraph([]string{"proto"})
	require.NoError(t, err)
	assert.Equal(t, []string{"proto"}, relevant)
}

func TestRelevantSubgraphUnknownSeed(t *testing.T) {
	g, err := BuildGraph(webStackSpecs())
	require.NoError(t, err)

	_, err = g.RelevantSubgraph([]string{"nope"})
	var unknown *UnknownNodeError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "nope", unknown.Node)
}

func TestTopoSort(t *testing.T) {
	g, err := BuildGraph(webStackSpecs())
	require.NoError(t, err)

	sorted := g.TopoSort([]string{"web", "api", "core", "proto"})
	assert.Equal(t, []string{"proto", "core", "api", "web"}, sorted)

	// Nodes outside the set do not constrain ordering.
	sorted = g.TopoSort([]string{"web", "proto"})
	assert.Equal(t, []string{"proto", "web"}, sorted)
}

func TestTopoWaves(t *testing.T) {
	g, err := BuildGraph(webStackSpecs())
	require.NoError(t, err)

	waves := g.TopoWaves([]string{"proto", "core", "api", "worker", "web"})
	require.Len(t, waves, 4)
	assert.Equal(t, []string{"proto"}, waves[0])
	assert.Equal(t, []string{"core"}, waves[1])
	assert.Equal(t, []string{"api", "worker"}, waves[2])
	assert.Equal(t, []string{"web"}, waves[3])
}
