package domain

import (
	"fmt"
)

// NodeSpec is the graph description record for a single node as submitted
// by a client: name, filesystem-relative path, capability tags and the names
// of the nodes it depends on.
type NodeSpec struct {
	Name string   `json:"name" binding:"required"`
	Path string   `json:"path"`
	Tags []string `json:"tags,omitempty"`
	Deps []string `json:"deps,omitempty"`
}

// Node is an immutable member of a built Graph. Dependents is derived from
// the inverse edges during graph construction.
type Node struct {
	Name       string   `json:"name"`
	Path       string   `json:"path"`
	Tags       []string `json:"tags,omitempty"`
	Deps       []string `json:"deps,omitempty"`
	Dependents []string `json:"dependents,omitempty"`
}

// Graph is an acyclic dependency graph of nodes. It is built once per run
// and never mutated afterwards; rebuilding is the only way to change topology.
type Graph struct {
	nodes map[string]*Node
	order []string // declaration order, used for deterministic iteration
}

// BuildGraph constructs a Graph from node specs. It fails with
// *UnknownNodeError if a dependency references an undeclared node and with
// *CycleError if the edge set is cyclic. No partial graph is returned on error.
func BuildGraph(specs []NodeSpec) (*Graph, error) {
	g := &Graph{
		nodes: make(map[string]*Node, len(specs)),
		order: make([]string, 0, len(specs)),
	}

	for _, spec := range specs {
		if _, exists := g.nodes[spec.Name]; exists {
			return nil, fmt.Errorf("duplicate node: %s", spec.Name)
		}
		node := &Node{
			Name: spec.Name,
			Path: spec.Path,
			Tags: append([]string(nil), spec.Tags...),
			Deps: append([]string(nil), spec.Deps...),
		}
		g.nodes[spec.Name] = node
		g.order = append(g.order, spec.Name)
	}

	// Resolve edges and derive dependents in declaration order.
	for _, name := range g.order {
		node := g.nodes[name]
		for _, dep := range node.Deps {
			target, exists := g.nodes[dep]
			if !exists {
				return nil, &UnknownNodeError{Node: dep, ReferencedBy: name}
			}
			target.Dependents = append(target.Dependents, name)
		}
	}

	if cycle := g.findCycle(); len(cycle) > 0 {
		return nil, &CycleError{Nodes: cycle}
	}

	return g, nil
}

// Node returns the named node, or false if it does not exist.
func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Nodes returns all nodes in declaration order.
func (g *Graph) Nodes() []*Node {
	nodes := make([]*Node, 0, len(g.order))
	for _, name := range g.order {
		nodes = append(nodes, g.nodes[name])
	}
	return nodes
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.order)
}

// Dependencies returns the direct dependencies of a node in declaration order.
func (g *Graph) Dependencies(name string) []string {
	if n, ok := g.nodes[name]; ok {
		return append([]string(nil), n.Deps...)
	}
	return nil
}

// Dependents returns the direct dependents of a node. The order follows the
// declaration order of the depending nodes, so results are reproducible.
func (g *Graph) Dependents(name string) []string {
	if n, ok := g.nodes[name]; ok {
		return append([]string(nil), n.Dependents...)
	}
	return nil
}

// RelevantSubgraph returns the seed nodes plus all of their transitive
// dependencies, in declaration order. Dependents of the seeds are never
// included. Unknown seeds fail with *UnknownNodeError.
func (g *Graph) RelevantSubgraph(seeds []string) ([]string, error) {
	include := make(map[string]bool, len(seeds))

	var visit func(name string) error
	visit = func(name string) error {
		node, ok := g.nodes[name]
		if !ok {
			return &UnknownNodeError{Node: name}
		}
		if include[name] {
			return nil
		}
		include[name] = true
		for _, dep := range node.Deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		return nil
	}

	for _, seed := range seeds {
		if err := visit(seed); err != nil {
			return nil, err
		}
	}

	result := make([]string, 0, len(include))
	for _, name := range g.order {
		if include[name] {
			result = append(result, name)
		}
	}
	return result, nil
}

// TopoSort orders the given nodes so that every dependency precedes its
// dependents. Nodes outside the set are ignored for ordering purposes.
// Within a topological level the declaration order is preserved.
func (g *Graph) TopoSort(names []string) []string {
	var sorted []string
	for _, wave := range g.TopoWaves(names) {
		sorted = append(sorted, wave...)
	}
	return sorted
}

// TopoWaves partitions the given nodes into waves such that all dependencies
// of a node (within the set) appear in an earlier wave. Wave membership is
// deterministic: each wave lists its nodes in declaration order.
func (g *Graph) TopoWaves(names []string) [][]string {
	inSet := make(map[string]bool, len(names))
	for _, n := range names {
		inSet[n] = true
	}

	depth := make(map[string]int, len(names))
	var level func(name string) int
	level = func(name string) int {
		if d, ok := depth[name]; ok {
			return d
		}
		depth[name] = 0 // graph is acyclic, placeholder never observed
		max := 0
		for _, dep := range g.nodes[name].Deps {
			if !inSet[dep] {
				continue
			}
			if d := level(dep) + 1; d > max {
				max = d
			}
		}
		depth[name] = max
		return max
	}

	maxDepth := 0
	for _, name := range g.order {
		if !inSet[name] {
			continue
		}
		if d := level(name); d > maxDepth {
			maxDepth = d
		}
	}

	waves := make([][]string, maxDepth+1)
	for _, name := range g.order {
		if !inSet[name] {
			continue
		}
		waves[depth[name]] = append(waves[depth[name]], name)
	}
	return waves
}

// findCycle returns the nodes involved in a dependency cycle, or nil when the
// graph is acyclic. Uses Kahn's algorithm: any node never reaching in-degree
// zero is part of (or downstream of) a cycle.
func (g *Graph) findCycle() []string {
	indegree := make(map[string]int, len(g.nodes))
	for _, name := range g.order {
		indegree[name] = len(g.nodes[name].Deps)
	}

	queue := make([]string, 0, len(g.order))
	for _, name := range g.order {
		if indegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	processed := 0
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		processed++
		for _, dependent := range g.nodes[name].Dependents {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if processed == len(g.order) {
		return nil
	}
	var cycle []string
	for _, name := range g.order {
		if indegree[name] > 0 {
			cycle = append(cycle, name)
		}
	}
	return cycle
}
