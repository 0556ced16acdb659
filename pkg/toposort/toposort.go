// Package toposort provides a string-keyed directed graph with topological
// ordering, cycle extraction, and longest-path level assignment.
package toposort

import "sort"

// Graph is a directed graph over string node names. Names are interned into
// dense integer IDs, so ordering ties resolve by insertion order.
type Graph struct {
	symbols *SymbolTable
	core    *IntGraph
}

// NewGraph creates an empty Graph.
func NewGraph() *Graph {
	return &Graph{
		symbols: NewSymbolTable(),
		core:    NewIntGraph(),
	}
}

// AddNode inserts a node. Returns false when the node already exists.
func (g *Graph) AddNode(name string) bool {
	if _, exists := g.symbols.Lookup(name); exists {
		return false
	}

	return g.core.AddNode(g.symbols.Intern(name))
}

// HasNode reports whether the node was added.
func (g *Graph) HasNode(name string) bool {
	_, exists := g.symbols.Lookup(name)

	return exists
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return g.symbols.Len()
}

// AddEdge inserts a directed edge, creating both endpoints as needed.
// Returns false when the edge already existed.
func (g *Graph) AddEdge(from, to string) bool {
	u := g.symbols.Intern(from)
	v := g.symbols.Intern(to)

	g.core.AddNode(u)
	g.core.AddNode(v)

	return g.core.AddEdge(u, v)
}

// Toposort orders the nodes so that every edge points forward. Ties resolve
// by insertion order. The second return value is false when a cycle exists.
func (g *Graph) Toposort() ([]string, bool) {
	ids, ok := g.core.TopoSort()

	result := make([]string, len(ids))
	for i, id := range ids {
		result[i] = g.symbols.Resolve(id)
	}

	return result, ok
}

// Levels groups nodes by longest-path depth, shallowest group first. Nodes
// inside one group keep insertion order. The second return value is false
// when a cycle prevents the assignment.
func (g *Graph) Levels() ([][]string, bool) {
	depths, ok := g.core.Levels()
	if !ok {
		return nil, false
	}

	deepest := -1
	for _, d := range depths {
		if d > deepest {
			deepest = d
		}
	}

	groups := make([][]string, deepest+1)
	for id, d := range depths {
		groups[d] = append(groups[d], g.symbols.Resolve(id))
	}

	return groups, true
}

// FindCycle returns a cycle through the seed node without the closing
// repetition, or an empty slice when the seed is on no cycle.
func (g *Graph) FindCycle(seed string) []string {
	id, exists := g.symbols.Lookup(seed)
	if !exists {
		return []string{}
	}

	cycleIDs := g.core.FindCycle(id)
	if len(cycleIDs) > 1 && cycleIDs[0] == cycleIDs[len(cycleIDs)-1] {
		cycleIDs = cycleIDs[:len(cycleIDs)-1]
	}

	result := make([]string, len(cycleIDs))
	for i, cid := range cycleIDs {
		result[i] = g.symbols.Resolve(cid)
	}

	return result
}

// FindParents returns the sources of incoming edges, sorted by name.
func (g *Graph) FindParents(to string) []string {
	targetID, exists := g.symbols.Lookup(to)
	if !exists {
		return []string{}
	}

	var parents []string

	for u, children := range g.core.nodes {
		for _, v := range children {
			if v == targetID {
				parents = append(parents, g.symbols.Resolve(u))

				break
			}
		}
	}

	sort.Strings(parents)

	return parents
}

// FindChildren returns the targets of outgoing edges, sorted by name.
func (g *Graph) FindChildren(from string) []string {
	u, exists := g.symbols.Lookup(from)
	if !exists || u >= len(g.core.nodes) {
		return []string{}
	}

	childIDs := g.core.nodes[u]
	children := make([]string, len(childIDs))

	for i, v := range childIDs {
		children[i] = g.symbols.Resolve(v)
	}

	sort.Strings(children)

	return children
}
