package toposort

import "sort"

// IntGraph is a directed graph over dense integer node IDs. It is the
// allocation-light core behind Graph; IDs are assumed contiguous from zero.
type IntGraph struct {
	// nodes is an adjacency list: nodes[u] holds every v with an edge u -> v.
	nodes [][]int
	// inDegree counts incoming edges per node.
	inDegree []int
}

// NewIntGraph creates an empty IntGraph.
func NewIntGraph() *IntGraph {
	return &IntGraph{
		nodes:    make([][]int, 0),
		inDegree: make([]int, 0),
	}
}

// Len returns the number of tracked nodes.
func (g *IntGraph) Len() int {
	return len(g.nodes)
}

func (g *IntGraph) ensureCapacity(n int) {
	if n <= len(g.nodes) {
		return
	}

	nodes := make([][]int, n)
	copy(nodes, g.nodes)
	g.nodes = nodes

	inDegree := make([]int, n)
	copy(inDegree, g.inDegree)
	g.inDegree = inDegree
}

// AddNode tracks the given ID. Returns false when it was already present.
func (g *IntGraph) AddNode(id int) bool {
	if id < len(g.nodes) {
		return false
	}

	g.ensureCapacity(id + 1)

	return true
}

// AddEdge adds a directed edge u -> v, growing the graph as needed.
// Returns false when the edge already existed.
func (g *IntGraph) AddEdge(u, v int) bool {
	top := u
	if v > top {
		top = v
	}

	g.ensureCapacity(top + 1)

	for _, neighbor := range g.nodes[u] {
		if neighbor == v {
			return false
		}
	}

	g.nodes[u] = append(g.nodes[u], v)
	g.inDegree[v]++

	return true
}

// TopoSort orders the nodes with Kahn's algorithm. Ties are broken by
// ascending ID so the output is deterministic. The second return value is
// false when a cycle prevents a complete ordering.
func (g *IntGraph) TopoSort() ([]int, bool) {
	n := len(g.nodes)
	if n == 0 {
		return []int{}, true
	}

	inDegree := make([]int, n)
	copy(inDegree, g.inDegree)

	queue := make([]int, 0, n)
	for id := range n {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	result := make([]int, 0, n)
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		result = append(result, u)

		for _, v := range g.nodes[u] {
			inDegree[v]--
			if inDegree[v] == 0 {
				insertSorted(&queue, v)
			}
		}
	}

	if len(result) != n {
		return result, false
	}

	return result, true
}

// Levels assigns every node the length of the longest path reaching it from
// any root. Roots (in-degree zero) sit at level zero. The second return
// value is false when the graph contains a cycle.
func (g *IntGraph) Levels() ([]int, bool) {
	order, ok := g.TopoSort()
	if !ok {
		return nil, false
	}

	levels := make([]int, len(g.nodes))
	for _, u := range order {
		for _, v := range g.nodes[u] {
			if levels[u]+1 > levels[v] {
				levels[v] = levels[u] + 1
			}
		}
	}

	return levels, true
}

// FindCycle returns a cycle through the start node as a closed path
// (first element repeated last), or an empty slice when start is on no cycle.
func (g *IntGraph) FindCycle(start int) []int {
	if start >= len(g.nodes) {
		return []int{}
	}

	parent := map[int]int{start: -1}
	queue := []int{start}

	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]

		for _, v := range g.nodes[u] {
			if v == start {
				cycle := []int{start}
				for curr := u; curr != start && curr != -1; curr = parent[curr] {
					cycle = append(cycle, curr)
				}

				cycle = append(cycle, start)
				for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
					cycle[i], cycle[j] = cycle[j], cycle[i]
				}

				return cycle
			}

			if _, seen := parent[v]; !seen {
				parent[v] = u
				queue = append(queue, v)
			}
		}
	}

	return []int{}
}

// insertSorted inserts v into the ascending slice s, keeping it sorted.
func insertSorted(s *[]int, v int) {
	i := sort.SearchInts(*s, v)
	*s = append(*s, 0)
	copy((*s)[i+1:], (*s)[i:])
	(*s)[i] = v
}
