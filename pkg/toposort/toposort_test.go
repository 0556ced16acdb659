package toposort_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/tablefang/pkg/toposort"
)

func index(list []string, val string) int {
	for idx, str := range list {
		if str == val {
			return idx
		}
	}

	return -1
}

// addNodes is a test helper to add multiple nodes at once.
func addNodes(graph *toposort.Graph, names ...string) {
	for _, name := range names {
		graph.AddNode(name)
	}
}

// edge represents a directed edge from one node to another.
type edge struct {
	From string
	To   string
}

func TestToposortDuplicatedNode(t *testing.T) {
	t.Parallel()

	graph := toposort.NewGraph()
	graph.AddNode("a")

	if graph.AddNode("a") {
		t.Error("not raising duplicated node error")
	}
}

func TestToposortWikipedia(t *testing.T) {
	t.Parallel()

	graph := toposort.NewGraph()
	addNodes(graph, "2", "3", "5", "7", "8", "9", "10", "11")

	edges := []edge{
		{"7", "8"},
		{"7", "11"},
		{"5", "11"},
		{"3", "8"},
		{"3", "10"},
		{"11", "2"},
		{"11", "9"},
		{"11", "10"},
		{"8", "9"},
	}

	for _, e := range edges {
		graph.AddEdge(e.From, e.To)
	}

	result, ok := graph.Toposort()
	if !ok {
		t.Error("closed path detected in no closed pathed graph")
	}

	for _, e := range edges {
		if fromIdx, toIdx := index(result, e.From), index(result, e.To); fromIdx > toIdx {
			t.Errorf("dependency failed: not satisfy %v(%v) > %v(%v)", e.From, fromIdx, e.To, toIdx)
		}
	}
}

func TestToposortCycle(t *testing.T) {
	t.Parallel()

	graph := toposort.NewGraph()
	addNodes(graph, "1", "2", "3")

	graph.AddEdge("1", "2")
	graph.AddEdge("2", "3")
	graph.AddEdge("3", "1")

	_, ok := graph.Toposort()
	if ok {
		t.Error("closed path not detected in closed pathed graph")
	}
}

func TestToposortLevels_Chain(t *testing.T) {
	t.Parallel()

	graph := toposort.NewGraph()
	addNodes(graph, "a", "b", "c")

	graph.AddEdge("a", "b")
	graph.AddEdge("b", "c")

	levels, ok := graph.Levels()
	require.True(t, ok)

	expected := [][]string{{"a"}, {"b"}, {"c"}}
	assert.Equal(t, expected, levels)
}

func TestToposortLevels_Diamond(t *testing.T) {
	t.Parallel()

	graph := toposort.NewGraph()
	addNodes(graph, "a", "b", "c", "d")

	graph.AddEdge("a", "b")
	graph.AddEdge("a", "c")
	graph.AddEdge("b", "d")
	graph.AddEdge("c", "d")

	levels, ok := graph.Levels()
	require.True(t, ok)

	// b and c share level 1; d sits below the longest path.
	expected := [][]string{{"a"}, {"b", "c"}, {"d"}}
	assert.Equal(t, expected, levels)
}

func TestToposortLevels_LongestPathWins(t *testing.T) {
	t.Parallel()

	graph := toposort.NewGraph()
	addNodes(graph, "a", "b", "c")

	// Direct edge a -> c plus the longer a -> b -> c path.
	graph.AddEdge("a", "b")
	graph.AddEdge("a", "c")
	graph.AddEdge("b", "c")

	levels, ok := graph.Levels()
	require.True(t, ok)

	expected := [][]string{{"a"}, {"b"}, {"c"}}
	assert.Equal(t, expected, levels)
}

func TestToposortLevels_CycleFails(t *testing.T) {
	t.Parallel()

	graph := toposort.NewGraph()
	addNodes(graph, "a", "b")

	graph.AddEdge("a", "b")
	graph.AddEdge("b", "a")

	_, ok := graph.Levels()
	assert.False(t, ok)
}

func TestToposortLevels_InsertionOrderInsideLevel(t *testing.T) {
	t.Parallel()

	graph := toposort.NewGraph()
	addNodes(graph, "z", "m", "a")

	levels, ok := graph.Levels()
	require.True(t, ok)
	require.Len(t, levels, 1)
	assert.Equal(t, []string{"z", "m", "a"}, levels[0])
}

func TestToposortFindCycle(t *testing.T) {
	t.Parallel()

	graph := toposort.NewGraph()
	addNodes(graph, "1", "2", "3", "4", "5")

	graph.AddEdge("1", "2")
	graph.AddEdge("2", "3")
	graph.AddEdge("2", "4")
	graph.AddEdge("3", "1")
	graph.AddEdge("5", "1")

	cycle := graph.FindCycle("2")
	expected := [...]string{"2", "3", "1"}
	assert.Equal(t, expected[:], cycle)

	cycle = graph.FindCycle("5")
	assert.Empty(t, cycle)
}

func TestToposortFindParents(t *testing.T) {
	t.Parallel()

	graph := toposort.NewGraph()
	addNodes(graph, "1", "2", "3", "4", "5")

	graph.AddEdge("1", "2")
	graph.AddEdge("2", "3")
	graph.AddEdge("2", "4")
	graph.AddEdge("3", "1")
	graph.AddEdge("5", "1")

	parents := graph.FindParents("2")
	expected := [...]string{"1"}
	assert.Equal(t, expected[:], parents)

	parents = graph.FindParents("1")
	assert.Equal(t, []string{"3", "5"}, parents)
}

func TestToposortFindChildren(t *testing.T) {
	t.Parallel()

	graph := toposort.NewGraph()
	addNodes(graph, "1", "2", "3", "4", "5")

	graph.AddEdge("1", "2")
	graph.AddEdge("2", "3")
	graph.AddEdge("2", "4")
	graph.AddEdge("3", "1")
	graph.AddEdge("5", "1")

	children := graph.FindChildren("1")
	expected := [...]string{"2"}
	assert.Equal(t, expected[:], children)

	children = graph.FindChildren("2")
	assert.Equal(t, []string{"3", "4"}, children)
}
