// Package colgraph derives the execution structure of a table's output
// columns: a dependency DAG, a longest-path level assignment, and the
// widest level. The row executor walks the levels in order; the batch
// planner sizes its column groups from the width.
package colgraph

import (
	"fmt"
	"strings"

	"github.com/Sumatoshi-tech/tablefang/internal/schema"
	"github.com/Sumatoshi-tech/tablefang/pkg/toposort"
)

// Analysis is the derived structure of one table schema. Levels holds
// output column ids grouped by dependency depth, shallowest first; columns
// inside one level keep declaration order. MaxLevelWidth is the size of
// the widest level and bounds useful column parallelism.
type Analysis struct {
	Levels        [][]string
	MaxLevelWidth int

	graph   *toposort.Graph
	parents map[string][]string
	outputs []string
}

// Analyze builds the column dependency graph for s. Edges run from a
// referenced output column to the referencing column; references to input
// columns carry no edge. References to unknown columns, to self, or to
// columns at or right of the holder are rejected.
func Analyze(s *schema.TableSchema) (*Analysis, error) {
	graph := toposort.NewGraph()
	parents := make(map[string][]string)
	outputs := make([]string, 0, len(s.Columns))

	for _, col := range s.Columns {
		if !col.IsOutput() {
			continue
		}

		outputs = append(outputs, col.ID)
		graph.AddNode(col.ID)
	}

	for _, col := range s.Columns {
		if !col.IsOutput() {
			continue
		}

		for _, ref := range col.Gen.Refs() {
			if err := checkRef(s, col.ID, ref); err != nil {
				return nil, err
			}

			refCol, _ := s.Column(ref)
			if !refCol.IsOutput() {
				continue
			}

			if graph.AddEdge(ref, col.ID) {
				parents[col.ID] = append(parents[col.ID], ref)
			}
		}
	}

	levels, ok := graph.Levels()
	if !ok {
		return nil, fmt.Errorf("%w: %s", schema.ErrCyclicColumnRef, strings.Join(findAnyCycle(graph, outputs), " -> "))
	}

	width := 0
	for _, level := range levels {
		if len(level) > width {
			width = len(level)
		}
	}

	return &Analysis{
		Levels:        levels,
		MaxLevelWidth: width,
		graph:         graph,
		parents:       parents,
		outputs:       outputs,
	}, nil
}

func findAnyCycle(graph *toposort.Graph, candidates []string) []string {
	for _, seed := range candidates {
		cycle := graph.FindCycle(seed)
		if len(cycle) > 0 {
			return cycle
		}
	}

	return nil
}

func checkRef(s *schema.TableSchema, holder, ref string) error {
	if ref == holder {
		return fmt.Errorf("%w: column %q", schema.ErrSelfColumnRef, holder)
	}

	order := s.ColumnOrder(ref)
	if order == 0 {
		return fmt.Errorf("%w: column %q references %q", schema.ErrUnknownColumnRef, holder, ref)
	}

	if order > s.ColumnOrder(holder) {
		return fmt.Errorf("%w: column %q references %q", schema.ErrForwardColumnRef, holder, ref)
	}

	return nil
}

// Outputs returns the output column ids in declaration order.
func (a *Analysis) Outputs() []string {
	return a.outputs
}

// Parents returns the output columns the given column directly depends on,
// in reference order.
func (a *Analysis) Parents(columnID string) []string {
	return a.parents[columnID]
}

// Dependents returns every output column that transitively depends on
// columnID, in breadth-first order. The executor marks these as skipped
// when columnID fails.
func (a *Analysis) Dependents(columnID string) []string {
	var result []string

	seen := map[string]struct{}{columnID: {}}
	frontier := []string{columnID}

	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]

		for _, child := range a.graph.FindChildren(next) {
			if _, ok := seen[child]; ok {
				continue
			}

			seen[child] = struct{}{}

			result = append(result, child)
			frontier = append(frontier, child)
		}
	}

	return result
}
