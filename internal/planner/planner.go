// Package planner sizes the concurrency of one write-shaped request. It
// turns the column-graph width and the set of columns needing generation
// into a (column_batch, row_batch) pair whose product never exceeds the
// per-request cell budget.
package planner

import (
	"fmt"

	"github.com/Sumatoshi-tech/tablefang/internal/schema"
)

// DefaultCellBudget is the per-request cap on concurrently generating
// cells. column_batch * row_batch never exceeds it.
const DefaultCellBudget = 15

// Kind identifies the write-shaped request being planned.
type Kind string

// Request kinds.
const (
	KindRowAdd        Kind = "row_add"
	KindMultiRowAdd   Kind = "multi_row_add"
	KindRowRegen      Kind = "row_regen"
	KindMultiRowRegen Kind = "multi_row_regen"
)

// RegenStrategy selects which output columns a regeneration recomputes.
type RegenStrategy string

// Regeneration strategies. Positions refer to declaration order of the
// output columns.
const (
	RegenAll      RegenStrategy = "run_all"
	RegenSelected RegenStrategy = "run_selected"
	RegenBefore   RegenStrategy = "run_before"
	RegenAfter    RegenStrategy = "run_after"
)

// Valid reports whether r is a known strategy.
func (r RegenStrategy) Valid() bool {
	switch r {
	case RegenAll, RegenSelected, RegenBefore, RegenAfter:
		return true
	default:
		return false
	}
}

// Params are the inputs of one planning decision.
type Params struct {
	// MaxLevelWidth is the widest dependency level of the table.
	MaxLevelWidth int
	// ToGenerate is the number of output columns needing generation.
	ToGenerate int
	// Concurrent is false when the client opted out of parallelism.
	Concurrent bool
	// MultiTurn is true when any column to generate is multi-turn.
	MultiTurn bool
	// CellBudget overrides DefaultCellBudget when positive.
	CellBudget int
}

// Plan fixes the concurrency shape of one request: up to RowBatch row
// executors, each generating up to ColumnBatch columns at a time.
type Plan struct {
	ColumnBatch int
	RowBatch    int
}

// Compute applies the sizing rules in order: sequential requests get pure
// row parallelism, multi-turn requests serialize completely, everything
// else divides the cell budget between column and row parallelism. With
// nothing to generate the plan degenerates to pure row parallelism so
// value-only writes still batch.
func Compute(p Params) Plan {
	budget := p.CellBudget
	if budget <= 0 {
		budget = DefaultCellBudget
	}

	if !p.Concurrent {
		return Plan{ColumnBatch: 1, RowBatch: budget}
	}

	if p.MultiTurn {
		return Plan{ColumnBatch: 1, RowBatch: 1}
	}

	columnBatch := p.ToGenerate
	if p.MaxLevelWidth < columnBatch {
		columnBatch = p.MaxLevelWidth
	}

	if columnBatch < 1 {
		columnBatch = 1
	}

	rowBatch := budget / columnBatch
	if rowBatch < 1 {
		rowBatch = 1
	}

	return Plan{ColumnBatch: columnBatch, RowBatch: rowBatch}
}

// ColumnsToGenerate returns the output columns an add request must fill,
// in declaration order. A column needs generation when at least one row
// does not supply a value for it.
func ColumnsToGenerate(s *schema.TableSchema, rows []schema.Row) []string {
	var result []string

	for _, col := range s.OutputColumns() {
		supplied := true

		for _, row := range rows {
			if value, ok := row[col.ID]; !ok || value == nil {
				supplied = false

				break
			}
		}

		if !supplied || len(rows) == 0 {
			result = append(result, col.ID)
		}
	}

	return result
}

// RegenColumns returns the output columns a regeneration request must
// recompute, in declaration order, according to the strategy and its
// target column.
func RegenColumns(s *schema.TableSchema, strategy RegenStrategy, targetID string) ([]string, error) {
	outputs := s.OutputColumns()

	if strategy == RegenAll {
		ids := make([]string, len(outputs))
		for i, col := range outputs {
			ids[i] = col.ID
		}

		return ids, nil
	}

	if !strategy.Valid() {
		return nil, fmt.Errorf("%w: unknown regen strategy %q", schema.ErrBadInput, strategy)
	}

	target := -1

	for i, col := range outputs {
		if col.ID == targetID {
			target = i

			break
		}
	}

	if target < 0 {
		return nil, fmt.Errorf("%w: %q is not an output column", schema.ErrBadInput, targetID)
	}

	var picked []schema.Column

	switch strategy {
	case RegenSelected:
		picked = outputs[target : target+1]
	case RegenBefore:
		picked = outputs[:target+1]
	case RegenAfter:
		picked = outputs[target:]
	case RegenAll:
	}

	ids := make([]string, len(picked))
	for i, col := range picked {
		ids[i] = col.ID
	}

	return ids, nil
}

// HasMultiTurn reports whether any of the named columns is a multi-turn
// language-model column.
func HasMultiTurn(s *schema.TableSchema, columnIDs []string) bool {
	for _, id := range columnIDs {
		col, ok := s.Column(id)
		if !ok {
			continue
		}

		llm, ok := col.Gen.(*schema.LLMGenConfig)
		if ok && llm.MultiTurn {
			return true
		}
	}

	return false
}
