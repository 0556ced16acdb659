// Package schema defines generative table schemas: columns, data types,
// generation configs, prompt templates and the per-cell state records
// written alongside generated values. Validation enforces the left-only
// reference rule that keeps column dependencies acyclic.
package schema

import "encoding/json"

// TableKind selects the behaviour family of a table.
type TableKind string

// Table kinds. Action tables are plain append-only generative tables.
// Knowledge tables add one embedding column and serve retrieval. Chat
// tables add exactly one multi-turn language-model column whose prompt
// context includes previous rows.
const (
	KindAction    TableKind = "action"
	KindKnowledge TableKind = "knowledge"
	KindChat      TableKind = "chat"
)

// Valid reports whether k is a known table kind.
func (k TableKind) Valid() bool {
	return k == KindAction || k == KindKnowledge || k == KindChat
}

// Row maps column ids to cell values. State columns store CellState
// values (or their decoded map form after a JSON round trip).
type Row map[string]any

// Clone returns a shallow copy of the row. Cell values are shared; the
// map itself is fresh so executors can fill drafts independently.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}

	return out
}

// State decodes the state entry for columnID. A missing entry returns
// ok=false; a malformed entry decodes to the zero state.
func (r Row) State(columnID string) (CellState, bool) {
	raw, ok := r[StateColumnID(columnID)]
	if !ok || raw == nil {
		return CellState{}, false
	}

	switch v := raw.(type) {
	case CellState:
		return v, true
	case *CellState:
		return *v, true
	case map[string]any:
		var state CellState

		data, err := json.Marshal(v)
		if err != nil {
			return CellState{}, true
		}

		_ = json.Unmarshal(data, &state)

		return state, true
	case string:
		var state CellState

		_ = json.Unmarshal([]byte(v), &state)

		return state, true
	default:
		return CellState{}, true
	}
}

// SetState writes the state entry for columnID.
func (r Row) SetState(columnID string, state CellState) {
	r[StateColumnID(columnID)] = state
}

// TableSchema is the ordered column list of one table plus its kind.
// Column order in the slice defines column_order: dense, 1-based over
// data columns, with implicit and state columns excluded.
type TableSchema struct {
	ID      string    `json:"id"`
	Kind    TableKind `json:"kind"`
	Columns []Column  `json:"cols"`
}

// Column returns the column with the given id.
func (s *TableSchema) Column(id string) (Column, bool) {
	for _, col := range s.Columns {
		if col.ID == id {
			return col, true
		}
	}

	return Column{}, false
}

// HasColumn reports whether a column with the given id exists.
func (s *TableSchema) HasColumn(id string) bool {
	_, ok := s.Column(id)

	return ok
}

// ColumnOrder returns the 1-based position of the column, or 0 when
// the column does not exist.
func (s *TableSchema) ColumnOrder(id string) int {
	for i, col := range s.Columns {
		if col.ID == id {
			return i + 1
		}
	}

	return 0
}

// ColumnIDs returns the data column ids in declaration order.
func (s *TableSchema) ColumnIDs() []string {
	ids := make([]string, len(s.Columns))
	for i, col := range s.Columns {
		ids[i] = col.ID
	}

	return ids
}

// OutputColumns returns the columns carrying a generation config, in
// declaration order.
func (s *TableSchema) OutputColumns() []Column {
	out := make([]Column, 0, len(s.Columns))

	for _, col := range s.Columns {
		if col.IsOutput() {
			out = append(out, col)
		}
	}

	return out
}

// InputColumns returns the columns without a generation config, in
// declaration order.
func (s *TableSchema) InputColumns() []Column {
	out := make([]Column, 0, len(s.Columns))

	for _, col := range s.Columns {
		if !col.IsOutput() {
			out = append(out, col)
		}
	}

	return out
}

// MultiTurnColumn returns the chat column marked multi_turn, if any.
func (s *TableSchema) MultiTurnColumn() (Column, bool) {
	for _, col := range s.Columns {
		llm, ok := col.Gen.(*LLMGenConfig)
		if ok && llm.MultiTurn {
			return col, true
		}
	}

	return Column{}, false
}

// VectorColumn returns the embedding column of a knowledge table, if any.
func (s *TableSchema) VectorColumn() (Column, bool) {
	for _, col := range s.Columns {
		if col.DType == DTypeVector {
			return col, true
		}
	}

	return Column{}, false
}
