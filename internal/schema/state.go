package schema

import "strings"

// Implicit columns present in every table. They are maintained by the
// storage layer and cannot be declared, generated or deleted.
const (
	// RowIDColumn holds the row UUID assigned at insert time.
	RowIDColumn = "ID"
	// UpdatedAtColumn holds the RFC 3339 timestamp of the last write.
	UpdatedAtColumn = "Updated at"
)

// StateSuffix is appended to a column id to form its state column id.
const StateSuffix = "_"

// StateColumnID returns the id of the state column shadowing columnID.
func StateColumnID(columnID string) string {
	return columnID + StateSuffix
}

// IsStateColumnID reports whether id names a state column.
func IsStateColumnID(id string) bool {
	return strings.HasSuffix(id, StateSuffix)
}

// IsImplicitColumnID reports whether id names one of the implicit columns.
func IsImplicitColumnID(id string) bool {
	return id == RowIDColumn || id == UpdatedAtColumn
}

// CellState records the outcome of producing one cell. It lives in the
// state column shadowing the data column and is the source of truth for
// whether a value exists, why generation failed, and which retrieved
// chunks grounded the output.
type CellState struct {
	IsNull       bool        `json:"is_null"`
	Error        string      `json:"error,omitempty"`
	References   *References `json:"references,omitempty"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

// OKState returns the state for a successfully produced non-null cell.
func OKState(finishReason string) CellState {
	return CellState{IsNull: false, FinishReason: finishReason}
}

// NullState returns the state for a cell with no value.
func NullState() CellState {
	return CellState{IsNull: true}
}

// ErrorState returns the state for a failed cell. The cell value is null
// and the error message is preserved for clients and for skip decisions
// on downstream columns.
func ErrorState(message string) CellState {
	return CellState{IsNull: true, Error: message}
}

// References captures the retrieval result attached to one generated cell.
type References struct {
	Object string     `json:"object"`
	Chunks []RefChunk `json:"chunks"`
	Query  string     `json:"search_query"`
}

// RefChunk is a single retrieved passage with its provenance: the knowledge
// table cell it came from and, when the cell was loaded from a file, the
// file name and page.
type RefChunk struct {
	Text     string         `json:"text"`
	Title    string         `json:"title,omitempty"`
	Page     int            `json:"page,omitempty"`
	FileName string         `json:"file_name,omitempty"`
	TableID  string         `json:"table_id,omitempty"`
	RowID    string         `json:"row_id,omitempty"`
	ColumnID string         `json:"column_id,omitempty"`
	Score    float64        `json:"score,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ObjectReferences is the object discriminator for References payloads.
const ObjectReferences = "gen_table.references"

// NewReferences builds a References payload for the given query and chunks.
// An empty chunk list is a legal outcome of retrieval.
func NewReferences(query string, chunks []RefChunk) *References {
	if chunks == nil {
		chunks = []RefChunk{}
	}

	return &References{Object: ObjectReferences, Chunks: chunks, Query: query}
}
