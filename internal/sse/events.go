// Package sse defines the server-sent event vocabulary of streamed
// generation and the wire encoder that frames events for clients. The
// format is the fixed `data: <json>\n\n` text protocol with a literal
// `data: [DONE]` terminal marker.
package sse

import (
	"github.com/Sumatoshi-tech/tablefang/internal/schema"
)

// Event object discriminators.
const (
	// ObjectChunk tags one streamed cell fragment.
	ObjectChunk = "gen_table.completion.chunk"
	// ObjectRow tags the per-row completion summary.
	ObjectRow = "gen_table.completion.chunks"
	// ObjectReferences tags the retrieval result preceding an LLM cell.
	ObjectReferences = schema.ObjectReferences
)

// DoneMarker is the payload of the terminal event.
const DoneMarker = "[DONE]"

// Usage is the token accounting attached to terminal chunks.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// ChunkEvent is one streamed piece of one cell's output.
type ChunkEvent struct {
	Object           string             `json:"object"`
	OutputColumnName string             `json:"output_column_name"`
	RowID            string             `json:"row_id"`
	TextDelta        string             `json:"text_delta,omitempty"`
	FinishReason     string             `json:"finish_reason,omitempty"`
	Usage            *Usage             `json:"usage,omitempty"`
	References       *schema.References `json:"references,omitempty"`
}

// ColumnResult is the final outcome of one cell inside a RowEvent.
type ColumnResult struct {
	Value        any    `json:"value,omitempty"`
	Error        string `json:"error,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        *Usage `json:"usage,omitempty"`
}

// RowEvent summarizes one completed row.
type RowEvent struct {
	Object  string                  `json:"object"`
	RowID   string                  `json:"row_id"`
	Columns map[string]ColumnResult `json:"columns"`
}

// ReferencesEvent carries the retrieved citations for one LLM cell. It is
// emitted before the cell's first text chunk.
type ReferencesEvent struct {
	Object           string            `json:"object"`
	OutputColumnName string            `json:"output_column_name"`
	RowID            string            `json:"row_id"`
	Chunks           []schema.RefChunk `json:"chunks"`
	SearchQuery      string            `json:"search_query,omitempty"`
}

// NewChunkEvent builds a tagged chunk event.
func NewChunkEvent(columnID, rowID string) ChunkEvent {
	return ChunkEvent{Object: ObjectChunk, OutputColumnName: columnID, RowID: rowID}
}

// NewRowEvent builds a tagged row completion event.
func NewRowEvent(rowID string) RowEvent {
	return RowEvent{Object: ObjectRow, RowID: rowID, Columns: map[string]ColumnResult{}}
}

// NewReferencesEvent builds a tagged references event from the retrieval
// result.
func NewReferencesEvent(columnID, rowID string, refs *schema.References) ReferencesEvent {
	event := ReferencesEvent{
		Object:           ObjectReferences,
		OutputColumnName: columnID,
		RowID:            rowID,
		Chunks:           []schema.RefChunk{},
	}

	if refs != nil {
		event.Chunks = refs.Chunks
		event.SearchQuery = refs.Query
	}

	return event
}
