// Package dispatch holds the three generator executors that turn one
// (row, column) cell into a sequence of output chunks: language-model
// completion with optional retrieval, embedding, and code-snippet
// evaluation. Each dispatcher materializes the produced value and its
// state record into the row draft as a side effect of dispatching.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Sumatoshi-tech/tablefang/internal/billing"
	"github.com/Sumatoshi-tech/tablefang/internal/llm"
	"github.com/Sumatoshi-tech/tablefang/internal/observability"
	"github.com/Sumatoshi-tech/tablefang/internal/rag"
	"github.com/Sumatoshi-tech/tablefang/internal/schema"
	"github.com/Sumatoshi-tech/tablefang/internal/snippet"
)

// Generator kinds, used for metrics attributes and dispatcher selection.
const (
	KindLLM   = "llm"
	KindEmbed = "embed"
	KindCode  = "code"
)

// Chunk is one unit of dispatched output. Terminal chunks carry a finish
// reason and, for model calls, the token usage. A leading chunk may carry
// only References.
type Chunk struct {
	ColumnID         string
	Text             string
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
	References       *schema.References
}

// Terminal reports whether the chunk closes its cell's stream.
func (c Chunk) Terminal() bool {
	return c.FinishReason != ""
}

// Emit receives chunks in production order. Implementations may block;
// dispatchers treat a blocking emit as a suspension point.
type Emit func(Chunk)

// Cell is one (row, column) unit of work. Draft is shared within a row
// executor and mutated only by the dispatcher owning the cell's level
// slot; Prior carries earlier rows for multi-turn prompts.
type Cell struct {
	ProjectID string
	TableID   string
	RowID     string
	Column    schema.Column
	Draft     schema.Row
	Prior     []schema.Row
	Quota     *billing.Manager
	Stream    bool
}

// Dispatcher produces one cell's output.
type Dispatcher interface {
	// Kind names the generator family.
	Kind() string
	// Dispatch produces the cell: emits chunks, writes the value and
	// state record into the draft, and meters usage. A returned error
	// means the cell failed terminally; the error state has already
	// been recorded and a terminal error chunk emitted.
	Dispatch(ctx context.Context, cell *Cell, emit Emit) error
}

// Deps bundles the collaborators shared by all dispatchers of a process.
type Deps struct {
	Registry  *llm.Registry
	Retriever *rag.Retriever
	Snippets  *snippet.Evaluator
	Metrics   *observability.EngineMetrics
	Log       *slog.Logger

	// LLMTimeout and EmbedTimeout bound one provider call each.
	LLMTimeout   time.Duration
	EmbedTimeout time.Duration
	// MultiTurnWindow caps the prior rows fed into a multi-turn prompt.
	MultiTurnWindow int
}

// ForColumn selects the dispatcher matching the column's generation
// config.
func ForColumn(column schema.Column, deps *Deps) (Dispatcher, error) {
	switch column.Gen.(type) {
	case *schema.LLMGenConfig:
		return &LLMGen{deps: deps}, nil
	case *schema.EmbedGenConfig:
		return &EmbedGen{deps: deps}, nil
	case *schema.CodeGenConfig:
		return &CodeGen{deps: deps}, nil
	case nil:
		return nil, fmt.Errorf("%w: column %q is an input column", schema.ErrBadInput, column.ID)
	default:
		return nil, fmt.Errorf("%w: %T", schema.ErrGenConfigObject, column.Gen)
	}
}

// failCell records the error state for the cell, emits the terminal error
// chunk, and returns the wrapped error dispatchers hand back to the
// executor.
func failCell(cell *Cell, emit Emit, err error) error {
	cell.Draft[cell.Column.ID] = nil
	cell.Draft.SetState(cell.Column.ID, schema.ErrorState(err.Error()))

	emit(Chunk{
		ColumnID:     cell.Column.ID,
		FinishReason: llm.FinishError,
	})

	return fmt.Errorf("cell %s/%s: %w", cell.RowID, cell.Column.ID, err)
}
