package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/Sumatoshi-tech/tablefang/internal/llm"
	"github.com/Sumatoshi-tech/tablefang/internal/observability"
	"github.com/Sumatoshi-tech/tablefang/internal/schema"
)

// CodeGen produces one code-snippet cell. The snippet sees a read-only
// row binding; any evaluation failure, including the wall-clock cap, is
// a fatal cell error. Non-streaming.
type CodeGen struct {
	deps *Deps
}

// Kind implements Dispatcher.
func (g *CodeGen) Kind() string {
	return KindCode
}

// Dispatch implements Dispatcher.
func (g *CodeGen) Dispatch(ctx context.Context, cell *Cell, emit Emit) error {
	started := time.Now()
	g.deps.Metrics.CellStarted(ctx, KindCode)

	err := g.dispatch(ctx, cell, emit)

	outcome := observability.OutcomeOK
	if err != nil {
		outcome = observability.OutcomeError
	}

	g.deps.Metrics.CellCompleted(ctx, KindCode, outcome, time.Since(started))

	return err
}

func (g *CodeGen) dispatch(ctx context.Context, cell *Cell, emit Emit) error {
	cfg, ok := cell.Column.Gen.(*schema.CodeGenConfig)
	if !ok {
		return failCell(cell, emit, fmt.Errorf("%w: column %q is not a code column", schema.ErrBadInput, cell.Column.ID))
	}

	result, err := g.deps.Snippets.Run(ctx, cfg.Code, cell.Draft)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("cell %s/%s: %w", cell.RowID, cell.Column.ID, ctx.Err())
		}

		return failCell(cell, emit, err)
	}

	value, err := schema.CoerceValue(cell.Column.DType, result)
	if err != nil {
		return failCell(cell, emit, err)
	}

	cell.Draft[cell.Column.ID] = value

	if value == nil {
		cell.Draft.SetState(cell.Column.ID, schema.NullState())
	} else {
		cell.Draft.SetState(cell.Column.ID, schema.OKState(llm.FinishStop))
	}

	emit(Chunk{
		ColumnID:     cell.Column.ID,
		Text:         fmt.Sprintf("%v", result),
		FinishReason: llm.FinishStop,
	})

	return nil
}
