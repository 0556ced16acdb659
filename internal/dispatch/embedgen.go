package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/Sumatoshi-tech/tablefang/internal/llm"
	"github.com/Sumatoshi-tech/tablefang/internal/observability"
	"github.com/Sumatoshi-tech/tablefang/internal/schema"
)

// EmbedGen produces one embedding cell from its source column.
// Non-streaming: the cell yields a single synthesized terminal chunk.
type EmbedGen struct {
	deps *Deps
}

// Kind implements Dispatcher.
func (g *EmbedGen) Kind() string {
	return KindEmbed
}

// Dispatch implements Dispatcher.
func (g *EmbedGen) Dispatch(ctx context.Context, cell *Cell, emit Emit) error {
	started := time.Now()
	g.deps.Metrics.CellStarted(ctx, KindEmbed)

	err := g.dispatch(ctx, cell, emit)

	outcome := observability.OutcomeOK
	if err != nil {
		outcome = observability.OutcomeError
	}

	g.deps.Metrics.CellCompleted(ctx, KindEmbed, outcome, time.Since(started))

	return err
}

func (g *EmbedGen) dispatch(ctx context.Context, cell *Cell, emit Emit) error {
	cfg, ok := cell.Column.Gen.(*schema.EmbedGenConfig)
	if !ok {
		return failCell(cell, emit, fmt.Errorf("%w: column %q is not an embed column", schema.ErrBadInput, cell.Column.ID))
	}

	source, _ := cell.Draft[cfg.SourceColumn].(string)
	if source == "" {
		// Nothing to embed; a null vector with a clean state mirrors an
		// empty source cell rather than flagging an error.
		cell.Draft[cell.Column.ID] = nil
		cell.Draft.SetState(cell.Column.ID, schema.NullState())

		emit(Chunk{ColumnID: cell.Column.ID, FinishReason: llm.FinishStop})

		return nil
	}

	if err := cell.Quota.CheckEmbeddingQuota(cfg.EmbeddingModel); err != nil {
		return failCell(cell, emit, err)
	}

	embedder, name, err := g.deps.Registry.Embedder(cfg.EmbeddingModel)
	if err != nil {
		return failCell(cell, emit, err)
	}

	callCtx := ctx

	if g.deps.EmbedTimeout > 0 {
		var cancel context.CancelFunc

		callCtx, cancel = context.WithTimeout(ctx, g.deps.EmbedTimeout)
		defer cancel()
	}

	var (
		vectors [][]float32
		tokens  int
	)

	attempt := func() error {
		var embedErr error

		vectors, tokens, embedErr = embedder.Embed(callCtx, name, []string{source})

		return embedErr
	}

	if err := llm.Retry(ctx, g.deps.Log, "embed "+cfg.EmbeddingModel, attempt); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("cell %s/%s: %w", cell.RowID, cell.Column.ID, ctx.Err())
		}

		return failCell(cell, emit, err)
	}

	if len(vectors) == 0 {
		return failCell(cell, emit, fmt.Errorf("embed %q: empty result", cfg.EmbeddingModel))
	}

	vector := vectors[0]
	if cell.Column.VectorSize > 0 && len(vector) != cell.Column.VectorSize {
		return failCell(cell, emit, fmt.Errorf(
			"embed %q: got %d dimensions, column wants %d", cfg.EmbeddingModel, len(vector), cell.Column.VectorSize))
	}

	cell.Draft[cell.Column.ID] = vector
	cell.Draft.SetState(cell.Column.ID, schema.OKState(llm.FinishStop))

	cell.Quota.CreateEmbedEvents(cfg.EmbeddingModel, tokens)
	g.deps.Metrics.UsageEvent(ctx, KindEmbed)

	emit(Chunk{
		ColumnID:     cell.Column.ID,
		FinishReason: llm.FinishStop,
		PromptTokens: tokens,
	})

	return nil
}
