package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Sumatoshi-tech/tablefang/internal/colgraph"
	"github.com/Sumatoshi-tech/tablefang/internal/dispatch"
	"github.com/Sumatoshi-tech/tablefang/internal/observability"
	"github.com/Sumatoshi-tech/tablefang/internal/schema"
	"github.com/Sumatoshi-tech/tablefang/internal/sse"
)

// rowRun executes one row: levels in order, cells grouped under the
// column batch, chunks forwarded to the multiplexer tagged with this
// row's id. The draft is the single source of truth for produced values
// and states; concurrent cells work on snapshots and merge back under
// the run's lock.
type rowRun struct {
	engine   *Engine
	req      *Request
	analysis *colgraph.Analysis
	rowID    string
	draft    schema.Row
	prior    []schema.Row
	needed   map[string]struct{}
	send     func(any)

	mu      sync.Mutex
	usage   map[string]sse.Usage
	skipped map[string]string
}

func newRowRun(e *Engine, req *Request, analysis *colgraph.Analysis, draft schema.Row, prior []schema.Row, send func(any)) *rowRun {
	needed := make(map[string]struct{}, len(req.Columns))
	for _, id := range req.Columns {
		needed[id] = struct{}{}
	}

	rowID, _ := draft[schema.RowIDColumn].(string)

	return &rowRun{
		engine:   e,
		req:      req,
		analysis: analysis,
		rowID:    rowID,
		draft:    draft,
		prior:    prior,
		needed:   needed,
		send:     send,
		usage:    make(map[string]sse.Usage),
		skipped:  make(map[string]string),
	}
}

// run walks the dependency levels. Cell failures mark transitive
// dependents skipped without dispatching them; only cancellation aborts
// the row. Every uncancelled run closes with a row completion event.
func (r *rowRun) run(ctx context.Context) error {
	metrics := r.engine.deps.Metrics
	metrics.RowStarted(ctx)
	defer metrics.RowFinished(ctx)

	for _, level := range r.analysis.Levels {
		pending := r.pendingOf(level)

		for start := 0; start < len(pending); start += r.columnBatch() {
			end := start + r.columnBatch()
			if end > len(pending) {
				end = len(pending)
			}

			if err := r.runGroup(ctx, pending[start:end]); err != nil {
				return err
			}
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	r.send(r.rowEvent())

	return nil
}

func (r *rowRun) columnBatch() int {
	if r.req.Plan.ColumnBatch < 1 {
		return 1
	}

	return r.req.Plan.ColumnBatch
}

// pendingOf filters one level down to the columns this request generates
// for this row and that no upstream failure has knocked out. Insert-mode
// cells whose draft already carries a supplied value are kept as given;
// generation fills only what the input row left empty. Update-mode rows
// regenerate regardless, since their drafts hold the previous values.
// Level order is declaration order, which fixes the tie-break inside a
// level.
func (r *rowRun) pendingOf(level []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := make([]string, 0, len(level))

	for _, id := range level {
		if _, ok := r.needed[id]; !ok {
			continue
		}

		if _, skip := r.skipped[id]; skip {
			continue
		}

		if r.req.Commit != CommitUpdate {
			if value, ok := r.draft[id]; ok && value != nil {
				continue
			}
		}

		pending = append(pending, id)
	}

	return pending
}

// runGroup dispatches one cell group on a worker pool and marks the
// dependents of every failed cell afterwards.
func (r *rowRun) runGroup(ctx context.Context, group []string) error {
	errs := make([]error, len(group))

	var wg sync.WaitGroup

	for i, columnID := range group {
		wg.Add(1)

		go func(slot int, id string) {
			defer wg.Done()

			errs[slot] = r.dispatchCell(ctx, id)
		}(i, columnID)
	}

	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}

	for i, err := range errs {
		if err != nil {
			r.markDependents(ctx, group[i])
		}
	}

	return nil
}

// dispatchCell runs one cell against a snapshot of the draft and merges
// the produced value and state back in. Snapshots keep concurrent cells
// of one group from racing on the shared row map.
func (r *rowRun) dispatchCell(ctx context.Context, columnID string) error {
	column, ok := r.req.Schema.Column(columnID)
	if !ok {
		return fmt.Errorf("%w: column %q", schema.ErrBadInput, columnID)
	}

	dispatcher, err := dispatch.ForColumn(column, r.engine.deps)
	if err != nil {
		r.mu.Lock()
		r.draft[columnID] = nil
		r.draft.SetState(columnID, schema.ErrorState(err.Error()))
		r.mu.Unlock()

		return err
	}

	r.mu.Lock()
	snapshot := r.draft.Clone()
	r.mu.Unlock()

	cell := &dispatch.Cell{
		ProjectID: r.req.ProjectID,
		TableID:   r.req.TableID,
		RowID:     r.rowID,
		Column:    column,
		Draft:     snapshot,
		Prior:     r.prior,
		Quota:     r.req.Quota,
		Stream:    r.req.Stream,
	}

	dispatchErr := dispatcher.Dispatch(ctx, cell, r.emitFor(ctx, columnID))

	r.mu.Lock()
	r.draft[columnID] = snapshot[columnID]

	if state, ok := snapshot.State(columnID); ok {
		r.draft.SetState(columnID, state)
	}
	r.mu.Unlock()

	return dispatchErr
}

// emitFor adapts one cell's chunk stream onto the multiplexer, recording
// token usage off the terminal chunk.
func (r *rowRun) emitFor(ctx context.Context, columnID string) dispatch.Emit {
	return func(chunk dispatch.Chunk) {
		if chunk.References != nil && !chunk.Terminal() {
			r.send(sse.NewReferencesEvent(columnID, r.rowID, chunk.References))
			r.engine.deps.Metrics.ChunkEmitted(ctx)

			return
		}

		event := sse.NewChunkEvent(columnID, r.rowID)
		event.TextDelta = chunk.Text

		if chunk.Terminal() {
			event.FinishReason = chunk.FinishReason

			if chunk.PromptTokens > 0 || chunk.CompletionTokens > 0 {
				usage := sse.Usage{
					PromptTokens:     chunk.PromptTokens,
					CompletionTokens: chunk.CompletionTokens,
				}
				event.Usage = &usage

				r.mu.Lock()
				r.usage[columnID] = usage
				r.mu.Unlock()
			}
		}

		r.send(event)
		r.engine.deps.Metrics.ChunkEmitted(ctx)
	}
}

// markDependents records an upstream-failure error state for every
// generated column downstream of the failed one. Marked columns are
// never dispatched, so no model call is spent on work that cannot
// produce a grounded value.
func (r *rowRun) markDependents(ctx context.Context, columnID string) {
	message := fmt.Sprintf("upstream column %s failed", columnID)

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, dependent := range r.analysis.Dependents(columnID) {
		if _, ok := r.needed[dependent]; !ok {
			continue
		}

		if _, marked := r.skipped[dependent]; marked {
			continue
		}

		r.skipped[dependent] = message
		r.draft[dependent] = nil
		r.draft.SetState(dependent, schema.ErrorState(message))

		if column, ok := r.req.Schema.Column(dependent); ok {
			r.engine.deps.Metrics.CellCompleted(ctx, kindOf(column), observability.OutcomeSkipped, time.Duration(0))
		}
	}
}

// rowEvent summarizes the generated columns for the row completion
// marker.
func (r *rowRun) rowEvent() sse.RowEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	event := sse.NewRowEvent(r.rowID)

	for _, columnID := range r.req.Columns {
		result := sse.ColumnResult{Value: r.draft[columnID]}

		if state, ok := r.draft.State(columnID); ok {
			result.Error = state.Error
			result.FinishReason = state.FinishReason
		}

		if usage, ok := r.usage[columnID]; ok {
			u := usage
			result.Usage = &u
		}

		event.Columns[columnID] = result
	}

	return event
}

func kindOf(column schema.Column) string {
	switch column.Gen.(type) {
	case *schema.LLMGenConfig:
		return dispatch.KindLLM
	case *schema.EmbedGenConfig:
		return dispatch.KindEmbed
	case *schema.CodeGenConfig:
		return dispatch.KindCode
	default:
		return "input"
	}
}
