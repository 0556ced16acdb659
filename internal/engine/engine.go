// Package engine executes write-shaped generation requests: up to
// row_batch concurrent row executors walk the column dependency levels,
// dispatch cells in groups bounded by column_batch, and a central
// multiplexer frames every produced chunk onto the client stream. Closed
// rows commit in one batched write; the terminal [DONE] marker closes an
// uncancelled stream.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/Sumatoshi-tech/tablefang/internal/billing"
	"github.com/Sumatoshi-tech/tablefang/internal/colgraph"
	"github.com/Sumatoshi-tech/tablefang/internal/dispatch"
	"github.com/Sumatoshi-tech/tablefang/internal/planner"
	"github.com/Sumatoshi-tech/tablefang/internal/schema"
	"github.com/Sumatoshi-tech/tablefang/internal/storage"
)

// MinChannelBound is the floor on the multiplexer's event buffer. The
// buffer provides backpressure between producing cells and the client
// connection without stalling unrelated rows on one slow reader.
const MinChannelBound = 64

// Commit selects how closed rows reach storage.
type Commit string

// Commit modes. Add requests insert; regeneration updates in place.
const (
	CommitInsert Commit = "insert"
	CommitUpdate Commit = "update"
)

// Sink receives the multiplexed event stream. *sse.Writer satisfies it;
// tests substitute collectors.
type Sink interface {
	Send(event any) error
	SendDone() error
}

// Request is one planned generation over a set of row drafts.
type Request struct {
	ProjectID string
	TableID   string
	Schema    *schema.TableSchema

	// Rows are the drafts to execute. Insert-mode rows without an id get
	// one assigned up front so streamed events carry the final row id.
	Rows []schema.Row
	// Columns are the output columns to generate, in declaration order.
	Columns []string
	// Prior seeds multi-turn context with rows committed before this
	// request. Only consulted when the plan serializes rows.
	Prior []schema.Row

	// Analysis is the column-graph analysis of Schema, computed once when
	// the service loaded the table. Execute analyzes on demand when nil.
	Analysis *colgraph.Analysis

	Plan   planner.Plan
	Commit Commit
	Quota  *billing.Manager
	Stream bool
}

// Engine runs generation requests against a store.
type Engine struct {
	store storage.Store
	deps  *dispatch.Deps
	log   *slog.Logger
	bound int
}

// New creates an Engine. A channel bound below MinChannelBound is raised
// to it.
func New(store storage.Store, deps *dispatch.Deps, log *slog.Logger, channelBound int) *Engine {
	if channelBound < MinChannelBound {
		channelBound = MinChannelBound
	}

	return &Engine{store: store, deps: deps, log: log, bound: channelBound}
}

// Execute runs the request to completion: streams every event through
// sink, commits closed rows, and sends the terminal marker unless the
// context was cancelled. Cell failures are contained to their rows; the
// returned error reflects cancellation, storage failure, or a broken sink.
func (e *Engine) Execute(ctx context.Context, req *Request, sink Sink) error {
	analysis := req.Analysis

	if analysis == nil {
		derived, err := colgraph.Analyze(req.Schema)
		if err != nil {
			return err
		}

		analysis = derived
	}

	assignRowIDs(req)

	events := make(chan any, e.bound)

	var sinkErr error

	muxDone := make(chan struct{})

	go func() {
		defer close(muxDone)

		for event := range events {
			if sinkErr != nil {
				continue
			}

			if err := sink.Send(event); err != nil {
				sinkErr = err
			}
		}
	}()

	completed := e.runRows(ctx, req, analysis, events)

	close(events)
	<-muxDone

	if err := e.commit(ctx, req, completed); err != nil {
		return err
	}

	if ctx.Err() != nil {
		// Cancelled streams end without the terminal marker.
		return ctx.Err()
	}

	if sinkErr != nil {
		return fmt.Errorf("engine: stream: %w", sinkErr)
	}

	if err := sink.SendDone(); err != nil {
		return fmt.Errorf("engine: stream: %w", err)
	}

	return nil
}

// runRows drives up to row_batch workers over the drafts in request
// order and reports which rows ran to completion. A single worker
// processes rows strictly sequentially, which is what carries multi-turn
// context from row to row.
func (e *Engine) runRows(ctx context.Context, req *Request, analysis *colgraph.Analysis, events chan<- any) []bool {
	completed := make([]bool, len(req.Rows))

	workers := req.Plan.RowBatch
	if workers < 1 {
		workers = 1
	}

	if workers > len(req.Rows) {
		workers = len(req.Rows)
	}

	prior := make([]schema.Row, 0, len(req.Prior)+len(req.Rows))
	prior = append(prior, req.Prior...)

	send := func(event any) {
		events <- event
	}

	jobs := make(chan int)

	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for i := range jobs {
				if ctx.Err() != nil {
					continue
				}

				run := newRowRun(e, req, analysis, req.Rows[i], prior, send)

				if err := run.run(ctx); err != nil {
					e.log.WarnContext(ctx, "row aborted",
						slog.String("table_id", req.TableID),
						slog.String("row_id", run.rowID),
						slog.String("error", err.Error()))

					continue
				}

				completed[i] = true

				if workers == 1 {
					prior = append(prior, run.draft)
				}
			}
		}()
	}

	for i := range req.Rows {
		jobs <- i
	}

	close(jobs)
	wg.Wait()

	return completed
}

// commit writes the closed rows in one batch. Commit survives client
// disconnects: rows whose generation finished are persisted even when
// the request context is already cancelled.
func (e *Engine) commit(ctx context.Context, req *Request, completed []bool) error {
	closed := make([]schema.Row, 0, len(req.Rows))

	for i, done := range completed {
		if done {
			closed = append(closed, req.Rows[i])
		}
	}

	if len(closed) == 0 {
		return nil
	}

	commitCtx := context.WithoutCancel(ctx)

	switch req.Commit {
	case CommitUpdate:
		updates := make(map[string]schema.Row, len(closed))

		for _, row := range closed {
			id, _ := row[schema.RowIDColumn].(string)
			updates[id] = row
		}

		if err := e.store.UpdateRows(commitCtx, req.ProjectID, req.TableID, updates); err != nil {
			return fmt.Errorf("engine: commit: %w", err)
		}
	default:
		if _, err := e.store.InsertRows(commitCtx, req.ProjectID, req.TableID, closed); err != nil {
			return fmt.Errorf("engine: commit: %w", err)
		}
	}

	e.deps.Metrics.RowsCommitted(commitCtx, len(closed))

	e.maintainIndexes(commitCtx, req)

	return nil
}

// maintainIndexes refreshes the search index of a knowledge table's
// vector column after a commit. Index maintenance is best effort; a
// failure is logged and the committed rows stand.
func (e *Engine) maintainIndexes(ctx context.Context, req *Request) {
	vector, ok := req.Schema.VectorColumn()
	if !ok {
		return
	}

	if err := e.store.CreateIndex(ctx, req.ProjectID, req.TableID, vector.ID); err != nil {
		e.log.WarnContext(ctx, "index maintenance failed",
			slog.String("table_id", req.TableID),
			slog.String("column_id", vector.ID),
			slog.String("error", err.Error()))
	}
}

// assignRowIDs gives insert-mode drafts their row id up front, so the
// ids on streamed events match the ids the commit persists.
func assignRowIDs(req *Request) {
	if req.Commit == CommitUpdate {
		return
	}

	for _, row := range req.Rows {
		if id, _ := row[schema.RowIDColumn].(string); id == "" {
			row[schema.RowIDColumn] = uuid.Must(uuid.NewV7()).String()
		}
	}
}
