package engine_test

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/tablefang/internal/billing"
	"github.com/Sumatoshi-tech/tablefang/internal/colgraph"
	"github.com/Sumatoshi-tech/tablefang/internal/dispatch"
	"github.com/Sumatoshi-tech/tablefang/internal/engine"
	"github.com/Sumatoshi-tech/tablefang/internal/llm"
	"github.com/Sumatoshi-tech/tablefang/internal/planner"
	"github.com/Sumatoshi-tech/tablefang/internal/schema"
	"github.com/Sumatoshi-tech/tablefang/internal/snippet"
	"github.com/Sumatoshi-tech/tablefang/internal/sse"
	"github.com/Sumatoshi-tech/tablefang/internal/storage"
	"github.com/Sumatoshi-tech/tablefang/internal/storage/memstore"
)

// collectSink gathers the multiplexed events for assertions.
type collectSink struct {
	mu     sync.Mutex
	events []any
	done   int
}

func (s *collectSink) Send(event any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, event)

	return nil
}

func (s *collectSink) SendDone() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.done++

	return nil
}

func (s *collectSink) all() []any {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]any(nil), s.events...)
}

// echoEngine answers every completion with a value derived from the
// model name and records the call order. A prompt containing "boom!"
// fails permanently; one containing "park!" blocks until the context
// dies.
type echoEngine struct {
	mu      sync.Mutex
	calls   []string
	msgLens []int
}

func (e *echoEngine) record(req llm.ChatRequest) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls = append(e.calls, req.Model)
	e.msgLens = append(e.msgLens, len(req.Messages))
}

func (e *echoEngine) called() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]string(nil), e.calls...)
}

func (e *echoEngine) messageLens() []int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]int(nil), e.msgLens...)
}

func (e *echoEngine) Chat(ctx context.Context, req llm.ChatRequest) (llm.Chunk, error) {
	e.record(req)

	prompt := req.Messages[len(req.Messages)-1].Content

	switch {
	case strings.Contains(prompt, "boom!"):
		return llm.Chunk{}, &openai.APIError{HTTPStatusCode: 422, Message: "permanent rejection"}
	case strings.Contains(prompt, "park!"):
		<-ctx.Done()

		return llm.Chunk{}, ctx.Err()
	}

	return llm.Chunk{
		Text:             "out:" + req.Model,
		FinishReason:     llm.FinishStop,
		PromptTokens:     5,
		CompletionTokens: 2,
	}, nil
}

func (e *echoEngine) ChatStream(ctx context.Context, req llm.ChatRequest) (llm.Stream, error) {
	chunk, err := e.Chat(ctx, req)
	if err != nil {
		return nil, err
	}

	return &oneChunkStream{chunk: chunk}, nil
}

type oneChunkStream struct {
	chunk llm.Chunk
	sent  bool
}

func (s *oneChunkStream) Recv() (llm.Chunk, error) {
	if s.sent {
		terminal := s.chunk
		terminal.Text = ""

		return terminal, nil
	}

	s.sent = true

	return llm.Chunk{Text: s.chunk.Text}, nil
}

func (s *oneChunkStream) Close() error { return nil }

func llmCol(id, model, prompt string) schema.Column {
	return schema.Column{
		ID:    id,
		DType: schema.DTypeStr,
		Gen:   &schema.LLMGenConfig{Model: "stub/" + model, UserPrompt: prompt},
	}
}

func newTestEngine(t *testing.T, chat llm.ChatEngine) (*engine.Engine, *memstore.Store) {
	t.Helper()

	registry := llm.NewRegistry()
	registry.RegisterChat("stub", chat)

	deps := &dispatch.Deps{
		Registry: registry,
		Snippets: snippet.NewEvaluator(time.Second),
		Log:      slog.Default(),
	}

	store := memstore.New()

	return engine.New(store, deps, slog.Default(), 0), store
}

func quota() *billing.Manager {
	return billing.NewManager(billing.Plan{ID: "free", Free: true}, billing.OrgState{OrgID: "org"}, nil, slog.Default())
}

func createTable(t *testing.T, store *memstore.Store, ts *schema.TableSchema) {
	t.Helper()
	require.NoError(t, store.CreateTable(context.Background(), "proj", ts))
}

func listAll() storage.ListOptions {
	return storage.ListOptions{}
}

func chunkEvents(events []any) []sse.ChunkEvent {
	var out []sse.ChunkEvent

	for _, event := range events {
		if chunk, ok := event.(sse.ChunkEvent); ok {
			out = append(out, chunk)
		}
	}

	return out
}

func rowEvents(events []any) []sse.RowEvent {
	var out []sse.RowEvent

	for _, event := range events {
		if row, ok := event.(sse.RowEvent); ok {
			out = append(out, row)
		}
	}

	return out
}

func TestExecute_DependencyChain_RunsInLevelOrder(t *testing.T) {
	t.Parallel()

	chat := &echoEngine{}
	eng, store := newTestEngine(t, chat)

	ts := &schema.TableSchema{
		ID:   "chain",
		Kind: schema.KindAction,
		Columns: []schema.Column{
			{ID: "text", DType: schema.DTypeStr},
			llmCol("a", "ma", "from ${text}"),
			llmCol("b", "mb", "from ${a}"),
			llmCol("c", "mc", "from ${b}"),
		},
	}
	createTable(t, store, ts)

	sink := &collectSink{}
	req := &engine.Request{
		ProjectID: "proj", TableID: "chain", Schema: ts,
		Rows:    []schema.Row{{"text": "seed"}},
		Columns: []string{"a", "b", "c"},
		Plan:    planner.Plan{ColumnBatch: 1, RowBatch: 15},
		Commit:  engine.CommitInsert,
		Quota:   quota(),
	}

	require.NoError(t, eng.Execute(context.Background(), req, sink))

	// Chained columns dispatch strictly in dependency order.
	assert.Equal(t, []string{"ma", "mb", "mc"}, chat.called())

	// Each dispatch saw the upstream value, not the template literal.
	assert.Equal(t, "out:ma", req.Rows[0]["a"])
	assert.Equal(t, "out:mb", req.Rows[0]["b"])
	assert.Equal(t, "out:mc", req.Rows[0]["c"])

	rows := rowEvents(sink.all())
	require.Len(t, rows, 1)
	assert.Equal(t, 1, sink.done)

	// The row landed in storage with its streamed id.
	page, err := store.ListRows(context.Background(), "proj", "chain", listAll())
	require.NoError(t, err)
	require.Len(t, page.Rows, 1)
	assert.Equal(t, rows[0].RowID, page.Rows[0][schema.RowIDColumn])
}

func TestExecute_FanOut_ChunksPrecedeRowEvents(t *testing.T) {
	t.Parallel()

	chat := &echoEngine{}
	eng, store := newTestEngine(t, chat)

	ts := &schema.TableSchema{
		ID:   "fan",
		Kind: schema.KindAction,
		Columns: []schema.Column{
			{ID: "text", DType: schema.DTypeStr},
			llmCol("x", "mx", "${text}"),
			llmCol("y", "my", "${text}"),
			llmCol("z", "mz", "${text}"),
		},
	}
	createTable(t, store, ts)

	rows := make([]schema.Row, 5)
	for i := range rows {
		rows[i] = schema.Row{"text": fmt.Sprintf("row %d", i)}
	}

	sink := &collectSink{}
	req := &engine.Request{
		ProjectID: "proj", TableID: "fan", Schema: ts,
		Rows:    rows,
		Columns: []string{"x", "y", "z"},
		Plan:    planner.Plan{ColumnBatch: 3, RowBatch: 5},
		Commit:  engine.CommitInsert,
		Quota:   quota(),
	}

	require.NoError(t, eng.Execute(context.Background(), req, sink))

	events := sink.all()

	// Every row's chunks appear before that row's completion marker;
	// cross-row interleaving is unconstrained.
	rowDone := map[string]bool{}

	for _, event := range events {
		switch e := event.(type) {
		case sse.RowEvent:
			rowDone[e.RowID] = true
		case sse.ChunkEvent:
			assert.False(t, rowDone[e.RowID], "chunk after its row completion marker")
		}
	}

	require.Len(t, rowEvents(events), 5)
	assert.Equal(t, 1, sink.done)

	page, err := store.ListRows(context.Background(), "proj", "fan", listAll())
	require.NoError(t, err)
	assert.Len(t, page.Rows, 5)
}

func TestExecute_SuppliedOutputValue_NotRegenerated(t *testing.T) {
	t.Parallel()

	chat := &echoEngine{}
	eng, store := newTestEngine(t, chat)

	ts := &schema.TableSchema{
		ID:   "mixed",
		Kind: schema.KindAction,
		Columns: []schema.Column{
			{ID: "text", DType: schema.DTypeStr},
			llmCol("b", "mb", "${text}"),
		},
	}
	createTable(t, store, ts)

	analysis, err := colgraph.Analyze(ts)
	require.NoError(t, err)

	sink := &collectSink{}
	req := &engine.Request{
		ProjectID: "proj", TableID: "mixed", Schema: ts,
		Rows: []schema.Row{
			{"text": "one", "b": "user-supplied"},
			{"text": "two"},
		},
		Columns:  []string{"b"},
		Analysis: analysis,
		Plan:     planner.Plan{ColumnBatch: 1, RowBatch: 2},
		Commit:   engine.CommitInsert,
		Quota:    quota(),
	}

	require.NoError(t, eng.Execute(context.Background(), req, sink))

	// Only the row missing the value spent a model call; the supplied
	// cell survives untouched.
	assert.Equal(t, []string{"mb"}, chat.called())
	assert.Equal(t, "user-supplied", req.Rows[0]["b"])
	assert.Equal(t, "out:mb", req.Rows[1]["b"])

	page, err := store.ListRows(context.Background(), "proj", "mixed", listAll())
	require.NoError(t, err)
	require.Len(t, page.Rows, 2)

	committed := map[string]bool{}
	for _, row := range page.Rows {
		value, _ := row["b"].(string)
		committed[value] = true
	}

	assert.True(t, committed["user-supplied"])
	assert.True(t, committed["out:mb"])
}

func TestExecute_UpstreamFailure_SkipsDependentsWithoutModelCall(t *testing.T) {
	t.Parallel()

	chat := &echoEngine{}
	eng, store := newTestEngine(t, chat)

	ts := &schema.TableSchema{
		ID:   "skip",
		Kind: schema.KindAction,
		Columns: []schema.Column{
			{ID: "text", DType: schema.DTypeStr},
			llmCol("a", "ma", "boom! ${text}"),
			llmCol("b", "mb", "${a}"),
			llmCol("ok", "mok", "${text}"),
		},
	}
	createTable(t, store, ts)

	sink := &collectSink{}
	req := &engine.Request{
		ProjectID: "proj", TableID: "skip", Schema: ts,
		Rows:    []schema.Row{{"text": "seed"}},
		Columns: []string{"a", "b", "ok"},
		Plan:    planner.Plan{ColumnBatch: 2, RowBatch: 7},
		Commit:  engine.CommitInsert,
		Quota:   quota(),
	}

	require.NoError(t, eng.Execute(context.Background(), req, sink))

	// The dependent column was never dispatched.
	assert.NotContains(t, chat.called(), "mb")

	row := req.Rows[0]

	stateA, ok := row.State("a")
	require.True(t, ok)
	assert.NotEmpty(t, stateA.Error)

	stateB, ok := row.State("b")
	require.True(t, ok)
	assert.Equal(t, "upstream column a failed", stateB.Error)

	// The independent sibling still generated.
	assert.Equal(t, "out:mok", row["ok"])

	// The failed row commits with its error states.
	page, err := store.ListRows(context.Background(), "proj", "skip", listAll())
	require.NoError(t, err)
	require.Len(t, page.Rows, 1)

	rows := rowEvents(sink.all())
	require.Len(t, rows, 1)
	assert.Equal(t, "upstream column a failed", rows[0].Columns["b"].Error)
	assert.Equal(t, 1, sink.done)
}

func TestExecute_Cancellation_NoDoneMarker_CompletedRowsPersist(t *testing.T) {
	t.Parallel()

	chat := &echoEngine{}
	eng, store := newTestEngine(t, chat)

	ts := &schema.TableSchema{
		ID:   "cancel",
		Kind: schema.KindAction,
		Columns: []schema.Column{
			{ID: "text", DType: schema.DTypeStr},
			llmCol("answer", "m", "${text}"),
		},
	}
	createTable(t, store, ts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The first row completes normally; the second parks inside the
	// provider call until the client disconnects.
	go func() {
		for len(chat.called()) < 2 {
			time.Sleep(time.Millisecond)
		}

		cancel()
	}()

	sink := &collectSink{}
	req := &engine.Request{
		ProjectID: "proj", TableID: "cancel", Schema: ts,
		Rows:    []schema.Row{{"text": "hello"}, {"text": "park!"}},
		Columns: []string{"answer"},
		Plan:    planner.Plan{ColumnBatch: 1, RowBatch: 1},
		Commit:  engine.CommitInsert,
		Quota:   quota(),
	}

	err := eng.Execute(ctx, req, sink)
	require.ErrorIs(t, err, context.Canceled)

	// No terminal marker on a cancelled stream.
	assert.Zero(t, sink.done)

	// The completed first row is persisted; the in-flight row is not.
	page, listErr := store.ListRows(context.Background(), "proj", "cancel", listAll())
	require.NoError(t, listErr)
	require.Len(t, page.Rows, 1)
	assert.Equal(t, "out:m", page.Rows[0]["answer"])
}

func TestExecute_NothingToGenerate_RowEventsAndDoneOnly(t *testing.T) {
	t.Parallel()

	chat := &echoEngine{}
	eng, store := newTestEngine(t, chat)

	ts := &schema.TableSchema{
		ID:   "plain",
		Kind: schema.KindAction,
		Columns: []schema.Column{
			{ID: "text", DType: schema.DTypeStr},
		},
	}
	createTable(t, store, ts)

	sink := &collectSink{}
	req := &engine.Request{
		ProjectID: "proj", TableID: "plain", Schema: ts,
		Rows:   []schema.Row{{"text": "one"}, {"text": "two"}},
		Plan:   planner.Plan{ColumnBatch: 1, RowBatch: 15},
		Commit: engine.CommitInsert,
		Quota:  quota(),
	}

	require.NoError(t, eng.Execute(context.Background(), req, sink))

	events := sink.all()
	assert.Empty(t, chunkEvents(events))
	assert.Len(t, rowEvents(events), 2)
	assert.Equal(t, 1, sink.done)
	assert.Empty(t, chat.called())
}

func TestExecute_UpdateCommit_RewritesExistingRows(t *testing.T) {
	t.Parallel()

	chat := &echoEngine{}
	eng, store := newTestEngine(t, chat)

	ts := &schema.TableSchema{
		ID:   "regen",
		Kind: schema.KindAction,
		Columns: []schema.Column{
			{ID: "text", DType: schema.DTypeStr},
			llmCol("summary", "ms", "${text}"),
		},
	}
	createTable(t, store, ts)

	ids, err := store.InsertRows(context.Background(), "proj", "regen",
		[]schema.Row{{"text": "seed", "summary": "stale"}})
	require.NoError(t, err)

	stored, err := store.GetRow(context.Background(), "proj", "regen", ids[0])
	require.NoError(t, err)

	sink := &collectSink{}
	req := &engine.Request{
		ProjectID: "proj", TableID: "regen", Schema: ts,
		Rows:    []schema.Row{stored},
		Columns: []string{"summary"},
		Plan:    planner.Plan{ColumnBatch: 1, RowBatch: 15},
		Commit:  engine.CommitUpdate,
		Quota:   quota(),
	}

	require.NoError(t, eng.Execute(context.Background(), req, sink))

	after, err := store.GetRow(context.Background(), "proj", "regen", ids[0])
	require.NoError(t, err)
	assert.Equal(t, "out:ms", after["summary"])

	page, err := store.ListRows(context.Background(), "proj", "regen", listAll())
	require.NoError(t, err)
	assert.Len(t, page.Rows, 1)
}

func TestExecute_MultiTurn_SequentialWithPriorContext(t *testing.T) {
	t.Parallel()

	chat := &echoEngine{}
	eng, store := newTestEngine(t, chat)

	ts := &schema.TableSchema{
		ID:   "chat",
		Kind: schema.KindChat,
		Columns: []schema.Column{
			{ID: "User", DType: schema.DTypeStr},
			{ID: "AI", DType: schema.DTypeStr, Gen: &schema.LLMGenConfig{
				Model: "stub/turn", UserPrompt: "${User}", MultiTurn: true,
			}},
		},
	}
	createTable(t, store, ts)

	sink := &collectSink{}
	req := &engine.Request{
		ProjectID: "proj", TableID: "chat", Schema: ts,
		Rows:    []schema.Row{{"User": "first"}, {"User": "second"}},
		Columns: []string{"AI"},
		Prior:   []schema.Row{{"User": "zeroth", "AI": "earlier answer"}},
		Plan:    planner.Plan{ColumnBatch: 1, RowBatch: 1},
		Commit:  engine.CommitInsert,
		Quota:   quota(),
	}

	require.NoError(t, eng.Execute(context.Background(), req, sink))

	assert.Equal(t, []string{"turn", "turn"}, chat.called())

	// The first row carries one prior turn pair, the second carries two:
	// 2n prior messages plus the current user prompt.
	assert.Equal(t, []int{3, 5}, chat.messageLens())

	assert.Equal(t, "out:turn", req.Rows[0]["AI"])
	assert.Equal(t, "out:turn", req.Rows[1]["AI"])
	assert.Equal(t, 1, sink.done)
}
