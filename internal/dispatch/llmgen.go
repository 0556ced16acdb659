package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/tablefang/internal/llm"
	"github.com/Sumatoshi-tech/tablefang/internal/observability"
	"github.com/Sumatoshi-tech/tablefang/internal/schema"
)

// citationInstruction is prepended to the system prompt when retrieval
// returned chunks, steering the model to ground its answer in them.
const citationInstruction = "Use the following retrieved references to answer. " +
	"Cite the references you rely on.\n\n"

// LLMGen produces one language-model cell: template resolution, optional
// retrieval, quota precheck, streamed completion with bounded retry, and
// usage metering.
type LLMGen struct {
	deps *Deps
}

// Kind implements Dispatcher.
func (g *LLMGen) Kind() string {
	return KindLLM
}

// Dispatch implements Dispatcher.
func (g *LLMGen) Dispatch(ctx context.Context, cell *Cell, emit Emit) error {
	started := time.Now()
	g.deps.Metrics.CellStarted(ctx, KindLLM)

	err := g.dispatch(ctx, cell, emit)

	outcome := observability.OutcomeOK
	if err != nil {
		outcome = observability.OutcomeError
	}

	g.deps.Metrics.CellCompleted(ctx, KindLLM, outcome, time.Since(started))

	return err
}

func (g *LLMGen) dispatch(ctx context.Context, cell *Cell, emit Emit) error {
	cfg, ok := cell.Column.Gen.(*schema.LLMGenConfig)
	if !ok {
		return failCell(cell, emit, fmt.Errorf("%w: column %q is not an LLM column", schema.ErrBadInput, cell.Column.ID))
	}

	systemTemplate, userTemplate := cfg.PromptTemplates()
	systemPrompt := systemTemplate.Render(cell.Draft)
	userPrompt := userTemplate.Render(cell.Draft)

	refs, err := g.retrieve(ctx, cell, cfg, userPrompt)
	if err != nil {
		return failCell(cell, emit, err)
	}

	if refs != nil && len(refs.Chunks) > 0 {
		systemPrompt = citationInstruction + renderReferences(refs) + systemPrompt

		emit(Chunk{ColumnID: cell.Column.ID, References: refs})
	}

	request := llm.ChatRequest{
		Model:       cfg.Model,
		Messages:    g.messages(cell, cfg, systemPrompt, userPrompt),
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		TopP:        cfg.TopP,
		Stop:        cfg.Stop,
	}

	if err := cell.Quota.CheckLLMQuota(cfg.Model, estimatePromptTokens(request)); err != nil {
		return failCell(cell, emit, err)
	}

	terminal, text, err := g.complete(ctx, cell, request, emit)
	if err != nil {
		if ctx.Err() != nil {
			// Cancellation is not a cell fault; let the executor wind
			// down without recording an error state for a cell the
			// client will never see.
			return fmt.Errorf("cell %s/%s: %w", cell.RowID, cell.Column.ID, ctx.Err())
		}

		return failCell(cell, emit, err)
	}

	value, err := schema.CoerceValue(cell.Column.DType, text)
	if err != nil {
		return failCell(cell, emit, err)
	}

	cell.Draft[cell.Column.ID] = value

	state := schema.OKState(terminal.FinishReason)
	state.References = refs
	cell.Draft.SetState(cell.Column.ID, state)

	cell.Quota.CreateLLMEvents(cfg.Model, terminal.PromptTokens, terminal.CompletionTokens)
	g.deps.Metrics.UsageEvent(ctx, KindLLM)

	emit(Chunk{
		ColumnID:         cell.Column.ID,
		FinishReason:     terminal.FinishReason,
		PromptTokens:     terminal.PromptTokens,
		CompletionTokens: terminal.CompletionTokens,
	})

	return nil
}

// retrieve runs the RAG sub-step when configured. The search query
// template renders against the draft and falls back to the resolved user
// prompt when empty.
func (g *LLMGen) retrieve(ctx context.Context, cell *Cell, cfg *schema.LLMGenConfig, userPrompt string) (*schema.References, error) {
	if cfg.RAGParams == nil || g.deps.Retriever == nil {
		return nil, nil
	}

	query := cfg.SearchQueryTemplate().Render(cell.Draft)
	if strings.TrimSpace(query) == "" {
		query = userPrompt
	}

	refs, err := g.deps.Retriever.Retrieve(ctx, cell.Quota, cell.ProjectID, cfg.RAGParams, query)
	if err != nil {
		return nil, err
	}

	return refs, nil
}

// messages assembles the chat transcript: system prompt, prior turns for
// multi-turn columns, then the current user prompt.
func (g *LLMGen) messages(cell *Cell, cfg *schema.LLMGenConfig, systemPrompt, userPrompt string) []llm.ChatMessage {
	messages := make([]llm.ChatMessage, 0, 2+2*len(cell.Prior))

	if systemPrompt != "" {
		messages = append(messages, llm.ChatMessage{Role: llm.RoleSystem, Content: systemPrompt})
	}

	if cfg.MultiTurn {
		prior := cell.Prior
		if window := g.deps.MultiTurnWindow; window > 0 && len(prior) > window {
			prior = prior[len(prior)-window:]
		}

		_, userTemplate := cfg.PromptTemplates()

		for _, row := range prior {
			answer, _ := row[cell.Column.ID].(string)
			if answer == "" {
				continue
			}

			messages = append(messages,
				llm.ChatMessage{Role: llm.RoleUser, Content: userTemplate.Render(row)},
				llm.ChatMessage{Role: llm.RoleAssistant, Content: answer})
		}
	}

	return append(messages, llm.ChatMessage{Role: llm.RoleUser, Content: userPrompt})
}

// complete runs the model call with bounded retry. Call setup failures
// classified transient are retried; once streaming begins, mid-stream
// failures are terminal for the cell since partial text already reached
// the client.
func (g *LLMGen) complete(ctx context.Context, cell *Cell, request llm.ChatRequest, emit Emit) (llm.Chunk, string, error) {
	engine, name, err := g.deps.Registry.Chat(request.Model)
	if err != nil {
		return llm.Chunk{}, "", err
	}

	providerRequest := request
	providerRequest.Model = name

	callCtx := ctx

	if g.deps.LLMTimeout > 0 {
		var cancel context.CancelFunc

		callCtx, cancel = context.WithTimeout(ctx, g.deps.LLMTimeout)
		defer cancel()
	}

	var (
		terminal llm.Chunk
		text     string
	)

	attempt := func() error {
		if !cell.Stream {
			chunk, chatErr := engine.Chat(callCtx, providerRequest)
			if chatErr != nil {
				return chatErr
			}

			terminal = chunk
			text = chunk.Text

			return nil
		}

		stream, streamErr := engine.ChatStream(callCtx, providerRequest)
		if streamErr != nil {
			return streamErr
		}

		chunk, streamed, recvErr := g.consume(cell, stream, emit)
		if recvErr != nil {
			return recvErr
		}

		terminal = chunk
		text = streamed

		return nil
	}

	if err := llm.Retry(ctx, g.logger(), "chat "+request.Model, attempt); err != nil {
		if llm.IsContextOverflow(err) && !errors.Is(err, llm.ErrContextOverflow) {
			return llm.Chunk{}, "", fmt.Errorf("%w: %v", llm.ErrContextOverflow, err)
		}

		return llm.Chunk{}, "", err
	}

	return terminal, text, nil
}

// consume forwards streamed fragments to emit and returns the terminal
// chunk plus the accumulated text.
func (g *LLMGen) consume(cell *Cell, stream llm.Stream, emit Emit) (llm.Chunk, string, error) {
	defer func() { _ = stream.Close() }()

	var builder strings.Builder

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			// Terminal chunk never arrived; synthesize one so the cell
			// still closes cleanly.
			return llm.Chunk{FinishReason: llm.FinishStop}, builder.String(), nil
		}

		if err != nil {
			return llm.Chunk{}, "", err
		}

		builder.WriteString(chunk.Text)

		if chunk.Terminal() {
			return chunk, builder.String(), nil
		}

		if chunk.Text != "" {
			emit(Chunk{ColumnID: cell.Column.ID, Text: chunk.Text})
		}
	}
}

func (g *LLMGen) logger() *slog.Logger {
	if g.deps.Log != nil {
		return g.deps.Log
	}

	return slog.Default()
}

// estimatePromptTokens sizes the assembled prompt for the quota
// precheck. Exact counts come back with the provider's usage report.
func estimatePromptTokens(request llm.ChatRequest) int {
	total := 0

	for _, message := range request.Messages {
		total += llm.EstimateTokens(message.Content)
	}

	return total
}

// renderReferences flattens retrieved chunks into prompt text.
func renderReferences(refs *schema.References) string {
	var b strings.Builder

	for i, chunk := range refs.Chunks {
		fmt.Fprintf(&b, "[%d] ", i+1)

		if chunk.Title != "" {
			b.WriteString(chunk.Title)
			b.WriteString(": ")
		}

		b.WriteString(chunk.Text)
		b.WriteString("\n")
	}

	b.WriteString("\n")

	return b.String()
}
