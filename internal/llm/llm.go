// Package llm wraps the model providers behind small interfaces: streaming
// chat completion, embedding, and reranking. Model ids carry a provider
// prefix ("openai/gpt-4o-mini"); the registry routes each id to the engine
// registered for its provider.
package llm

import (
	"context"
	"strings"
)

// Chat message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Finish reasons carried on terminal chunks.
const (
	FinishStop   = "stop"
	FinishLength = "length"
	FinishError  = "error"
)

// ChatMessage is one turn of a chat prompt.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest describes one completion call.
type ChatRequest struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
	TopP        float64
	Stop        []string
}

// Chunk is one streamed piece of a completion. FinishReason is empty until
// the terminal chunk; token counts are populated on the terminal chunk only.
type Chunk struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	FinishReason     string
}

// Terminal reports whether the chunk closes its stream.
func (c Chunk) Terminal() bool {
	return c.FinishReason != ""
}

// Stream is the consumer side of a chunk sequence. Recv returns io.EOF
// after the terminal chunk has been delivered.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// ChatEngine produces completions for one provider.
type ChatEngine interface {
	// ChatStream starts a streaming completion.
	ChatStream(ctx context.Context, req ChatRequest) (Stream, error)
	// Chat runs a non-streaming completion and returns one terminal chunk.
	Chat(ctx context.Context, req ChatRequest) (Chunk, error)
}

// Embedder converts texts into fixed-length vectors. The returned token
// count covers all inputs.
type Embedder interface {
	Embed(ctx context.Context, model string, inputs []string) ([][]float32, int, error)
}

// RerankResult scores one candidate document against the query.
type RerankResult struct {
	Index int     `json:"index"`
	Score float64 `json:"relevance_score"`
}

// Reranker orders candidate documents by relevance to a query.
type Reranker interface {
	Rerank(ctx context.Context, model, query string, documents []string) ([]RerankResult, error)
}

// SplitModelID splits "provider/name" into its parts. An id without a
// provider prefix maps to the empty provider.
func SplitModelID(id string) (provider, name string) {
	i := strings.IndexByte(id, '/')
	if i < 0 {
		return "", id
	}

	return id[:i], id[i+1:]
}

// EstimateTokens approximates the token count of a prompt for quota
// prechecks. The estimate is deliberately coarse; exact counts come back
// with the provider's usage report.
func EstimateTokens(text string) int {
	const charsPerToken = 4

	return len(text)/charsPerToken + 1
}
