package llm

import (
	"context"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// ErrEmptyCompletion indicates the provider answered with no choices.
var ErrEmptyCompletion = errors.New("empty completion response")

// OpenAIEngine adapts one OpenAI-compatible endpoint to the ChatEngine and
// Embedder interfaces. Self-hosted gateways expose the same wire protocol,
// so one engine type serves every provider behind such a gateway.
type OpenAIEngine struct {
	client *openai.Client
}

// NewOpenAIEngine builds an engine for an OpenAI-compatible endpoint.
// An empty baseURL targets the public OpenAI API.
func NewOpenAIEngine(apiKey, baseURL string) *OpenAIEngine {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &OpenAIEngine{client: openai.NewClientWithConfig(cfg)}
}

func convertRequest(req ChatRequest, stream bool) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	out := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
		TopP:        float32(req.TopP),
		Stop:        req.Stop,
		Stream:      stream,
	}

	if stream {
		out.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}

	return out
}

// Chat implements ChatEngine with a blocking completion call.
func (e *OpenAIEngine) Chat(ctx context.Context, req ChatRequest) (Chunk, error) {
	resp, err := e.client.CreateChatCompletion(ctx, convertRequest(req, false))
	if err != nil {
		return Chunk{}, wrapProviderError("chat", err)
	}

	if len(resp.Choices) == 0 {
		return Chunk{}, ErrEmptyCompletion
	}

	choice := resp.Choices[0]

	finish := string(choice.FinishReason)
	if finish == "" {
		finish = FinishStop
	}

	return Chunk{
		Text:             choice.Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		FinishReason:     finish,
	}, nil
}

// ChatStream implements ChatEngine with a streaming completion call.
func (e *OpenAIEngine) ChatStream(ctx context.Context, req ChatRequest) (Stream, error) {
	inner, err := e.client.CreateChatCompletionStream(ctx, convertRequest(req, true))
	if err != nil {
		return nil, wrapProviderError("chat stream", err)
	}

	return &openaiStream{inner: inner}, nil
}

// Embed implements Embedder.
func (e *OpenAIEngine) Embed(ctx context.Context, model string, inputs []string) ([][]float32, int, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: inputs,
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, 0, wrapProviderError("embed", err)
	}

	vectors := make([][]float32, len(resp.Data))
	for _, item := range resp.Data {
		vectors[item.Index] = item.Embedding
	}

	return vectors, resp.Usage.PromptTokens, nil
}

// openaiStream adapts the provider stream to the Stream interface. The
// provider interleaves delta frames, a finish-reason frame and a final
// usage-only frame; this folds them into delta chunks plus exactly one
// terminal chunk carrying both the finish reason and the usage.
type openaiStream struct {
	inner        *openai.ChatCompletionStream
	finishReason string
	done         bool
}

func (s *openaiStream) Recv() (Chunk, error) {
	if s.done {
		return Chunk{}, io.EOF
	}

	for {
		resp, err := s.inner.Recv()
		if errors.Is(err, io.EOF) {
			return s.finish(0, 0), nil
		}

		if err != nil {
			return Chunk{}, wrapProviderError("chat stream", err)
		}

		if len(resp.Choices) == 0 {
			if resp.Usage != nil {
				return s.finish(resp.Usage.PromptTokens, resp.Usage.CompletionTokens), nil
			}

			continue
		}

		choice := resp.Choices[0]
		if choice.FinishReason != "" {
			s.finishReason = string(choice.FinishReason)
		}

		if choice.Delta.Content != "" {
			return Chunk{Text: choice.Delta.Content}, nil
		}
	}
}

func (s *openaiStream) finish(promptTokens, completionTokens int) Chunk {
	s.done = true

	if s.finishReason == "" {
		s.finishReason = FinishStop
	}

	return Chunk{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		FinishReason:     s.finishReason,
	}
}

func (s *openaiStream) Close() error {
	return s.inner.Close()
}
