package llm

import (
	"fmt"
	"sync"
)

// ModelInfo describes one configured model.
type ModelInfo struct {
	// ID is the full model id including the provider prefix.
	ID string `json:"id" mapstructure:"id"`
	// ContextLength is the model's context window in tokens.
	ContextLength int `json:"context_length" mapstructure:"context_length"`
	// EmbeddingSize is the output dimensionality of embedding models.
	EmbeddingSize int `json:"embedding_size,omitempty" mapstructure:"embedding_size"`
}

// Registry routes model ids to the engines registered for their provider
// prefix and holds per-model metadata. Safe for concurrent use; the write
// methods are expected at startup only.
type Registry struct {
	mu      sync.RWMutex
	chat    map[string]ChatEngine
	embed   map[string]Embedder
	rerank  map[string]Reranker
	models  map[string]ModelInfo
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		chat:   make(map[string]ChatEngine),
		embed:  make(map[string]Embedder),
		rerank: make(map[string]Reranker),
		models: make(map[string]ModelInfo),
	}
}

// RegisterChat installs the chat engine for a provider prefix.
func (r *Registry) RegisterChat(provider string, engine ChatEngine) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.chat[provider] = engine
}

// RegisterEmbedder installs the embedder for a provider prefix.
func (r *Registry) RegisterEmbedder(provider string, embedder Embedder) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.embed[provider] = embedder
}

// RegisterReranker installs the reranker for a provider prefix.
func (r *Registry) RegisterReranker(provider string, reranker Reranker) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rerank[provider] = reranker
}

// AddModel records metadata for a model id.
func (r *Registry) AddModel(info ModelInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.models[info.ID] = info
}

// Info returns the metadata recorded for a model id.
func (r *Registry) Info(modelID string) (ModelInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.models[modelID]

	return info, ok
}

// Chat resolves a model id to its chat engine and provider-local name.
func (r *Registry) Chat(modelID string) (ChatEngine, string, error) {
	provider, name := SplitModelID(modelID)

	r.mu.RLock()
	defer r.mu.RUnlock()

	engine, ok := r.chat[provider]
	if !ok {
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownProvider, modelID)
	}

	return engine, name, nil
}

// Embedder resolves a model id to its embedder and provider-local name.
func (r *Registry) Embedder(modelID string) (Embedder, string, error) {
	provider, name := SplitModelID(modelID)

	r.mu.RLock()
	defer r.mu.RUnlock()

	embedder, ok := r.embed[provider]
	if !ok {
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownProvider, modelID)
	}

	return embedder, name, nil
}

// Reranker resolves a model id to its reranker and provider-local name.
func (r *Registry) Reranker(modelID string) (Reranker, string, error) {
	provider, name := SplitModelID(modelID)

	r.mu.RLock()
	defer r.mu.RUnlock()

	reranker, ok := r.rerank[provider]
	if !ok {
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownProvider, modelID)
	}

	return reranker, name, nil
}
