package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// rerankTimeout bounds one rerank call.
const rerankTimeout = 30 * time.Second

// HTTPReranker calls a Cohere-compatible rerank endpoint.
type HTTPReranker struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPReranker builds a reranker client for baseURL ("/rerank" is
// appended per call).
func NewHTTPReranker(baseURL, apiKey string) *HTTPReranker {
	return &HTTPReranker{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: rerankTimeout},
	}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type rerankResponse struct {
	Results []RerankResult `json:"results"`
}

// Rerank implements Reranker. Results come back sorted by descending score.
func (r *HTTPReranker) Rerank(ctx context.Context, model, query string, documents []string) ([]RerankResult, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(rerankRequest{Model: model, Query: query, Documents: documents})
	if err != nil {
		return nil, fmt.Errorf("rerank: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("rerank: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

		return nil, fmt.Errorf("rerank: %s: %s", resp.Status, payload)
	}

	var decoded rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("rerank: decode response: %w", err)
	}

	return decoded.Results, nil
}
