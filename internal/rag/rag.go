// Package rag runs the retrieval sub-step preceding a language-model cell:
// embed the search query, hybrid-search the knowledge table, rerank, and
// return the retained chunks as citations for the prompt.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/Sumatoshi-tech/tablefang/internal/billing"
	"github.com/Sumatoshi-tech/tablefang/internal/llm"
	"github.com/Sumatoshi-tech/tablefang/internal/schema"
	"github.com/Sumatoshi-tech/tablefang/internal/storage"
)

// candidateFactor widens the hybrid-search pool before reranking: the
// reranker sees up to candidateFactor*k candidates.
const candidateFactor = 5

// Well-known optional provenance columns of knowledge tables. The document
// loader fills them; retrieval surfaces them on citations when present.
const (
	TitleColumn    = "Title"
	PageColumn     = "Page"
	FileNameColumn = "File Name"
)

// Retriever executes retrieval against knowledge tables.
type Retriever struct {
	store    storage.Store
	registry *llm.Registry
	log      *slog.Logger
}

// NewRetriever creates a Retriever.
func NewRetriever(store storage.Store, registry *llm.Registry, log *slog.Logger) *Retriever {
	return &Retriever{store: store, registry: registry, log: log}
}

// Retrieve runs the full sub-step for one cell: quota prechecks, query
// embedding with the knowledge table's own embedding model, hybrid search
// over a candidate pool, rerank with threshold, and provenance assembly.
// An empty result is legal; the LLM call proceeds without citations.
func (r *Retriever) Retrieve(
	ctx context.Context,
	quota *billing.Manager,
	projectID string,
	params *schema.RAGParams,
	query string,
) (*schema.References, error) {
	knowledge, err := r.store.GetTable(ctx, projectID, params.TableID)
	if err != nil {
		return nil, fmt.Errorf("rag: knowledge table: %w", err)
	}

	embedModel, sourceColumn, err := knowledgeShape(knowledge)
	if err != nil {
		return nil, err
	}

	if err := quota.CheckEmbeddingQuota(embedModel); err != nil {
		return nil, err
	}

	vector, tokens, err := r.embedQuery(ctx, embedModel, query)
	if err != nil {
		return nil, err
	}

	quota.CreateEmbedEvents(embedModel, tokens)

	k := params.K
	if k <= 0 {
		k = 1
	}

	hits, err := r.store.HybridSearch(ctx, projectID, params.TableID, storage.SearchQuery{
		Text:   query,
		Vector: vector,
		K:      k * candidateFactor,
	})
	if err != nil {
		return nil, fmt.Errorf("rag: hybrid search: %w", err)
	}

	if len(hits) == 0 {
		return schema.NewReferences(query, nil), nil
	}

	chunks := hitsToChunks(hits, params.TableID, sourceColumn)

	if params.RerankingModel != "" {
		chunks, err = r.rerank(ctx, quota, params, query, chunks)
		if err != nil {
			return nil, err
		}
	}

	if len(chunks) > k {
		chunks = chunks[:k]
	}

	return schema.NewReferences(query, chunks), nil
}

// knowledgeShape extracts the embedding model and text source column from
// the knowledge table's vector column.
func knowledgeShape(knowledge *schema.TableSchema) (model, sourceColumn string, err error) {
	vectorCol, ok := knowledge.VectorColumn()
	if !ok {
		return "", "", fmt.Errorf("%w: table %q has no vector column", schema.ErrKnowledgeShape, knowledge.ID)
	}

	embed, ok := vectorCol.Gen.(*schema.EmbedGenConfig)
	if !ok {
		return "", "", fmt.Errorf("%w: vector column %q has no embed config", schema.ErrKnowledgeShape, vectorCol.ID)
	}

	return embed.EmbeddingModel, embed.SourceColumn, nil
}

func (r *Retriever) embedQuery(ctx context.Context, model, query string) ([]float32, int, error) {
	embedder, name, err := r.registry.Embedder(model)
	if err != nil {
		return nil, 0, fmt.Errorf("rag: %w", err)
	}

	vectors, tokens, err := embedder.Embed(ctx, name, []string{query})
	if err != nil {
		return nil, 0, fmt.Errorf("rag: embed query: %w", err)
	}

	if len(vectors) == 0 {
		return nil, tokens, nil
	}

	return vectors[0], tokens, nil
}

// rerank orders the candidates with the configured model, applies the
// score threshold and emits one rerank usage event. Fewer than k
// survivors is fine; what exists is kept.
func (r *Retriever) rerank(
	ctx context.Context,
	quota *billing.Manager,
	params *schema.RAGParams,
	query string,
	chunks []schema.RefChunk,
) ([]schema.RefChunk, error) {
	if err := quota.CheckRerankQuota(params.RerankingModel); err != nil {
		return nil, err
	}

	reranker, name, err := r.registry.Reranker(params.RerankingModel)
	if err != nil {
		return nil, fmt.Errorf("rag: %w", err)
	}

	documents := make([]string, len(chunks))
	for i, chunk := range chunks {
		documents[i] = rerankerInput(chunk, params.ConcatRerankerInput)
	}

	results, err := reranker.Rerank(ctx, name, query, documents)
	if err != nil {
		return nil, fmt.Errorf("rag: rerank: %w", err)
	}

	quota.CreateRerankEvents(params.RerankingModel, 1)

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	reranked := make([]schema.RefChunk, 0, len(results))

	for _, result := range results {
		if result.Index < 0 || result.Index >= len(chunks) {
			continue
		}

		if params.RerankScoreThreshold != nil && result.Score < *params.RerankScoreThreshold {
			continue
		}

		chunk := chunks[result.Index]
		chunk.Score = result.Score
		reranked = append(reranked, chunk)
	}

	return reranked, nil
}

// rerankerInput is the text the reranker scores. With concat enabled the
// title joins the body, which helps short chunks from titled documents.
func rerankerInput(chunk schema.RefChunk, concat bool) string {
	if !concat || chunk.Title == "" {
		return chunk.Text
	}

	return chunk.Title + "\n" + chunk.Text
}

// hitsToChunks converts search hits into citation chunks with provenance.
func hitsToChunks(hits []storage.SearchHit, tableID, sourceColumn string) []schema.RefChunk {
	chunks := make([]schema.RefChunk, 0, len(hits))

	for _, hit := range hits {
		text, _ := hit.Row[sourceColumn].(string)
		if strings.TrimSpace(text) == "" {
			continue
		}

		chunk := schema.RefChunk{
			Text:     text,
			TableID:  tableID,
			ColumnID: sourceColumn,
			Score:    hit.Score,
		}

		if id, ok := hit.Row[schema.RowIDColumn].(string); ok {
			chunk.RowID = id
		}

		if title, ok := hit.Row[TitleColumn].(string); ok {
			chunk.Title = title
		}

		if name, ok := hit.Row[FileNameColumn].(string); ok {
			chunk.FileName = name
		}

		chunk.Page = pageNumber(hit.Row[PageColumn])

		chunks = append(chunks, chunk)
	}

	return chunks
}

func pageNumber(value any) int {
	switch v := value.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
