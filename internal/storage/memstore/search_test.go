package memstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/tablefang/internal/schema"
	"github.com/Sumatoshi-tech/tablefang/internal/storage"
	"github.com/Sumatoshi-tech/tablefang/internal/storage/memstore"
)

func newKnowledgeTable(t *testing.T, store *memstore.Store) {
	t.Helper()

	ts := &schema.TableSchema{
		ID:   "docs",
		Kind: schema.KindKnowledge,
		Columns: []schema.Column{
			{ID: "Title", DType: schema.DTypeStr},
			{ID: "Text", DType: schema.DTypeStr},
			{ID: "Text Embed", DType: schema.DTypeVector, VectorSize: 3, Gen: &schema.EmbedGenConfig{
				EmbeddingModel: "openai/text-embedding-3-small",
				SourceColumn:   "Text",
			}},
		},
	}

	require.NoError(t, store.CreateTable(context.Background(), project, ts))

	_, err := store.InsertRows(context.Background(), project, "docs", []schema.Row{
		{"Title": "grapes", "Text": "grapes grow on vines", "Text Embed": []float32{1, 0, 0}},
		{"Title": "wine", "Text": "wine is made from grapes", "Text Embed": []float32{0.9, 0.1, 0}},
		{"Title": "trains", "Text": "trains run on rails", "Text Embed": []float32{0, 0, 1}},
	})
	require.NoError(t, err)
}

func TestHybridSearch_TextOnly(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	newKnowledgeTable(t, store)

	hits, err := store.HybridSearch(context.Background(), project, "docs", storage.SearchQuery{
		Text: "grapes",
		K:    10,
	})
	require.NoError(t, err)
	require.Len(t, hits, 2)

	titles := []string{hits[0].Row["Title"].(string), hits[1].Row["Title"].(string)}
	assert.ElementsMatch(t, []string{"grapes", "wine"}, titles)
}

func TestHybridSearch_VectorOnly(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	newKnowledgeTable(t, store)

	hits, err := store.HybridSearch(context.Background(), project, "docs", storage.SearchQuery{
		Vector: []float32{0, 0, 1},
		K:      1,
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "trains", hits[0].Row["Title"])
}

func TestHybridSearch_FusionPrefersBothLegs(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	newKnowledgeTable(t, store)

	hits, err := store.HybridSearch(context.Background(), project, "docs", storage.SearchQuery{
		Text:   "grapes",
		Vector: []float32{1, 0, 0},
		K:      3,
	})
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	assert.Equal(t, "grapes", hits[0].Row["Title"])

	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}
}

func TestHybridSearch_NoMatches_EmptyResult(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	newKnowledgeTable(t, store)

	hits, err := store.HybridSearch(context.Background(), project, "docs", storage.SearchQuery{
		Text: "submarine",
		K:    5,
	})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestHybridSearch_KCapsResults(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	newKnowledgeTable(t, store)

	hits, err := store.HybridSearch(context.Background(), project, "docs", storage.SearchQuery{
		Vector: []float32{0.5, 0.5, 0.5},
		K:      2,
	})
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestCreateIndex_UnknownColumn_ReturnsError(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	newKnowledgeTable(t, store)

	err := store.CreateIndex(context.Background(), project, "docs", "missing")
	assert.ErrorIs(t, err, storage.ErrColumnNotFound)

	require.NoError(t, store.CreateIndex(context.Background(), project, "docs", "Text Embed"))
}
