package pgstore_test

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/tablefang/internal/schema"
	"github.com/Sumatoshi-tech/tablefang/internal/storage"
	"github.com/Sumatoshi-tech/tablefang/internal/storage/pgstore"
)

// dsnEnv selects the integration database. Tests skip without it.
const dsnEnv = "TABLEFANG_TEST_DSN"

func testStore(t *testing.T) *pgstore.Store {
	t.Helper()

	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skipf("set %s to run pgstore integration tests", dsnEnv)
	}

	db := pgstore.Connect(dsn, false)

	store, err := pgstore.New(context.Background(), db, slog.Default())
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close() })

	return store
}

func testSchema(tableID string) *schema.TableSchema {
	return &schema.TableSchema{
		ID:   tableID,
		Kind: schema.KindAction,
		Columns: []schema.Column{
			{ID: "title", DType: schema.DTypeStr},
			{ID: "score", DType: schema.DTypeFloat},
		},
	}
}

func freshProject() string {
	return "it-" + uuid.NewString()
}

func TestStore_TableLifecycle(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	project := freshProject()

	ts := testSchema("docs")
	require.NoError(t, store.CreateTable(ctx, project, ts))
	assert.ErrorIs(t, store.CreateTable(ctx, project, ts), storage.ErrTableExists)

	loaded, err := store.GetTable(ctx, project, "docs")
	require.NoError(t, err)
	assert.Equal(t, ts.Columns, loaded.Columns)

	tables, err := store.ListTables(ctx, project, schema.KindAction)
	require.NoError(t, err)
	require.Len(t, tables, 1)

	require.NoError(t, store.DropTable(ctx, project, "docs"))

	_, err = store.GetTable(ctx, project, "docs")
	assert.ErrorIs(t, err, storage.ErrTableNotFound)
}

func TestStore_RowLifecycle_FilteredListing(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	project := freshProject()

	require.NoError(t, store.CreateTable(ctx, project, testSchema("docs")))

	ids, err := store.InsertRows(ctx, project, "docs", []schema.Row{
		{"title": "alpha report", "score": 1.5},
		{"title": "beta report", "score": 3.0},
		{"title": "gamma memo", "score": 4.5},
	})
	require.NoError(t, err)
	require.Len(t, ids, 3)

	page, err := store.ListRows(ctx, project, "docs", storage.ListOptions{
		Where: []storage.Filter{
			{Column: "title", Op: storage.OpContains, Value: "report"},
			{Column: "score", Op: storage.OpGt, Value: 2.0},
		},
	})
	require.NoError(t, err)
	require.Len(t, page.Rows, 1)
	assert.Equal(t, "beta report", page.Rows[0]["title"])

	require.NoError(t, store.UpdateRows(ctx, project, "docs", map[string]schema.Row{
		ids[0]: {"score": 9.0},
	}))

	row, err := store.GetRow(ctx, project, "docs", ids[0])
	require.NoError(t, err)
	assert.InDelta(t, 9.0, row["score"], 1e-9)
	assert.Equal(t, "alpha report", row["title"])

	deleted, err := store.DeleteRows(ctx, project, "docs", nil, []storage.Filter{
		{Column: "title", Op: storage.OpContains, Value: "memo"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	page, err = store.ListRows(ctx, project, "docs", storage.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
}

func TestStore_ColumnRenameAndDrop(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	project := freshProject()

	require.NoError(t, store.CreateTable(ctx, project, testSchema("docs")))

	ids, err := store.InsertRows(ctx, project, "docs", []schema.Row{
		{"title": "alpha", "score": 1.0},
	})
	require.NoError(t, err)

	require.NoError(t, store.RenameColumn(ctx, project, "docs", "title", "headline"))

	row, err := store.GetRow(ctx, project, "docs", ids[0])
	require.NoError(t, err)
	assert.Equal(t, "alpha", row["headline"])
	assert.NotContains(t, row, "title")

	require.NoError(t, store.DropColumns(ctx, project, "docs", []string{"score"}))

	row, err = store.GetRow(ctx, project, "docs", ids[0])
	require.NoError(t, err)
	assert.NotContains(t, row, "score")

	loaded, err := store.GetTable(ctx, project, "docs")
	require.NoError(t, err)
	assert.Len(t, loaded.Columns, 1)
	assert.Equal(t, "headline", loaded.Columns[0].ID)
}

func TestStore_HybridSearch_TextLeg(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	project := freshProject()

	require.NoError(t, store.CreateTable(ctx, project, testSchema("docs")))

	_, err := store.InsertRows(ctx, project, "docs", []schema.Row{
		{"title": "postgres hybrid retrieval notes"},
		{"title": "redis caching strategies"},
	})
	require.NoError(t, err)

	hits, err := store.HybridSearch(ctx, project, "docs", storage.SearchQuery{
		Text: "hybrid retrieval",
		K:    5,
	})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "postgres hybrid retrieval notes", hits[0].Row["title"])
}
