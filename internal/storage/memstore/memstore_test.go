package memstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/tablefang/internal/schema"
	"github.com/Sumatoshi-tech/tablefang/internal/storage"
	"github.com/Sumatoshi-tech/tablefang/internal/storage/memstore"
)

const project = "proj-1"

func newActionTable(t *testing.T, store *memstore.Store) *schema.TableSchema {
	t.Helper()

	ts := &schema.TableSchema{
		ID:   "articles",
		Kind: schema.KindAction,
		Columns: []schema.Column{
			{ID: "title", DType: schema.DTypeStr},
			{ID: "views", DType: schema.DTypeInt},
		},
	}

	require.NoError(t, store.CreateTable(context.Background(), project, ts))

	return ts
}

func TestCreateTable_DuplicateID_ReturnsError(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	newActionTable(t, store)

	err := store.CreateTable(context.Background(), project, &schema.TableSchema{ID: "articles", Kind: schema.KindAction})
	assert.ErrorIs(t, err, storage.ErrTableExists)
}

func TestGetTable_UnknownID_ReturnsError(t *testing.T) {
	t.Parallel()

	store := memstore.New()

	_, err := store.GetTable(context.Background(), project, "missing")
	assert.ErrorIs(t, err, storage.ErrTableNotFound)
}

func TestInsertRows_AssignsIDsAndTimestamps(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	newActionTable(t, store)

	ids, err := store.InsertRows(context.Background(), project, "articles", []schema.Row{
		{"title": "first", "views": 10},
		{"title": "second", "views": 20},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])

	row, err := store.GetRow(context.Background(), project, "articles", ids[0])
	require.NoError(t, err)
	assert.Equal(t, "first", row["title"])
	assert.Equal(t, ids[0], row[schema.RowIDColumn])

	_, ok := row[schema.UpdatedAtColumn].(time.Time)
	assert.True(t, ok)
}

func TestInsertRows_TimeOrderedIDs(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	newActionTable(t, store)

	var previous string

	for i := range 5 {
		ids, err := store.InsertRows(context.Background(), project, "articles", []schema.Row{{"views": i}})
		require.NoError(t, err)

		if previous != "" {
			assert.Greater(t, ids[0], previous)
		}

		previous = ids[0]
	}
}

func TestUpdateRows_MergesPartial(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	newActionTable(t, store)

	ids, err := store.InsertRows(context.Background(), project, "articles", []schema.Row{
		{"title": "draft", "views": 1},
	})
	require.NoError(t, err)

	err = store.UpdateRows(context.Background(), project, "articles", map[string]schema.Row{
		ids[0]: {"views": 2},
	})
	require.NoError(t, err)

	row, err := store.GetRow(context.Background(), project, "articles", ids[0])
	require.NoError(t, err)
	assert.Equal(t, "draft", row["title"])
	assert.Equal(t, 2, row["views"])
}

func TestUpdateRows_UnknownRow_ReturnsError(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	newActionTable(t, store)

	err := store.UpdateRows(context.Background(), project, "articles", map[string]schema.Row{
		"missing": {"views": 2},
	})
	assert.ErrorIs(t, err, storage.ErrRowNotFound)
}

func TestDeleteRows_ByIDs(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	newActionTable(t, store)

	ids, err := store.InsertRows(context.Background(), project, "articles", []schema.Row{
		{"views": 1}, {"views": 2}, {"views": 3},
	})
	require.NoError(t, err)

	deleted, err := store.DeleteRows(context.Background(), project, "articles", ids[:2], nil)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	page, err := store.ListRows(context.Background(), project, "articles", storage.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}

func TestDeleteRows_ByFilterAndIDs_Conjunction(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	newActionTable(t, store)

	ids, err := store.InsertRows(context.Background(), project, "articles", []schema.Row{
		{"views": 1}, {"views": 2}, {"views": 3},
	})
	require.NoError(t, err)

	where := []storage.Filter{{Column: "views", Op: storage.OpGe, Value: 2}}

	deleted, err := store.DeleteRows(context.Background(), project, "articles", ids[:2], where)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
}

func TestDeleteRows_NoSelector_DeletesNothing(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	newActionTable(t, store)

	_, err := store.InsertRows(context.Background(), project, "articles", []schema.Row{{"views": 1}})
	require.NoError(t, err)

	deleted, err := store.DeleteRows(context.Background(), project, "articles", nil, nil)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestListRows_FilterOrderAndPage(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	newActionTable(t, store)

	_, err := store.InsertRows(context.Background(), project, "articles", []schema.Row{
		{"title": "a", "views": 5},
		{"title": "b", "views": 15},
		{"title": "c", "views": 25},
		{"title": "d", "views": 35},
	})
	require.NoError(t, err)

	page, err := store.ListRows(context.Background(), project, "articles", storage.ListOptions{
		Where:   []storage.Filter{{Column: "views", Op: storage.OpGt, Value: 10}},
		OrderBy: "views",
		Desc:    true,
		Limit:   2,
		Offset:  1,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Rows, 2)
	assert.Equal(t, "c", page.Rows[0]["title"])
	assert.Equal(t, "b", page.Rows[1]["title"])
}

func TestListRows_ProjectionKeepsImplicitAndState(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	newActionTable(t, store)

	rows := []schema.Row{{"title": "a", "views": 5}}
	rows[0].SetState("title", schema.OKState("stop"))

	_, err := store.InsertRows(context.Background(), project, "articles", rows)
	require.NoError(t, err)

	page, err := store.ListRows(context.Background(), project, "articles", storage.ListOptions{
		Columns: []string{"title"},
	})
	require.NoError(t, err)
	require.Len(t, page.Rows, 1)

	row := page.Rows[0]
	assert.Contains(t, row, "title")
	assert.Contains(t, row, schema.StateColumnID("title"))
	assert.Contains(t, row, schema.RowIDColumn)
	assert.NotContains(t, row, "views")
}

func TestRenameColumn_MovesCellsAndState(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	newActionTable(t, store)

	rows := []schema.Row{{"title": "a"}}
	rows[0].SetState("title", schema.OKState("stop"))

	ids, err := store.InsertRows(context.Background(), project, "articles", rows)
	require.NoError(t, err)

	require.NoError(t, store.RenameColumn(context.Background(), project, "articles", "title", "headline"))

	row, err := store.GetRow(context.Background(), project, "articles", ids[0])
	require.NoError(t, err)
	assert.Equal(t, "a", row["headline"])
	assert.NotContains(t, row, "title")
	assert.Contains(t, row, schema.StateColumnID("headline"))

	ts, err := store.GetTable(context.Background(), project, "articles")
	require.NoError(t, err)
	assert.True(t, ts.HasColumn("headline"))
	assert.False(t, ts.HasColumn("title"))
}

func TestDropColumns_RemovesCells(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	newActionTable(t, store)

	ids, err := store.InsertRows(context.Background(), project, "articles", []schema.Row{
		{"title": "a", "views": 5},
	})
	require.NoError(t, err)

	require.NoError(t, store.DropColumns(context.Background(), project, "articles", []string{"views"}))

	row, err := store.GetRow(context.Background(), project, "articles", ids[0])
	require.NoError(t, err)
	assert.NotContains(t, row, "views")

	ts, err := store.GetTable(context.Background(), project, "articles")
	require.NoError(t, err)
	assert.False(t, ts.HasColumn("views"))
}

func TestRenameTable_PreservesRows(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	newActionTable(t, store)

	ids, err := store.InsertRows(context.Background(), project, "articles", []schema.Row{{"title": "a"}})
	require.NoError(t, err)

	require.NoError(t, store.RenameTable(context.Background(), project, "articles", "posts"))

	_, err = store.GetTable(context.Background(), project, "articles")
	assert.ErrorIs(t, err, storage.ErrTableNotFound)

	row, err := store.GetRow(context.Background(), project, "posts", ids[0])
	require.NoError(t, err)
	assert.Equal(t, "a", row["title"])
}

func TestListTables_FiltersByKind(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	newActionTable(t, store)

	kb := &schema.TableSchema{ID: "kb", Kind: schema.KindKnowledge, Columns: []schema.Column{
		{ID: "Text", DType: schema.DTypeStr},
	}}
	require.NoError(t, store.CreateTable(context.Background(), project, kb))

	actions, err := store.ListTables(context.Background(), project, schema.KindAction)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "articles", actions[0].ID)

	all, err := store.ListTables(context.Background(), project, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestDropTable_RemovesEverything(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	newActionTable(t, store)

	require.NoError(t, store.DropTable(context.Background(), project, "articles"))

	_, err := store.GetTable(context.Background(), project, "articles")
	assert.ErrorIs(t, err, storage.ErrTableNotFound)
}

func TestProjectIsolation_SameTableID(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	newActionTable(t, store)

	other := &schema.TableSchema{ID: "articles", Kind: schema.KindAction, Columns: []schema.Column{
		{ID: "title", DType: schema.DTypeStr},
	}}
	require.NoError(t, store.CreateTable(context.Background(), "proj-2", other))

	_, err := store.InsertRows(context.Background(), project, "articles", []schema.Row{{"title": "mine"}})
	require.NoError(t, err)

	page, err := store.ListRows(context.Background(), "proj-2", "articles", storage.ListOptions{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}
