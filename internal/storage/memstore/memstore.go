// Package memstore implements storage.Store in process memory. It backs
// tests and single-node deployments; writes serialize per table, reads
// run concurrently, and hybrid search fuses a vector leg and a text leg
// with reciprocal-rank fusion.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sumatoshi-tech/tablefang/internal/schema"
	"github.com/Sumatoshi-tech/tablefang/internal/storage"
)

// Store is an in-memory storage.Store.
type Store struct {
	mu     sync.RWMutex
	tables map[string]*table
}

type table struct {
	mu      sync.RWMutex
	schema  *schema.TableSchema
	rows    []schema.Row
	byID    map[string]int
	indexed map[string]bool
}

// New creates an empty Store.
func New() *Store {
	return &Store{tables: make(map[string]*table)}
}

func key(projectID, tableID string) string {
	return projectID + "/" + tableID
}

func (s *Store) table(projectID, tableID string) (*table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[key(projectID, tableID)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", storage.ErrTableNotFound, tableID)
	}

	return t, nil
}

// CreateTable implements storage.Store.
func (s *Store) CreateTable(_ context.Context, projectID string, ts *schema.TableSchema) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(projectID, ts.ID)
	if _, exists := s.tables[k]; exists {
		return fmt.Errorf("%w: %q", storage.ErrTableExists, ts.ID)
	}

	s.tables[k] = &table{
		schema:  cloneSchema(ts),
		byID:    make(map[string]int),
		indexed: make(map[string]bool),
	}

	return nil
}

// GetTable implements storage.Store.
func (s *Store) GetTable(_ context.Context, projectID, tableID string) (*schema.TableSchema, error) {
	t, err := s.table(projectID, tableID)
	if err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	return cloneSchema(t.schema), nil
}

// ListTables implements storage.Store.
func (s *Store) ListTables(_ context.Context, projectID string, kind schema.TableKind) ([]*schema.TableSchema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := projectID + "/"
	result := make([]*schema.TableSchema, 0, len(s.tables))

	for k, t := range s.tables {
		if !strings.HasPrefix(k, prefix) {
			continue
		}

		t.mu.RLock()

		if kind == "" || t.schema.Kind == kind {
			result = append(result, cloneSchema(t.schema))
		}

		t.mu.RUnlock()
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	return result, nil
}

// UpdateTable implements storage.Store.
func (s *Store) UpdateTable(_ context.Context, projectID string, ts *schema.TableSchema) error {
	t, err := s.table(projectID, ts.ID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.schema = cloneSchema(ts)

	return nil
}

// RenameTable implements storage.Store.
func (s *Store) RenameTable(_ context.Context, projectID, tableID, newTableID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldKey := key(projectID, tableID)

	t, ok := s.tables[oldKey]
	if !ok {
		return fmt.Errorf("%w: %q", storage.ErrTableNotFound, tableID)
	}

	newKey := key(projectID, newTableID)
	if _, exists := s.tables[newKey]; exists {
		return fmt.Errorf("%w: %q", storage.ErrTableExists, newTableID)
	}

	t.mu.Lock()
	t.schema.ID = newTableID
	t.mu.Unlock()

	s.tables[newKey] = t
	delete(s.tables, oldKey)

	return nil
}

// RenameColumn implements storage.Store.
func (s *Store) RenameColumn(_ context.Context, projectID, tableID, oldID, newID string) error {
	t, err := s.table(projectID, tableID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	renamed := false

	for i := range t.schema.Columns {
		if t.schema.Columns[i].ID == oldID {
			t.schema.Columns[i].ID = newID
			renamed = true

			break
		}
	}

	if !renamed {
		return fmt.Errorf("%w: %q", storage.ErrColumnNotFound, oldID)
	}

	oldState := schema.StateColumnID(oldID)
	newState := schema.StateColumnID(newID)

	for _, row := range t.rows {
		if value, ok := row[oldID]; ok {
			row[newID] = value

			delete(row, oldID)
		}

		if value, ok := row[oldState]; ok {
			row[newState] = value

			delete(row, oldState)
		}
	}

	if t.indexed[oldID] {
		t.indexed[newID] = true

		delete(t.indexed, oldID)
	}

	return nil
}

// DropColumns implements storage.Store.
func (s *Store) DropColumns(_ context.Context, projectID, tableID string, columnIDs []string) error {
	t, err := s.table(projectID, tableID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	drop := make(map[string]bool, len(columnIDs))

	for _, id := range columnIDs {
		found := false

		for _, col := range t.schema.Columns {
			if col.ID == id {
				found = true

				break
			}
		}

		if !found {
			return fmt.Errorf("%w: %q", storage.ErrColumnNotFound, id)
		}

		drop[id] = true
	}

	kept := t.schema.Columns[:0]

	for _, col := range t.schema.Columns {
		if !drop[col.ID] {
			kept = append(kept, col)
		}
	}

	t.schema.Columns = kept

	for _, row := range t.rows {
		for id := range drop {
			delete(row, id)
			delete(row, schema.StateColumnID(id))
		}
	}

	for id := range drop {
		delete(t.indexed, id)
	}

	return nil
}

// DropTable implements storage.Store.
func (s *Store) DropTable(_ context.Context, projectID, tableID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(projectID, tableID)
	if _, ok := s.tables[k]; !ok {
		return fmt.Errorf("%w: %q", storage.ErrTableNotFound, tableID)
	}

	delete(s.tables, k)

	return nil
}

// GetRow implements storage.Store.
func (s *Store) GetRow(_ context.Context, projectID, tableID, rowID string) (schema.Row, error) {
	t, err := s.table(projectID, tableID)
	if err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	i, ok := t.byID[rowID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", storage.ErrRowNotFound, rowID)
	}

	return t.rows[i].Clone(), nil
}

// InsertRows implements storage.Store. Rows without an id get a fresh
// time-ordered UUID; every row is stamped with the commit time.
func (s *Store) InsertRows(_ context.Context, projectID, tableID string, rows []schema.Row) ([]string, error) {
	t, err := s.table(projectID, tableID)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now().UTC()
	ids := make([]string, len(rows))

	for i, row := range rows {
		stored := row.Clone()

		id, _ := stored[schema.RowIDColumn].(string)
		if id == "" {
			id = uuid.Must(uuid.NewV7()).String()
			stored[schema.RowIDColumn] = id
		}

		stored[schema.UpdatedAtColumn] = now

		t.byID[id] = len(t.rows)
		t.rows = append(t.rows, stored)
		ids[i] = id
	}

	return ids, nil
}

// UpdateRows implements storage.Store. Updates merge into the stored row
// and refresh the update time.
func (s *Store) UpdateRows(_ context.Context, projectID, tableID string, updates map[string]schema.Row) error {
	t, err := s.table(projectID, tableID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for rowID := range updates {
		if _, ok := t.byID[rowID]; !ok {
			return fmt.Errorf("%w: %q", storage.ErrRowNotFound, rowID)
		}
	}

	now := time.Now().UTC()

	for rowID, partial := range updates {
		row := t.rows[t.byID[rowID]]
		for k, v := range partial {
			if k == schema.RowIDColumn || k == schema.UpdatedAtColumn {
				continue
			}

			row[k] = v
		}

		row[schema.UpdatedAtColumn] = now
	}

	return nil
}

// DeleteRows implements storage.Store. Ids and filters combine with AND;
// with neither given nothing is deleted.
func (s *Store) DeleteRows(_ context.Context, projectID, tableID string, rowIDs []string, where []storage.Filter) (int, error) {
	t, err := s.table(projectID, tableID)
	if err != nil {
		return 0, err
	}

	if len(rowIDs) == 0 && len(where) == 0 {
		return 0, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	idSet := make(map[string]bool, len(rowIDs))
	for _, id := range rowIDs {
		idSet[id] = true
	}

	kept := make([]schema.Row, 0, len(t.rows))
	deleted := 0

	for _, row := range t.rows {
		id, _ := row[schema.RowIDColumn].(string)

		match := true
		if len(rowIDs) > 0 && !idSet[id] {
			match = false
		}

		if match && len(where) > 0 && !storage.MatchAll(row, where) {
			match = false
		}

		if match {
			deleted++

			continue
		}

		kept = append(kept, row)
	}

	t.rows = kept
	t.byID = make(map[string]int, len(kept))

	for i, row := range kept {
		id, _ := row[schema.RowIDColumn].(string)
		t.byID[id] = i
	}

	return deleted, nil
}

// ListRows implements storage.Store.
func (s *Store) ListRows(_ context.Context, projectID, tableID string, opts storage.ListOptions) (storage.Page, error) {
	t, err := s.table(projectID, tableID)
	if err != nil {
		return storage.Page{}, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	filtered := make([]schema.Row, 0, len(t.rows))

	for _, row := range t.rows {
		if storage.MatchAll(row, opts.Where) {
			filtered = append(filtered, row)
		}
	}

	orderBy := opts.OrderBy
	if orderBy == "" {
		orderBy = schema.RowIDColumn
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		less := lessByColumn(filtered[i], filtered[j], orderBy)
		if opts.Desc {
			return !less && !sameByColumn(filtered[i], filtered[j], orderBy)
		}

		return less
	})

	total := len(filtered)

	start := opts.Offset
	if start < 0 {
		start = 0
	}

	if start > total {
		start = total
	}

	end := total
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}

	page := make([]schema.Row, 0, end-start)
	for _, row := range filtered[start:end] {
		page = append(page, project(row, opts.Columns))
	}

	return storage.Page{Rows: page, Total: total, Offset: start, Limit: opts.Limit}, nil
}

// CreateIndex implements storage.Store.
func (s *Store) CreateIndex(_ context.Context, projectID, tableID, columnID string) error {
	t, err := s.table(projectID, tableID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.schema.Column(columnID); !ok {
		return fmt.Errorf("%w: %q", storage.ErrColumnNotFound, columnID)
	}

	t.indexed[columnID] = true

	return nil
}

func cloneSchema(ts *schema.TableSchema) *schema.TableSchema {
	out := &schema.TableSchema{ID: ts.ID, Kind: ts.Kind}
	out.Columns = append(out.Columns, ts.Columns...)

	return out
}

func lessByColumn(a, b schema.Row, column string) bool {
	cmp, ok := storage.Compare(a[column], b[column])

	return ok && cmp < 0
}

func sameByColumn(a, b schema.Row, column string) bool {
	cmp, ok := storage.Compare(a[column], b[column])

	return ok && cmp == 0
}

// project returns the row restricted to the requested columns plus the
// implicit ones. State columns ride along with their data columns.
func project(row schema.Row, columns []string) schema.Row {
	if len(columns) == 0 {
		return row.Clone()
	}

	out := make(schema.Row, len(columns)+2)

	if v, ok := row[schema.RowIDColumn]; ok {
		out[schema.RowIDColumn] = v
	}

	if v, ok := row[schema.UpdatedAtColumn]; ok {
		out[schema.UpdatedAtColumn] = v
	}

	for _, col := range columns {
		if v, ok := row[col]; ok {
			out[col] = v
		}

		if v, ok := row[schema.StateColumnID(col)]; ok {
			out[schema.StateColumnID(col)] = v
		}
	}

	return out
}
