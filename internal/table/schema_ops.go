package table

import (
	"context"
	"fmt"

	"github.com/Sumatoshi-tech/tablefang/internal/colgraph"
	"github.com/Sumatoshi-tech/tablefang/internal/schema"
	"github.com/Sumatoshi-tech/tablefang/internal/storage"
)

// CreateTable validates and persists a new table schema.
func (s *Service) CreateTable(ctx context.Context, projectID string, ts *schema.TableSchema) error {
	if err := validateSchema(ts); err != nil {
		return err
	}

	return s.store.CreateTable(ctx, projectID, ts)
}

// AddColumns appends columns to an existing table. The extended schema
// must still satisfy every invariant; existing rows hold null in the
// new columns until a write or regeneration fills them.
func (s *Service) AddColumns(ctx context.Context, projectID, tableID string, columns []schema.Column) error {
	if len(columns) == 0 {
		return fmt.Errorf("%w: no columns to add", schema.ErrBadInput)
	}

	ts, err := s.store.GetTable(ctx, projectID, tableID)
	if err != nil {
		return err
	}

	ts.Columns = append(ts.Columns, columns...)

	if err := validateSchema(ts); err != nil {
		return err
	}

	return s.store.UpdateTable(ctx, projectID, ts)
}

// RenameColumns renames data columns. A rename that breaks a template
// reference fails validation and leaves the table untouched.
func (s *Service) RenameColumns(ctx context.Context, projectID, tableID string, renames map[string]string) error {
	if len(renames) == 0 {
		return fmt.Errorf("%w: no columns to rename", schema.ErrBadInput)
	}

	ts, err := s.store.GetTable(ctx, projectID, tableID)
	if err != nil {
		return err
	}

	trial := *ts
	trial.Columns = append([]schema.Column(nil), ts.Columns...)

	for oldID, newID := range renames {
		if !ts.HasColumn(oldID) {
			return fmt.Errorf("%w: %q", storage.ErrColumnNotFound, oldID)
		}

		for i := range trial.Columns {
			if trial.Columns[i].ID == oldID {
				trial.Columns[i].ID = newID
			}
		}
	}

	if err := validateSchema(&trial); err != nil {
		return err
	}

	for oldID, newID := range renames {
		if err := s.store.RenameColumn(ctx, projectID, tableID, oldID, newID); err != nil {
			return err
		}
	}

	return nil
}

// ReorderColumns rewrites the declaration order. The order must be a
// permutation of the current data columns, and the reordered schema
// must still satisfy the left-only reference rule.
func (s *Service) ReorderColumns(ctx context.Context, projectID, tableID string, order []string) error {
	ts, err := s.store.GetTable(ctx, projectID, tableID)
	if err != nil {
		return err
	}

	if len(order) != len(ts.Columns) {
		return fmt.Errorf("%w: order names %d columns, table has %d", schema.ErrBadInput, len(order), len(ts.Columns))
	}

	reordered := make([]schema.Column, 0, len(order))

	for _, id := range order {
		col, ok := ts.Column(id)
		if !ok {
			return fmt.Errorf("%w: %q", storage.ErrColumnNotFound, id)
		}

		reordered = append(reordered, col)
	}

	seen := make(map[string]struct{}, len(order))

	for _, id := range order {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: %q listed twice", schema.ErrBadInput, id)
		}

		seen[id] = struct{}{}
	}

	ts.Columns = reordered

	if err := validateSchema(ts); err != nil {
		return err
	}

	return s.store.UpdateTable(ctx, projectID, ts)
}

// DropColumns removes data columns and their cells. Dropping a column
// still referenced by a template fails validation.
func (s *Service) DropColumns(ctx context.Context, projectID, tableID string, columnIDs []string) error {
	if len(columnIDs) == 0 {
		return fmt.Errorf("%w: no columns to drop", schema.ErrBadInput)
	}

	ts, err := s.store.GetTable(ctx, projectID, tableID)
	if err != nil {
		return err
	}

	drop := make(map[string]struct{}, len(columnIDs))

	for _, id := range columnIDs {
		if !ts.HasColumn(id) {
			return fmt.Errorf("%w: %q", storage.ErrColumnNotFound, id)
		}

		drop[id] = struct{}{}
	}

	trial := *ts
	trial.Columns = make([]schema.Column, 0, len(ts.Columns))

	for _, col := range ts.Columns {
		if _, gone := drop[col.ID]; !gone {
			trial.Columns = append(trial.Columns, col)
		}
	}

	if err := validateSchema(&trial); err != nil {
		return err
	}

	return s.store.DropColumns(ctx, projectID, tableID, columnIDs)
}

// DropTable removes the table, its rows and its indexes.
func (s *Service) DropTable(ctx context.Context, projectID, tableID string) error {
	return s.store.DropTable(ctx, projectID, tableID)
}

// RenameTable changes a table id.
func (s *Service) RenameTable(ctx context.Context, projectID, tableID, newTableID string) error {
	if !schema.ValidTableID(newTableID) {
		return fmt.Errorf("%w: %q", schema.ErrTableID, newTableID)
	}

	return s.store.RenameTable(ctx, projectID, tableID, newTableID)
}

// validateSchema runs the full invariant suite: naming and shape rules,
// reference legality, graph acyclicity, and snippet compilation.
func validateSchema(ts *schema.TableSchema) error {
	if err := ts.Validate(); err != nil {
		return err
	}

	if _, err := colgraph.Analyze(ts); err != nil {
		return err
	}

	return checkSnippets(ts)
}
