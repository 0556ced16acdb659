package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/uptrace/bun"

	"github.com/Sumatoshi-tech/tablefang/internal/schema"
	"github.com/Sumatoshi-tech/tablefang/internal/storage"
)

// ListRows implements storage.Store.
func (s *Store) ListRows(ctx context.Context, projectID, tableID string, opts storage.ListOptions) (storage.Page, error) {
	if _, err := s.GetTable(ctx, projectID, tableID); err != nil {
		return storage.Page{}, err
	}

	var records []rowRecord

	query := s.db.NewSelect().Model(&records).
		Where("project_id = ?", projectID).
		Where("table_id = ?", tableID)

	query, err := applyFilters(query, opts.Where)
	if err != nil {
		return storage.Page{}, err
	}

	query = applyOrder(query, opts)

	total, err := query.Count(ctx)
	if err != nil {
		return storage.Page{}, fmt.Errorf("pgstore: count rows: %w", err)
	}

	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}

	if opts.Offset > 0 {
		query = query.Offset(opts.Offset)
	}

	if err := query.Scan(ctx); err != nil {
		return storage.Page{}, fmt.Errorf("pgstore: list rows: %w", err)
	}

	rows := make([]schema.Row, len(records))

	for i, record := range records {
		row, err := decodeRow(record)
		if err != nil {
			return storage.Page{}, err
		}

		rows[i] = projectRow(row, opts.Columns)
	}

	return storage.Page{Rows: rows, Total: total, Offset: opts.Offset, Limit: opts.Limit}, nil
}

// GetRow implements storage.Store.
func (s *Store) GetRow(ctx context.Context, projectID, tableID, rowID string) (schema.Row, error) {
	record := new(rowRecord)

	err := s.db.NewSelect().Model(record).
		Where("project_id = ?", projectID).
		Where("table_id = ?", tableID).
		Where("row_id = ?", rowID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", storage.ErrRowNotFound, rowID)
	}

	if err != nil {
		return nil, fmt.Errorf("pgstore: get row: %w", err)
	}

	return decodeRow(*record)
}

// InsertRows implements storage.Store. Rows without an id get one
// assigned; the whole batch lands in one INSERT.
func (s *Store) InsertRows(ctx context.Context, projectID, tableID string, rows []schema.Row) ([]string, error) {
	ts, err := s.GetTable(ctx, projectID, tableID)
	if err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	ids := make([]string, len(rows))
	records := make([]rowRecord, len(rows))

	for i, row := range rows {
		id, _ := row[schema.RowIDColumn].(string)
		if id == "" {
			id = uuid.Must(uuid.NewV7()).String()
		}

		ids[i] = id

		record, err := encodeRow(ts, projectID, tableID, id, now, row)
		if err != nil {
			return nil, err
		}

		records[i] = record
	}

	if _, err := s.db.NewInsert().Model(&records).Exec(ctx); err != nil {
		return nil, fmt.Errorf("pgstore: insert rows: %w", err)
	}

	return ids, nil
}

// UpdateRows implements storage.Store. Updates merge into the stored
// document and refresh the update time.
func (s *Store) UpdateRows(ctx context.Context, projectID, tableID string, updates map[string]schema.Row) error {
	ts, err := s.GetTable(ctx, projectID, tableID)
	if err != nil {
		return err
	}

	if len(updates) == 0 {
		return nil
	}

	now := time.Now().UTC()

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for rowID, update := range updates {
			stored, err := s.GetRow(ctx, projectID, tableID, rowID)
			if err != nil {
				return err
			}

			for key, value := range update {
				if key == schema.RowIDColumn || key == schema.UpdatedAtColumn {
					continue
				}

				stored[key] = value
			}

			record, err := encodeRow(ts, projectID, tableID, rowID, now, stored)
			if err != nil {
				return err
			}

			if _, err := tx.NewUpdate().Model(&record).
				WherePK().
				Exec(ctx); err != nil {
				return fmt.Errorf("pgstore: update row %s: %w", rowID, err)
			}
		}

		return nil
	})
}

// DeleteRows implements storage.Store. Ids and filters combine with AND.
func (s *Store) DeleteRows(ctx context.Context, projectID, tableID string, rowIDs []string, where []storage.Filter) (int, error) {
	if _, err := s.GetTable(ctx, projectID, tableID); err != nil {
		return 0, err
	}

	// Filter predicates evaluate against the decoded document, so the
	// matching ids are resolved with a select first.
	query := s.db.NewSelect().Model((*rowRecord)(nil)).
		Column("row_id").
		Where("project_id = ?", projectID).
		Where("table_id = ?", tableID)

	if len(rowIDs) > 0 {
		query = query.Where("row_id IN (?)", bun.In(rowIDs))
	}

	query, err := applyFilters(query, where)
	if err != nil {
		return 0, err
	}

	var matched []string
	if err := query.Scan(ctx, &matched); err != nil {
		return 0, fmt.Errorf("pgstore: resolve delete targets: %w", err)
	}

	if len(matched) == 0 {
		return 0, nil
	}

	result, err := s.db.NewDelete().Model((*rowRecord)(nil)).
		Where("project_id = ?", projectID).
		Where("table_id = ?", tableID).
		Where("row_id IN (?)", bun.In(matched)).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("pgstore: delete rows: %w", err)
	}

	affected, _ := result.RowsAffected()

	return int(affected), nil
}

// applyFilters translates the storage predicates onto JSONB lookups.
// Numeric comparands compare numerically through a cast; everything
// else compares as text.
func applyFilters(query *bun.SelectQuery, where []storage.Filter) (*bun.SelectQuery, error) {
	for _, filter := range where {
		switch filter.Column {
		case schema.RowIDColumn:
			query = query.Where("row_id "+sqlOp(filter.Op)+" ?", fmt.Sprint(filter.Value))

			continue
		case schema.UpdatedAtColumn:
			query = query.Where("updated_at "+sqlOp(filter.Op)+" ?", filter.Value)

			continue
		}

		switch filter.Op {
		case storage.OpContains:
			query = query.Where("data->>? ILIKE ?", filter.Column, "%"+fmt.Sprint(filter.Value)+"%")
		case storage.OpEq, storage.OpNe, storage.OpLt, storage.OpLe, storage.OpGt, storage.OpGe:
			if number, ok := asNumber(filter.Value); ok {
				query = query.Where("(data->>?)::numeric "+sqlOp(filter.Op)+" ?", filter.Column, number)
			} else {
				query = query.Where("data->>? "+sqlOp(filter.Op)+" ?", filter.Column, fmt.Sprint(filter.Value))
			}
		default:
			return nil, fmt.Errorf("%w: unknown filter op %q", schema.ErrBadInput, filter.Op)
		}
	}

	return query, nil
}

func sqlOp(op storage.Op) string {
	if op == storage.OpNe {
		return "<>"
	}

	return string(op)
}

func asNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

func applyOrder(query *bun.SelectQuery, opts storage.ListOptions) *bun.SelectQuery {
	direction := "ASC"
	if opts.Desc {
		direction = "DESC"
	}

	switch opts.OrderBy {
	case "", schema.RowIDColumn:
		return query.OrderExpr("row_id " + direction)
	case schema.UpdatedAtColumn:
		return query.OrderExpr("updated_at " + direction)
	default:
		return query.OrderExpr("data->>? "+direction, opts.OrderBy)
	}
}

// encodeRow projects a row onto its stored shape: implicit columns in
// their own relations, string cells concatenated into the text
// document, the vector cell mirrored into the pgvector column.
func encodeRow(ts *schema.TableSchema, projectID, tableID, rowID string, now time.Time, row schema.Row) (rowRecord, error) {
	data := make(schema.Row, len(row))

	for key, value := range row {
		if schema.IsImplicitColumnID(key) {
			continue
		}

		data[key] = value
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return rowRecord{}, fmt.Errorf("pgstore: encode row %s: %w", rowID, err)
	}

	record := rowRecord{
		ProjectID: projectID,
		TableID:   tableID,
		RowID:     rowID,
		UpdatedAt: now,
		Data:      payload,
		Document:  documentOf(ts, row),
	}

	if vectorCol, ok := ts.VectorColumn(); ok {
		if vector, ok := asVector(row[vectorCol.ID]); ok {
			record.Embedding = pgvector.NewVector(vector)
		}
	}

	return record, nil
}

func decodeRow(record rowRecord) (schema.Row, error) {
	row := schema.Row{}
	if err := json.Unmarshal(record.Data, &row); err != nil {
		return nil, fmt.Errorf("pgstore: decode row %s: %w", record.RowID, err)
	}

	row[schema.RowIDColumn] = record.RowID
	row[schema.UpdatedAtColumn] = record.UpdatedAt

	return row, nil
}

func documentOf(ts *schema.TableSchema, row schema.Row) string {
	var parts []string

	for _, col := range ts.Columns {
		if col.DType != schema.DTypeStr {
			continue
		}

		if text, _ := row[col.ID].(string); text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, "\n")
}

func asVector(value any) ([]float32, bool) {
	switch v := value.(type) {
	case []float32:
		return v, true
	case []float64:
		out := make([]float32, len(v))
		for i, f := range v {
			out[i] = float32(f)
		}

		return out, true
	case []any:
		out := make([]float32, len(v))

		for i, item := range v {
			f, ok := item.(float64)
			if !ok {
				return nil, false
			}

			out[i] = float32(f)
		}

		return out, true
	default:
		return nil, false
	}
}

func projectRow(row schema.Row, columns []string) schema.Row {
	if len(columns) == 0 {
		return row
	}

	projected := make(schema.Row, 2*len(columns)+2)
	projected[schema.RowIDColumn] = row[schema.RowIDColumn]
	projected[schema.UpdatedAtColumn] = row[schema.UpdatedAtColumn]

	for _, id := range columns {
		if value, ok := row[id]; ok {
			projected[id] = value
		}

		if state, ok := row[schema.StateColumnID(id)]; ok {
			projected[schema.StateColumnID(id)] = state
		}
	}

	return projected
}
