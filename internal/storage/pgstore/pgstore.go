// Package pgstore implements the table store on PostgreSQL through bun.
// Schemas live as JSONB documents in one catalog table; rows live as
// JSONB documents in one shared row table with an extracted text
// document for full-text search and a pgvector column for the vector
// leg of hybrid retrieval.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"github.com/Sumatoshi-tech/tablefang/internal/schema"
	"github.com/Sumatoshi-tech/tablefang/internal/storage"
)

// tableRecord is the catalog row of one table schema.
type tableRecord struct {
	bun.BaseModel `bun:"table:gt_tables,alias:t"`

	ProjectID string `bun:"project_id,pk"`
	TableID   string `bun:"table_id,pk"`
	Kind      string `bun:"kind,notnull"`
	Schema    []byte `bun:"schema,type:jsonb,notnull"`
}

// rowRecord is one stored table row. Data holds the full cell map;
// Document concatenates the string cells for the full-text leg;
// Embedding mirrors the vector cell when the table has one.
type rowRecord struct {
	bun.BaseModel `bun:"table:gt_rows,alias:r"`

	ProjectID string          `bun:"project_id,pk"`
	TableID   string          `bun:"table_id,pk"`
	RowID     string          `bun:"row_id,pk"`
	UpdatedAt time.Time       `bun:"updated_at,notnull"`
	Data      []byte          `bun:"data,type:jsonb,notnull"`
	Document  string          `bun:"document,nullzero"`
	Embedding pgvector.Vector `bun:"embedding,type:vector,nullzero"`
}

// Store implements storage.Store on a bun-managed PostgreSQL pool.
type Store struct {
	db  *bun.DB
	log *slog.Logger
}

// Connect opens a pgdriver pool for the DSN. Verbose installs the
// bundebug query hook, logging every statement.
func Connect(dsn string, verbose bool) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())

	if verbose {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}

	return db
}

// New creates a Store over an existing bun connection and ensures the
// backing relations exist.
func New(ctx context.Context, db *bun.DB, log *slog.Logger) (*Store, error) {
	s := &Store{db: db, log: log}

	if err := s.init(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("pgstore: vector extension: %w", err)
	}

	for _, model := range []any{(*tableRecord)(nil), (*rowRecord)(nil)} {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("pgstore: create relations: %w", err)
		}
	}

	if _, err := s.db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS gt_rows_document_idx
		 ON gt_rows USING gin (to_tsvector('english', coalesce(document, '')))`); err != nil {
		return fmt.Errorf("pgstore: document index: %w", err)
	}

	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateTable implements storage.Store.
func (s *Store) CreateTable(ctx context.Context, projectID string, ts *schema.TableSchema) error {
	data, err := json.Marshal(ts)
	if err != nil {
		return fmt.Errorf("pgstore: encode schema: %w", err)
	}

	record := &tableRecord{
		ProjectID: projectID,
		TableID:   ts.ID,
		Kind:      string(ts.Kind),
		Schema:    data,
	}

	result, err := s.db.NewInsert().Model(record).On("CONFLICT DO NOTHING").Exec(ctx)
	if err != nil {
		return fmt.Errorf("pgstore: create table: %w", err)
	}

	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: %q", storage.ErrTableExists, ts.ID)
	}

	return nil
}

// GetTable implements storage.Store.
func (s *Store) GetTable(ctx context.Context, projectID, tableID string) (*schema.TableSchema, error) {
	record := new(tableRecord)

	err := s.db.NewSelect().Model(record).
		Where("project_id = ?", projectID).
		Where("table_id = ?", tableID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", storage.ErrTableNotFound, tableID)
	}

	if err != nil {
		return nil, fmt.Errorf("pgstore: get table: %w", err)
	}

	return decodeSchema(record.Schema)
}

// ListTables implements storage.Store.
func (s *Store) ListTables(ctx context.Context, projectID string, kind schema.TableKind) ([]*schema.TableSchema, error) {
	var records []tableRecord

	query := s.db.NewSelect().Model(&records).
		Where("project_id = ?", projectID).
		Order("table_id ASC")

	if kind != "" {
		query = query.Where("kind = ?", string(kind))
	}

	if err := query.Scan(ctx); err != nil {
		return nil, fmt.Errorf("pgstore: list tables: %w", err)
	}

	out := make([]*schema.TableSchema, len(records))

	for i, record := range records {
		ts, err := decodeSchema(record.Schema)
		if err != nil {
			return nil, err
		}

		out[i] = ts
	}

	return out, nil
}

// UpdateTable implements storage.Store.
func (s *Store) UpdateTable(ctx context.Context, projectID string, ts *schema.TableSchema) error {
	data, err := json.Marshal(ts)
	if err != nil {
		return fmt.Errorf("pgstore: encode schema: %w", err)
	}

	result, err := s.db.NewUpdate().Model((*tableRecord)(nil)).
		Set("schema = ?", data).
		Set("kind = ?", string(ts.Kind)).
		Where("project_id = ?", projectID).
		Where("table_id = ?", ts.ID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("pgstore: update table: %w", err)
	}

	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: %q", storage.ErrTableNotFound, ts.ID)
	}

	return nil
}

// RenameTable implements storage.Store. The catalog entry and every row
// move in one transaction.
func (s *Store) RenameTable(ctx context.Context, projectID, tableID, newTableID string) error {
	ts, err := s.GetTable(ctx, projectID, tableID)
	if err != nil {
		return err
	}

	ts.ID = newTableID

	data, err := json.Marshal(ts)
	if err != nil {
		return fmt.Errorf("pgstore: encode schema: %w", err)
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewUpdate().Model((*tableRecord)(nil)).
			Set("table_id = ?", newTableID).
			Set("schema = ?", data).
			Where("project_id = ?", projectID).
			Where("table_id = ?", tableID).
			Exec(ctx); err != nil {
			return fmt.Errorf("pgstore: rename table: %w", err)
		}

		if _, err := tx.NewUpdate().Model((*rowRecord)(nil)).
			Set("table_id = ?", newTableID).
			Where("project_id = ?", projectID).
			Where("table_id = ?", tableID).
			Exec(ctx); err != nil {
			return fmt.Errorf("pgstore: rename table rows: %w", err)
		}

		return nil
	})
}

// RenameColumn implements storage.Store. The data key and its state key
// move inside every row document.
func (s *Store) RenameColumn(ctx context.Context, projectID, tableID, oldID, newID string) error {
	ts, err := s.GetTable(ctx, projectID, tableID)
	if err != nil {
		return err
	}

	renamed := false

	for i := range ts.Columns {
		if ts.Columns[i].ID == oldID {
			ts.Columns[i].ID = newID
			renamed = true
		}
	}

	if !renamed {
		return fmt.Errorf("%w: %q", storage.ErrColumnNotFound, oldID)
	}

	data, err := json.Marshal(ts)
	if err != nil {
		return fmt.Errorf("pgstore: encode schema: %w", err)
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewUpdate().Model((*tableRecord)(nil)).
			Set("schema = ?", data).
			Where("project_id = ?", projectID).
			Where("table_id = ?", tableID).
			Exec(ctx); err != nil {
			return fmt.Errorf("pgstore: rename column: %w", err)
		}

		for _, pair := range [][2]string{
			{oldID, newID},
			{schema.StateColumnID(oldID), schema.StateColumnID(newID)},
		} {
			if _, err := tx.NewUpdate().Model((*rowRecord)(nil)).
				Set("data = (data - ?) || jsonb_build_object(?::text, data -> ?)", pair[0], pair[1], pair[0]).
				Where("project_id = ?", projectID).
				Where("table_id = ?", tableID).
				Where("jsonb_exists(data, ?)", pair[0]).
				Exec(ctx); err != nil {
				return fmt.Errorf("pgstore: rename column cells: %w", err)
			}
		}

		return nil
	})
}

// DropColumns implements storage.Store.
func (s *Store) DropColumns(ctx context.Context, projectID, tableID string, columnIDs []string) error {
	ts, err := s.GetTable(ctx, projectID, tableID)
	if err != nil {
		return err
	}

	drop := make(map[string]struct{}, len(columnIDs))
	for _, id := range columnIDs {
		drop[id] = struct{}{}
	}

	kept := ts.Columns[:0]

	for _, col := range ts.Columns {
		if _, gone := drop[col.ID]; !gone {
			kept = append(kept, col)
		}
	}

	ts.Columns = kept

	data, err := json.Marshal(ts)
	if err != nil {
		return fmt.Errorf("pgstore: encode schema: %w", err)
	}

	keys := make([]string, 0, 2*len(columnIDs))
	for _, id := range columnIDs {
		keys = append(keys, id, schema.StateColumnID(id))
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewUpdate().Model((*tableRecord)(nil)).
			Set("schema = ?", data).
			Where("project_id = ?", projectID).
			Where("table_id = ?", tableID).
			Exec(ctx); err != nil {
			return fmt.Errorf("pgstore: drop columns: %w", err)
		}

		if _, err := tx.NewUpdate().Model((*rowRecord)(nil)).
			Set("data = data - ?::text[]", pgdialect.Array(keys)).
			Where("project_id = ?", projectID).
			Where("table_id = ?", tableID).
			Exec(ctx); err != nil {
			return fmt.Errorf("pgstore: drop column cells: %w", err)
		}

		return nil
	})
}

// DropTable implements storage.Store.
func (s *Store) DropTable(ctx context.Context, projectID, tableID string) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		result, err := tx.NewDelete().Model((*tableRecord)(nil)).
			Where("project_id = ?", projectID).
			Where("table_id = ?", tableID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("pgstore: drop table: %w", err)
		}

		if affected, _ := result.RowsAffected(); affected == 0 {
			return fmt.Errorf("%w: %q", storage.ErrTableNotFound, tableID)
		}

		if _, err := tx.NewDelete().Model((*rowRecord)(nil)).
			Where("project_id = ?", projectID).
			Where("table_id = ?", tableID).
			Exec(ctx); err != nil {
			return fmt.Errorf("pgstore: drop table rows: %w", err)
		}

		return nil
	})
}

func decodeSchema(data []byte) (*schema.TableSchema, error) {
	var ts schema.TableSchema
	if err := json.Unmarshal(data, &ts); err != nil {
		return nil, fmt.Errorf("pgstore: decode schema: %w", err)
	}

	return &ts, nil
}
