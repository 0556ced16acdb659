// Package storage defines the abstract table store the execution engine
// consumes: schema CRUD, row CRUD with filtered listing, hybrid
// vector+text search and index maintenance. Implementations serialize
// writes per table; reads may run concurrently.
package storage

import (
	"context"
	"errors"

	"github.com/Sumatoshi-tech/tablefang/internal/schema"
)

// Sentinel errors shared by all implementations.
var (
	// ErrTableNotFound indicates the table id resolves to nothing.
	ErrTableNotFound = errors.New("table not found")
	// ErrTableExists indicates a create collided with an existing table.
	ErrTableExists = errors.New("table already exists")
	// ErrRowNotFound indicates the row id resolves to nothing.
	ErrRowNotFound = errors.New("row not found")
	// ErrColumnNotFound indicates a filter or projection names an
	// unknown column.
	ErrColumnNotFound = errors.New("column not found")
)

// Op is a filter comparison operator.
type Op string

// Filter operators. Contains performs a case-insensitive substring match
// on string columns.
const (
	OpEq       Op = "="
	OpNe       Op = "!="
	OpLt       Op = "<"
	OpLe       Op = "<="
	OpGt       Op = ">"
	OpGe       Op = ">="
	OpContains Op = "contains"
)

// Filter is one column predicate. Multiple filters combine with AND.
type Filter struct {
	Column string `json:"column"`
	Op     Op     `json:"op"`
	Value  any    `json:"value"`
}

// ListOptions control row listing.
type ListOptions struct {
	// Where filters rows; empty means all rows.
	Where []Filter
	// OrderBy names the sort column; empty sorts by row id.
	OrderBy string
	// Desc reverses the sort order.
	Desc bool
	// Limit caps the page size; non-positive means no cap.
	Limit int
	// Offset skips rows before the page.
	Offset int
	// Columns projects the result; empty returns all columns.
	Columns []string
}

// Page is one window of a row listing.
type Page struct {
	Rows   []schema.Row `json:"items"`
	Total  int          `json:"total"`
	Offset int          `json:"offset"`
	Limit  int          `json:"limit"`
}

// SearchQuery is one hybrid search over a knowledge table.
type SearchQuery struct {
	// Text is the query string for the full-text leg.
	Text string
	// Vector is the embedded query for the vector leg. Empty skips it.
	Vector []float32
	// K caps the fused result count.
	K int
}

// SearchHit is one fused search result.
type SearchHit struct {
	Row   schema.Row
	Score float64
}

// Store is the table storage engine. Row mutation methods set the
// implicit columns: insert assigns row ids, insert and update stamp the
// update time.
type Store interface {
	// CreateTable persists a new table schema.
	CreateTable(ctx context.Context, projectID string, s *schema.TableSchema) error
	// GetTable loads a table schema.
	GetTable(ctx context.Context, projectID, tableID string) (*schema.TableSchema, error)
	// ListTables returns the schemas of one kind, ordered by table id.
	ListTables(ctx context.Context, projectID string, kind schema.TableKind) ([]*schema.TableSchema, error)
	// UpdateTable replaces a table's schema after an add or reorder.
	UpdateTable(ctx context.Context, projectID string, s *schema.TableSchema) error
	// RenameTable changes a table id, carrying all rows along.
	RenameTable(ctx context.Context, projectID, tableID, newTableID string) error
	// RenameColumn renames a data column and its state column in the
	// schema and in every stored row.
	RenameColumn(ctx context.Context, projectID, tableID, oldID, newID string) error
	// DropColumns removes data columns, their state columns and their
	// cells from every stored row.
	DropColumns(ctx context.Context, projectID, tableID string, columnIDs []string) error
	// DropTable removes the table, its rows and its indexes.
	DropTable(ctx context.Context, projectID, tableID string) error

	// ListRows pages through a table's rows.
	ListRows(ctx context.Context, projectID, tableID string, opts ListOptions) (Page, error)
	// GetRow loads one row by id.
	GetRow(ctx context.Context, projectID, tableID, rowID string) (schema.Row, error)
	// InsertRows appends rows in one batched write and returns their ids.
	InsertRows(ctx context.Context, projectID, tableID string, rows []schema.Row) ([]string, error)
	// UpdateRows applies partial updates keyed by row id.
	UpdateRows(ctx context.Context, projectID, tableID string, updates map[string]schema.Row) error
	// DeleteRows removes rows matching the ids and/or the filters, both
	// combined with AND, and returns the count removed.
	DeleteRows(ctx context.Context, projectID, tableID string, rowIDs []string, where []Filter) (int, error)

	// HybridSearch fuses vector and full-text retrieval over the table.
	HybridSearch(ctx context.Context, projectID, tableID string, query SearchQuery) ([]SearchHit, error)
	// CreateIndex builds or refreshes the search index for a column.
	CreateIndex(ctx context.Context, projectID, tableID, columnID string) error
}
