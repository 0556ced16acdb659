// Package table is the service surface over generative tables: row
// writes that trigger generation, value-only writes, schema evolution,
// export/import and file embedding. Every operation re-validates the
// schema invariants before touching storage; generation is delegated to
// the execution engine.
package table

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/Sumatoshi-tech/tablefang/internal/billing"
	"github.com/Sumatoshi-tech/tablefang/internal/cache"
	"github.com/Sumatoshi-tech/tablefang/internal/docload"
	"github.com/Sumatoshi-tech/tablefang/internal/engine"
	"github.com/Sumatoshi-tech/tablefang/internal/llm"
	"github.com/Sumatoshi-tech/tablefang/internal/progress"
	"github.com/Sumatoshi-tech/tablefang/internal/schema"
	"github.com/Sumatoshi-tech/tablefang/internal/snippet"
	"github.com/Sumatoshi-tech/tablefang/internal/storage"
)

// DefaultMaxRowsPerRequest caps one write-shaped request.
const DefaultMaxRowsPerRequest = 100

// ErrTooManyRows indicates a request exceeds the per-request row cap.
var ErrTooManyRows = fmt.Errorf("%w: too many rows in one request", schema.ErrBadInput)

// Config tunes the service.
type Config struct {
	// CellBudget caps concurrently generating cells per request.
	CellBudget int
	// MaxRowsPerRequest caps rows per write request. Non-positive
	// selects DefaultMaxRowsPerRequest.
	MaxRowsPerRequest int
	// ChunkSize and ChunkOverlap shape document chunking for EmbedFile.
	ChunkSize    int
	ChunkOverlap int
}

// Service implements the table operations.
type Service struct {
	store    storage.Store
	engine   *engine.Engine
	registry *llm.Registry
	loader   *docload.Loader
	tracker  *progress.Tracker
	cache    *cache.Cache
	log      *slog.Logger
	cfg      Config

	validate *validator.Validate
}

// New assembles the service. Loader, tracker and cache may be nil when
// the deployment does not serve file embedding.
func New(
	store storage.Store,
	eng *engine.Engine,
	registry *llm.Registry,
	loader *docload.Loader,
	tracker *progress.Tracker,
	c *cache.Cache,
	log *slog.Logger,
	cfg Config,
) *Service {
	if cfg.MaxRowsPerRequest <= 0 {
		cfg.MaxRowsPerRequest = DefaultMaxRowsPerRequest
	}

	return &Service{
		store:    store,
		engine:   eng,
		registry: registry,
		loader:   loader,
		tracker:  tracker,
		cache:    c,
		log:      log,
		cfg:      cfg,
		validate: validator.New(),
	}
}

// GetTable loads one table schema.
func (s *Service) GetTable(ctx context.Context, projectID, tableID string) (*schema.TableSchema, error) {
	return s.store.GetTable(ctx, projectID, tableID)
}

// ListTables lists the schemas of one kind. An empty kind lists all.
func (s *Service) ListTables(ctx context.Context, projectID string, kind schema.TableKind) ([]*schema.TableSchema, error) {
	return s.store.ListTables(ctx, projectID, kind)
}

// ListRows pages through a table.
func (s *Service) ListRows(ctx context.Context, projectID, tableID string, opts storage.ListOptions) (storage.Page, error) {
	return s.store.ListRows(ctx, projectID, tableID, opts)
}

// GetRow loads one row.
func (s *Service) GetRow(ctx context.Context, projectID, tableID, rowID string) (schema.Row, error) {
	return s.store.GetRow(ctx, projectID, tableID, rowID)
}

// DeleteRowsRequest selects rows by ids and/or a filter predicate,
// AND-combined.
type DeleteRowsRequest struct {
	TableID string           `json:"table_id" validate:"required"`
	RowIDs  []string         `json:"row_ids,omitempty"`
	Where   []storage.Filter `json:"where,omitempty"`
}

// DeleteRows removes the selected rows and returns the count removed.
func (s *Service) DeleteRows(ctx context.Context, projectID string, req *DeleteRowsRequest) (int, error) {
	if err := s.validateRequest(req); err != nil {
		return 0, err
	}

	if len(req.RowIDs) == 0 && len(req.Where) == 0 {
		return 0, fmt.Errorf("%w: delete needs row ids or a predicate", schema.ErrBadInput)
	}

	return s.store.DeleteRows(ctx, projectID, req.TableID, req.RowIDs, req.Where)
}

func (s *Service) validateRequest(req any) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", schema.ErrBadInput, err)
	}

	return nil
}

// processQuota flushes the request's usage accumulator. Flushing runs
// detached from the request context so billing for completed work
// survives a client disconnect.
func (s *Service) processQuota(ctx context.Context, quota *billing.Manager) {
	if quota == nil {
		return
	}

	flushCtx := context.WithoutCancel(ctx)

	if err := quota.ProcessAll(flushCtx); err != nil {
		s.log.ErrorContext(flushCtx, "usage flush failed", slog.String("error", err.Error()))
	}
}

// checkSnippets compiles every code column of the schema so broken
// snippets surface at schema time, not at row time.
func checkSnippets(ts *schema.TableSchema) error {
	for _, col := range ts.Columns {
		cfg, ok := col.Gen.(*schema.CodeGenConfig)
		if !ok {
			continue
		}

		if err := snippet.Check(cfg.Code); err != nil {
			return fmt.Errorf("column %q: %w", col.ID, err)
		}
	}

	return nil
}
