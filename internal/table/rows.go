package table

import (
	"context"
	"fmt"
	"sort"

	"github.com/Sumatoshi-tech/tablefang/internal/billing"
	"github.com/Sumatoshi-tech/tablefang/internal/colgraph"
	"github.com/Sumatoshi-tech/tablefang/internal/engine"
	"github.com/Sumatoshi-tech/tablefang/internal/planner"
	"github.com/Sumatoshi-tech/tablefang/internal/schema"
	"github.com/Sumatoshi-tech/tablefang/internal/storage"
)

// AddRowsRequest appends rows, generating every output column the data
// does not supply.
type AddRowsRequest struct {
	TableID    string       `json:"table_id" validate:"required"`
	Data       []schema.Row `json:"data" validate:"required,min=1"`
	Stream     bool         `json:"stream"`
	Concurrent bool         `json:"concurrent"`
}

// AddRows executes an add request, streaming events through sink.
func (s *Service) AddRows(ctx context.Context, quota *billing.Manager, projectID string, req *AddRowsRequest, sink engine.Sink) error {
	if err := s.validateRequest(req); err != nil {
		return err
	}

	if len(req.Data) > s.cfg.MaxRowsPerRequest {
		return fmt.Errorf("%w: %d > %d", ErrTooManyRows, len(req.Data), s.cfg.MaxRowsPerRequest)
	}

	ts, err := s.store.GetTable(ctx, projectID, req.TableID)
	if err != nil {
		return err
	}

	rows, err := coerceRows(ts, req.Data)
	if err != nil {
		return err
	}

	analysis, err := colgraph.Analyze(ts)
	if err != nil {
		return err
	}

	toGenerate := planner.ColumnsToGenerate(ts, rows)
	multiTurn := planner.HasMultiTurn(ts, toGenerate)

	plan := planner.Compute(planner.Params{
		MaxLevelWidth: analysis.MaxLevelWidth,
		ToGenerate:    len(toGenerate),
		Concurrent:    req.Concurrent,
		MultiTurn:     multiTurn,
		CellBudget:    s.cfg.CellBudget,
	})

	var prior []schema.Row

	if multiTurn {
		prior, err = s.allRowsAsc(ctx, projectID, req.TableID)
		if err != nil {
			return err
		}
	}

	defer s.processQuota(ctx, quota)

	return s.engine.Execute(ctx, &engine.Request{
		ProjectID: projectID,
		TableID:   req.TableID,
		Schema:    ts,
		Rows:      rows,
		Columns:   toGenerate,
		Prior:     prior,
		Analysis:  analysis,
		Plan:      plan,
		Commit:    engine.CommitInsert,
		Quota:     quota,
		Stream:    req.Stream,
	}, sink)
}

// RegenRowsRequest recomputes output columns of existing rows according
// to the strategy.
type RegenRowsRequest struct {
	TableID        string                `json:"table_id" validate:"required"`
	RowIDs         []string              `json:"row_ids" validate:"required,min=1"`
	RegenStrategy  planner.RegenStrategy `json:"regen_strategy"`
	OutputColumnID string                `json:"output_column_id,omitempty"`
	Stream         bool                  `json:"stream"`
	Concurrent     bool                  `json:"concurrent"`
}

// RegenRows executes a regeneration request, streaming events through
// sink.
func (s *Service) RegenRows(ctx context.Context, quota *billing.Manager, projectID string, req *RegenRowsRequest, sink engine.Sink) error {
	if err := s.validateRequest(req); err != nil {
		return err
	}

	if len(req.RowIDs) > s.cfg.MaxRowsPerRequest {
		return fmt.Errorf("%w: %d > %d", ErrTooManyRows, len(req.RowIDs), s.cfg.MaxRowsPerRequest)
	}

	strategy := req.RegenStrategy
	if strategy == "" {
		strategy = planner.RegenAll
	}

	ts, err := s.store.GetTable(ctx, projectID, req.TableID)
	if err != nil {
		return err
	}

	toGenerate, err := planner.RegenColumns(ts, strategy, req.OutputColumnID)
	if err != nil {
		return err
	}

	rows := make([]schema.Row, len(req.RowIDs))

	for i, rowID := range req.RowIDs {
		row, err := s.store.GetRow(ctx, projectID, req.TableID, rowID)
		if err != nil {
			return err
		}

		rows[i] = row
	}

	analysis, err := colgraph.Analyze(ts)
	if err != nil {
		return err
	}

	multiTurn := planner.HasMultiTurn(ts, toGenerate)

	plan := planner.Compute(planner.Params{
		MaxLevelWidth: analysis.MaxLevelWidth,
		ToGenerate:    len(toGenerate),
		Concurrent:    req.Concurrent,
		MultiTurn:     multiTurn,
		CellBudget:    s.cfg.CellBudget,
	})

	var prior []schema.Row

	if multiTurn {
		prior, err = s.priorTo(ctx, projectID, req.TableID, req.RowIDs)
		if err != nil {
			return err
		}
	}

	defer s.processQuota(ctx, quota)

	return s.engine.Execute(ctx, &engine.Request{
		ProjectID: projectID,
		TableID:   req.TableID,
		Schema:    ts,
		Rows:      rows,
		Columns:   toGenerate,
		Prior:     prior,
		Analysis:  analysis,
		Plan:      plan,
		Commit:    engine.CommitUpdate,
		Quota:     quota,
		Stream:    req.Stream,
	}, sink)
}

// UpdateRowsRequest applies value-only writes keyed by row id. No
// generation runs.
type UpdateRowsRequest struct {
	TableID string                `json:"table_id" validate:"required"`
	Data    map[string]schema.Row `json:"data" validate:"required"`
}

// UpdateRows writes the supplied cells. An empty update set is a
// semantic no-op: storage is untouched and update times stay as they
// were.
func (s *Service) UpdateRows(ctx context.Context, projectID string, req *UpdateRowsRequest) error {
	if err := s.validateRequest(req); err != nil {
		return err
	}

	ts, err := s.store.GetTable(ctx, projectID, req.TableID)
	if err != nil {
		return err
	}

	updates := make(map[string]schema.Row, len(req.Data))

	for rowID, row := range req.Data {
		coerced, err := coerceRow(ts, row)
		if err != nil {
			return fmt.Errorf("row %s: %w", rowID, err)
		}

		if len(coerced) == 0 {
			continue
		}

		updates[rowID] = coerced
	}

	if len(updates) == 0 {
		return nil
	}

	return s.store.UpdateRows(ctx, projectID, req.TableID, updates)
}

// allRowsAsc loads every row ordered by id ascending. Row ids are
// time-ordered UUIDs, so id order is insertion order.
func (s *Service) allRowsAsc(ctx context.Context, projectID, tableID string) ([]schema.Row, error) {
	page, err := s.store.ListRows(ctx, projectID, tableID, storage.ListOptions{})
	if err != nil {
		return nil, err
	}

	return page.Rows, nil
}

// priorTo returns the rows preceding the earliest regenerated row, for
// multi-turn context.
func (s *Service) priorTo(ctx context.Context, projectID, tableID string, targetIDs []string) ([]schema.Row, error) {
	rows, err := s.allRowsAsc(ctx, projectID, tableID)
	if err != nil {
		return nil, err
	}

	first := ""

	for _, id := range targetIDs {
		if first == "" || id < first {
			first = id
		}
	}

	var prior []schema.Row

	for _, row := range rows {
		id, _ := row[schema.RowIDColumn].(string)
		if id >= first {
			continue
		}

		prior = append(prior, row)
	}

	sort.SliceStable(prior, func(i, j int) bool {
		a, _ := prior[i][schema.RowIDColumn].(string)
		b, _ := prior[j][schema.RowIDColumn].(string)

		return a < b
	})

	return prior, nil
}

// coerceRows validates and coerces a batch of input rows.
func coerceRows(ts *schema.TableSchema, data []schema.Row) ([]schema.Row, error) {
	rows := make([]schema.Row, len(data))

	for i, row := range data {
		coerced, err := coerceRow(ts, row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}

		rows[i] = coerced
	}

	return rows, nil
}

// coerceRow rejects unknown, implicit and state columns, and coerces
// every supplied value to its column's dtype.
func coerceRow(ts *schema.TableSchema, row schema.Row) (schema.Row, error) {
	coerced := make(schema.Row, len(row))

	for key, value := range row {
		if schema.IsImplicitColumnID(key) || schema.IsStateColumnID(key) {
			return nil, fmt.Errorf("%w: column %q is not writable", schema.ErrBadInput, key)
		}

		col, ok := ts.Column(key)
		if !ok {
			return nil, fmt.Errorf("%w: %q", storage.ErrColumnNotFound, key)
		}

		cast, err := schema.CoerceValue(col.DType, value)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", key, err)
		}

		coerced[key] = cast
	}

	return coerced, nil
}
