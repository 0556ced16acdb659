package pgstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/pgvector/pgvector-go"

	"github.com/Sumatoshi-tech/tablefang/internal/storage"
)

// rrfK is the reciprocal-rank-fusion constant. Fused score of a row is
// the sum of 1/(rrfK + rank) over the legs that returned it.
const rrfK = 60

// HybridSearch implements storage.Store. The vector leg orders by
// cosine distance on the pgvector column; the text leg ranks with
// ts_rank over the extracted document; both legs fuse app-side by
// reciprocal rank.
func (s *Store) HybridSearch(ctx context.Context, projectID, tableID string, query storage.SearchQuery) ([]storage.SearchHit, error) {
	if _, err := s.GetTable(ctx, projectID, tableID); err != nil {
		return nil, err
	}

	k := query.K
	if k <= 0 {
		k = 10
	}

	fused := map[string]float64{}
	records := map[string]rowRecord{}

	if len(query.Vector) > 0 {
		leg, err := s.vectorLeg(ctx, projectID, tableID, query.Vector, k)
		if err != nil {
			return nil, err
		}

		for rank, record := range leg {
			fused[record.RowID] += 1.0 / float64(rrfK+rank+1)
			records[record.RowID] = record
		}
	}

	if query.Text != "" {
		leg, err := s.textLeg(ctx, projectID, tableID, query.Text, k)
		if err != nil {
			return nil, err
		}

		for rank, record := range leg {
			fused[record.RowID] += 1.0 / float64(rrfK+rank+1)
			records[record.RowID] = record
		}
	}

	hits := make([]storage.SearchHit, 0, len(fused))

	for rowID, score := range fused {
		row, err := decodeRow(records[rowID])
		if err != nil {
			return nil, err
		}

		hits = append(hits, storage.SearchHit{Row: row, Score: score})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})

	if len(hits) > k {
		hits = hits[:k]
	}

	return hits, nil
}

func (s *Store) vectorLeg(ctx context.Context, projectID, tableID string, vector []float32, k int) ([]rowRecord, error) {
	var records []rowRecord

	err := s.db.NewSelect().Model(&records).
		Where("project_id = ?", projectID).
		Where("table_id = ?", tableID).
		Where("embedding IS NOT NULL").
		OrderExpr("embedding <=> ?", pgvector.NewVector(vector)).
		Limit(k).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("pgstore: vector search: %w", err)
	}

	return records, nil
}

func (s *Store) textLeg(ctx context.Context, projectID, tableID, text string, k int) ([]rowRecord, error) {
	var records []rowRecord

	err := s.db.NewSelect().Model(&records).
		Where("project_id = ?", projectID).
		Where("table_id = ?", tableID).
		Where("to_tsvector('english', coalesce(document, '')) @@ plainto_tsquery('english', ?)", text).
		OrderExpr("ts_rank(to_tsvector('english', coalesce(document, '')), plainto_tsquery('english', ?)) DESC", text).
		Limit(k).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("pgstore: text search: %w", err)
	}

	return records, nil
}

// CreateIndex implements storage.Store. The shared HNSW index over the
// embedding column serves every table; creation is idempotent and a
// refresh degrades to a statistics pass.
func (s *Store) CreateIndex(ctx context.Context, projectID, tableID, columnID string) error {
	if _, err := s.GetTable(ctx, projectID, tableID); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS gt_rows_embedding_idx
		 ON gt_rows USING hnsw (embedding vector_cosine_ops)`); err != nil {
		return fmt.Errorf("pgstore: embedding index: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "ANALYZE gt_rows"); err != nil {
		return fmt.Errorf("pgstore: analyze: %w", err)
	}

	return nil
}

// Optimize refreshes planner statistics over the shared relations. The
// serve command runs it on a schedule so filtered listings and search
// stay well planned as tables grow.
func (s *Store) Optimize(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "ANALYZE gt_tables, gt_rows"); err != nil {
		return fmt.Errorf("pgstore: optimize: %w", err)
	}

	return nil
}
