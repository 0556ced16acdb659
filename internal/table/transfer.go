package table

import (
	"context"
	"fmt"
	"io"

	"github.com/Sumatoshi-tech/tablefang/internal/archive"
	"github.com/Sumatoshi-tech/tablefang/internal/schema"
	"github.com/Sumatoshi-tech/tablefang/internal/storage"
)

// transferBatch sizes export paging and import insert batches.
const transferBatch = 500

// ExportTable writes the table's schema and every row as one artifact.
func (s *Service) ExportTable(ctx context.Context, projectID, tableID string, w io.Writer) error {
	ts, err := s.store.GetTable(ctx, projectID, tableID)
	if err != nil {
		return err
	}

	var rows []schema.Row

	for offset := 0; ; offset += transferBatch {
		page, err := s.store.ListRows(ctx, projectID, tableID, storage.ListOptions{
			Limit:  transferBatch,
			Offset: offset,
		})
		if err != nil {
			return err
		}

		rows = append(rows, page.Rows...)

		if offset+len(page.Rows) >= page.Total || len(page.Rows) == 0 {
			break
		}
	}

	return archive.Write(w, ts, rows)
}

// ImportTable reads an artifact and creates the table under the target
// id. Row ids and update times are regenerated; cell values and states
// carry over. A non-empty tableID overrides the archived id.
func (s *Service) ImportTable(ctx context.Context, projectID, tableID string, r io.Reader) (*schema.TableSchema, error) {
	artifact, err := archive.Read(r)
	if err != nil {
		return nil, err
	}

	ts := artifact.Schema
	if tableID != "" {
		ts.ID = tableID
	}

	if err := validateSchema(ts); err != nil {
		return nil, err
	}

	if err := s.store.CreateTable(ctx, projectID, ts); err != nil {
		return nil, err
	}

	rows := make([]schema.Row, 0, len(artifact.Rows))

	for _, row := range artifact.Rows {
		imported := make(schema.Row, len(row))

		for key, value := range row {
			if schema.IsImplicitColumnID(key) {
				continue
			}

			imported[key] = value
		}

		rows = append(rows, imported)
	}

	for start := 0; start < len(rows); start += transferBatch {
		end := start + transferBatch
		if end > len(rows) {
			end = len(rows)
		}

		if _, err := s.store.InsertRows(ctx, projectID, ts.ID, rows[start:end]); err != nil {
			return nil, fmt.Errorf("import %q: %w", ts.ID, err)
		}
	}

	if col, ok := ts.VectorColumn(); ok {
		if err := s.store.CreateIndex(ctx, projectID, ts.ID, col.ID); err != nil {
			s.log.WarnContext(ctx, "index build after import failed",
				"table", ts.ID, "error", err.Error())
		}
	}

	return ts, nil
}
