package table

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/Sumatoshi-tech/tablefang/internal/billing"
	"github.com/Sumatoshi-tech/tablefang/internal/docload"
	"github.com/Sumatoshi-tech/tablefang/internal/rag"
	"github.com/Sumatoshi-tech/tablefang/internal/schema"
	"github.com/Sumatoshi-tech/tablefang/pkg/units"
)

// embedBatch is how many chunks one embedding call carries.
const embedBatch = 32

// embedWorkers bounds concurrent embedding calls per request.
const embedWorkers = 4

// lockTTL bounds how long an embed job may hold its per-source lock
// without finishing.
const lockTTL = docload.DefaultTimeout

// ErrEmbedInProgress indicates another embed of the same source into the
// same table is already running.
var ErrEmbedInProgress = errors.New("embed already in progress")

// Embed job stages, in execution order.
const (
	StageLoad   = "load"
	StageParse  = "parse"
	StageUpload = "upload"
	StageEmbed  = "embed"
	StageIndex  = "index"
)

// EmbedFileRequest loads one document into a knowledge table. Exactly
// one of Source (a URL to fetch) or Payload (an uploaded body named by
// FileName) must be set.
type EmbedFileRequest struct {
	TableID       string `json:"table_id" validate:"required"`
	Source        string `json:"source,omitempty"`
	FileName      string `json:"file_name,omitempty"`
	Payload       []byte `json:"payload,omitempty"`
	ProgressToken string `json:"progress_token,omitempty"`
}

// EmbedFile loads, chunks and embeds one document into the table. The
// job holds a per-source lock so concurrent embeds of the same document
// into the same table do not duplicate rows, and reports its stages
// under the request's progress token.
func (s *Service) EmbedFile(ctx context.Context, quota *billing.Manager, projectID string, req *EmbedFileRequest) (err error) {
	if err := s.validateRequest(req); err != nil {
		return err
	}

	if (req.Source == "") == (len(req.Payload) == 0) {
		return fmt.Errorf("%w: embed needs a source url or an uploaded payload", schema.ErrBadInput)
	}

	ts, err := s.store.GetTable(ctx, projectID, req.TableID)
	if err != nil {
		return err
	}

	vectorCol, ok := ts.VectorColumn()
	if !ok {
		return fmt.Errorf("%w: table %q has no vector column", schema.ErrKnowledgeShape, ts.ID)
	}

	embed, ok := vectorCol.Gen.(*schema.EmbedGenConfig)
	if !ok {
		return fmt.Errorf("%w: vector column %q has no embed config", schema.ErrKnowledgeShape, vectorCol.ID)
	}

	if quota != nil {
		if err := quota.CheckFileQuota(); err != nil {
			return err
		}

		if err := quota.CheckEmbeddingQuota(embed.EmbeddingModel); err != nil {
			return err
		}
	}

	if s.cache != nil {
		lock := s.cache.NewLock(embedLockName(projectID, req), lockTTL)

		if err := lock.TryAcquire(ctx); err != nil {
			return fmt.Errorf("%w: %s", ErrEmbedInProgress, sourceName(req))
		}

		defer func() { _ = lock.Release(context.WithoutCancel(ctx)) }()
	}

	s.trackStart(ctx, req.ProgressToken)

	defer func() {
		if err != nil {
			s.trackFail(ctx, req.ProgressToken, err)
		} else {
			s.trackComplete(ctx, req.ProgressToken)
		}
	}()

	defer s.processQuota(ctx, quota)

	doc, err := s.loadDocument(ctx, req)
	if err != nil {
		return err
	}

	s.trackStage(ctx, req.ProgressToken, StageLoad, 100)

	chunks := docload.Split(doc.Text, s.cfg.ChunkSize, s.cfg.ChunkOverlap)
	if len(chunks) == 0 {
		return fmt.Errorf("%w: document %s has no text", schema.ErrBadInput, sourceName(req))
	}

	s.trackStage(ctx, req.ProgressToken, StageParse, 100)

	rowIDs, err := s.insertChunks(ctx, projectID, ts, embed.SourceColumn, doc, req, chunks)
	if err != nil {
		return err
	}

	s.trackStage(ctx, req.ProgressToken, StageUpload, 100)

	if quota != nil {
		quota.CreateFileEvents(float64(len(doc.Text)) / units.GiB)
	}

	if err := s.embedChunks(ctx, quota, projectID, ts, vectorCol.ID, embed.EmbeddingModel, req, rowIDs, chunks); err != nil {
		return err
	}

	s.trackStage(ctx, req.ProgressToken, StageEmbed, 100)

	if err := s.store.CreateIndex(ctx, projectID, ts.ID, vectorCol.ID); err != nil {
		return fmt.Errorf("embed %q: index: %w", ts.ID, err)
	}

	s.trackStage(ctx, req.ProgressToken, StageIndex, 100)

	return nil
}

// loadDocument resolves the request to a normalized document, via the
// loader's fetch path for URLs or its parse path for uploads.
func (s *Service) loadDocument(ctx context.Context, req *EmbedFileRequest) (*docload.Document, error) {
	if s.loader == nil {
		return nil, fmt.Errorf("file embedding is not enabled")
	}

	if req.Source != "" {
		return s.loader.Load(ctx, req.Source)
	}

	return s.loader.Parse(req.FileName, req.Payload)
}

// insertChunks writes one row per chunk, carrying the source text and
// provenance. Vectors arrive in a second pass once embedded.
func (s *Service) insertChunks(
	ctx context.Context,
	projectID string,
	ts *schema.TableSchema,
	sourceColumn string,
	doc *docload.Document,
	req *EmbedFileRequest,
	chunks []docload.Chunk,
) ([]string, error) {
	rows := make([]schema.Row, len(chunks))

	for i, chunk := range chunks {
		row := schema.Row{sourceColumn: chunk.Text}
		row.SetState(sourceColumn, schema.OKState(""))

		if ts.HasColumn(rag.TitleColumn) && doc.Title != "" {
			row[rag.TitleColumn] = doc.Title
		}

		if ts.HasColumn(rag.PageColumn) {
			row[rag.PageColumn] = chunk.Page
		}

		if ts.HasColumn(rag.FileNameColumn) {
			row[rag.FileNameColumn] = sourceName(req)
		}

		rows[i] = row
	}

	var rowIDs []string

	for start := 0; start < len(rows); start += transferBatch {
		end := start + transferBatch
		if end > len(rows) {
			end = len(rows)
		}

		ids, err := s.store.InsertRows(ctx, projectID, ts.ID, rows[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed %q: insert chunks: %w", ts.ID, err)
		}

		rowIDs = append(rowIDs, ids...)
	}

	return rowIDs, nil
}

// embedChunks fans the chunk texts out to the embedding model in
// batches and writes the vectors back.
func (s *Service) embedChunks(
	ctx context.Context,
	quota *billing.Manager,
	projectID string,
	ts *schema.TableSchema,
	vectorColumnID, model string,
	req *EmbedFileRequest,
	rowIDs []string,
	chunks []docload.Chunk,
) error {
	embedder, name, err := s.registry.Embedder(model)
	if err != nil {
		return err
	}

	vectors := make([][]float32, len(chunks))

	var (
		tokens atomic.Int64
		done   atomic.Int64
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(embedWorkers)

	for start := 0; start < len(chunks); start += embedBatch {
		end := start + embedBatch
		if end > len(chunks) {
			end = len(chunks)
		}

		group.Go(func() error {
			if quota != nil {
				if err := quota.CheckEmbeddingQuota(model); err != nil {
					return err
				}
			}

			texts := make([]string, end-start)
			for i := start; i < end; i++ {
				texts[i-start] = chunks[i].Text
			}

			batch, used, err := embedder.Embed(groupCtx, name, texts)
			if err != nil {
				return fmt.Errorf("embed %q: %w", ts.ID, err)
			}

			if len(batch) != end-start {
				return fmt.Errorf("embed %q: model returned %d vectors for %d inputs", ts.ID, len(batch), end-start)
			}

			copy(vectors[start:end], batch)
			tokens.Add(int64(used))

			completed := done.Add(int64(end - start))
			s.trackStage(ctx, req.ProgressToken, StageEmbed, 100*float64(completed)/float64(len(chunks)))

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return err
	}

	if quota != nil {
		quota.CreateEmbedEvents(model, int(tokens.Load()))
	}

	updates := make(map[string]schema.Row, len(rowIDs))

	for i, rowID := range rowIDs {
		row := schema.Row{vectorColumnID: vectors[i]}
		row.SetState(vectorColumnID, schema.OKState(""))
		updates[rowID] = row
	}

	if err := s.store.UpdateRows(ctx, projectID, ts.ID, updates); err != nil {
		return fmt.Errorf("embed %q: write vectors: %w", ts.ID, err)
	}

	return nil
}

func embedLockName(projectID string, req *EmbedFileRequest) string {
	return "embed:" + projectID + ":" + req.TableID + ":" + sourceName(req)
}

func sourceName(req *EmbedFileRequest) string {
	if req.Source != "" {
		return req.Source
	}

	return req.FileName
}

func (s *Service) trackStart(ctx context.Context, token string) {
	if s.tracker == nil || token == "" {
		return
	}

	if err := s.tracker.Start(ctx, token); err != nil {
		s.log.WarnContext(ctx, "progress start failed", "token", token, "error", err.Error())
	}
}

func (s *Service) trackStage(ctx context.Context, token, stage string, percent float64) {
	if s.tracker == nil || token == "" {
		return
	}

	if err := s.tracker.Stage(ctx, token, stage, percent); err != nil {
		s.log.WarnContext(ctx, "progress update failed", "token", token, "error", err.Error())
	}
}

func (s *Service) trackComplete(ctx context.Context, token string) {
	if s.tracker == nil || token == "" {
		return
	}

	if err := s.tracker.Complete(ctx, token); err != nil {
		s.log.WarnContext(ctx, "progress complete failed", "token", token, "error", err.Error())
	}
}

func (s *Service) trackFail(ctx context.Context, token string, cause error) {
	if s.tracker == nil || token == "" {
		return
	}

	failCtx := context.WithoutCancel(ctx)

	if err := s.tracker.Fail(failCtx, token, cause.Error()); err != nil {
		s.log.WarnContext(failCtx, "progress fail-mark failed", "token", token, "error", err.Error())
	}
}
