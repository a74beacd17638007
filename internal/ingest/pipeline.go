package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/finderskeepers/keeperd/internal/chunk"
	"github.com/finderskeepers/keeperd/internal/detect"
	"github.com/finderskeepers/keeperd/internal/extract"
	"github.com/finderskeepers/keeperd/internal/knowledge"
	"github.com/finderskeepers/keeperd/internal/logging"
	"github.com/finderskeepers/keeperd/internal/store/vector"
)

// pipelineResult is what a completed pipeline run reports back.
type pipelineResult struct {
	outcome    Outcome
	documentID string
	chunkCount int
}

func (s *Service) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		jobID, err := s.queue.pop(ctx)
		if err != nil {
			return
		}
		s.processJob(ctx, jobID)
	}
}

// processJob runs one item job end to end and finalizes it. Never
// returns an error: every failure mode lands in a terminal job state.
func (s *Service) processJob(ctx context.Context, jobID string) {
	entry, ok := s.reg.entry(jobID)
	if !ok {
		return
	}
	snap := entry.snapshot()
	if snap.State.Terminal() {
		// Cancelled while queued; already finalized.
		return
	}
	req := entry.req

	ctx = logging.WithJobID(ctx, jobID)
	ctx = logging.WithProject(ctx, req.Project)
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ItemTimeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "Ingest.ProcessJob", trace.WithAttributes(
		attribute.String("job.id", jobID),
		attribute.String("job.priority", string(req.Priority)),
	))
	defer span.End()

	started := time.Now()
	res, err := s.runPipeline(ctx, entry)
	elapsed := time.Since(started)

	if err != nil {
		switch {
		case errors.Is(err, errCancelled):
			s.log.Info(ctx, "ingest cancelled", zap.Duration("elapsed", elapsed))
			s.finalizeItem(ctx, entry, OutcomeCancelled, "", 0, "cancelled")
		default:
			if errors.Is(err, context.DeadlineExceeded) {
				err = fmt.Errorf("%w after %s: %v", knowledge.ErrTimeout, s.cfg.ItemTimeout, err)
			}
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
			s.log.Error(ctx, "ingest failed",
				zap.Error(err),
				zap.Duration("elapsed", elapsed))
			s.finalizeItem(ctx, entry, OutcomeFailed, "", 0, err.Error())
		}
		return
	}

	s.log.Info(ctx, "ingest finished",
		zap.String("outcome", string(res.outcome)),
		zap.String("document_id", res.documentID),
		zap.Int("chunks", res.chunkCount),
		zap.Duration("elapsed", elapsed))
	s.finalizeItem(ctx, entry, res.outcome, res.documentID, res.chunkCount, "")
}

// runPipeline walks the stages for one item. Cancellation is honored at
// stage boundaries only: whatever stage is in flight runs to completion.
func (s *Service) runPipeline(ctx context.Context, entry *jobEntry) (pipelineResult, error) {
	req := entry.req
	jobID := entry.id()
	var zero pipelineResult

	// Detecting: resolve URL inputs to bytes, then sniff the format.
	mark := time.Now()
	s.setState(ctx, jobID, StateDetecting, "detecting format")
	data := req.Data
	filename := req.Filename
	sourceURI := req.SourceURI
	if req.URL != "" {
		if s.fetcher == nil {
			return zero, knowledge.Validationf("url ingestion is not configured")
		}
		fetched, _, finalURL, err := s.fetcher.Fetch(ctx, req.URL)
		if err != nil {
			return zero, err
		}
		data = fetched
		sourceURI = finalURL
		filename = urlFilename(finalURL)
		if s.cfg.MaxFileBytes > 0 && int64(len(data)) > s.cfg.MaxFileBytes {
			return zero, knowledge.Extractionf("size_exceeded: fetched %d bytes, cap %d", len(data), s.cfg.MaxFileBytes)
		}
	}
	result := detect.Detect(data, filename)
	if result.Tag == knowledge.FormatBinaryUnknown {
		return zero, fmt.Errorf("%w: undetectable binary input", knowledge.ErrUnsupportedFormat)
	}
	s.log.Debug(ctx, "format detected",
		zap.String("format", string(result.Tag)),
		zap.String("mime", result.MIME),
		zap.String("tier", string(result.Tier)))
	s.metrics.stage(ctx, StateDetecting, time.Since(mark))
	if err := s.stageBoundary(ctx, entry); err != nil {
		return zero, err
	}

	// Extracting: format-specific conversion to blocks.
	mark = time.Now()
	s.setState(ctx, jobID, StateExtracting, "extracting "+string(result.Tag))
	raw, err := s.extractor.Extract(ctx, &extract.Item{
		Data:      data,
		Filename:  filename,
		SourceURI: sourceURI,
		Format:    result.Tag,
		Depth:     req.depth,
	})
	if err != nil {
		return zero, err
	}
	blocks := normalizeBlocks(raw.Blocks)
	contentHash := HashString(chunk.Render(blocks))
	title := pickTitle(req.Title, raw.Title, filename, sourceURI)
	s.metrics.stage(ctx, StateExtracting, time.Since(mark))
	if err := s.stageBoundary(ctx, entry); err != nil {
		return zero, err
	}

	// Dedup on normalized content. Force reingest replaces the existing
	// document in all three stores instead of skipping.
	existing, err := s.rv.FindByContentHash(ctx, req.Project, contentHash)
	switch {
	case err == nil && !req.ForceReingest:
		s.log.Debug(ctx, "content dedup hit", zap.String("document_id", existing.ID))
		return pipelineResult{outcome: OutcomeDeduplicated, documentID: existing.ID}, nil
	case err == nil && req.ForceReingest:
		if err := s.removeEverywhere(ctx, existing); err != nil {
			return zero, fmt.Errorf("replace existing document: %w", err)
		}
	case !errors.Is(err, knowledge.ErrNotFound):
		return zero, fmt.Errorf("dedup lookup: %w", err)
	}

	// Chunking.
	mark = time.Now()
	s.setState(ctx, jobID, StateChunking, "chunking")
	documentID := knowledge.NewDocumentID()
	chunks, err := s.chunker.Split(documentID, blocks)
	if err != nil {
		return zero, err
	}
	s.metrics.stage(ctx, StateChunking, time.Since(mark))
	if err := s.stageBoundary(ctx, entry); err != nil {
		return zero, err
	}

	// Embedding. Blank chunks carry zero vectors and are excluded from
	// similarity search downstream.
	mark = time.Now()
	s.setState(ctx, jobID, StateEmbedding, fmt.Sprintf("embedding %d chunks", len(chunks)))
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := s.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return zero, err
	}
	if len(vectors) != len(chunks) {
		return zero, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}
	s.metrics.stage(ctx, StateEmbedding, time.Since(mark))
	if err := s.stageBoundary(ctx, entry); err != nil {
		return zero, err
	}

	// Persisting: relational first (source of truth), then vector index,
	// then graph. Secondary-store failures leave a repairable index state
	// rather than failing the job.
	mark = time.Now()
	s.setState(ctx, jobID, StatePersisting, "persisting")
	now := time.Now().UTC()
	doc := &knowledge.Document{
		ID:               documentID,
		Project:          req.Project,
		Title:            title,
		DocType:          req.DocType,
		Format:           result.Tag,
		SourceURI:        sourceURI,
		ContentHash:      contentHash,
		RawHash:          HashBytes(data),
		SizeBytes:        int64(len(data)),
		Tags:             req.Tags,
		Metadata:         raw.Metadata,
		IndexState:       knowledge.IndexStateRVOnly,
		ParentDocumentID: req.ParentDocumentID,
		SessionID:        req.SessionID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	unlock := s.locks.lock(documentID)
	outcome, err := s.persist(ctx, doc, chunks, vectors)
	unlock()
	if err != nil {
		if errors.Is(err, knowledge.ErrConflict) {
			// A concurrent ingest of identical content won the insert
			// race; treat ours as the duplicate.
			if winner, lookupErr := s.rv.FindByContentHash(ctx, req.Project, contentHash); lookupErr == nil {
				return pipelineResult{outcome: OutcomeDeduplicated, documentID: winner.ID}, nil
			}
		}
		return zero, err
	}
	s.metrics.stage(ctx, StatePersisting, time.Since(mark))

	// Archive children become their own jobs linked to this document.
	if len(raw.Children) > 0 {
		s.enqueueChildren(ctx, entry, raw.Children, documentID)
	}

	return pipelineResult{outcome: outcome, documentID: documentID, chunkCount: len(chunks)}, nil
}

// persist writes the document through the three stores in order. The
// relational insert is all-or-nothing; vector and graph failures degrade
// the index state for the repair worker instead of failing the write.
func (s *Service) persist(ctx context.Context, doc *knowledge.Document, chunks []knowledge.Chunk, vectors [][]float32) (Outcome, error) {
	if err := s.rv.InsertDocumentWithChunks(ctx, doc, chunks, vectors); err != nil {
		return OutcomeFailed, err
	}

	viErr := s.vi.EnsureCollection(ctx, doc.Project)
	if viErr == nil {
		viErr = s.vi.UpsertChunks(ctx, doc.Project, pointsFor(doc, chunks, vectors))
	}
	if viErr != nil {
		// index_state stays rv_only; the repair worker replays the
		// vector and graph writes later.
		s.log.Warn(ctx, "vector index write failed, repair pending",
			zap.Error(viErr),
			zap.String("document_id", doc.ID))
		return OutcomeRepairPending, nil
	}

	if grErr := s.gr.UpsertDocumentGraph(ctx, doc); grErr != nil {
		s.log.Warn(ctx, "graph write failed, repair pending",
			zap.Error(grErr),
			zap.String("document_id", doc.ID))
		if err := s.rv.UpdateIndexState(ctx, doc.ID, knowledge.IndexStateGraphPending); err != nil {
			s.log.Error(ctx, "mark graph_pending failed",
				zap.Error(err),
				zap.String("document_id", doc.ID))
		}
		return OutcomeRepairPending, nil
	}

	if err := s.rv.UpdateIndexState(ctx, doc.ID, knowledge.IndexStateOK); err != nil {
		// The document is fully indexed but still labeled rv_only; the
		// repair worker re-runs the (idempotent) upserts and fixes the
		// label.
		s.log.Warn(ctx, "mark index ok failed, repair pending",
			zap.Error(err),
			zap.String("document_id", doc.ID))
		return OutcomeRepairPending, nil
	}
	return OutcomeSucceeded, nil
}

// removeEverywhere deletes a document from all three stores for force
// reingestion. The relational delete cascades to chunks and is the one
// that must succeed.
func (s *Service) removeEverywhere(ctx context.Context, doc *knowledge.Document) error {
	if err := s.vi.DeleteByDocument(ctx, doc.Project, doc.ID); err != nil {
		s.log.Warn(ctx, "delete from vector index failed",
			zap.Error(err),
			zap.String("document_id", doc.ID))
	}
	if err := s.gr.DeleteDocument(ctx, doc.Project, doc.ID); err != nil {
		s.log.Warn(ctx, "delete from graph failed",
			zap.Error(err),
			zap.String("document_id", doc.ID))
	}
	return s.rv.DeleteDocument(ctx, doc.ID)
}

// enqueueChildren submits archive entries as child jobs. Children inherit
// the parent's project, tags, and priority, carry parent_document_id, and
// join the parent's batch so batch progress accounts for them.
func (s *Service) enqueueChildren(ctx context.Context, parent *jobEntry, children []extract.ChildItem, documentID string) {
	req := parent.req
	if req.depth+1 > s.cfg.MaxArchiveDepth {
		s.log.Warn(ctx, "archive depth cap reached, skipping nested entries",
			zap.Int("depth", req.depth+1),
			zap.Int("entries", len(children)))
		return
	}
	parentSnap := parent.snapshot()

	childIDs := make([]string, 0, len(children))
	for _, child := range children {
		childReq := &Request{
			Project:          req.Project,
			Data:             child.Data,
			Filename:         child.Name,
			SourceURI:        req.SourceURI + "#" + child.Name,
			DocType:          knowledge.DocTypeFile,
			Tags:             req.Tags,
			Priority:         req.Priority,
			SessionID:        req.SessionID,
			ParentDocumentID: documentID,
			depth:            req.depth + 1,
		}
		if err := childReq.validate(s.cfg.MaxFileBytes); err != nil {
			s.log.Warn(ctx, "skipping archive entry",
				zap.Error(err),
				zap.String("entry", child.Name))
			continue
		}
		childReq.normalizeDefaults()

		entry, _ := s.reg.createItem(childReq, parentSnap.BatchID, false)
		child := entry.snapshot()
		childIDs = append(childIDs, child.ID)
		s.metrics.submitted(ctx, childReq.Priority)
		s.publish(ctx, child, "queued: "+childReq.describe())
		if err := s.queue.push(childReq.Priority.band(), child.ID); err != nil {
			s.failBeforeRun(ctx, entry, err)
		}
	}
	if len(childIDs) == 0 {
		return
	}

	s.reg.update(parentSnap.ID, func(j *Job) {
		j.ChildJobIDs = append(j.ChildJobIDs, childIDs...)
	})
	if parentSnap.BatchID != "" {
		if batch, ok := s.reg.update(parentSnap.BatchID, func(j *Job) {
			j.Total += len(childIDs)
			j.MemberIDs = append(j.MemberIDs, childIDs...)
		}); ok {
			s.publish(ctx, batch, fmt.Sprintf("expanded by %d archive entries", len(childIDs)))
		}
	}
}

// stageBoundary is the cancellation check between stages.
func (s *Service) stageBoundary(ctx context.Context, entry *jobEntry) error {
	if entry.cancelled.Load() {
		return errCancelled
	}
	return ctx.Err()
}

// pointsFor converts persisted chunks into vector index points.
func pointsFor(doc *knowledge.Document, chunks []knowledge.Chunk, vectors [][]float32) []vector.Point {
	points := make([]vector.Point, len(chunks))
	for i, c := range chunks {
		points[i] = vector.Point{
			ChunkID:    c.ID,
			DocumentID: doc.ID,
			Ordinal:    c.Ordinal,
			Title:      doc.Title,
			DocType:    doc.DocType,
			Tags:       doc.Tags,
			Vector:     vectors[i],
		}
	}
	return points
}

// pickTitle prefers the caller's title, then the extractor's, then the
// filename, then the source URI.
func pickTitle(requested, extracted, filename, sourceURI string) string {
	switch {
	case requested != "":
		return requested
	case extracted != "":
		return extracted
	case filename != "":
		return path.Base(filename)
	case sourceURI != "":
		return sourceURI
	default:
		return "Untitled"
	}
}

// urlFilename derives a filename hint from a URL path for format
// detection; empty when the path has no useful base.
func urlFilename(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "" {
		return ""
	}
	return base
}
