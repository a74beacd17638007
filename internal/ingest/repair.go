package ingest

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/finderskeepers/keeperd/internal/knowledge"
)

// RepairConfig tunes the index repair worker.
type RepairConfig struct {
	// Interval is the scan period.
	Interval time.Duration

	// BatchSize caps documents repaired per scan.
	BatchSize int

	// MaxAge is how long a document may sit in a degraded index state
	// before repair gives up and marks it failed.
	MaxAge time.Duration
}

func (c RepairConfig) withDefaults() RepairConfig {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 24 * time.Hour
	}
	return c
}

// StartRepair launches the background worker that converges documents in
// degraded index states (rv_only, graph_pending) back to ok by replaying
// the idempotent vector and graph upserts.
func (s *Service) StartRepair(ctx context.Context, cfg RepairConfig) {
	cfg = cfg.withDefaults()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()
		s.log.Info(ctx, "index repair worker started",
			zap.Duration("interval", cfg.Interval),
			zap.Int("batch_size", cfg.BatchSize))
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.queue.done():
				return
			case <-ticker.C:
				s.repairPass(ctx, cfg)
			}
		}
	}()
}

// repairPass scans for degraded documents and repairs up to BatchSize of
// them. Errors are logged and retried on the next pass.
func (s *Service) repairPass(ctx context.Context, cfg RepairConfig) {
	ctx, span := tracer.Start(ctx, "Ingest.RepairPass")
	defer span.End()

	states := []knowledge.IndexState{knowledge.IndexStateRVOnly, knowledge.IndexStateGraphPending}
	docs, err := s.rv.ListDocumentsByIndexState(ctx, states, cfg.BatchSize)
	if err != nil {
		s.log.Warn(ctx, "repair scan failed", zap.Error(err))
		return
	}
	if len(docs) == 0 {
		return
	}
	s.log.Debug(ctx, "repair pass", zap.Int("candidates", len(docs)))

	repaired, abandoned := 0, 0
	for i := range docs {
		if ctx.Err() != nil {
			return
		}
		switch s.repairDocument(ctx, docs[i].ID, cfg) {
		case repairDone:
			repaired++
		case repairAbandoned:
			abandoned++
		}
	}
	if repaired > 0 || abandoned > 0 {
		s.log.Info(ctx, "repair pass finished",
			zap.Int("repaired", repaired),
			zap.Int("abandoned", abandoned))
	}
}

type repairStatus int

const (
	repairRetry repairStatus = iota
	repairDone
	repairAbandoned
)

// repairDocument replays missing store writes for one document. It takes
// the same per-document lock as the ingest pipeline so repair never races
// a concurrent force reingest.
func (s *Service) repairDocument(ctx context.Context, documentID string, cfg RepairConfig) repairStatus {
	unlock := s.locks.lock(documentID)
	defer unlock()

	// Re-read under the lock: the state may have moved while we waited.
	doc, err := s.rv.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, knowledge.ErrNotFound) {
			return repairDone
		}
		s.log.Warn(ctx, "repair read failed", zap.Error(err), zap.String("document_id", documentID))
		return repairRetry
	}
	if doc.IndexState == knowledge.IndexStateOK || doc.IndexState == knowledge.IndexStateFailed {
		return repairDone
	}

	if time.Since(doc.UpdatedAt) > cfg.MaxAge {
		s.log.Error(ctx, "giving up on degraded document",
			zap.String("document_id", documentID),
			zap.String("index_state", string(doc.IndexState)),
			zap.Time("updated_at", doc.UpdatedAt))
		if err := s.rv.UpdateIndexState(ctx, documentID, knowledge.IndexStateFailed); err != nil {
			s.log.Warn(ctx, "mark failed failed", zap.Error(err), zap.String("document_id", documentID))
			return repairRetry
		}
		return repairAbandoned
	}

	if doc.IndexState == knowledge.IndexStateRVOnly {
		chunks, vectors, err := s.rv.ListChunksWithVectors(ctx, documentID)
		if err != nil {
			s.log.Warn(ctx, "repair chunk read failed", zap.Error(err), zap.String("document_id", documentID))
			return repairRetry
		}
		viErr := s.vi.EnsureCollection(ctx, doc.Project)
		if viErr == nil {
			viErr = s.vi.UpsertChunks(ctx, doc.Project, pointsFor(doc, chunks, vectors))
		}
		if viErr != nil {
			s.log.Warn(ctx, "repair vector write failed", zap.Error(viErr), zap.String("document_id", documentID))
			return repairRetry
		}
	}

	if err := s.gr.UpsertDocumentGraph(ctx, doc); err != nil {
		s.log.Warn(ctx, "repair graph write failed", zap.Error(err), zap.String("document_id", documentID))
		if doc.IndexState == knowledge.IndexStateRVOnly {
			// The vector index is caught up; record the progress so the
			// next pass only replays the graph.
			if uerr := s.rv.UpdateIndexState(ctx, documentID, knowledge.IndexStateGraphPending); uerr != nil {
				s.log.Warn(ctx, "mark graph_pending failed", zap.Error(uerr), zap.String("document_id", documentID))
			}
		}
		return repairRetry
	}

	if err := s.rv.UpdateIndexState(ctx, documentID, knowledge.IndexStateOK); err != nil {
		s.log.Warn(ctx, "mark index ok failed", zap.Error(err), zap.String("document_id", documentID))
		return repairRetry
	}
	s.log.Info(ctx, "repaired document index",
		zap.String("document_id", documentID),
		zap.String("project", doc.Project))
	return repairDone
}
