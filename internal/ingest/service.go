package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/finderskeepers/keeperd/internal/chunk"
	"github.com/finderskeepers/keeperd/internal/events"
	"github.com/finderskeepers/keeperd/internal/extract"
	"github.com/finderskeepers/keeperd/internal/knowledge"
	"github.com/finderskeepers/keeperd/internal/logging"
	"github.com/finderskeepers/keeperd/internal/store/vector"
)

var tracer = otel.Tracer("keeperd.ingest")

// RelationalStore is the slice of the relational store the pipeline needs.
type RelationalStore interface {
	InsertDocumentWithChunks(ctx context.Context, doc *knowledge.Document, chunks []knowledge.Chunk, vectors [][]float32) error
	FindByContentHash(ctx context.Context, project, contentHash string) (*knowledge.Document, error)
	GetDocument(ctx context.Context, documentID string) (*knowledge.Document, error)
	UpdateIndexState(ctx context.Context, documentID string, state knowledge.IndexState) error
	ListDocumentsByIndexState(ctx context.Context, states []knowledge.IndexState, limit int) ([]knowledge.Document, error)
	ListChunksWithVectors(ctx context.Context, documentID string) ([]knowledge.Chunk, [][]float32, error)
	DeleteDocument(ctx context.Context, documentID string) error
}

// VectorStore is the slice of the vector index the pipeline needs.
type VectorStore interface {
	EnsureCollection(ctx context.Context, project string) error
	UpsertChunks(ctx context.Context, project string, points []vector.Point) error
	DeleteByDocument(ctx context.Context, project, documentID string) error
}

// GraphStore is the slice of the graph store the pipeline needs.
type GraphStore interface {
	UpsertDocumentGraph(ctx context.Context, doc *knowledge.Document) error
	DeleteDocument(ctx context.Context, project, documentID string) error
}

// Embedder turns chunk texts into vectors.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Extractor converts a detected input into blocks. Implemented by
// *extract.Registry.
type Extractor interface {
	Extract(ctx context.Context, item *extract.Item) (*extract.RawDocument, error)
}

// URLFetcher resolves a URL into bytes. Implemented by *source.Fetcher.
type URLFetcher interface {
	Fetch(ctx context.Context, url string) (data []byte, contentType string, finalURL string, err error)
}

// Config tunes the worker pool and per-item limits.
type Config struct {
	// Workers is the number of concurrent pipeline workers.
	Workers int

	// ItemTimeout bounds a single item end to end.
	ItemTimeout time.Duration

	// MaxArchiveDepth caps nested archive expansion. Entries below the
	// cap are recorded in the parent's metadata and skipped.
	MaxArchiveDepth int

	// MaxFileBytes caps a single input; zero means no cap.
	MaxFileBytes int64

	// RetainFinished is how long terminal jobs stay queryable.
	RetainFinished time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.ItemTimeout <= 0 {
		c.ItemTimeout = 10 * time.Minute
	}
	if c.MaxArchiveDepth <= 0 {
		c.MaxArchiveDepth = 3
	}
	if c.RetainFinished <= 0 {
		c.RetainFinished = 24 * time.Hour
	}
	return c
}

// Options carries the dependencies for New.
type Options struct {
	Config     Config
	Logger     *logging.Logger
	Extractor  Extractor
	Chunker    *chunk.Chunker
	Embedder   Embedder
	Relational RelationalStore
	Vector     VectorStore
	Graph      GraphStore
	Bus        events.Bus

	// Fetcher is required only when URL ingestion is enabled.
	Fetcher URLFetcher
}

// Service runs the ingestion pipeline: a banded priority queue feeding a
// worker pool, with job state tracked in-memory and progress published on
// the event bus.
type Service struct {
	cfg       Config
	log       *logging.Logger
	extractor Extractor
	chunker   *chunk.Chunker
	embedder  Embedder
	rv        RelationalStore
	vi        VectorStore
	gr        GraphStore
	bus       events.Bus
	fetcher   URLFetcher

	reg     *registry
	queue   *queue
	locks   *lockTable
	metrics *pipelineMetrics

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New validates the dependency set and builds a stopped Service; call
// Start to spin up the workers.
func New(opts Options) (*Service, error) {
	if opts.Extractor == nil {
		return nil, fmt.Errorf("ingest: extractor is required")
	}
	if opts.Chunker == nil {
		return nil, fmt.Errorf("ingest: chunker is required")
	}
	if opts.Embedder == nil {
		return nil, fmt.Errorf("ingest: embedder is required")
	}
	if opts.Relational == nil {
		return nil, fmt.Errorf("ingest: relational store is required")
	}
	if opts.Vector == nil {
		return nil, fmt.Errorf("ingest: vector store is required")
	}
	if opts.Graph == nil {
		return nil, fmt.Errorf("ingest: graph store is required")
	}
	if opts.Bus == nil {
		return nil, fmt.Errorf("ingest: event bus is required")
	}
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	q := newQueue()
	return &Service{
		cfg:       opts.Config.withDefaults(),
		log:       log.Named("ingest"),
		extractor: opts.Extractor,
		chunker:   opts.Chunker,
		embedder:  opts.Embedder,
		rv:        opts.Relational,
		vi:        opts.Vector,
		gr:        opts.Graph,
		bus:       opts.Bus,
		fetcher:   opts.Fetcher,
		reg:       newRegistry(),
		queue:     q,
		locks:     newLockTable(),
		metrics:   newPipelineMetrics(log, q),
	}, nil
}

// Start launches the worker pool and the retention janitor. Workers drain
// until Stop is called or ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
	s.wg.Add(1)
	go s.janitor(ctx)
	s.log.Info(ctx, "ingest workers started",
		zap.Int("workers", s.cfg.Workers),
		zap.Duration("item_timeout", s.cfg.ItemTimeout))
}

// Stop closes the queue and waits for in-flight items to finish their
// current stage.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		s.queue.close()
	})
	s.wg.Wait()
	s.log.Info(context.Background(), "ingest workers stopped")
}

// IngestItem validates and enqueues a single input. When an identical raw
// input for the same project is already in flight, the existing job id is
// returned instead of starting duplicate work.
func (s *Service) IngestItem(ctx context.Context, req *Request) (*Job, error) {
	if err := req.validate(s.cfg.MaxFileBytes); err != nil {
		return nil, err
	}
	req.normalizeDefaults()

	entry, created := s.reg.createItem(req, "", true)
	job := entry.snapshot()
	if !created {
		s.log.Debug(ctx, "coalesced duplicate in-flight input",
			zap.String("job_id", job.ID),
			zap.String("project", req.Project))
		return &job, nil
	}

	s.metrics.submitted(ctx, req.Priority)
	s.publish(ctx, job, "queued: "+req.describe())
	if err := s.queue.push(req.Priority.band(), job.ID); err != nil {
		s.failBeforeRun(ctx, entry, err)
		return nil, err
	}
	return &job, nil
}

// IngestBatch validates every request up front; any invalid member rejects
// the whole batch. Members are enqueued as individual item jobs under one
// aggregating batch job.
func (s *Service) IngestBatch(ctx context.Context, reqs []*Request) (*Job, error) {
	if len(reqs) == 0 {
		return nil, knowledge.Validationf("batch has no items")
	}
	for i, req := range reqs {
		if err := req.validate(s.cfg.MaxFileBytes); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
	}
	for _, req := range reqs {
		req.normalizeDefaults()
	}

	batch := s.reg.createBatch(reqs[0].Project, len(reqs))
	memberIDs := make([]string, 0, len(reqs))
	for _, req := range reqs {
		entry, _ := s.reg.createItem(req, batch.id(), false)
		member := entry.snapshot()
		memberIDs = append(memberIDs, member.ID)
	}
	job, _ := s.reg.update(batch.id(), func(j *Job) {
		j.MemberIDs = append(j.MemberIDs, memberIDs...)
	})
	s.publish(ctx, job, fmt.Sprintf("batch queued: %d items", len(reqs)))

	for i, req := range reqs {
		s.metrics.submitted(ctx, req.Priority)
		entry, _ := s.reg.entry(memberIDs[i])
		member := entry.snapshot()
		s.publish(ctx, member, "queued: "+req.describe())
		if err := s.queue.push(req.Priority.band(), member.ID); err != nil {
			s.failBeforeRun(ctx, entry, err)
		}
	}
	return &job, nil
}

// GetJob returns a point-in-time snapshot of a job.
func (s *Service) GetJob(ctx context.Context, jobID string) (*Job, error) {
	entry, ok := s.reg.entry(jobID)
	if !ok {
		return nil, knowledge.NotFoundf("job %s", jobID)
	}
	job := entry.snapshot()
	return &job, nil
}

// CancelJob requests cancellation. Queued jobs cancel immediately; running
// jobs finish their in-flight stage and stop at the next boundary;
// terminal jobs are untouched. Cancelling a batch cancels every
// non-terminal member.
func (s *Service) CancelJob(ctx context.Context, jobID string) (*Job, error) {
	entry, ok := s.reg.entry(jobID)
	if !ok {
		return nil, knowledge.NotFoundf("job %s", jobID)
	}
	snap := entry.snapshot()
	if snap.Kind == JobBatch {
		for _, memberID := range snap.MemberIDs {
			if member, ok := s.reg.entry(memberID); ok {
				s.cancelItem(ctx, member)
			}
		}
		job := entry.snapshot()
		return &job, nil
	}
	s.cancelItem(ctx, entry)
	job := entry.snapshot()
	return &job, nil
}

func (s *Service) cancelItem(ctx context.Context, entry *jobEntry) {
	snap := entry.snapshot()
	if snap.State.Terminal() {
		return
	}
	entry.cancelled.Store(true)
	if snap.State == StateQueued {
		// The worker that eventually pops this id sees the terminal
		// state and skips it.
		s.finalizeItem(ctx, entry, OutcomeCancelled, "", 0, "cancelled before start")
	}
}

// Subscribe returns a channel of raw progress events for one job. The
// returned cancel func must be called to release the subscription.
func (s *Service) Subscribe(jobID string) (<-chan events.Message, func(), error) {
	return s.bus.Subscribe(events.JobWildcard(jobID))
}

// LastEvent returns the most recent progress event for replay to
// late-attaching subscribers.
func (s *Service) LastEvent(jobID string) (ProgressEvent, bool) {
	return s.reg.lastEvent(jobID)
}

// QueueDepth reports per-band queue depth, high to low.
func (s *Service) QueueDepth() [3]int {
	return s.queue.depth()
}

// failBeforeRun finalizes a job that never reached a worker.
func (s *Service) failBeforeRun(ctx context.Context, entry *jobEntry, err error) {
	s.finalizeItem(ctx, entry, OutcomeFailed, "", 0, err.Error())
}

// publish emits a progress event on the bus and records it for replay.
// Bus failures are logged, never propagated: progress reporting must not
// fail the pipeline.
func (s *Service) publish(ctx context.Context, job Job, message string) {
	ev := ProgressEvent{
		JobID:      job.ID,
		State:      job.State,
		Percent:    job.State.percent(),
		Message:    message,
		Outcome:    job.Outcome,
		DocumentID: job.DocumentID,
		Error:      job.Error,
		Processed:  job.Processed,
		Total:      job.Total,
		Terminal:   job.State.Terminal(),
		Timestamp:  time.Now().UTC(),
	}
	s.reg.setLastEvent(job.ID, ev)
	data, err := json.Marshal(ev)
	if err != nil {
		s.log.Warn(ctx, "marshal progress event", zap.Error(err), zap.String("job_id", job.ID))
		return
	}
	if err := s.bus.Publish(ctx, events.JobSubject(job.ID, string(job.State)), data); err != nil {
		s.log.Warn(ctx, "publish progress event", zap.Error(err), zap.String("job_id", job.ID))
	}
}

// setState advances a non-terminal job to the given pipeline stage and
// announces it.
func (s *Service) setState(ctx context.Context, jobID string, state State, message string) {
	job, ok := s.reg.update(jobID, func(j *Job) {
		if j.State.Terminal() {
			return
		}
		j.State = state
	})
	if !ok || job.State != state {
		return
	}
	s.publish(ctx, job, message)
}

// finalizeItem moves an item job to its terminal state exactly once,
// releases its single-flight slot, and folds the result into the owning
// batch if any.
func (s *Service) finalizeItem(ctx context.Context, entry *jobEntry, outcome Outcome, documentID string, chunkCount int, errMsg string) {
	state := StateDone
	switch outcome {
	case OutcomeFailed:
		state = StateFailed
	case OutcomeCancelled:
		state = StateCancelled
	case OutcomeRepairPending:
		state = StateRepairPending
	}

	applied := false
	job, ok := s.reg.update(entry.id(), func(j *Job) {
		if j.State.Terminal() {
			return
		}
		j.State = state
		j.Outcome = outcome
		j.DocumentID = documentID
		j.ChunkCount = chunkCount
		if outcome == OutcomeFailed || outcome == OutcomeCancelled {
			j.Error = errMsg
		}
		applied = true
	})
	if !ok || !applied {
		return
	}

	s.metrics.completed(ctx, outcome)
	message := errMsg
	if message == "" {
		message = string(outcome)
	}
	s.publish(ctx, job, message)
	if entry.req != nil {
		s.reg.releaseFlight(entry.req, job.ID)
	}
	if job.BatchID != "" {
		s.onMemberDone(ctx, job.BatchID, job)
	}
}

// onMemberDone advances the batch aggregate when a member reaches a
// terminal state, and finalizes the batch once every member has.
func (s *Service) onMemberDone(ctx context.Context, batchID string, member Job) {
	entry, ok := s.reg.entry(batchID)
	if !ok {
		return
	}
	switch member.Outcome {
	case OutcomeFailed:
		entry.counts.failed.Add(1)
	case OutcomeCancelled:
		entry.counts.cancelled.Add(1)
	default:
		entry.counts.succeeded.Add(1)
	}

	complete := false
	advanced := false
	job, ok := s.reg.update(batchID, func(j *Job) {
		if j.State.Terminal() {
			return
		}
		advanced = true
		j.Processed++
		if member.Error != "" {
			j.Error = member.Error
		}
		if j.State == StateQueued {
			j.State = StateRunning
		}
		if j.Processed >= j.Total {
			j.State, j.Outcome = batchResult(
				int(entry.counts.succeeded.Load()),
				int(entry.counts.failed.Load()),
				int(entry.counts.cancelled.Load()),
			)
			complete = true
		}
	})
	if !ok || !advanced {
		return
	}
	message := fmt.Sprintf("processed %d/%d", job.Processed, job.Total)
	if complete {
		message = fmt.Sprintf("batch %s: %d/%d items", job.Outcome, int(entry.counts.succeeded.Load()), job.Total)
		s.metrics.completed(ctx, job.Outcome)
	}
	s.publish(ctx, job, message)
}

// batchResult derives the batch terminal state from member outcomes.
// Deduplicated and repair-pending members count as successes here; the
// batch is about whether the content made it in.
func batchResult(succeeded, failed, cancelled int) (State, Outcome) {
	total := succeeded + failed + cancelled
	switch {
	case succeeded == total:
		return StateDone, OutcomeSucceeded
	case failed == total:
		return StateFailed, OutcomeFailed
	case cancelled == total:
		return StateCancelled, OutcomeCancelled
	default:
		return StateDone, OutcomePartial
	}
}

// janitor prunes terminal jobs past the retention window.
func (s *Service) janitor(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.queue.done():
			return
		case <-ticker.C:
			if n := s.reg.prune(s.cfg.RetainFinished); n > 0 {
				s.log.Debug(ctx, "pruned finished jobs", zap.Int("count", n))
			}
		}
	}
}

// errCancelled aborts the pipeline between stages after CancelJob.
var errCancelled = errors.New("job cancelled")
