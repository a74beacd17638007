package ingest

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/finderskeepers/keeperd/internal/knowledge"
)

type flightKey struct {
	project string
	rawHash string
}

// jobEntry is the registry's mutable record behind a Job snapshot.
type jobEntry struct {
	mu   sync.Mutex
	job  Job
	req  *Request
	last *ProgressEvent

	cancelled atomic.Bool

	// counts aggregates member outcomes; only batch entries use it.
	counts struct {
		succeeded atomic.Int32
		failed    atomic.Int32
		cancelled atomic.Int32
	}
}

// id returns the job id, immutable after creation.
func (e *jobEntry) id() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.ID
}

func (e *jobEntry) snapshot() Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.copyLocked()
}

func (e *jobEntry) copyLocked() Job {
	job := e.job
	job.MemberIDs = append([]string(nil), e.job.MemberIDs...)
	job.ChildJobIDs = append([]string(nil), e.job.ChildJobIDs...)
	return job
}

// registry tracks all jobs in memory and enforces single-flight per
// (project, raw input hash).
type registry struct {
	mu      sync.RWMutex
	jobs    map[string]*jobEntry
	flights map[flightKey]string
}

func newRegistry() *registry {
	return &registry{
		jobs:    make(map[string]*jobEntry),
		flights: make(map[flightKey]string),
	}
}

// createItem registers a queued item job. When the same raw input is
// already in flight for the project (and the caller allows coalescing),
// the in-flight job is returned instead with created == false.
func (r *registry) createItem(req *Request, batchID string, coalesce bool) (entry *jobEntry, created bool) {
	key := flightKey{project: req.Project, rawHash: req.rawHash()}
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	if coalesce {
		if id, ok := r.flights[key]; ok {
			if e, ok := r.jobs[id]; ok {
				return e, false
			}
		}
	}

	e := &jobEntry{
		req: req,
		job: Job{
			ID:        knowledge.NewJobID(),
			Kind:      JobItem,
			State:     StateQueued,
			Priority:  req.Priority,
			Project:   req.Project,
			BatchID:   batchID,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	r.jobs[e.job.ID] = e
	if coalesce {
		r.flights[key] = e.job.ID
	}
	return e, true
}

// releaseFlight drops the single-flight claim once a job is terminal, so
// resubmitting the same bytes starts a fresh job.
func (r *registry) releaseFlight(req *Request, jobID string) {
	key := flightKey{project: req.Project, rawHash: req.rawHash()}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.flights[key] == jobID {
		delete(r.flights, key)
	}
}

// createBatch registers a batch job aggregating the given member count.
func (r *registry) createBatch(project string, total int) *jobEntry {
	now := time.Now().UTC()
	e := &jobEntry{
		job: Job{
			ID:        knowledge.NewJobID(),
			Kind:      JobBatch,
			State:     StateQueued,
			Project:   project,
			Total:     total,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	r.mu.Lock()
	r.jobs[e.job.ID] = e
	r.mu.Unlock()
	return e
}

func (r *registry) entry(jobID string) (*jobEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.jobs[jobID]
	return e, ok
}

// get returns a snapshot of the job.
func (r *registry) get(jobID string) (Job, bool) {
	e, ok := r.entry(jobID)
	if !ok {
		return Job{}, false
	}
	return e.snapshot(), true
}

// update mutates the job under its lock and returns the new snapshot.
func (r *registry) update(jobID string, fn func(*Job)) (Job, bool) {
	e, ok := r.entry(jobID)
	if !ok {
		return Job{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.job)
	e.job.UpdatedAt = time.Now().UTC()
	return e.copyLocked(), true
}

func (r *registry) setLastEvent(jobID string, ev ProgressEvent) {
	if e, ok := r.entry(jobID); ok {
		e.mu.Lock()
		e.last = &ev
		e.mu.Unlock()
	}
}

// lastEvent returns the most recent event for SSE replay.
func (r *registry) lastEvent(jobID string) (ProgressEvent, bool) {
	e, ok := r.entry(jobID)
	if !ok {
		return ProgressEvent{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return ProgressEvent{}, false
	}
	return *e.last, true
}

// prune removes terminal jobs idle for longer than maxAge. Returns how many
// were dropped.
func (r *registry) prune(maxAge time.Duration) int {
	cutoff := time.Now().UTC().Add(-maxAge)

	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := 0
	for id, e := range r.jobs {
		e.mu.Lock()
		stale := e.job.State.Terminal() && e.job.UpdatedAt.Before(cutoff)
		e.mu.Unlock()
		if stale {
			delete(r.jobs, id)
			dropped++
		}
	}
	return dropped
}
