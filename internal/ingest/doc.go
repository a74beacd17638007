// Package ingest runs the ingestion pipeline: detect → extract → chunk →
// embed → persist, with per-job progress events along the way.
//
// Work arrives as Requests, is queued on a three-band priority queue, and is
// drained by a fixed worker pool. Each item becomes one job; batches are
// jobs of their own that aggregate member progress. The detecting stage also
// resolves the input (URL fetch); persisting writes the three stores in
// order — relational first (transactional), then the vector index, then the
// graph — and compensates partial failures by marking index_state and
// leaving the rest to the repair worker rather than failing the job.
//
// Cancellation is honored at stage boundaries: an in-flight stage always
// finishes, so a document is never half-persisted because of a cancel.
package ingest
