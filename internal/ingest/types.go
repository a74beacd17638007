package ingest

import (
	"fmt"
	"time"

	"github.com/finderskeepers/keeperd/internal/knowledge"
)

// Priority selects the queue band. Within a band jobs run in FIFO order; a
// higher band always drains first.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// ParsePriority maps the wire value onto a band; empty means normal.
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case "":
		return PriorityNormal, nil
	case PriorityHigh, PriorityNormal, PriorityLow:
		return Priority(s), nil
	default:
		return "", knowledge.Validationf("unknown priority %q", s)
	}
}

func (p Priority) band() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// Request is one item to ingest. Either Data or URL must be set; URL inputs
// are fetched by the worker during the detecting stage.
type Request struct {
	Project string

	// Data is the raw input bytes for file and raw-text ingestion.
	Data []byte

	// URL, when set, is fetched first; Data must be empty then.
	URL string

	// Filename steers format detection and titles; optional for URLs.
	Filename string

	// SourceURI records provenance (file path, final URL, archive entry).
	SourceURI string

	// Title overrides the extracted title when set.
	Title string

	// DocType defaults to file, or url when URL is set.
	DocType knowledge.DocType

	Tags     []string
	Priority Priority

	// ForceReingest bypasses content dedup and replaces the stored copy.
	ForceReingest bool

	// SessionID links session-export documents back to their session.
	SessionID string

	// ParentDocumentID links archive children to the enclosing document.
	ParentDocumentID string

	// depth is the archive nesting depth, managed by the worker.
	depth int
}

// State is a job's lifecycle position. The pipeline only ever moves
// forward; Terminal states never change again.
type State string

const (
	StateQueued     State = "queued"
	StateDetecting  State = "detecting"
	StateExtracting State = "extracting"
	StateChunking   State = "chunking"
	StateEmbedding  State = "embedding"
	StatePersisting State = "persisting"

	// StateRunning is the aggregate state of a batch with members still
	// in flight.
	StateRunning State = "running"

	StateDone          State = "done"
	StateFailed        State = "failed"
	StateCancelled     State = "cancelled"
	StateRepairPending State = "repair_pending"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	switch s {
	case StateDone, StateFailed, StateCancelled, StateRepairPending:
		return true
	default:
		return false
	}
}

// percent maps states onto coarse progress for UIs.
func (s State) percent() float64 {
	switch s {
	case StateQueued:
		return 0
	case StateDetecting:
		return 10
	case StateExtracting:
		return 25
	case StateChunking:
		return 45
	case StateEmbedding:
		return 65
	case StatePersisting, StateRunning:
		return 85
	default:
		return 100
	}
}

// Outcome classifies how a finished job ended.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"

	// OutcomeDeduplicated means identical content was already stored; the
	// existing document id is returned.
	OutcomeDeduplicated Outcome = "deduplicated"

	// OutcomeRepairPending means the document is stored and keyword-
	// searchable, but a secondary index write is still owed to the repair
	// worker.
	OutcomeRepairPending Outcome = "succeeded_with_repair_pending"

	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"

	// OutcomePartial is a batch whose members ended in a mix of outcomes.
	OutcomePartial Outcome = "partial"
)

// JobKind distinguishes single items from batches.
type JobKind string

const (
	JobItem  JobKind = "item"
	JobBatch JobKind = "batch"
)

// Job is a point-in-time snapshot of one job's public state.
type Job struct {
	ID       string   `json:"job_id"`
	Kind     JobKind  `json:"kind"`
	State    State    `json:"state"`
	Priority Priority `json:"priority,omitempty"`
	Project  string   `json:"project"`

	Outcome Outcome `json:"outcome,omitempty"`
	Error   string  `json:"error,omitempty"`

	// DocumentID is set once persisting succeeds (or dedup resolves).
	DocumentID string `json:"document_id,omitempty"`
	ChunkCount int    `json:"chunk_count,omitempty"`

	// BatchID links a member item to its batch.
	BatchID string `json:"batch_id,omitempty"`

	// Batch aggregation. Total grows when archive children join.
	MemberIDs []string `json:"member_ids,omitempty"`
	Processed int      `json:"processed,omitempty"`
	Total     int      `json:"total,omitempty"`

	// ChildJobIDs are archive children spawned by this item.
	ChildJobIDs []string `json:"child_job_ids,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProgressEvent is the wire shape published on the event bus for every
// state transition, and replayed once on SSE attach.
type ProgressEvent struct {
	JobID       string    `json:"job_id"`
	State       State     `json:"state"`
	Percent     float64   `json:"percent"`
	Message     string    `json:"message,omitempty"`
	Outcome     Outcome   `json:"outcome,omitempty"`
	DocumentID  string    `json:"document_id,omitempty"`
	Error       string    `json:"error,omitempty"`
	Processed   int       `json:"processed,omitempty"`
	Total       int       `json:"total,omitempty"`
	CurrentItem string    `json:"current_item_id,omitempty"`
	Terminal    bool      `json:"terminal"`
	Timestamp   time.Time `json:"ts"`
}

// validate checks a request at submission time.
func (r *Request) validate(maxBytes int64) error {
	if r.Project == "" {
		return knowledge.Validationf("project is required")
	}
	if len(r.Project) > 64 {
		return knowledge.Validationf("project name exceeds 64 characters")
	}
	if len(r.Data) == 0 && r.URL == "" {
		return knowledge.Validationf("either data or url is required")
	}
	if len(r.Data) > 0 && r.URL != "" {
		return knowledge.Validationf("data and url are mutually exclusive")
	}
	if maxBytes > 0 && int64(len(r.Data)) > maxBytes {
		return knowledge.Validationf("input exceeds max_file_bytes (%d > %d)", len(r.Data), maxBytes)
	}
	if _, err := ParsePriority(string(r.Priority)); err != nil {
		return err
	}
	return nil
}

// normalizeDefaults fills derivable fields in place.
func (r *Request) normalizeDefaults() {
	if r.Priority == "" {
		r.Priority = PriorityNormal
	}
	if r.DocType == "" {
		if r.URL != "" {
			r.DocType = knowledge.DocTypeURL
		} else {
			r.DocType = knowledge.DocTypeFile
		}
	}
	if r.SourceURI == "" {
		if r.URL != "" {
			r.SourceURI = r.URL
		} else if r.Filename != "" {
			r.SourceURI = "file://" + r.Filename
		}
	}
}

// rawHash keys single-flight coalescing: identical bytes (or the same URL)
// submitted while a job is in flight reuse that job.
func (r *Request) rawHash() string {
	if r.URL != "" {
		return HashString("url:" + r.URL)
	}
	return HashBytes(r.Data)
}

func (r *Request) describe() string {
	if r.URL != "" {
		return r.URL
	}
	if r.Filename != "" {
		return r.Filename
	}
	return fmt.Sprintf("%d bytes", len(r.Data))
}
