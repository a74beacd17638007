package query

import (
	"time"

	"github.com/finderskeepers/keeperd/internal/knowledge"
)

// Mode selects the retrieval strategy.
type Mode string

const (
	ModeVector         Mode = "vector"
	ModeKeyword        Mode = "keyword"
	ModeHybrid         Mode = "hybrid"
	ModeGraphAugmented Mode = "graph-augmented"
)

// ParseMode maps the wire value onto a mode; empty means hybrid.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeHybrid, nil
	case ModeVector, ModeKeyword, ModeHybrid, ModeGraphAugmented:
		return Mode(s), nil
	default:
		return "", knowledge.Validationf("unknown query mode %q", s)
	}
}

// usesVector reports whether the mode runs the vector retrieval leg.
func (m Mode) usesVector() bool { return m != ModeKeyword }

// usesKeyword reports whether the mode runs the keyword retrieval leg.
func (m Mode) usesKeyword() bool { return m != ModeVector }

// Filters narrows a query. Zero values mean no constraint; date bounds
// apply to document created_at.
type Filters struct {
	DocTypes  []knowledge.DocType `json:"doc_type,omitempty"`
	Tags      []string            `json:"tags,omitempty"`
	SessionID string              `json:"session_id,omitempty"`
	DateFrom  *time.Time          `json:"date_from,omitempty"`
	DateTo    *time.Time          `json:"date_to,omitempty"`
}

// needsDocumentCheck reports whether some filters cannot be pushed into
// the vector index payload and require a relational re-check.
func (f Filters) needsDocumentCheck() bool {
	return f.SessionID != "" || f.DateFrom != nil || f.DateTo != nil
}

// matchesDocument applies the relational-only filters to a document.
func (f Filters) matchesDocument(doc *knowledge.Document) bool {
	if f.SessionID != "" && doc.SessionID != f.SessionID {
		return false
	}
	if f.DateFrom != nil && doc.CreatedAt.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && doc.CreatedAt.After(*f.DateTo) {
		return false
	}
	return true
}

// Request is one query call.
type Request struct {
	Q       string  `json:"q"`
	Project string  `json:"project"`
	TopK    int     `json:"top_k,omitempty"`
	Filters Filters `json:"filters,omitempty"`
	Mode    Mode    `json:"mode,omitempty"`
}

// DefaultTopK applies when the caller leaves top_k unset.
const DefaultTopK = 10

// MaxTopK caps a single query's result size.
const MaxTopK = 100

func (r *Request) validate() error {
	if r.Q == "" {
		return knowledge.Validationf("q is required")
	}
	if r.Project == "" {
		return knowledge.Validationf("project is required")
	}
	if r.TopK < 0 {
		return knowledge.Validationf("top_k must be positive")
	}
	if r.TopK == 0 {
		r.TopK = DefaultTopK
	}
	if r.TopK > MaxTopK {
		r.TopK = MaxTopK
	}
	mode, err := ParseMode(string(r.Mode))
	if err != nil {
		return err
	}
	r.Mode = mode
	return nil
}

// Source carries result provenance back to the caller.
type Source struct {
	DocType   knowledge.DocType `json:"doc_type"`
	SourceURI string            `json:"source_uri,omitempty"`
	Project   string            `json:"project"`
}

// Result is one ranked document.
type Result struct {
	DocumentID string   `json:"document_id"`
	ChunkID    string   `json:"chunk_id"`
	Title      string   `json:"title"`
	Snippet    string   `json:"snippet"`
	Score      float64  `json:"score"`
	Provenance []string `json:"provenance"`
	Source     Source   `json:"source"`
}

// Response is the query API payload.
type Response struct {
	Results []Result `json:"results"`
	TookMS  int64    `json:"took_ms"`
}

// snippetLimit is the maximum snippet length in runes.
const snippetLimit = 300

// snippet truncates text on a rune boundary with an ellipsis.
func snippet(text string) string {
	runes := []rune(text)
	if len(runes) <= snippetLimit {
		return text
	}
	return string(runes[:snippetLimit-1]) + "…"
}
