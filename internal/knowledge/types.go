package knowledge

import (
	"time"
)

// DocType classifies where a document came from.
type DocType string

const (
	// DocTypeFile is an uploaded or watched file.
	DocTypeFile DocType = "file"
	// DocTypeURL is a fetched web resource.
	DocTypeURL DocType = "url"
	// DocTypeConversation is a captured conversation fragment.
	DocTypeConversation DocType = "conversation"
	// DocTypeCodeSnippet is a snippet extracted from a conversation.
	DocTypeCodeSnippet DocType = "code-snippet"
	// DocTypeSessionExport is a materialized session transcript.
	DocTypeSessionExport DocType = "session-export"
)

// Valid reports whether t is one of the known document types.
func (t DocType) Valid() bool {
	switch t {
	case DocTypeFile, DocTypeURL, DocTypeConversation, DocTypeCodeSnippet, DocTypeSessionExport:
		return true
	}
	return false
}

// IndexState tracks which stores hold a document's derived data.
//
// A document is only fully searchable in state ok. The repair worker
// drives rv_only and graph_pending back to ok; failed is terminal.
type IndexState string

const (
	// IndexStateOK means RV, VI and GR all hold the document.
	IndexStateOK IndexState = "ok"
	// IndexStateRVOnly means vector index writes failed; repair pending.
	IndexStateRVOnly IndexState = "rv_only"
	// IndexStateGraphPending means graph writes failed; repair pending.
	IndexStateGraphPending IndexState = "graph_pending"
	// IndexStateFailed means repair gave up; operator attention needed.
	IndexStateFailed IndexState = "failed"
)

// Document is the unit of ingestion. The body is immutable once written;
// re-ingesting identical normalized content is a dedup hit, not an update.
type Document struct {
	// ID is a UUIDv4 assigned at ingest time.
	ID string `json:"id"`

	// Project scopes the document; all retrieval is project-scoped.
	Project string `json:"project"`

	// Title is human-readable; derived from filename, URL title, or session.
	Title string `json:"title"`

	// DocType classifies the source.
	DocType DocType `json:"doc_type"`

	// Format is the detected format tag (see FormatTag).
	Format FormatTag `json:"format"`

	// SourceURI records provenance: file path, URL, or session reference.
	SourceURI string `json:"source_uri"`

	// ContentHash is the SHA-256 (hex) of the normalized text.
	// (Project, ContentHash) is unique.
	ContentHash string `json:"content_hash"`

	// RawHash is the SHA-256 (hex) of the original bytes before
	// normalization; used for in-flight duplicate coalescing.
	RawHash string `json:"raw_hash"`

	// SizeBytes is the size of the original input.
	SizeBytes int64 `json:"size_bytes"`

	// Tags drive MENTIONS edges and RELATES_TO computation.
	Tags []string `json:"tags,omitempty"`

	// Metadata is the escape hatch for source-specific detail
	// (ocr_confidence, archive entry name, transcript language, ...).
	Metadata map[string]any `json:"metadata,omitempty"`

	// IndexState tracks persistence completeness across the three stores.
	IndexState IndexState `json:"index_state"`

	// ParentDocumentID links archive children to the archive document.
	ParentDocumentID string `json:"parent_document_id,omitempty"`

	// SessionID links session exports to their session.
	SessionID string `json:"session_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt moves on metadata enrichment and index-state transitions;
	// the repair worker uses it to age out stuck documents.
	UpdatedAt time.Time `json:"updated_at"`
}

// ChunkKind describes the structural family a chunk was cut from.
type ChunkKind string

const (
	ChunkKindProse      ChunkKind = "prose"
	ChunkKindCode       ChunkKind = "code"
	ChunkKindTable      ChunkKind = "table"
	ChunkKindTranscript ChunkKind = "transcript"
)

// Chunk is a retrieval unit cut from a document's normalized text.
//
// IDs are deterministic: UUIDv5 in the document's namespace keyed by
// ordinal, so re-chunking identical content yields identical ids.
type Chunk struct {
	// ID is UUIDv5(document namespace, "chunk:<ordinal>").
	ID string `json:"id"`

	// DocumentID is the owning document.
	DocumentID string `json:"document_id"`

	// Ordinal is the 0-based, gapless position within the document.
	Ordinal int `json:"ordinal"`

	// Text is the chunk body, including any repeated heading prefix.
	Text string `json:"text"`

	// StartOffset/EndOffset are rune offsets into the normalized text.
	StartOffset int `json:"start_offset"`
	EndOffset   int `json:"end_offset"`

	// TokenEstimate is the heuristic token count used for sizing.
	TokenEstimate int `json:"token_estimate"`

	// HeadingPath is the section trail this chunk sits under.
	HeadingPath []string `json:"heading_path,omitempty"`

	// Kind is the structural family the chunk was cut from.
	Kind ChunkKind `json:"kind"`
}

// SessionStatus is the lifecycle state of an agent session.
type SessionStatus string

const (
	SessionActive  SessionStatus = "active"
	SessionEnded   SessionStatus = "ended"
	SessionCrashed SessionStatus = "crashed"
)

// Session is one agent working session, fed by the session-logger webhook.
type Session struct {
	// ID is caller-provided or generated as sess_<unixms>_<rand8>.
	ID string `json:"session_id"`

	// AgentType identifies the agent software (e.g. "claude-code").
	AgentType string `json:"agent_type"`

	// UserID is the operator identity as reported by the agent.
	UserID string `json:"user_id"`

	// Project scopes the session.
	Project string `json:"project"`

	// Status is active until session_end (ended) or crash detection (crashed).
	Status SessionStatus `json:"status"`

	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	// Reason is the reported end/resume reason, if any.
	Reason string `json:"reason,omitempty"`

	// Context is the free-form context payload from the webhook.
	Context map[string]any `json:"context,omitempty"`

	// Placeholder marks sessions auto-created to satisfy the
	// "actions never fail on missing session" rule.
	Placeholder bool `json:"placeholder,omitempty"`
}

// Action is one append-only log entry within a session.
type Action struct {
	// ID is generated as act_<unixms>_<rand8>.
	ID string `json:"action_id"`

	// SessionID always references an existing session; the intake layer
	// creates a placeholder first when the id is unknown.
	SessionID string `json:"session_id"`

	ActionType    string         `json:"action_type"`
	Description   string         `json:"description"`
	Details       map[string]any `json:"details,omitempty"`
	FilesAffected []string       `json:"files_affected,omitempty"`
	Success       bool           `json:"success"`
	Timestamp     time.Time      `json:"timestamp"`
}

// MessageRole is the speaker of a conversation message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleTool      MessageRole = "tool"
)

// Valid reports whether r is a known role.
func (r MessageRole) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}

// ConversationMessage is one message captured from action-tracker details.
// Content is stored after secret scrubbing.
type ConversationMessage struct {
	// ID is generated as msg_<unixms>_<rand8>.
	ID        string      `json:"message_id"`
	SessionID string      `json:"session_id"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`

	// ActionID is the action that carried this message, for provenance.
	ActionID  string    `json:"action_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// CodeSnippet is a fenced code block lifted out of a conversation message.
type CodeSnippet struct {
	// ID is generated as snip_<unixms>_<rand8>.
	ID        string `json:"snippet_id"`
	SessionID string `json:"session_id"`

	// Language comes from the fence info string; "text" when absent.
	Language string `json:"language"`
	Code     string `json:"code"`

	// SourceMessageID is the message the snippet was cut from.
	SourceMessageID string    `json:"source_message_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// EntityKind is the node taxonomy of the knowledge graph.
type EntityKind string

const (
	EntityProject  EntityKind = "Project"
	EntityDocument EntityKind = "Document"
	EntitySession  EntityKind = "Session"
	EntityFile     EntityKind = "File"
	EntityTag      EntityKind = "Tag"
	EntityConcept  EntityKind = "Concept"
)

// Entity is a graph node. (Kind, ID) is unique.
type Entity struct {
	Kind  EntityKind     `json:"kind"`
	ID    string         `json:"id"`
	Props map[string]any `json:"props,omitempty"`
}

// Edge types understood by the graph store.
const (
	// EdgeContains links Project → Document.
	EdgeContains = "CONTAINS"
	// EdgePartOfSession links a session-export Document → Session.
	EdgePartOfSession = "PART_OF_SESSION"
	// EdgeMentions links Document → File/Tag/Concept.
	EdgeMentions = "MENTIONS"
	// EdgeRelatesTo links Document ↔ Document on shared tags (computed).
	EdgeRelatesTo = "RELATES_TO"
)
