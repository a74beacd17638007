package session

import (
	"strings"
	"time"

	"github.com/finderskeepers/keeperd/internal/knowledge"
)

// Session lifecycle verbs accepted by the session-logger webhook.
const (
	EventStart  = "session_start"
	EventEnd    = "session_end"
	EventResume = "session_resume"
)

// SessionEvent is the session-logger webhook body.
type SessionEvent struct {
	ActionType string         `json:"action_type"`
	SessionID  string         `json:"session_id,omitempty"`
	AgentType  string         `json:"agent_type"`
	UserID     string         `json:"user_id"`
	Project    string         `json:"project"`
	Reason     string         `json:"reason,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
}

// SessionAck is the session-logger webhook response.
type SessionAck struct {
	Success   bool      `json:"success"`
	SessionID string    `json:"session_id"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// ActionEvent is the action-tracker webhook body. Success defaults to true
// when the producer omits it; message capture rides in Details.
type ActionEvent struct {
	SessionID     string         `json:"session_id"`
	ActionID      string         `json:"action_id,omitempty"`
	ActionType    string         `json:"action_type"`
	Description   string         `json:"description"`
	Details       map[string]any `json:"details,omitempty"`
	FilesAffected []string       `json:"files_affected,omitempty"`
	Success       *bool          `json:"success,omitempty"`
	Timestamp     *time.Time     `json:"timestamp,omitempty"`
}

// ActionAck is the action-tracker webhook response.
type ActionAck struct {
	Success   bool      `json:"success"`
	SessionID string    `json:"session_id"`
	ActionID  string    `json:"action_id"`
	MessageID string    `json:"message_id,omitempty"`
	Snippets  int       `json:"snippets,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// crashMarkers are reason substrings that classify a session_end as a
// crash rather than a clean finish.
var crashMarkers = []string{
	"crash", "panic", "fatal", "abort", "abnormal",
	"kill", "oom", "timeout", "disconnect", "error",
}

// endStatus maps an end reason onto ended or crashed.
func endStatus(reason string) knowledge.SessionStatus {
	lower := strings.ToLower(reason)
	for _, marker := range crashMarkers {
		if strings.Contains(lower, marker) {
			return knowledge.SessionCrashed
		}
	}
	return knowledge.SessionEnded
}
