package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/finderskeepers/keeperd/internal/knowledge"
)

// buildExport renders the session-export document body: session metadata,
// the conversation in chronological order, the action log, and extracted
// snippets. The output is markdown so the standard text pipeline chunks it
// along headings.
func buildExport(sess *knowledge.Session, messages []knowledge.ConversationMessage, actions []knowledge.Action, snippets []knowledge.CodeSnippet) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Session %s\n\n", sess.ID)
	fmt.Fprintf(&b, "- Agent: %s\n", orDash(sess.AgentType))
	fmt.Fprintf(&b, "- User: %s\n", orDash(sess.UserID))
	fmt.Fprintf(&b, "- Project: %s\n", orDash(sess.Project))
	fmt.Fprintf(&b, "- Status: %s\n", sess.Status)
	fmt.Fprintf(&b, "- Started: %s\n", stamp(sess.StartTime))
	if sess.EndTime != nil {
		fmt.Fprintf(&b, "- Ended: %s\n", stamp(*sess.EndTime))
	}
	if sess.Reason != "" {
		fmt.Fprintf(&b, "- End reason: %s\n", sess.Reason)
	}

	if len(messages) > 0 {
		b.WriteString("\n## Conversation\n")
		for _, m := range messages {
			fmt.Fprintf(&b, "\n### %s at %s\n\n%s\n", m.Role, stamp(m.Timestamp), m.Content)
		}
	}

	if len(actions) > 0 {
		b.WriteString("\n## Actions\n\n")
		for _, a := range actions {
			status := "ok"
			if !a.Success {
				status = "failed"
			}
			fmt.Fprintf(&b, "- %s %s (%s)", stamp(a.Timestamp), a.ActionType, status)
			if a.Description != "" {
				fmt.Fprintf(&b, ": %s", a.Description)
			}
			if len(a.FilesAffected) > 0 {
				fmt.Fprintf(&b, " [files: %s]", strings.Join(a.FilesAffected, ", "))
			}
			b.WriteString("\n")
		}
	}

	if len(snippets) > 0 {
		b.WriteString("\n## Code Snippets\n")
		for _, sn := range snippets {
			fmt.Fprintf(&b, "\n```%s\n%s\n```\n", sn.Language, sn.Code)
		}
	}

	return b.String()
}

// exportTitle names the session-export document.
func exportTitle(sess *knowledge.Session) string {
	if sess.AgentType != "" {
		return fmt.Sprintf("Session %s (%s)", sess.ID, sess.AgentType)
	}
	return "Session " + sess.ID
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
