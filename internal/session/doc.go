// Package session implements the session and action log behind the
// webhook intake: session lifecycle (start, end, resume, crash
// classification), append-only actions, conversation capture with secret
// scrubbing and fenced-code-block extraction, and the session-export
// document materialized when a session ends.
//
// The rule that shapes everything here: webhooks never fail on unknown
// session ids. Any reference to a session that does not exist yet creates
// an active placeholder first, so producers can emit events in any order.
package session
