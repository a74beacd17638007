// Package secrets scrubs credentials from intake payloads before they are
// persisted or embedded.
//
// Detection uses the Gitleaks SDK with its default ruleset. Matches are
// replaced with [REDACTED:rule-id:preview] markers that keep enough context
// for embeddings to stay useful while hiding the secret itself. Webhook
// intake runs every conversation message, action payload, and code snippet
// through the scrubber when intake.scrub_secrets is enabled.
package secrets
