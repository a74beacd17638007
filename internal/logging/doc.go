// Package logging provides structured, context-aware logging for keeperd.
//
// The Logger wraps zap and enriches every entry with correlation fields
// extracted from the context: OpenTelemetry trace/span IDs, the ingest job
// ID, the session ID, and the HTTP request ID. Components receive a child
// logger via Named and should never log secrets; intake payloads are
// scrubbed before they reach a log call.
package logging
