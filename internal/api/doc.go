// Package api mounts the public HTTP surface on the echo server:
// ingestion submission and job tracking (including the SSE progress
// stream), the hybrid query endpoint, session log reads, and the two
// webhook intake routes used by agent hooks.
//
// Handlers stay thin. They bind and validate transport shapes, call one
// service port, and translate domain errors onto statuses; everything
// else lives in the ingest, query, and session packages.
package api
