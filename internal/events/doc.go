// Package events carries ingestion progress over a small pub/sub bus.
//
// Subjects follow NATS conventions: dot-separated tokens with "*" matching
// one token and ">" matching the rest. Job lifecycle events publish on
// ingest.jobs.<job_id>.<state>, so a consumer watching one job subscribes
// to ingest.jobs.<job_id>.* and an aggregator subscribes to ingest.jobs.>.
//
// Two backends: an in-process bus for single-binary deployments and a NATS
// bus when fanout crosses processes. Both drop the oldest buffered message
// for a slow subscriber rather than blocking publishers.
package events
