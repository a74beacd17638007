// Package telemetry provides OpenTelemetry tracing and metrics for keeperd.
//
// Traces and metrics are pushed over OTLP when an endpoint is configured.
// Metrics are additionally exposed in Prometheus format through
// MetricsHandler regardless of OTLP configuration, so a scrape target is
// always available. Telemetry failures degrade gracefully and never take
// the daemon down.
package telemetry
