package query

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/finderskeepers/keeperd/internal/logging"
)

const instrumentationName = "github.com/finderskeepers/keeperd/internal/query"

// queryMetrics tracks retrieval volume, latency, and result counts.
type queryMetrics struct {
	queries  metric.Int64Counter
	duration metric.Float64Histogram
	results  metric.Int64Histogram
}

func newQueryMetrics(log *logging.Logger) *queryMetrics {
	meter := otel.Meter(instrumentationName)
	m := &queryMetrics{}
	var err error

	m.queries, err = meter.Int64Counter(
		"keeperd.query.requests_total",
		metric.WithDescription("Knowledge queries answered, by mode"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		log.Warn(context.Background(), "failed to create queries counter")
	}

	m.duration, err = meter.Float64Histogram(
		"keeperd.query.duration_seconds",
		metric.WithDescription("End-to-end query latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		log.Warn(context.Background(), "failed to create duration histogram")
	}

	m.results, err = meter.Int64Histogram(
		"keeperd.query.results",
		metric.WithDescription("Results returned per query"),
		metric.WithUnit("{result}"),
	)
	if err != nil {
		log.Warn(context.Background(), "failed to create results histogram")
	}

	return m
}

func (m *queryMetrics) query(ctx context.Context, mode Mode, took time.Duration, results int) {
	attrs := metric.WithAttributes(attribute.String("mode", string(mode)))
	if m.queries != nil {
		m.queries.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, took.Seconds(), attrs)
	}
	if m.results != nil {
		m.results.Record(ctx, int64(results), attrs)
	}
}
