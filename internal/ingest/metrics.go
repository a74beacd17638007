package ingest

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/finderskeepers/keeperd/internal/logging"
)

const instrumentationName = "github.com/finderskeepers/keeperd/internal/ingest"

// pipelineMetrics counts jobs, times stages, and observes queue backlog.
type pipelineMetrics struct {
	jobsSubmitted metric.Int64Counter
	jobsCompleted metric.Int64Counter
	stageDuration metric.Float64Histogram
}

var bandNames = [3]string{"high", "normal", "low"}

func newPipelineMetrics(log *logging.Logger, q *queue) *pipelineMetrics {
	meter := otel.Meter(instrumentationName)
	m := &pipelineMetrics{}
	var err error

	m.jobsSubmitted, err = meter.Int64Counter(
		"keeperd.ingest.jobs_submitted_total",
		metric.WithDescription("Total ingest jobs accepted"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		log.Warn(context.Background(), "failed to create jobs_submitted counter")
	}

	m.jobsCompleted, err = meter.Int64Counter(
		"keeperd.ingest.jobs_completed_total",
		metric.WithDescription("Total ingest jobs finished, by outcome"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		log.Warn(context.Background(), "failed to create jobs_completed counter")
	}

	m.stageDuration, err = meter.Float64Histogram(
		"keeperd.ingest.stage_duration_seconds",
		metric.WithDescription("Wall time spent per pipeline stage"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		log.Warn(context.Background(), "failed to create stage_duration histogram")
	}

	_, err = meter.Int64ObservableGauge(
		"keeperd.ingest.queue_depth",
		metric.WithDescription("Jobs waiting per queue band"),
		metric.WithUnit("{job}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			for band, n := range q.depth() {
				o.Observe(int64(n), metric.WithAttributes(
					attribute.String("band", bandNames[band]),
				))
			}
			return nil
		}),
	)
	if err != nil {
		log.Warn(context.Background(), "failed to create queue_depth gauge")
	}

	return m
}

func (m *pipelineMetrics) submitted(ctx context.Context, priority Priority) {
	if m.jobsSubmitted == nil {
		return
	}
	m.jobsSubmitted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("priority", string(priority)),
	))
}

func (m *pipelineMetrics) completed(ctx context.Context, outcome Outcome) {
	if m.jobsCompleted == nil {
		return
	}
	m.jobsCompleted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", string(outcome)),
	))
}

func (m *pipelineMetrics) stage(ctx context.Context, state State, elapsed time.Duration) {
	if m.stageDuration == nil {
		return
	}
	m.stageDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("stage", string(state)),
	))
}
