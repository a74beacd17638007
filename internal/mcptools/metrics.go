package mcptools

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/finderskeepers/keeperd/internal/logging"
)

const instrumentationName = "github.com/finderskeepers/keeperd/internal/mcptools"

// toolMetrics tracks per-tool invocation volume, latency, and errors.
type toolMetrics struct {
	invocations metric.Int64Counter
	duration    metric.Float64Histogram
	errors      metric.Int64Counter
	activeCalls metric.Int64UpDownCounter
}

func newToolMetrics(log *logging.Logger) *toolMetrics {
	meter := otel.Meter(instrumentationName)
	m := &toolMetrics{}
	var err error

	m.invocations, err = meter.Int64Counter(
		"keeperd.mcp.tool.invocations_total",
		metric.WithDescription("Tool invocations, by tool"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		log.Warn(context.Background(), "failed to create invocations counter")
	}

	m.duration, err = meter.Float64Histogram(
		"keeperd.mcp.tool.duration_seconds",
		metric.WithDescription("Tool call latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		log.Warn(context.Background(), "failed to create duration histogram")
	}

	m.errors, err = meter.Int64Counter(
		"keeperd.mcp.tool.errors_total",
		metric.WithDescription("Tool calls that returned an error"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		log.Warn(context.Background(), "failed to create errors counter")
	}

	m.activeCalls, err = meter.Int64UpDownCounter(
		"keeperd.mcp.tool.active_calls",
		metric.WithDescription("Tool calls currently in flight"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		log.Warn(context.Background(), "failed to create active calls gauge")
	}

	return m
}

func (m *toolMetrics) invocation(ctx context.Context, tool string, took time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("tool", tool))
	if m.invocations != nil {
		m.invocations.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, took.Seconds(), attrs)
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}

func (m *toolMetrics) active(ctx context.Context, tool string, delta int64) {
	if m.activeCalls != nil {
		m.activeCalls.Add(ctx, delta, metric.WithAttributes(attribute.String("tool", tool)))
	}
}
