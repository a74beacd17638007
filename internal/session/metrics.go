package session

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/finderskeepers/keeperd/internal/logging"
)

const instrumentationName = "github.com/finderskeepers/keeperd/internal/session"

// webhookMetrics counts intake events and scrubbed secrets.
type webhookMetrics struct {
	events   metric.Int64Counter
	scrubbed metric.Int64Counter
}

func newWebhookMetrics(log *logging.Logger) *webhookMetrics {
	meter := otel.Meter(instrumentationName)
	m := &webhookMetrics{}
	var err error

	m.events, err = meter.Int64Counter(
		"keeperd.session.events_total",
		metric.WithDescription("Session and action events applied, by kind"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		log.Warn(context.Background(), "failed to create events counter")
	}

	m.scrubbed, err = meter.Int64Counter(
		"keeperd.session.secrets_scrubbed_total",
		metric.WithDescription("Secret findings redacted from conversation content"),
		metric.WithUnit("{finding}"),
	)
	if err != nil {
		log.Warn(context.Background(), "failed to create secrets counter")
	}

	return m
}

func (m *webhookMetrics) event(ctx context.Context, kind string) {
	if m.events == nil {
		return
	}
	m.events.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *webhookMetrics) secretsScrubbed(ctx context.Context, findings int) {
	if m.scrubbed == nil {
		return
	}
	m.scrubbed.Add(ctx, int64(findings))
}
