// internal/logging/otel_test.go
package logging

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/noop"
	"go.uber.org/zap"
)

// captureProvider hands every scope the same capturing logger.
type captureProvider struct {
	noop.LoggerProvider
	logger *captureLogger
}

func (p *captureProvider) Logger(string, ...log.LoggerOption) log.Logger {
	return p.logger
}

type captureLogger struct {
	noop.Logger
	mu      sync.Mutex
	records []log.Record
}

func (l *captureLogger) Enabled(context.Context, log.EnabledParameters) bool { return true }

func (l *captureLogger) Emit(_ context.Context, rec log.Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
}

func (l *captureLogger) bodies() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.records))
	for i, r := range l.records {
		out[i] = r.Body().AsString()
	}
	return out
}

func TestWithOTelBridge_TeesToBothSinks(t *testing.T) {
	tl := NewTestLogger()
	sink := &captureLogger{}
	bridged := tl.WithOTelBridge("keeperd", &captureProvider{logger: sink})

	bridged.Info(context.Background(), "bridged entry", zap.String("job_id", "job-1"))

	require.Equal(t, 1, tl.FilterMessage("bridged entry").Len())
	assert.Equal(t, []string{"bridged entry"}, sink.bodies())
}

func TestWithOTelBridge_NilProviderIsPassthrough(t *testing.T) {
	l := Nop()
	assert.Same(t, l, l.WithOTelBridge("keeperd", nil))
}
