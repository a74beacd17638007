package telemetry

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/log/noop"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name: "valid grpc",
			cfg:  Config{ServiceName: "keeperd", Protocol: "grpc", SampleRate: 1.0},
		},
		{
			name: "valid http",
			cfg:  Config{ServiceName: "keeperd", Protocol: "http/protobuf", SampleRate: 0.25},
		},
		{
			name:    "missing service name",
			cfg:     Config{Protocol: "grpc"},
			wantErr: "service name",
		},
		{
			name:    "bad protocol",
			cfg:     Config{ServiceName: "keeperd", Protocol: "thrift"},
			wantErr: "invalid protocol",
		},
		{
			name:    "sample rate out of range",
			cfg:     Config{ServiceName: "keeperd", SampleRate: 1.5},
			wantErr: "sample rate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), &Config{ServiceName: "keeperd"})
	require.NoError(t, err)
	require.NotNil(t, tel)

	assert.False(t, tel.IsEnabled())

	// No-op providers must still be usable.
	tracer := tel.Tracer("test")
	_, span := tracer.Start(context.Background(), "op")
	span.End()

	meter := tel.Meter("test")
	counter, err := meter.Int64Counter("test_total")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)

	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_EnabledWithoutEndpoint(t *testing.T) {
	tel, err := New(context.Background(), &Config{
		ServiceName: "keeperd",
		Enabled:     true,
		SampleRate:  1.0,
	})
	require.NoError(t, err)
	assert.True(t, tel.IsEnabled())
	assert.False(t, tel.Health().Degraded)

	// Prometheus reader only; record a metric and scrape it back.
	meter := tel.Meter("keeperd.test")
	counter, err := meter.Int64Counter("ingest_jobs_total")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	tel.MetricsHandler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "ingest_jobs_total")

	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.False(t, tel.Health().Healthy)
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(context.Background(), &Config{})
	require.Error(t, err)
}

func TestNilReceiverSafety(t *testing.T) {
	var tel *Telemetry
	assert.NotNil(t, tel.Tracer("x"))
	assert.NotNil(t, tel.Meter("x"))
	assert.NotNil(t, tel.MetricsHandler())
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.NoError(t, tel.ForceFlush(context.Background()))
	assert.False(t, tel.IsEnabled())
	assert.True(t, tel.Health().Degraded)
	assert.Nil(t, tel.LoggerProvider())
	tel.SetLoggerProvider(nil)
}

func TestSetLoggerProvider(t *testing.T) {
	tel, err := New(context.Background(), &Config{ServiceName: "keeperd"})
	require.NoError(t, err)

	assert.Nil(t, tel.LoggerProvider())

	lp := noop.NewLoggerProvider()
	tel.SetLoggerProvider(lp)
	assert.Equal(t, lp, tel.LoggerProvider())
}
