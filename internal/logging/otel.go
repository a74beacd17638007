// internal/logging/otel.go
package logging

import (
	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// WithOTelBridge tees entries to an OpenTelemetry log provider in addition
// to the logger's existing output. A nil provider returns the logger
// unchanged, so callers can pass through whatever telemetry exposes.
func (l *Logger) WithOTelBridge(name string, provider log.LoggerProvider) *Logger {
	if provider == nil {
		return l
	}
	otelCore := otelzap.NewCore(name, otelzap.WithLoggerProvider(provider))
	bridged := l.zap.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, otelCore)
	}))
	return &Logger{zap: bridged}
}
