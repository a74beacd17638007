package telemetry

import "fmt"

// Config controls telemetry initialization.
type Config struct {
	// Enabled turns tracing and OTLP export on. The Prometheus scrape
	// handler is served even when disabled.
	Enabled bool

	// ServiceName identifies this process in traces and metrics.
	ServiceName string

	// ServiceVersion is the build version stamped on the resource.
	ServiceVersion string

	// Endpoint is the OTLP collector address (host:port). Empty disables
	// OTLP push; metrics remain available via the Prometheus handler.
	Endpoint string

	// Protocol selects the OTLP transport: "grpc" or "http/protobuf".
	Protocol string

	// Insecure disables TLS on the OTLP connection.
	Insecure bool

	// SampleRate is the trace sampling ratio in [0,1].
	SampleRate float64
}

// Validate checks the config for inconsistencies.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}
	switch c.Protocol {
	case "", "grpc", "http/protobuf":
	default:
		return fmt.Errorf("invalid protocol %q (want grpc or http/protobuf)", c.Protocol)
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("sample rate must be in [0,1], got %v", c.SampleRate)
	}
	return nil
}
