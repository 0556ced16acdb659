// Package observability initializes tracing, metrics and structured
// logging for the service: OpenTelemetry providers with OTLP gRPC export,
// a Prometheus bridge, and an slog handler that stamps every record with
// the active trace context. Without an OTLP endpoint everything degrades
// to no-op providers with zero export overhead.
package observability

// Config selects the telemetry backends.
type Config struct {
	// ServiceName labels exported telemetry. Empty defaults to "tablefang".
	ServiceName string `mapstructure:"service_name"`
	// Env tags telemetry with the deployment environment.
	Env string `mapstructure:"env"`
	// OTLPEndpoint is the OTLP gRPC collector address. Empty disables
	// export entirely.
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	// OTLPInsecure disables TLS on the collector connection.
	OTLPInsecure bool `mapstructure:"otlp_insecure"`
	// Prometheus additionally registers a Prometheus reader so /metrics
	// can serve engine metrics without a collector.
	Prometheus bool `mapstructure:"prometheus"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`
	// LogFormat is "json" or "text".
	LogFormat string `mapstructure:"log_format"`
}

// defaultServiceName labels telemetry when no name is configured.
const defaultServiceName = "tablefang"

func (c Config) serviceName() string {
	if c.ServiceName == "" {
		return defaultServiceName
	}

	return c.ServiceName
}
