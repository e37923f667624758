package otel

import (
	"net/url"
	"os"
	"strings"
	"time"
)

// Protocol represents OTLP transport protocol
type Protocol string

const (
	ProtocolGRPC         Protocol = "grpc"
	ProtocolHTTPProtobuf Protocol = "http/protobuf"
	ProtocolHTTPJSON     Protocol = "http/json"
)

// SignalType represents the OTEL signal type
type SignalType string

const (
	SignalTraces  SignalType = "traces"
	SignalMetrics SignalType = "metrics"
)

// ExporterConfig holds parsed OTLP exporter configuration for a signal
type ExporterConfig struct {
	Endpoint    string
	Protocol    Protocol
	Headers     map[string]string
	Timeout     time.Duration
	Insecure    bool
	Compression string
}

// IsTracingEnabled returns true if OTEL tracing is enabled
func IsTracingEnabled() bool {
	return isTrue(getEnv("OTEL_TRACING_ENABLED", "false"))
}

// IsMetricsEnabled returns true if OTEL metrics is enabled
func IsMetricsEnabled() bool {
	return isTrue(getEnv("OTEL_METRICS_ENABLED", "false"))
}

// GetExporterConfig returns the exporter configuration for one signal,
// resolving signal-specific environment variables with fallback to the
// base OTEL_EXPORTER_OTLP_* variables.
func GetExporterConfig(signal SignalType) ExporterConfig {
	sig := strings.ToUpper(string(signal))

	protocol := parseProtocol(signalEnv(sig, "PROTOCOL", "http/protobuf"))
	endpoint := resolveEndpoint(signal, sig, protocol)

	timeout := 10 * time.Second
	if d, err := time.ParseDuration(signalEnv(sig, "TIMEOUT", "10s")); err == nil {
		timeout = d
	}

	insecure := strings.HasPrefix(endpoint, "http://")
	if v := signalEnv(sig, "INSECURE", ""); v != "" {
		insecure = isTrue(v)
	}

	return ExporterConfig{
		Endpoint:    endpoint,
		Protocol:    protocol,
		Headers:     parseHeaders(signalEnv(sig, "HEADERS", "")),
		Timeout:     timeout,
		Insecure:    insecure,
		Compression: signalEnv(sig, "COMPRESSION", ""),
	}
}

func parseProtocol(s string) Protocol {
	switch strings.ToLower(s) {
	case "grpc":
		return ProtocolGRPC
	case "http/json":
		return ProtocolHTTPJSON
	default:
		return ProtocolHTTPProtobuf
	}
}

// resolveEndpoint picks the endpoint for a signal. A signal-specific
// endpoint is used as-is; the base endpoint gets the /v1/<signal> path
// appended (HTTP only — gRPC endpoints carry no path).
func resolveEndpoint(signal SignalType, sig string, protocol Protocol) string {
	if e := os.Getenv("OTEL_EXPORTER_OTLP_" + sig + "_ENDPOINT"); e != "" {
		return normalizeEndpoint(e, protocol)
	}
	if e := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); e != "" {
		e = normalizeEndpoint(e, protocol)
		if protocol == ProtocolGRPC {
			return e
		}
		return appendPath(e, "/v1/"+string(signal))
	}
	if protocol == ProtocolGRPC {
		return "localhost:4317"
	}
	return "http://localhost:4318/v1/" + string(signal)
}

func normalizeEndpoint(endpoint string, protocol Protocol) string {
	if protocol == ProtocolGRPC {
		// gRPC wants bare host:port
		endpoint = strings.TrimPrefix(endpoint, "http://")
		endpoint = strings.TrimPrefix(endpoint, "https://")
		if idx := strings.Index(endpoint, "/"); idx != -1 {
			endpoint = endpoint[:idx]
		}
		return endpoint
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	return endpoint
}

func appendPath(endpoint, path string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return strings.TrimSuffix(endpoint, "/") + path
	}
	if strings.HasSuffix(u.Path, path) {
		return endpoint
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return u.String()
}

// parseHeaders parses "key1=value1,key2=value2". Values are kept intact
// past the first '=' so tokens with padding survive.
func parseHeaders(headerStr string) map[string]string {
	headers := make(map[string]string)
	for _, pair := range strings.Split(headerStr, ",") {
		pair = strings.TrimSpace(pair)
		if idx := strings.Index(pair, "="); idx > 0 {
			headers[strings.TrimSpace(pair[:idx])] = pair[idx+1:]
		}
	}
	return headers
}

// signalEnv checks the signal-specific env var, then the base one, then
// falls back to the default.
func signalEnv(sig, suffix, defaultValue string) string {
	if v := os.Getenv("OTEL_EXPORTER_OTLP_" + sig + "_" + suffix); v != "" {
		return v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_" + suffix); v != "" {
		return v
	}
	return defaultValue
}

// getEnv returns the value of an environment variable or a default value if not set
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// isTrue checks if a string represents a true value
func isTrue(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}
