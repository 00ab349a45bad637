// Package telemetry provides OpenTelemetry tracing for deployments.
// Tracing is disabled by default and can be enabled via environment variables.
package telemetry

import (
	"context"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

var (
	tracer         trace.Tracer
	tracerProvider *sdktrace.TracerProvider
	initOnce       sync.Once
	enabled        bool
)

// Config holds telemetry configuration
type Config struct {
	// ServiceName is the name of the service (default: paradigm)
	ServiceName string
	// ServiceVersion is the version of the service
	ServiceVersion string
	// Environment is the deployment environment (e.g., production, staging)
	Environment string
	// OTLPEndpoint is the OTLP collector endpoint (e.g., localhost:4317)
	OTLPEndpoint string
	// Debug enables stdout trace exporter for debugging
	Debug bool
}

// DefaultConfig returns the default telemetry configuration
func DefaultConfig() Config {
	return Config{
		ServiceName:    getEnvOrDefault("PARADIGM_SERVICE_NAME", "paradigm"),
		ServiceVersion: getEnvOrDefault("PARADIGM_VERSION", "dev"),
		Environment:    getEnvOrDefault("PARADIGM_ENVIRONMENT", "production"),
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Debug:          os.Getenv("PARADIGM_TRACE_DEBUG") == "1",
	}
}

// Init initializes the telemetry system.
// Call this early in main() if you want tracing enabled.
// If OTEL_EXPORTER_OTLP_ENDPOINT is not set, tracing is disabled (noop).
func Init(cfg Config) error {
	var err error
	initOnce.Do(func() {
		err = initTracer(cfg)
	})
	return err
}

// initTracer sets up the tracer provider
func initTracer(cfg Config) error {
	// Check if tracing should be enabled
	if cfg.OTLPEndpoint == "" && !cfg.Debug {
		// No endpoint configured, use noop tracer
		tracer = noop.NewTracerProvider().Tracer(cfg.ServiceName)
		enabled = false
		return nil
	}

	enabled = true

	// Create resource with service information
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return err
	}

	// Create exporter based on configuration
	var exporter sdktrace.SpanExporter

	if cfg.Debug {
		// Stdout carries the transcript; debug spans go to stderr
		exporter, err = stdouttrace.New(
			stdouttrace.WithWriter(os.Stderr),
			stdouttrace.WithPrettyPrint(),
		)
		if err != nil {
			return err
		}
	} else if cfg.OTLPEndpoint != "" {
		// Use OTLP exporter
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		client := otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(), // TODO: Add TLS config option
		)

		exporter, err = otlptrace.New(ctx, client)
		if err != nil {
			return err
		}
	}

	// Create tracer provider
	tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()), // Sample everything for CLI tool
	)

	// Set global tracer provider
	otel.SetTracerProvider(tracerProvider)

	// Create tracer
	tracer = tracerProvider.Tracer(cfg.ServiceName)

	return nil
}

// Shutdown gracefully shuts down the tracer provider
func Shutdown(ctx context.Context) error {
	if tracerProvider != nil {
		return tracerProvider.Shutdown(ctx)
	}
	return nil
}

// IsEnabled returns true if tracing is enabled
func IsEnabled() bool {
	return enabled
}

// Tracer returns the global tracer instance
func Tracer() trace.Tracer {
	if tracer == nil {
		// Return noop tracer if not initialized
		return noop.NewTracerProvider().Tracer("paradigm")
	}
	return tracer
}

// StartSpan starts a new span with the given name
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// SpanFromContext returns the current span from context
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// =============================================================================
// Convenience functions for common operations
// =============================================================================

// TraceDeploy starts the root span for one deployment attempt
func TraceDeploy(ctx context.Context, app, strategy, ref string) (context.Context, trace.Span) {
	return StartSpan(ctx, "deploy.execute",
		trace.WithAttributes(
			attribute.String("deploy.app", app),
			attribute.String("deploy.strategy", strategy),
			attribute.String("deploy.ref", ref),
		),
	)
}

// TraceState starts a span for one strategy state
func TraceState(ctx context.Context, strategy, state string) (context.Context, trace.Span) {
	return StartSpan(ctx, "deploy."+state,
		trace.WithAttributes(
			attribute.String("deploy.strategy", strategy),
			attribute.String("deploy.state", state),
		),
	)
}

// TraceHealthCheck starts a span for health check operations
func TraceHealthCheck(ctx context.Context, app string, urls []string) (context.Context, trace.Span) {
	return StartSpan(ctx, "health.check",
		trace.WithAttributes(
			attribute.String("health.app", app),
			attribute.StringSlice("health.urls", urls),
		),
	)
}

// TraceCommand starts a span for an external command
func TraceCommand(ctx context.Context, command string) (context.Context, trace.Span) {
	return StartSpan(ctx, "command.run",
		trace.WithAttributes(
			attribute.String("command.line", truncate(command, 100)),
		),
	)
}

// End records err on span, if any, and ends it
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// SetAttribute sets an attribute on the current span
func SetAttribute(ctx context.Context, key string, value interface{}) {
	span := SpanFromContext(ctx)
	if span == nil {
		return
	}

	switch v := value.(type) {
	case string:
		span.SetAttributes(attribute.String(key, v))
	case int:
		span.SetAttributes(attribute.Int(key, v))
	case int64:
		span.SetAttributes(attribute.Int64(key, v))
	case float64:
		span.SetAttributes(attribute.Float64(key, v))
	case bool:
		span.SetAttributes(attribute.Bool(key, v))
	}
}

// =============================================================================
// Helper functions
// =============================================================================

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
