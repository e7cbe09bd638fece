// Package otel sets up tracing for the broker and names its tracers.
package otel

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/masquerade/internal/platform/config"
)

const instrumentationPrefix = "github.com/louisbranch/masquerade/"

// Settings controls span export.
type Settings struct {
	Endpoint string `env:"MASQUERADE_OTEL_ENDPOINT"`
	Enabled  bool   `env:"MASQUERADE_OTEL_ENABLED" envDefault:"true"`
	// SampleRatio applies to root spans; children follow their parent.
	SampleRatio float64 `env:"MASQUERADE_OTEL_SAMPLE_RATIO" envDefault:"1"`
}

// Active reports whether spans are exported at all.
func (s Settings) Active() bool {
	return s.Enabled && strings.TrimSpace(s.Endpoint) != ""
}

// LoadSettings reads Settings from the environment.
func LoadSettings() (Settings, error) {
	var settings Settings
	if err := config.ParseEnv(&settings); err != nil {
		return Settings{}, err
	}
	if settings.SampleRatio < 0 || settings.SampleRatio > 1 {
		return Settings{}, fmt.Errorf("otel sample ratio must be within [0, 1], got %v", settings.SampleRatio)
	}
	return settings, nil
}

// Setup exports spans of serviceName over OTLP/HTTP when the environment
// enables it, and installs the provider globally. Otherwise it returns a
// no-op shutdown and leaves the global provider alone.
//
// The returned shutdown flushes pending spans and should be deferred.
func Setup(ctx context.Context, serviceName string) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }

	settings, err := LoadSettings()
	if err != nil {
		return noop, err
	}
	if !settings.Active() {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(settings.Endpoint))
	if err != nil {
		return noop, fmt.Errorf("otlp exporter: %w", err)
	}
	tp, err := NewProvider(ctx, serviceName, settings.SampleRatio, exporter)
	if err != nil {
		return noop, err
	}

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return tp.Shutdown, nil
}

// NewProvider batches spans of serviceName into exporter. Spans carry the
// service name, the build version and the host as resource attributes.
func NewProvider(ctx context.Context, serviceName string, sampleRatio float64, exporter sdktrace.SpanExporter) (*sdktrace.TracerProvider, error) {
	serviceName = strings.TrimSpace(serviceName)
	if serviceName == "" {
		return nil, fmt.Errorf("service name is required")
	}
	attrs := []resource.Option{
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(BuildVersion()),
		),
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceInstanceID(host)))
	}
	res, err := resource.New(ctx, attrs...)
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio))),
	), nil
}

// BuildVersion is the main module version stamped by the Go toolchain, or
// "dev" for local builds.
func BuildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" || info.Main.Version == "(devel)" {
		return "dev"
	}
	return info.Main.Version
}

// Tracer returns a tracer for pkg from tp, or from the global provider when
// tp is nil.
func Tracer(tp trace.TracerProvider, pkg string) trace.Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(instrumentationPrefix + strings.TrimPrefix(pkg, instrumentationPrefix))
}
