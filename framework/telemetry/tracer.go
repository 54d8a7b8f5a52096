// Package telemetry sets up OpenTelemetry tracing.
package telemetry

import (
	"context"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/km-arc/go-kernel/framework/config"
)

// InstrumentationName names the tracer used by the framework.
const InstrumentationName = "github.com/km-arc/go-kernel"

// Provider owns the tracer provider and its shutdown.
type Provider struct {
	tp       trace.TracerProvider
	shutdown func(context.Context) error
}

// New builds a tracer provider from cfg. Disabled telemetry, or exporter
// "none", yields a no-op provider. w receives stdout spans; nil means
// discard.
func New(cfg config.TelemetryConfig, w io.Writer, logger *slog.Logger) (*Provider, error) {
	if !cfg.Enabled || cfg.Exporter == "none" {
		return &Provider{
			tp:       noop.NewTracerProvider(),
			shutdown: func(context.Context) error { return nil },
		}, nil
	}

	if w == nil {
		w = io.Discard
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, err
	}

	// schema URL left empty so Merge accepts resource.Default()
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	logger.Info("OpenTelemetry initialized", slog.String("service", cfg.ServiceName))
	return &Provider{tp: tp, shutdown: tp.Shutdown}, nil
}

// Install registers the provider and the W3C propagators globally, which is
// what otelhttp picks up.
func (p *Provider) Install() {
	otel.SetTracerProvider(p.tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}

// TracerProvider returns the underlying provider.
func (p *Provider) TracerProvider() trace.TracerProvider { return p.tp }

// Tracer returns the framework tracer.
func (p *Provider) Tracer() trace.Tracer { return p.tp.Tracer(InstrumentationName) }

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error { return p.shutdown(ctx) }
