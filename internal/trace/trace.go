// Package trace wires OpenTelemetry tracing. When tracing is disabled every
// span is a no-op.
package trace

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "quantdesk"

// Options configures Init.
type Options struct {
	Enabled     bool
	ServiceName string
	Version     string
	// Writer receives exported spans; os.Stdout when nil.
	Writer io.Writer
}

// Provider owns the installed tracer provider. Shutdown flushes pending
// spans.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// Init installs a global tracer provider exporting to stdout. With tracing
// disabled it installs nothing and the returned Provider is inert.
func Init(_ context.Context, opts Options) (*Provider, error) {
	if !opts.Enabled {
		return &Provider{}, nil
	}

	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("creating stdout exporter: %w", err)
	}

	name := opts.ServiceName
	if name == "" {
		name = instrumentationName
	}
	res := resource.NewSchemaless(
		attribute.String("service.name", name),
		attribute.String("service.version", opts.Version),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return &Provider{tp: tp}, nil
}

// Shutdown flushes and stops the provider, if one was installed.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// StartSpan starts a span from the global tracer provider. Without Init the
// global provider is otel's no-op implementation.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, trace.WithAttributes(attrs...))
}
