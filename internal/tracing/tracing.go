// Package tracing wires OpenTelemetry for oocbench. Spans cover one
// experiment and each supervised run inside it. Without Init the global
// provider is a no-op and spans cost nothing.
package tracing

import (
	"context"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	oocexperiments "github.com/janniklinde/OOCExperiments"
)

// Name is the instrumentation scope of all oocbench spans.
const Name = "github.com/janniklinde/OOCExperiments"

// Init installs a global tracer provider that writes finished spans as JSON
// to w. The returned function flushes and shuts the provider down.
func Init(w io.Writer) (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, err
	}
	return InitWithExporter(exporter)
}

// InitWithExporter installs a global tracer provider using exporter.
func InitWithExporter(exporter sdktrace.SpanExporter) (func(context.Context) error, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", "oocbench"),
			attribute.String("service.version", oocexperiments.Version),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Tracer returns the oocbench tracer of the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(Name)
}

// End records err on span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
