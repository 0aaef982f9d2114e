// Package tracing exports runs and task invocations as OpenTelemetry spans.
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// InstrumentationName names the tracer used for composer spans.
const InstrumentationName = "github.com/aristath/composer"

// Init creates a tracer provider that writes spans as JSON to output:
// "stdout", "stderr" or a file path. The returned closer releases the file,
// if any, and should be called after the provider is shut down.
func Init(serviceName, serviceVersion, output string) (*sdktrace.TracerProvider, io.Closer, error) {
	w, closer, err := openOutput(output)
	if err != nil {
		return nil, nil, err
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		closer.Close()
		return nil, nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	tp, err := NewProvider(serviceName, serviceVersion, exporter)
	if err != nil {
		closer.Close()
		return nil, nil, err
	}
	return tp, closer, nil
}

// NewProvider creates a tracer provider that sends every span to exporter
// as soon as it ends.
func NewProvider(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resource: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
		sdktrace.WithResource(res),
	), nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func openOutput(output string) (io.Writer, io.Closer, error) {
	switch output {
	case "", "stderr":
		return os.Stderr, nopCloser{}, nil
	case "stdout":
		return os.Stdout, nopCloser{}, nil
	}
	f, err := os.Create(output)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open trace output: %w", err)
	}
	return f, f, nil
}
