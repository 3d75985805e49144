// Package observability wires OpenTelemetry tracing around batch pulls,
// scans and exports. Until Init installs a provider the OTel global is a
// no-op, so instrumented paths cost nothing in plain library use.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/tesseradata/tessera/pkg/errors"
)

const tracerName = "github.com/tesseradata/tessera"

// Config tunes the tracing provider installed by Init.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	// SamplingRate is the fraction of traces recorded. Zero and below
	// fall back to recording everything.
	SamplingRate float64

	// Pretty prints one indented JSON document per span instead of one
	// line each.
	Pretty bool
}

var provider *sdktrace.TracerProvider

// Init installs a stdout span exporter as the global tracing provider.
func Init(cfg Config) error {
	var opts []stdouttrace.Option
	if cfg.Pretty {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "building stdout span exporter")
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "tessera"
	}
	if cfg.SamplingRate <= 0 {
		cfg.SamplingRate = 1
	}
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		),
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "building tracing resource")
	}

	provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SamplingRate)),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

// Shutdown flushes pending spans and stops the provider installed by Init.
func Shutdown(ctx context.Context) error {
	if provider == nil {
		return nil
	}
	err := provider.Shutdown(ctx)
	provider = nil
	return err
}

// Tracer returns the library tracer of the current global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan opens a span on the library tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordError records err on the span and marks it failed.
func RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
