// Package tracing wires OpenTelemetry for the orderz server. Spans are
// exported over OTLP/HTTP only when OTEL_EXPORTER_OTLP_ENDPOINT is set.
package tracing

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	defaultServiceName = "orderz"
	endpointEnv        = "OTEL_EXPORTER_OTLP_ENDPOINT"
	serviceNameEnv     = "OTEL_SERVICE_NAME"
)

type settings struct {
	attributes []attribute.KeyValue
	sampler    sdktrace.Sampler
}

type Option func(*settings)

// WithAttributes adds resource attributes, such as the pricing time zone,
// to every exported span.
func WithAttributes(attrs ...attribute.KeyValue) Option {
	return func(s *settings) {
		s.attributes = append(s.attributes, attrs...)
	}
}

// WithSampler overrides the parent-based always-on default.
func WithSampler(sampler sdktrace.Sampler) Option {
	return func(s *settings) {
		if sampler != nil {
			s.sampler = sampler
		}
	}
}

// Init installs a global tracer provider and W3C propagators. Without an
// endpoint it leaves the globals alone and returns a no-op shutdown.
// Callers flush pending spans by calling shutdown before exit.
func Init(ctx context.Context, opts ...Option) (shutdown func(context.Context) error, err error) {
	endpoint := strings.TrimSpace(os.Getenv(endpointEnv))
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	if err := validateEndpoint(endpoint); err != nil {
		return nil, err
	}

	cfg := settings{sampler: sdktrace.ParentBased(sdktrace.AlwaysSample())}
	for _, opt := range opts {
		opt(&cfg)
	}

	attrs := append([]attribute.KeyValue{semconv.ServiceName(serviceNameFromEnv())}, cfg.attributes...)
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, attrs...),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(cfg.sampler),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

func serviceNameFromEnv() string {
	if name := strings.TrimSpace(os.Getenv(serviceNameEnv)); name != "" {
		return name
	}
	return defaultServiceName
}

// validateEndpoint rejects endpoints the exporter would only fail on at the
// first export.
func validateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid OTLP endpoint %q: %w", endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid OTLP endpoint %q: scheme must be http or https", endpoint)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid OTLP endpoint %q: missing host", endpoint)
	}
	return nil
}
