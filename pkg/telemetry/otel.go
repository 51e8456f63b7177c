// Package telemetry owns the OTLP trace exporter lifecycle behind the otel
// span sink. Completed timelines are low-volume by construction (one per
// input event, already age-gated by the engine), so spans are always
// sampled and the configuration surface stays small.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Config configures the OTLP gRPC exporter.
type Config struct {
	// Endpoint is the OTLP gRPC endpoint (e.g., "localhost:4317")
	Endpoint string

	// ServiceName identifies this process in exported traces
	ServiceName string

	// ServiceVersion is the reported service version
	ServiceVersion string

	// Environment is the deployment environment (e.g., "production")
	Environment string

	// Insecure disables TLS for the gRPC connection (local collectors)
	Insecure bool

	// BatchTimeout is how long spans may sit before a batch is sent
	BatchTimeout time.Duration

	// ExportTimeout bounds each export call
	ExportTimeout time.Duration
}

// DefaultConfig returns the defaults for a local collector.
func DefaultConfig(serviceName string) Config {
	return Config{
		Endpoint:      "localhost:4317",
		ServiceName:   serviceName,
		Environment:   "development",
		Insecure:      true,
		BatchTimeout:  5 * time.Second,
		ExportTimeout: 30 * time.Second,
	}
}

// Exporter manages the tracer provider behind the otel span sink.
type Exporter struct {
	mu sync.Mutex

	cfg      Config
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	shutdown func(context.Context) error
}

// NewExporter creates an uninitialized exporter.
func NewExporter(cfg Config) *Exporter {
	return &Exporter{cfg: cfg}
}

// Init connects the OTLP exporter, installs the global tracer provider and
// propagators, and returns a shutdown function that flushes pending spans.
// Calling Init on an initialized exporter returns the existing shutdown.
func (e *Exporter) Init(ctx context.Context) (func(context.Context) error, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.shutdown != nil {
		return e.shutdown, nil
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(e.cfg.Endpoint),
		otlptracegrpc.WithTimeout(e.cfg.ExportTimeout),
	}
	if e.cfg.Insecure {
		opts = append(opts,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(e.cfg.ServiceName),
			semconv.ServiceVersion(e.cfg.ServiceVersion),
			semconv.DeploymentEnvironment(e.cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	e.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(e.cfg.BatchTimeout),
			sdktrace.WithExportTimeout(e.cfg.ExportTimeout),
		),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(e.provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	e.tracer = e.provider.Tracer(e.cfg.ServiceName)

	e.shutdown = func(ctx context.Context) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.provider == nil {
			return nil
		}
		provider := e.provider
		e.provider = nil
		e.shutdown = nil
		return provider.Shutdown(ctx)
	}
	return e.shutdown, nil
}

// Tracer returns the tracer for the span sink; nil before Init.
func (e *Exporter) Tracer() trace.Tracer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tracer
}
