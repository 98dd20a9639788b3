package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalsfoundry/rb-admission/internal/logging"
)

// TracingEnvPrefix prefixes the tracing environment variables, e.g.
// RB_TRACING_ENABLED.
const TracingEnvPrefix = "RB"

const tracingShutdownTimeout = 5 * time.Second

// TracingConfig selects the span exporter of rb-server.
type TracingConfig struct {
	Enabled     bool    `envconfig:"TRACING_ENABLED"`
	ServiceName string  `envconfig:"TRACING_SERVICE_NAME" default:"rb-admission"`
	Exporter    string  `envconfig:"TRACING_EXPORTER" default:"stdout"` // stdout | otlp
	Endpoint    string  `envconfig:"OTLP_ENDPOINT" default:"localhost:4317"`
	SampleRatio float64 `envconfig:"TRACING_SAMPLE_RATIO" default:"1"`

	// Writer receives stdout spans; nil means os.Stdout.
	Writer io.Writer `ignored:"true"`
}

// TracingConfigFromEnv reads RB_TRACING_* and RB_OTLP_ENDPOINT.
func TracingConfigFromEnv() (TracingConfig, error) {
	var cfg TracingConfig
	if err := envconfig.Process(TracingEnvPrefix, &cfg); err != nil {
		return TracingConfig{}, fmt.Errorf("tracing env: %w", err)
	}
	cfg.Exporter = strings.ToLower(cfg.Exporter)
	if cfg.SampleRatio < 0 || cfg.SampleRatio > 1 {
		return TracingConfig{}, fmt.Errorf("tracing env: sample ratio %v outside [0,1]", cfg.SampleRatio)
	}
	return cfg, nil
}

// InitTracing installs the global tracer provider and propagators. When
// tracing is off a noop provider is installed so otelgrpc and the nbi spans
// cost nothing. The returned func flushes pending spans.
func InitTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (func(context.Context) error, error) {
	log = logging.OrNoop(log)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		log.Debug(ctx, "tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	exp, err := newSpanExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("rb.component", "admission"),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", cfg.Exporter),
		logging.String("service_name", cfg.ServiceName),
		logging.Float64("sample_ratio", cfg.SampleRatio),
	)
	return tp.Shutdown, nil
}

func newSpanExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "stdout", "":
		w := cfg.Writer
		if w == nil {
			w = os.Stdout
		}
		return stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithoutTimestamps())
	case "otlp":
		return otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
	default:
		return nil, fmt.Errorf("unknown tracing exporter %q (want stdout or otlp)", cfg.Exporter)
	}
}

// ShutdownWithTimeout flushes spans, giving up after a few seconds.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, tracingShutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logging.OrNoop(log).Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}
