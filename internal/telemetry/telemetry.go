// Package telemetry configures OpenTelemetry tracing for the screener.
package telemetry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Config controls the OTLP exporter. Tracing stays disabled while Endpoint is
// empty.
type Config struct {
	Endpoint    string        `mapstructure:"endpoint"`
	ServiceName string        `mapstructure:"service-name"`
	SampleRatio float64       `mapstructure:"sample-ratio"`
	Timeout     time.Duration `mapstructure:"batch-timeout"`
}

func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != ""
}

func Int64(key string, value int64) attribute.KeyValue {
	return attribute.Int64(key, value)
}

func String(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// InitTracer installs a global tracer provider exporting to the collector at
// cfg.Endpoint over gRPC. The returned function flushes and shuts it down.
func InitTracer(ctx context.Context, cfg Config, version string, logger *zap.Logger) (func(context.Context), error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled() {
		return func(context.Context) {}, nil
	}

	conn, err := grpc.NewClient(cfg.Endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("create grpc connection to collector: %w", err)
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "screener"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create resource: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	bsp := sdktrace.NewBatchSpanProcessor(exporter, sdktrace.WithBatchTimeout(timeout))

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	logger.Info("tracing enabled", zap.String("endpoint", cfg.Endpoint), zap.String("service", serviceName))

	return func(ctx context.Context) {
		if err := provider.Shutdown(ctx); err != nil {
			logger.Warn("shutdown tracer provider", zap.Error(err))
		}
		if err := conn.Close(); err != nil {
			logger.Warn("close collector connection", zap.Error(err))
		}
	}, nil
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// GetTracer returns a tracer from the global provider. Without InitTracer it
// is a no-op tracer.
func GetTracer(name string) trace.Tracer {
	return otel.GetTracerProvider().Tracer(name)
}
