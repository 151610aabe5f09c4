// Package observability wires OpenTelemetry tracing. Disabled unless
// OTEL_ENABLED is set; the pipeline works identically without it.
package observability

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/openadmit/counselor-backend/internal/pkg/logger"
	"github.com/openadmit/counselor-backend/internal/platform/envutil"
)

var (
	otelOnce     sync.Once
	otelShutdown func(context.Context) error
)

// InitOTel configures the global tracer provider and returns a shutdown
// function, which is nil when tracing stays disabled.
func InitOTel(ctx context.Context, log *logger.Logger) func(context.Context) error {
	otelOnce.Do(func() {
		if !envutil.Bool("OTEL_ENABLED", false) {
			return
		}

		var (
			exporter sdktrace.SpanExporter
			err      error
		)
		switch strings.ToLower(envutil.Str("OTEL_EXPORTER", "otlp")) {
		case "stdout":
			exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		default:
			opts := []otlptracehttp.Option{}
			if endpoint := envutil.Str("OTEL_EXPORTER_OTLP_ENDPOINT", ""); endpoint != "" {
				opts = append(opts, otlptracehttp.WithEndpointURL(endpoint))
			}
			exporter, err = otlptracehttp.New(ctx, opts...)
		}
		if err != nil {
			log.Warn("otel exporter init failed, tracing disabled", "error", err)
			return
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
			sdktrace.WithSampler(sdktrace.ParentBased(
				sdktrace.TraceIDRatioBased(envutil.Float("OTEL_SAMPLE_RATIO", 1.0)),
			)),
		)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
		otelShutdown = tp.Shutdown
		log.Info("otel tracing initialized")
	})
	return otelShutdown
}
