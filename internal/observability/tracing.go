package observability

import (
	"context"
	"crypto/tls"
	"os"
	"strconv"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials"
)

// traceConfig is read once from SOLVER_OTEL_* at startup.
type traceConfig struct {
	exporter     string
	endpoint     string
	headers      map[string]string
	insecure     bool
	sampler      string
	samplerRatio float64
	environment  string
}

func loadTraceConfig() traceConfig {
	return traceConfig{
		exporter:     strings.ToLower(strings.TrimSpace(os.Getenv("SOLVER_OTEL_EXPORTER"))),
		endpoint:     strings.TrimSpace(os.Getenv("SOLVER_OTEL_ENDPOINT")),
		headers:      parseHeaderList(os.Getenv("SOLVER_OTEL_HEADERS")),
		insecure:     envBool("SOLVER_OTEL_INSECURE", true),
		sampler:      strings.ToLower(strings.TrimSpace(os.Getenv("SOLVER_OTEL_SAMPLER"))),
		samplerRatio: envFloat("SOLVER_OTEL_SAMPLER_RATIO", 1.0),
		environment:  strings.TrimSpace(os.Getenv("SOLVER_ENVIRONMENT")),
	}
}

var (
	tracerOnce sync.Once
	shutdownFn func(context.Context) error
)

// InitTracingFromEnv installs a global tracer provider per SOLVER_OTEL_*
// and returns the shutdown hook. Unset or "none" exporter leaves tracing
// as a no-op.
func InitTracingFromEnv(service string) (func(context.Context) error, error) {
	var initErr error
	tracerOnce.Do(func() {
		cfg := loadTraceConfig()
		if cfg.exporter == "" || cfg.exporter == "none" {
			otel.SetTracerProvider(trace.NewNoopTracerProvider())
			shutdownFn = func(context.Context) error { return nil }
			return
		}

		ctx := context.Background()
		exp, err := cfg.newExporter(ctx)
		if err != nil {
			initErr = err
			return
		}
		res, err := resource.New(ctx, resource.WithAttributes(
			semconv.ServiceNameKey.String(service),
			attribute.String("solver.environment", cfg.environment),
		))
		if err != nil {
			initErr = err
			return
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithSampler(cfg.newSampler()),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
		shutdownFn = tp.Shutdown
	})
	if shutdownFn == nil {
		shutdownFn = func(context.Context) error { return nil }
	}
	return shutdownFn, initErr
}

func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer("stxn-solver").Start(ctx, name, trace.WithAttributes(attrs...))
}

func (c traceConfig) newExporter(ctx context.Context) (sdktrace.SpanExporter, error) {
	switch c.exporter {
	case "otlp", "otlpgrpc", "grpc":
		return c.newGRPCExporter(ctx)
	case "otlphttp", "http":
		return c.newHTTPExporter(ctx)
	default:
		// "stdout" and anything unrecognized.
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
}

func (c traceConfig) newGRPCExporter(ctx context.Context) (sdktrace.SpanExporter, error) {
	endpoint := c.endpoint
	if endpoint == "" {
		endpoint = "localhost:4317"
	}
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
	if len(c.headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(c.headers))
	}
	if c.insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewTLS(&tls.Config{})))
	}
	return otlptracegrpc.New(ctx, opts...)
}

func (c traceConfig) newHTTPExporter(ctx context.Context) (sdktrace.SpanExporter, error) {
	endpoint := c.endpoint
	if endpoint == "" {
		endpoint = "http://localhost:4318"
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpointURL(endpoint)}
	if len(c.headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(c.headers))
	}
	if c.insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return otlptracehttp.New(ctx, opts...)
}

func (c traceConfig) newSampler() sdktrace.Sampler {
	switch c.sampler {
	case "always_off":
		return sdktrace.ParentBased(sdktrace.NeverSample())
	case "traceidratio", "ratio":
		ratio := c.samplerRatio
		if ratio < 0 {
			ratio = 0
		}
		if ratio > 1 {
			ratio = 1
		}
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	default:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
}

// parseHeaderList parses "k1=v1,k2=v2" into a map, skipping malformed
// pairs.
func parseHeaderList(raw string) map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k != "" && v != "" {
			out[k] = v
		}
	}
	return out
}

func envBool(key string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	default:
		return fallback
	}
}

func envFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
