package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"

	"github.com/gnoswap-labs/tverify/internal/dispatch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// Trace exporters accepted by Config.TraceExporter.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// ErrUnknownExporter is returned for a trace exporter name Init does not know.
var ErrUnknownExporter = errors.New("telemetry: unknown exporter")

// Config controls which telemetry is collected and where it goes.
type Config struct {
	ServiceName string
	// TraceExporter is "none" (or empty) or "stdout".
	TraceExporter string
	// TraceWriter receives stdout-exported spans. Defaults to os.Stderr.
	TraceWriter io.Writer
	// MetricsAddr serves Prometheus metrics on /metrics when set,
	// e.g. "127.0.0.1:9090".
	MetricsAddr string
}

// Telemetry holds the providers created by Init.
type Telemetry struct {
	tracerProvider *sdktrace.TracerProvider
	registry       *prometheus.Registry
	metrics        *dispatch.Metrics
	server         *http.Server
	addr           string
	logger         *zap.Logger

	shutdownFuncs []func(context.Context) error
}

// Init sets up tracing and metrics according to cfg. The returned value must
// be shut down on exit so that buffered spans are flushed.
func Init(ctx context.Context, cfg Config, logger *zap.Logger) (*Telemetry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "tverify"
	}
	t := &Telemetry{logger: logger}

	switch cfg.TraceExporter {
	case "", ExporterNone:
	case ExporterStdout:
		w := cfg.TraceWriter
		if w == nil {
			w = os.Stderr
		}
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create exporter: %w", err)
		}
		res := resource.NewWithAttributes("", attribute.String("service.name", cfg.ServiceName))
		t.tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
		)
		otel.SetTracerProvider(t.tracerProvider)
		t.shutdownFuncs = append(t.shutdownFuncs, t.tracerProvider.Shutdown)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.TraceExporter)
	}

	if cfg.MetricsAddr != "" {
		if err := t.serveMetrics(cfg.MetricsAddr); err != nil {
			_ = t.Shutdown(ctx)
			return nil, err
		}
	}
	return t, nil
}

func (t *Telemetry) serveMetrics(addr string) error {
	t.registry = prometheus.NewRegistry()
	t.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen for metrics on %s: %w", addr, err)
	}
	t.addr = ln.Addr().String()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{}))
	t.server = &http.Server{Handler: mux}
	go func() {
		if err := t.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("Metrics server stopped", zap.Error(err))
		}
	}()
	t.shutdownFuncs = append(t.shutdownFuncs, t.server.Shutdown)
	t.logger.Info("Serving metrics", zap.String("addr", t.addr))
	return nil
}

// MetricsAddr returns the address metrics are served on, or "" when disabled.
func (t *Telemetry) MetricsAddr() string {
	return t.addr
}

// DispatchOptions wires the dispatcher's spans and collectors to this
// telemetry.
func (t *Telemetry) DispatchOptions() []dispatch.Option {
	var opts []dispatch.Option
	if t.tracerProvider != nil {
		opts = append(opts, dispatch.WithTracerProvider(t.tracerProvider))
	}
	if t.registry != nil {
		if t.metrics == nil {
			t.metrics = dispatch.NewMetrics(t.registry)
		}
		opts = append(opts, dispatch.WithMetrics(t.metrics))
	}
	return opts
}

// Shutdown flushes spans and stops the metrics server.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range t.shutdownFuncs {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	t.shutdownFuncs = nil
	return errors.Join(errs...)
}
