package telemetry

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc/credentials"
)

const (
	exportTimeout       = 60 * time.Second
	metricExportTimeout = 30 * time.Second
)

// Trace exporter names accepted by Options.TracesExporter.
const (
	TracesExporterOTLP    = "otlp"
	TracesExporterConsole = "console"
	TracesExporterNone    = "none"
)

// collector is a parsed OTLP endpoint.
type collector struct {
	hostPort string
	secure   bool
}

// parseCollector accepts "scheme://host:port" or a bare "host:port", which
// is treated as plaintext like an http URL.
func parseCollector(endpoint string) (collector, error) {
	if endpoint == "" {
		return collector{}, errors.New("collector endpoint is empty")
	}
	if !strings.Contains(endpoint, "://") {
		if _, _, err := net.SplitHostPort(endpoint); err != nil {
			return collector{}, fmt.Errorf("invalid collector endpoint %q: %w", endpoint, err)
		}
		return collector{hostPort: endpoint}, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return collector{}, fmt.Errorf("invalid collector endpoint %q: %w", endpoint, err)
	}
	switch u.Scheme {
	case "http":
		return collector{hostPort: u.Host}, nil
	case "https":
		return collector{hostPort: u.Host, secure: true}, nil
	default:
		return collector{}, fmt.Errorf("unsupported collector scheme %q", u.Scheme)
	}
}

func clientTLS() credentials.TransportCredentials {
	return credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
}

func newSpanExporter(ctx context.Context, opts Options) (sdktrace.SpanExporter, error) {
	switch opts.TracesExporter {
	case "", TracesExporterOTLP:
	case TracesExporterConsole:
		exp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create console span exporter: %w", err)
		}
		return exp, nil
	case TracesExporterNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown traces exporter %q", opts.TracesExporter)
	}

	c, err := parseCollector(opts.Endpoint)
	if err != nil {
		return nil, err
	}
	topts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(c.hostPort),
		otlptracegrpc.WithTimeout(exportTimeout),
	}
	if c.secure {
		topts = append(topts, otlptracegrpc.WithTLSCredentials(clientTLS()))
	} else {
		topts = append(topts, otlptracegrpc.WithInsecure())
	}
	if len(opts.Headers) > 0 {
		topts = append(topts, otlptracegrpc.WithHeaders(opts.Headers))
	}
	exp, err := otlptracegrpc.New(ctx, topts...)
	if err != nil {
		return nil, fmt.Errorf("create OTLP span exporter: %w", err)
	}
	return exp, nil
}

func newMetricExporter(ctx context.Context, opts Options) (sdkmetric.Exporter, error) {
	c, err := parseCollector(opts.Endpoint)
	if err != nil {
		return nil, err
	}
	mopts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(c.hostPort),
		otlpmetricgrpc.WithTimeout(metricExportTimeout),
	}
	if c.secure {
		mopts = append(mopts, otlpmetricgrpc.WithTLSCredentials(clientTLS()))
	} else {
		mopts = append(mopts, otlpmetricgrpc.WithInsecure())
	}
	if len(opts.Headers) > 0 {
		mopts = append(mopts, otlpmetricgrpc.WithHeaders(opts.Headers))
	}
	exp, err := otlpmetricgrpc.New(ctx, mopts...)
	if err != nil {
		return nil, fmt.Errorf("create OTLP metric exporter: %w", err)
	}
	return exp, nil
}

// newPrometheusEndpoint binds addr, creates a Prometheus reader on a private
// registry and serves it. The listener is bound first so address conflicts
// surface as init errors before any reader exists.
func newPrometheusEndpoint(addr string) (sdkmetric.Reader, *http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listen prometheus endpoint: %w", err)
	}
	reg := prometheus.NewRegistry()
	reader, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		_ = ln.Close()
		return nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		_ = srv.Serve(ln)
	}()
	return reader, srv, nil
}
