package telemetry

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// retainingExporter keeps exported spans after Shutdown, unlike the
// in-memory exporter it wraps.
type retainingExporter struct {
	*tracetest.InMemoryExporter
	shutdowns atomic.Int32
}

func (e *retainingExporter) Shutdown(context.Context) error {
	e.shutdowns.Add(1)
	return nil
}

// stuckSpanExporter never returns from ExportSpans until release is closed.
type stuckSpanExporter struct {
	release chan struct{}
}

func (e *stuckSpanExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error {
	<-e.release
	return nil
}

func (e *stuckSpanExporter) Shutdown(context.Context) error { return nil }

// countingMetricExporter counts non-empty exports and shutdowns.
type countingMetricExporter struct {
	exports   atomic.Int32
	shutdowns atomic.Int32
}

func (e *countingMetricExporter) Temporality(k sdkmetric.InstrumentKind) metricdata.Temporality {
	return sdkmetric.DefaultTemporalitySelector(k)
}

func (e *countingMetricExporter) Aggregation(k sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return sdkmetric.DefaultAggregationSelector(k)
}

func (e *countingMetricExporter) Export(_ context.Context, rm *metricdata.ResourceMetrics) error {
	if len(rm.ScopeMetrics) > 0 {
		e.exports.Add(1)
	}
	return nil
}

func (e *countingMetricExporter) ForceFlush(context.Context) error { return nil }

func (e *countingMetricExporter) Shutdown(context.Context) error {
	e.shutdowns.Add(1)
	return nil
}

func newTestProvider(t *testing.T, opts Options) (*Provider, *retainingExporter, *sdkmetric.ManualReader) {
	t.Helper()
	exporter := &retainingExporter{InMemoryExporter: tracetest.NewInMemoryExporter()}
	reader := sdkmetric.NewManualReader()
	if opts.ServiceName == "" {
		opts.ServiceName = "temporal-hello-world"
	}
	opts.SpanExporter = exporter
	opts.MetricReader = reader
	p, err := New(context.Background(), opts)
	require.NoError(t, err)
	return p, exporter, reader
}

func TestProviderFlushesOnShutdown(t *testing.T) {
	p, exporter, reader := newTestProvider(t, Options{ExportInterval: time.Hour})
	require.True(t, p.Enabled())
	require.Same(t, p.tp, otel.GetTracerProvider())

	_, span := p.Tracer().Start(context.Background(), "StartWorkflow")
	span.SetAttributes("workflow.id", "hello-world-1")
	span.End()
	p.Metrics().IncCounter("hello.workflow.executions", 1, "outcome", "success")
	p.Metrics().RecordTimer("hello.workflow.duration", 20*time.Millisecond)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	require.Len(t, rm.ScopeMetrics[0].Metrics, 2)

	// The batch delay is an hour: only the shutdown flush exports the span.
	require.Empty(t, exporter.GetSpans())
	require.NoError(t, p.Shutdown(context.Background()))
	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.Equal(t, "StartWorkflow", spans[0].Name)
}

func TestProviderShutdownOnce(t *testing.T) {
	p, exporter, _ := newTestProvider(t, Options{})

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- p.Shutdown(context.Background())
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), exporter.shutdowns.Load())
}

func TestShutdownFlushesMetricsWhenSpanExportHangs(t *testing.T) {
	ctx := context.Background()
	spans := &stuckSpanExporter{release: make(chan struct{})}
	defer close(spans.release)
	metrics := &countingMetricExporter{}
	flush := 100 * time.Millisecond
	p, err := New(ctx, Options{
		ServiceName:  "svc",
		SpanExporter: spans,
		MetricReader: sdkmetric.NewPeriodicReader(metrics, sdkmetric.WithInterval(time.Hour)),
		FlushTimeout: flush,
	})
	require.NoError(t, err)

	_, span := p.Tracer().Start(ctx, "StartWorkflow")
	span.End()
	p.Metrics().IncCounter("hello.workflow.executions", 1)

	start := time.Now()
	err = p.Shutdown(ctx)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, elapsed, ShutdownTimeout(flush))
	require.GreaterOrEqual(t, metrics.exports.Load(), int32(1), "buffered metrics are exported")
	require.Equal(t, int32(1), metrics.shutdowns.Load(), "meter provider is shut down")
}

func TestShutdownTimeout(t *testing.T) {
	require.Equal(t, 3*time.Second+shutdownSlack, ShutdownTimeout(time.Second))
	require.Equal(t, ShutdownTimeout(DefaultFlushTimeout), ShutdownTimeout(0))
}

func TestProviderResource(t *testing.T) {
	p, _, _ := newTestProvider(t, Options{
		ServiceName:      "greeter",
		ServiceNamespace: "default",
		Environment:      "staging",
	})
	defer func() { _ = p.Shutdown(context.Background()) }()

	set := p.Resource().Set()
	v, ok := set.Value(semconv.ServiceNameKey)
	require.True(t, ok)
	require.Equal(t, "greeter", v.AsString())
	v, ok = set.Value(semconv.ServiceNamespaceKey)
	require.True(t, ok)
	require.Equal(t, "default", v.AsString())
	v, ok = set.Value(DeploymentEnvironmentKey)
	require.True(t, ok)
	require.Equal(t, "staging", v.AsString())
	_, ok = set.Value(attribute.Key("telemetry.sdk.language"))
	require.True(t, ok, "default resource attributes are kept")
}

func TestProviderDisabled(t *testing.T) {
	p := Disabled()
	require.False(t, p.Enabled())
	require.Empty(t, p.Endpoint())
	require.Empty(t, p.PrometheusAddr())
	require.IsType(t, NoopTracer{}, p.Tracer())
	require.IsType(t, NoopMetrics{}, p.Metrics())
	require.NotNil(t, p.TracerProvider())
	require.NotNil(t, p.MeterProvider())
	require.NoError(t, p.Shutdown(context.Background()))
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestProviderInitErrors(t *testing.T) {
	_, err := New(context.Background(), Options{ServiceName: "svc", TracesExporter: "zipkin"})
	var ierr *InitError
	require.ErrorAs(t, err, &ierr)
	require.Contains(t, err.Error(), "zipkin")

	_, err = New(context.Background(), Options{ServiceName: "svc", Endpoint: "ftp://collector:4317", MetricReader: sdkmetric.NewManualReader()})
	require.ErrorAs(t, err, &ierr)
}

func TestProviderWithoutSpanExport(t *testing.T) {
	p, err := New(context.Background(), Options{
		ServiceName:    "svc",
		TracesExporter: TracesExporterNone,
		MetricReader:   sdkmetric.NewManualReader(),
	})
	require.NoError(t, err)
	_, span := p.Tracer().Start(context.Background(), "dropped")
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestProviderConsoleExporter(t *testing.T) {
	p, err := New(context.Background(), Options{
		ServiceName:    "svc",
		TracesExporter: TracesExporterConsole,
		MetricReader:   sdkmetric.NewManualReader(),
	})
	require.NoError(t, err)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestPrometheusEndpoint(t *testing.T) {
	p, _, _ := newTestProvider(t, Options{PrometheusAddr: "127.0.0.1:0"})
	addr := p.PrometheusAddr()
	require.NotEmpty(t, addr)
	p.Metrics().IncCounter("hello.workflow.executions", 1)

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "hello_workflow_executions")

	require.NoError(t, p.Shutdown(context.Background()))
	_, err = http.Get("http://" + addr + "/metrics")
	require.Error(t, err)
}

func TestPrometheusAddressInUse(t *testing.T) {
	p, _, _ := newTestProvider(t, Options{PrometheusAddr: "127.0.0.1:0"})
	defer func() { _ = p.Shutdown(context.Background()) }()

	exporter := &retainingExporter{InMemoryExporter: tracetest.NewInMemoryExporter()}
	_, err := New(context.Background(), Options{
		ServiceName:    "svc",
		PrometheusAddr: p.PrometheusAddr(),
		SpanExporter:   exporter,
		MetricReader:   sdkmetric.NewManualReader(),
	})
	var ierr *InitError
	require.ErrorAs(t, err, &ierr)
	require.Equal(t, int32(1), exporter.shutdowns.Load(), "created exporters are released on failure")
}

func TestPrometheusEndpointListenFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	reader, srv, err := newPrometheusEndpoint(ln.Addr().String())
	require.ErrorContains(t, err, "listen prometheus endpoint")
	require.Nil(t, reader)
	require.Nil(t, srv)
}

func TestParseCollector(t *testing.T) {
	cases := []struct {
		in      string
		want    collector
		wantErr bool
	}{
		{in: "http://localhost:4317", want: collector{hostPort: "localhost:4317"}},
		{in: "https://otlp.example.com:4317", want: collector{hostPort: "otlp.example.com:4317", secure: true}},
		{in: "collector:4317", want: collector{hostPort: "collector:4317"}},
		{in: "", wantErr: true},
		{in: "collector", wantErr: true},
		{in: "grpc://collector:4317", wantErr: true},
	}
	for _, tc := range cases {
		got, err := parseCollector(tc.in)
		if tc.wantErr {
			require.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got)
	}
}

func TestInitErrorUnwrap(t *testing.T) {
	boom := errors.New("boom")
	err := &InitError{Err: boom}
	require.ErrorIs(t, err, boom)
	require.Equal(t, "telemetry init: boom", err.Error())
}
