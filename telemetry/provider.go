package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultFlushTimeout bounds each flush and shutdown step of the pipeline.
	DefaultFlushTimeout = 10 * time.Second
	// DefaultExportInterval is the span batch delay and metric read interval.
	DefaultExportInterval = time.Second

	// DeploymentEnvironmentKey is the resource attribute holding the
	// deployment environment.
	DeploymentEnvironmentKey = attribute.Key("deployment.environment")

	// maxPipelineSteps is the step count of the longest pipeline: flush
	// metrics, shut down the meter provider, stop the scrape endpoint.
	maxPipelineSteps = 3
	shutdownSlack    = 250 * time.Millisecond
)

type (
	// Options configures the telemetry pipeline.
	Options struct {
		// ServiceName, ServiceNamespace and Environment populate the shared
		// resource attached to every span and metric.
		ServiceName      string
		ServiceNamespace string
		Environment      string

		// Endpoint is the OTLP/gRPC collector address, for example
		// "http://localhost:4317". An https scheme enables TLS.
		Endpoint string
		// Headers are sent with every export request (access tokens).
		Headers map[string]string
		// TracesExporter selects the span exporter: "otlp" (default),
		// "console" or "none".
		TracesExporter string
		// PrometheusAddr, when set, also serves metrics on
		// http://<addr>/metrics.
		PrometheusAddr string

		// ExportInterval is the span batch delay and the metric reader
		// interval. Defaults to DefaultExportInterval.
		ExportInterval time.Duration
		// FlushTimeout bounds each flush and shutdown step. Defaults to
		// DefaultFlushTimeout.
		FlushTimeout time.Duration

		// SpanExporter replaces the exporter selected by TracesExporter.
		SpanExporter sdktrace.SpanExporter
		// MetricReader replaces the OTLP periodic reader.
		MetricReader sdkmetric.Reader

		// Logger reports pipeline lifecycle events.
		Logger Logger
	}

	// Provider is the process telemetry handle. It bundles the tracer and
	// meter providers, their exporters and the shared resource. A Provider
	// is released exactly once by Shutdown.
	Provider struct {
		enabled  bool
		endpoint string

		tp  *sdktrace.TracerProvider
		mp  *sdkmetric.MeterProvider
		res *resource.Resource

		tracerProvider trace.TracerProvider
		meterProvider  metric.MeterProvider

		prom         *http.Server
		flushTimeout time.Duration
		logger       Logger

		once        sync.Once
		shutdownErr error
	}

	// InitError reports a telemetry pipeline that could not be built.
	// It is never fatal: callers fall back to Disabled.
	InitError struct {
		Err error
	}
)

func (e *InitError) Error() string { return "telemetry init: " + e.Err.Error() }

func (e *InitError) Unwrap() error { return e.Err }

// New builds the tracer and meter providers, installs them as the OTEL
// globals together with the W3C trace context and baggage propagators, and
// returns the handle that owns them. Exporters connect lazily: New does not
// wait for the collector to be reachable.
func New(ctx context.Context, opts Options) (*Provider, error) {
	logger := opts.Logger
	if logger == nil {
		logger = NewNoopLogger()
	}
	interval := opts.ExportInterval
	if interval <= 0 {
		interval = DefaultExportInterval
	}
	flushTimeout := opts.FlushTimeout
	if flushTimeout <= 0 {
		flushTimeout = DefaultFlushTimeout
	}

	res, err := newResource(opts)
	if err != nil {
		return nil, &InitError{Err: err}
	}

	var cleanup []func(context.Context) error
	fail := func(err error) (*Provider, error) {
		for i := len(cleanup) - 1; i >= 0; i-- {
			_ = cleanup[i](ctx)
		}
		return nil, &InitError{Err: err}
	}

	spanExporter := opts.SpanExporter
	if spanExporter == nil {
		spanExporter, err = newSpanExporter(ctx, opts)
		if err != nil {
			return fail(err)
		}
	}
	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if spanExporter != nil {
		cleanup = append(cleanup, spanExporter.Shutdown)
		traceOpts = append(traceOpts, sdktrace.WithBatcher(spanExporter,
			sdktrace.WithBatchTimeout(interval),
			sdktrace.WithMaxQueueSize(4096),
			sdktrace.WithMaxExportBatchSize(512),
			sdktrace.WithExportTimeout(exportTimeout),
		))
	}

	reader := opts.MetricReader
	if reader == nil {
		metricExporter, err := newMetricExporter(ctx, opts)
		if err != nil {
			return fail(err)
		}
		reader = sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(interval))
	}
	cleanup = append(cleanup, reader.Shutdown)
	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(res), sdkmetric.WithReader(reader)}

	var prom *http.Server
	if opts.PrometheusAddr != "" {
		promReader, srv, err := newPrometheusEndpoint(opts.PrometheusAddr)
		if err != nil {
			return fail(err)
		}
		cleanup = append(cleanup, srv.Shutdown)
		meterOpts = append(meterOpts, sdkmetric.WithReader(promReader))
		prom = srv
	}

	tp := sdktrace.NewTracerProvider(traceOpts...)
	mp := sdkmetric.NewMeterProvider(meterOpts...)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info(ctx, "telemetry initialized",
		"endpoint", opts.Endpoint,
		"service.name", opts.ServiceName,
		"deployment.environment", opts.Environment)

	return &Provider{
		enabled:        true,
		endpoint:       opts.Endpoint,
		tp:             tp,
		mp:             mp,
		res:            res,
		tracerProvider: tp,
		meterProvider:  mp,
		prom:           prom,
		flushTimeout:   flushTimeout,
		logger:         logger,
	}, nil
}

// Disabled returns a handle whose providers discard everything. It is used
// when telemetry is turned off or failed to initialize.
func Disabled() *Provider {
	return &Provider{
		tracerProvider: tracenoop.NewTracerProvider(),
		meterProvider:  metricnoop.NewMeterProvider(),
		res:            resource.Empty(),
		logger:         NewNoopLogger(),
	}
}

// Enabled reports whether spans and metrics are exported.
func (p *Provider) Enabled() bool { return p.enabled }

// Endpoint returns the collector endpoint exports are sent to.
func (p *Provider) Endpoint() string { return p.endpoint }

// PrometheusAddr returns the address of the metrics scrape endpoint, empty
// when it is not served.
func (p *Provider) PrometheusAddr() string {
	if p.prom == nil {
		return ""
	}
	return p.prom.Addr
}

// Resource returns the resource shared by spans and metrics.
func (p *Provider) Resource() *resource.Resource { return p.res }

// TracerProvider returns the provider used for tracing interceptors.
func (p *Provider) TracerProvider() trace.TracerProvider { return p.tracerProvider }

// MeterProvider returns the provider used for metrics handlers.
func (p *Provider) MeterProvider() metric.MeterProvider { return p.meterProvider }

// Tracer returns a Tracer backed by the handle's tracer provider.
func (p *Provider) Tracer() Tracer {
	if !p.enabled {
		return NewNoopTracer()
	}
	return NewTracer(p.tracerProvider)
}

// Metrics returns a Metrics recorder backed by the handle's meter provider.
func (p *Provider) Metrics() Metrics {
	if !p.enabled {
		return NewNoopMetrics()
	}
	return NewMetrics(p.meterProvider)
}

// Shutdown flushes buffered spans and metrics and then releases the
// exporters. The span and metric pipelines are released concurrently so a
// stuck exporter on one side does not starve the other. Each step is bounded
// by the flush timeout and a failed step does not prevent the next one. Only
// the first call does any work; later calls wait for it and return its
// result. See ShutdownTimeout for the worst case duration.
func (p *Provider) Shutdown(ctx context.Context) error {
	p.once.Do(func() {
		p.shutdownErr = p.shutdown(ctx)
	})
	return p.shutdownErr
}

// ShutdownTimeout returns how long Provider.Shutdown may take when every
// step runs into the given flush timeout. Callers bounding Shutdown must
// allow at least this much.
func ShutdownTimeout(flushTimeout time.Duration) time.Duration {
	if flushTimeout <= 0 {
		flushTimeout = DefaultFlushTimeout
	}
	return maxPipelineSteps*flushTimeout + shutdownSlack
}

type shutdownStep struct {
	name string
	fn   func(context.Context) error
}

func (p *Provider) shutdown(ctx context.Context) error {
	if !p.enabled {
		return nil
	}
	traces := []shutdownStep{
		{"flush spans", p.tp.ForceFlush},
		{"shutdown tracer provider", p.tp.Shutdown},
	}
	metrics := []shutdownStep{
		{"flush metrics", p.mp.ForceFlush},
		{"shutdown meter provider", p.mp.Shutdown},
	}
	if p.prom != nil {
		metrics = append(metrics, shutdownStep{"stop prometheus endpoint", p.prom.Shutdown})
	}

	pipelines := [][]shutdownStep{traces, metrics}
	errs := make([]error, len(pipelines))
	var wg sync.WaitGroup
	for i, steps := range pipelines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = p.runSteps(ctx, steps)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (p *Provider) runSteps(ctx context.Context, steps []shutdownStep) error {
	var errs []error
	for _, step := range steps {
		sctx, cancel := context.WithTimeout(ctx, p.flushTimeout)
		err := step.fn(sctx)
		cancel()
		if err != nil {
			p.logger.Warn(ctx, "telemetry shutdown step failed", "step", step.name, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
			continue
		}
		p.logger.Debug(ctx, "telemetry shutdown step done", "step", step.name)
	}
	return errors.Join(errs...)
}

func newResource(opts Options) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{semconv.ServiceName(opts.ServiceName)}
	if opts.ServiceNamespace != "" {
		attrs = append(attrs, semconv.ServiceNamespace(opts.ServiceNamespace))
	}
	if opts.Environment != "" {
		attrs = append(attrs, DeploymentEnvironmentKey.String(opts.Environment))
	}
	// An empty schema URL avoids conflicts with the default resource.
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes("", attrs...))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}
	return res, nil
}
