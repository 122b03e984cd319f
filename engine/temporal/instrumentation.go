package temporal

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/worker"
)

// InstrumentationOptions configures how OpenTelemetry tracing and metrics
// are wired into the Temporal client and workers. Both are enabled by
// default.
type InstrumentationOptions struct {
	// DisableTracing skips the tracing interceptor on the client and workers.
	DisableTracing bool

	// DisableMetrics skips the SDK metrics handler.
	DisableMetrics bool

	// Tracer creates the workflow and activity spans. When nil the global
	// tracer provider is used.
	Tracer trace.Tracer

	// Meter records SDK metrics (poll latencies, task counts). When nil the
	// global meter provider is used.
	Meter metric.Meter
}

type instrumentation struct {
	tracer  interceptor.Interceptor
	metrics client.MetricsHandler
}

func configureInstrumentation(opts InstrumentationOptions) (*instrumentation, error) {
	inst := &instrumentation{}
	if !opts.DisableTracing {
		tracer, err := temporalotel.NewTracingInterceptor(temporalotel.TracerOptions{Tracer: opts.Tracer})
		if err != nil {
			return nil, fmt.Errorf("configure tracing interceptor: %w", err)
		}
		inst.tracer = tracer
	}
	if !opts.DisableMetrics {
		inst.metrics = temporalotel.NewMetricsHandler(temporalotel.MetricsHandlerOptions{Meter: opts.Meter})
	}
	if inst.tracer == nil && inst.metrics == nil {
		return nil, nil
	}
	return inst, nil
}

func applyClientInstrumentation(opts *client.Options, inst *instrumentation) {
	if inst == nil {
		return
	}
	if inst.tracer != nil {
		opts.Interceptors = append(opts.Interceptors, inst.tracer)
	}
	if inst.metrics != nil && opts.MetricsHandler == nil {
		opts.MetricsHandler = inst.metrics
	}
}

func applyWorkerInstrumentation(opts *worker.Options, inst *instrumentation) {
	if inst == nil || inst.tracer == nil {
		return
	}
	opts.Interceptors = append(opts.Interceptors, inst.tracer)
}
