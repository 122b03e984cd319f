// Package app composes the hello-temporal processes: the worker that runs
// the greeting workflow and the starter that executes it once.
//
// Both processes are a lifecycle coordinator over the same ordered stages
// (configuration, telemetry, connection and, for the worker, the runtime).
// Startup is all-or-nothing and teardown releases the runtime, then the
// connection, then telemetry so the last spans of the run are flushed.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.temporal.io/sdk/client"

	"goa.design/hello-temporal/config"
	"goa.design/hello-temporal/engine/temporal"
	"goa.design/hello-temporal/lifecycle"
	"goa.design/hello-temporal/telemetry"
	"goa.design/hello-temporal/workflows"
)

// Stage names, in startup order.
const (
	StageConfig     = "config"
	StageTelemetry  = "telemetry"
	StageConnection = "connection"
	StageRuntime    = "runtime"
)

// Default release bounds.
const (
	DefaultRuntimeStopTimeout     = 3 * time.Second
	DefaultRuntimeForceTimeout    = 2 * time.Second
	DefaultConnectionStopTimeout  = 3 * time.Second
	DefaultConnectionForceTimeout = 2 * time.Second
	DefaultTelemetryTimeout       = 10 * time.Second
)

const instrumentationName = "goa.design/hello-temporal"

type (
	// Options tunes a Process. The zero value is ready to use.
	Options struct {
		// Logger defaults to a noop logger.
		Logger telemetry.Logger

		// Identity is the Temporal client identity.
		Identity string

		// Client replaces the dialed Temporal client.
		Client client.Client
		// NewRunner replaces the Temporal SDK worker of NewWorker processes.
		NewRunner temporal.RunnerFactory
		// SpanExporter and MetricReader replace the OTLP exporters.
		SpanExporter sdktrace.SpanExporter
		MetricReader sdkmetric.Reader

		RuntimeStopTimeout     time.Duration
		RuntimeForceTimeout    time.Duration
		ConnectionStopTimeout  time.Duration
		ConnectionForceTimeout time.Duration
		// TelemetryTimeout bounds each telemetry flush and shutdown step.
		// The telemetry stage as a whole is bounded by
		// telemetry.ShutdownTimeout(TelemetryTimeout).
		TelemetryTimeout time.Duration
	}

	// Process is a running worker or starter. Create it with NewWorker or
	// NewStarter, then call Start (or Run) and Shutdown.
	Process struct {
		cfg    *config.Config
		opts   Options
		logger telemetry.Logger
		coord  *lifecycle.Coordinator

		mu       sync.RWMutex
		provider *telemetry.Provider
		conn     *temporal.Connection
		runtime  *temporal.Runtime
	}
)

// NewWorker returns the worker process. Once started it polls the configured
// task queue for greeting workflow tasks.
func NewWorker(cfg *config.Config, opts Options) *Process {
	p := newProcess(cfg, opts)
	p.coord = lifecycle.New(lifecycle.Options{Logger: p.logger},
		p.configStage(), p.telemetryStage(), p.connectionStage(), p.runtimeStage())
	return p
}

// NewStarter returns the starter process: a connection without a worker,
// used to execute the greeting workflow with Greet.
func NewStarter(cfg *config.Config, opts Options) *Process {
	p := newProcess(cfg, opts)
	p.coord = lifecycle.New(lifecycle.Options{Logger: p.logger},
		p.configStage(), p.telemetryStage(), p.connectionStage())
	return p
}

func newProcess(cfg *config.Config, opts Options) *Process {
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	setDefault(&opts.RuntimeStopTimeout, DefaultRuntimeStopTimeout)
	setDefault(&opts.RuntimeForceTimeout, DefaultRuntimeForceTimeout)
	setDefault(&opts.ConnectionStopTimeout, DefaultConnectionStopTimeout)
	setDefault(&opts.ConnectionForceTimeout, DefaultConnectionForceTimeout)
	setDefault(&opts.TelemetryTimeout, DefaultTelemetryTimeout)
	return &Process{cfg: cfg, opts: opts, logger: opts.Logger}
}

func setDefault(d *time.Duration, def time.Duration) {
	if *d <= 0 {
		*d = def
	}
}

// Start runs the startup stages. See lifecycle.Coordinator.Start: a call
// made while another Start is in flight returns nil before the handles
// exist, so check State before calling Greet.
func (p *Process) Start(ctx context.Context) error {
	return p.coord.Start(ctx)
}

// Shutdown releases everything Start created. See
// lifecycle.Coordinator.Shutdown.
func (p *Process) Shutdown(ctx context.Context) error {
	return p.coord.Shutdown(ctx)
}

// Run starts the process and blocks until ctx is cancelled or the worker
// reports a fatal error, then shuts down. It returns the startup error or
// the worker fatal error.
func (p *Process) Run(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}
	var fatal <-chan error
	if rt := p.Runtime(); rt != nil {
		fatal = rt.Fatal()
	}
	var runErr error
	select {
	case <-ctx.Done():
		p.logger.Info(ctx, "shutdown requested")
	case err := <-fatal:
		runErr = fmt.Errorf("worker stopped: %w", err)
	}
	if err := p.Shutdown(context.WithoutCancel(ctx)); err != nil {
		runErr = errors.Join(runErr, err)
	}
	return runErr
}

// Config returns the process configuration.
func (p *Process) Config() *config.Config { return p.cfg }

// State returns the lifecycle state.
func (p *Process) State() lifecycle.State { return p.coord.State() }

// Err returns the startup error, if startup failed.
func (p *Process) Err() error { return p.coord.Err() }

// Done is closed once the process is stopped.
func (p *Process) Done() <-chan struct{} { return p.coord.Done() }

// Telemetry returns the telemetry handle, nil before the telemetry stage.
func (p *Process) Telemetry() *telemetry.Provider {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.provider
}

// Connection returns the Temporal connection, nil before the connection
// stage.
func (p *Process) Connection() *temporal.Connection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.conn
}

// Runtime returns the worker runtime. It is always nil for starters.
func (p *Process) Runtime() *temporal.Runtime {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.runtime
}

// TelemetryStatus describes where spans and metrics go.
func (p *Process) TelemetryStatus() string {
	tp := p.Telemetry()
	if tp == nil || !tp.Enabled() {
		return "Telemetry disabled: traces and metrics are not exported"
	}
	return "Metrics and traces are being exported to " + tp.Endpoint()
}

func (p *Process) configStage() lifecycle.Stage {
	return lifecycle.Stage{
		Name: StageConfig,
		Start: func(context.Context) (lifecycle.Component, error) {
			if p.cfg == nil {
				return nil, errors.New("configuration is required")
			}
			return nil, p.cfg.Validate()
		},
	}
}

func (p *Process) telemetryStage() lifecycle.Stage {
	return lifecycle.Stage{
		Name:        StageTelemetry,
		StopTimeout: telemetry.ShutdownTimeout(p.opts.TelemetryTimeout),
		Start: func(ctx context.Context) (lifecycle.Component, error) {
			provider := p.newTelemetry(ctx)
			p.mu.Lock()
			p.provider = provider
			p.mu.Unlock()
			return provider, nil
		},
	}
}

func (p *Process) newTelemetry(ctx context.Context) *telemetry.Provider {
	tc := p.cfg.Telemetry
	if tc.Disabled {
		p.logger.Info(ctx, "telemetry disabled", "env", config.EnvSDKDisabled)
		return telemetry.Disabled()
	}
	provider, err := telemetry.New(ctx, telemetry.Options{
		ServiceName:      tc.ServiceName,
		ServiceNamespace: p.cfg.Temporal.Namespace,
		Environment:      tc.Environment,
		Endpoint:         tc.Endpoint,
		Headers:          p.cfg.AccessTokenHeader(),
		TracesExporter:   tc.TracesExporter,
		PrometheusAddr:   tc.PrometheusAddr,
		FlushTimeout:     p.opts.TelemetryTimeout,
		SpanExporter:     p.opts.SpanExporter,
		MetricReader:     p.opts.MetricReader,
		Logger:           p.logger,
	})
	if err != nil {
		p.logger.Warn(ctx, "continuing without telemetry", "err", err)
		return telemetry.Disabled()
	}
	return provider
}

func (p *Process) connectionStage() lifecycle.Stage {
	return lifecycle.Stage{
		Name:         StageConnection,
		StopTimeout:  p.opts.ConnectionStopTimeout,
		ForceTimeout: p.opts.ConnectionForceTimeout,
		Start: func(ctx context.Context) (lifecycle.Component, error) {
			tlsCfg, err := p.cfg.TLSConfig()
			if err != nil {
				return nil, err
			}
			provider := p.Telemetry()
			inst := temporal.InstrumentationOptions{DisableTracing: true, DisableMetrics: true}
			if provider != nil && provider.Enabled() {
				inst = temporal.InstrumentationOptions{
					Tracer: provider.TracerProvider().Tracer(instrumentationName),
					Meter:  provider.MeterProvider().Meter(instrumentationName),
				}
			}
			conn, err := temporal.Dial(ctx, temporal.ConnectionOptions{
				HostPort:        p.cfg.Temporal.HostPort,
				Namespace:       p.cfg.Temporal.Namespace,
				TLS:             tlsCfg,
				Identity:        p.opts.Identity,
				Client:          p.opts.Client,
				Instrumentation: inst,
				Logger:          p.logger,
			})
			if err != nil {
				return nil, err
			}
			p.mu.Lock()
			p.conn = conn
			p.mu.Unlock()
			return conn, nil
		},
	}
}

func (p *Process) runtimeStage() lifecycle.Stage {
	return lifecycle.Stage{
		Name:         StageRuntime,
		StopTimeout:  p.opts.RuntimeStopTimeout,
		ForceTimeout: p.opts.RuntimeForceTimeout,
		Start: func(ctx context.Context) (lifecycle.Component, error) {
			rt, err := temporal.NewRuntime(p.Connection(), temporal.RuntimeOptions{
				TaskQueue:   p.cfg.Temporal.TaskQueue,
				StopTimeout: p.opts.RuntimeStopTimeout,
				Logger:      p.logger,
				NewRunner:   p.opts.NewRunner,
			})
			if err != nil {
				return nil, err
			}
			if err := workflows.Register(rt); err != nil {
				return nil, err
			}
			if err := rt.Start(ctx); err != nil {
				return nil, err
			}
			p.mu.Lock()
			p.runtime = rt
			p.mu.Unlock()
			return rt, nil
		},
	}
}
