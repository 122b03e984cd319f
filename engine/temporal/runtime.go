package temporal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"goa.design/hello-temporal/telemetry"
)

// DefaultStopTimeout is how long a stopping worker lets in-flight tasks
// finish before the SDK cancels them.
const DefaultStopTimeout = 3 * time.Second

type (
	// RuntimeOptions configures NewRuntime.
	RuntimeOptions struct {
		// TaskQueue is the queue the worker polls. Required.
		TaskQueue string
		// StopTimeout is the graceful drain window. Defaults to
		// DefaultStopTimeout.
		StopTimeout time.Duration
		// Options are forwarded to worker.New. WorkerStopTimeout and
		// OnFatalError are overridden.
		Options worker.Options
		// Logger defaults to a noop logger.
		Logger telemetry.Logger
		// NewRunner builds the worker. Defaults to NewWorker.
		NewRunner RunnerFactory
	}

	// Runner is the subset of worker.Worker driven by Runtime.
	Runner interface {
		Start() error
		Stop()
		RegisterWorkflowWithOptions(w any, options workflow.RegisterOptions)
	}

	// RunnerFactory creates the Runner polling taskQueue. opts carries the
	// stop timeout, fatal error callback and interceptors set by NewRuntime.
	RunnerFactory func(c client.Client, taskQueue string, opts worker.Options) Runner

	// Runtime is a worker polling one task queue.
	Runtime struct {
		runner    Runner
		taskQueue string
		logger    telemetry.Logger

		mu      sync.Mutex
		started bool

		fatal     chan error
		fatalOnce sync.Once

		stopOnce sync.Once
		stopped  chan struct{}
	}
)

// ErrRuntimeStarted is returned when registering a workflow after Start.
var ErrRuntimeStarted = errors.New("temporal runtime already started")

// NewRuntime creates a worker for opts.TaskQueue on the connection's client.
// The worker inherits the connection instrumentation.
func NewRuntime(conn *Connection, opts RuntimeOptions) (*Runtime, error) {
	if conn == nil {
		return nil, errors.New("temporal runtime: connection is required")
	}
	if opts.TaskQueue == "" {
		return nil, errors.New("temporal runtime: task queue is required")
	}
	stopTimeout := opts.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}
	workerOpts := opts.Options
	workerOpts.WorkerStopTimeout = stopTimeout
	applyWorkerInstrumentation(&workerOpts, conn.workerInst)

	newRunner := opts.NewRunner
	if newRunner == nil {
		newRunner = NewWorker
	}

	r := newRuntime(nil, opts.TaskQueue, opts.Logger)
	workerOpts.OnFatalError = r.reportFatal
	r.runner = newRunner(conn.Client(), opts.TaskQueue, workerOpts)
	if r.runner == nil {
		return nil, errors.New("temporal runtime: runner factory returned nil")
	}
	return r, nil
}

// NewWorker is the default RunnerFactory: a Temporal SDK worker.
func NewWorker(c client.Client, taskQueue string, opts worker.Options) Runner {
	return worker.New(c, taskQueue, opts)
}

func newRuntime(rn Runner, taskQueue string, logger telemetry.Logger) *Runtime {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Runtime{
		runner:    rn,
		taskQueue: taskQueue,
		logger:    logger,
		fatal:     make(chan error, 1),
		stopped:   make(chan struct{}),
	}
}

// TaskQueue returns the polled task queue.
func (r *Runtime) TaskQueue() string { return r.taskQueue }

// RegisterWorkflow registers fn under name. It must be called before Start.
func (r *Runtime) RegisterWorkflow(name string, fn any) error {
	if name == "" {
		return errors.New("temporal runtime: workflow name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return ErrRuntimeStarted
	}
	r.runner.RegisterWorkflowWithOptions(fn, workflow.RegisterOptions{Name: name})
	return nil
}

// Start begins polling. It returns once the pollers are running.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}
	if err := r.runner.Start(); err != nil {
		return fmt.Errorf("start worker on %q: %w", r.taskQueue, err)
	}
	r.started = true
	r.logger.Info(ctx, "temporal worker polling", "task_queue", r.taskQueue)
	return nil
}

// Fatal delivers the error that made the worker give up (for instance an
// unknown namespace or revoked credentials). At most one error is sent.
func (r *Runtime) Fatal() <-chan error { return r.fatal }

// Shutdown stops polling and waits for in-flight tasks to drain. The worker
// cancels whatever is left once the stop timeout elapses; Shutdown returns
// ctx.Err() if ctx ends first.
func (r *Runtime) Shutdown(ctx context.Context) error {
	return r.stop(ctx)
}

// ForceShutdown waits for the stop started by Shutdown, which by now has
// cancelled in-flight tasks, to complete.
func (r *Runtime) ForceShutdown(ctx context.Context) error {
	return r.stop(ctx)
}

func (r *Runtime) stop(ctx context.Context) error {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		started := r.started
		r.mu.Unlock()
		if !started {
			close(r.stopped)
			return
		}
		go func() {
			defer close(r.stopped)
			defer func() {
				if p := recover(); p != nil {
					r.logger.Error(context.Background(), "temporal worker stop panicked", "panic", p)
				}
			}()
			r.runner.Stop()
		}()
	})
	select {
	case <-r.stopped:
		r.logger.Debug(ctx, "temporal worker stopped", "task_queue", r.taskQueue)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runtime) reportFatal(err error) {
	r.fatalOnce.Do(func() {
		r.logger.Error(context.Background(), "temporal worker failed", "task_queue", r.taskQueue, "err", err)
		r.fatal <- err
	})
}
