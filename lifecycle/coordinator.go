package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"goa.design/hello-temporal/telemetry"
)

const (
	// DefaultStopTimeout bounds a graceful release when a stage omits it.
	DefaultStopTimeout = 3 * time.Second
	// DefaultForceTimeout bounds a forced release when a stage omits it.
	DefaultForceTimeout = 2 * time.Second
)

type (
	// Component is a resource created by a stage and released by the
	// coordinator during teardown.
	Component interface {
		Shutdown(ctx context.Context) error
	}

	// Forcer is implemented by components that can be stopped
	// non-gracefully once a graceful Shutdown failed or timed out.
	Forcer interface {
		ForceShutdown(ctx context.Context) error
	}

	// Stage is one ordered startup step. Start may return a nil Component
	// when the stage allocates nothing (validation for instance).
	Stage struct {
		// Name identifies the stage in errors and logs.
		Name string
		// Start creates the stage resource. It runs on the goroutine that
		// called Coordinator.Start.
		Start func(ctx context.Context) (Component, error)
		// StopTimeout bounds the graceful release of the component.
		StopTimeout time.Duration
		// ForceTimeout bounds the forced release of the component. Only used
		// when the component implements Forcer.
		ForceTimeout time.Duration
	}

	// Options configures a Coordinator.
	Options struct {
		// Logger receives lifecycle transitions and shutdown step failures.
		// Defaults to a noop logger.
		Logger telemetry.Logger
	}

	// Coordinator sequences the startup and teardown of a fixed list of
	// stages. Startup runs stages in order and is all-or-nothing: when a
	// stage fails, the components created so far are released in reverse
	// order and the coordinator ends Stopped with the startup error.
	// Shutdown releases components in reverse creation order; each release
	// is bounded and failures are logged, never returned.
	//
	// A Coordinator is single use. All methods are safe for concurrent use.
	Coordinator struct {
		stages []Stage
		logger telemetry.Logger

		mu         sync.Mutex
		state      State
		components []startedComponent
		startErr   error
		startDone  chan struct{}
		stopped    chan struct{}
	}

	startedComponent struct {
		stage     Stage
		component Component
	}
)

// New returns a coordinator for the given stages, in startup order.
func New(opts Options, stages ...Stage) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	normalized := make([]Stage, len(stages))
	for i, s := range stages {
		if s.StopTimeout <= 0 {
			s.StopTimeout = DefaultStopTimeout
		}
		if s.ForceTimeout <= 0 {
			s.ForceTimeout = DefaultForceTimeout
		}
		normalized[i] = s
	}
	return &Coordinator{
		stages:    normalized,
		logger:    logger,
		startDone: make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the startup error that stopped the coordinator, if any.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startErr
}

// Done returns a channel closed once the coordinator reaches Stopped.
func (c *Coordinator) Done() <-chan struct{} {
	return c.stopped
}

// Start runs the stages in order and moves the coordinator to Running.
//
// Start is idempotent: calling it while another Start is in flight or after
// Running was reached returns nil without running any stage again. A nil
// return from a concurrent call does not mean the stages are ready: the
// coordinator may still be Initializing, and callers that need the started
// components must wait for State to report Running. Calling Start after
// shutdown returns ErrStopped. When a stage fails, Start tears down what was
// created and returns a *StartupError naming the stage.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case Initializing, Running:
		c.mu.Unlock()
		return nil
	case ShuttingDown, Stopped:
		c.mu.Unlock()
		return ErrStopped
	}
	c.state = Initializing
	c.mu.Unlock()
	defer close(c.startDone)

	c.logger.Info(ctx, "lifecycle starting", "stages", len(c.stages))
	for _, stage := range c.stages {
		comp, err := runStage(ctx, stage)
		if err != nil {
			serr := &StartupError{Stage: stage.Name, Err: err}
			c.logger.Error(ctx, "lifecycle startup failed", "stage", stage.Name, "err", err)
			c.mu.Lock()
			c.state = ShuttingDown
			c.startErr = serr
			c.mu.Unlock()
			c.teardown(ctx)
			c.finish()
			return serr
		}
		if comp != nil {
			c.mu.Lock()
			c.components = append(c.components, startedComponent{stage: stage, component: comp})
			c.mu.Unlock()
		}
		c.logger.Debug(ctx, "lifecycle stage ready", "stage", stage.Name)
	}

	c.mu.Lock()
	c.state = Running
	c.mu.Unlock()
	c.logger.Info(ctx, "lifecycle running")
	return nil
}

// Shutdown releases every component in reverse creation order and moves the
// coordinator to Stopped.
//
// Concurrent calls collapse into a single teardown: the first caller runs
// it and the others block until Stopped. A Shutdown issued while Start is in
// flight waits for startup to complete first. The returned error is non-nil
// only when ctx ends before the coordinator stopped; release failures are
// logged and never returned.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	for {
		c.mu.Lock()
		switch c.state {
		case Uninitialized:
			c.state = Stopped
			c.mu.Unlock()
			close(c.stopped)
			return nil
		case Initializing:
			startDone := c.startDone
			c.mu.Unlock()
			select {
			case <-startDone:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		case Running:
			c.state = ShuttingDown
			c.mu.Unlock()
			c.logger.Info(ctx, "lifecycle shutting down")
			c.teardown(ctx)
			c.finish()
			c.logger.Info(ctx, "lifecycle stopped")
			return nil
		default:
			c.mu.Unlock()
			select {
			case <-c.stopped:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// runStage invokes stage.Start, converting a panic into a stage error so
// the partially started components are still released.
func runStage(ctx context.Context, stage Stage) (comp Component, err error) {
	defer func() {
		if r := recover(); r != nil {
			comp, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return stage.Start(ctx)
}

func (c *Coordinator) finish() {
	c.mu.Lock()
	c.state = Stopped
	c.mu.Unlock()
	close(c.stopped)
}

// teardown releases the started components in reverse order. It must only
// be called by the goroutine that moved the state to ShuttingDown.
func (c *Coordinator) teardown(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	c.mu.Lock()
	components := c.components
	c.components = nil
	c.mu.Unlock()

	for i := len(components) - 1; i >= 0; i-- {
		c.release(ctx, components[i])
	}
}

func (c *Coordinator) release(ctx context.Context, sc startedComponent) {
	name := sc.stage.Name
	start := time.Now()
	err := callBounded(ctx, sc.stage.StopTimeout, sc.component.Shutdown)
	if err == nil {
		c.logger.Debug(ctx, "component released", "stage", name, "elapsed", time.Since(start).String())
		return
	}
	c.logger.Warn(ctx, "graceful shutdown failed", "err", &ShutdownStepError{Step: name, Err: err})

	forcer, ok := sc.component.(Forcer)
	if !ok {
		return
	}
	if err := callBounded(ctx, sc.stage.ForceTimeout, forcer.ForceShutdown); err != nil {
		c.logger.Error(ctx, "forced shutdown failed", "err", &ShutdownStepError{Step: name, Forced: true, Err: err})
		return
	}
	c.logger.Info(ctx, "component force stopped", "stage", name)
}
