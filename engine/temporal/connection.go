package temporal

import (
	"context"
	"crypto/tls"
	"errors"
	"sync"

	"go.temporal.io/sdk/client"

	"goa.design/hello-temporal/telemetry"
)

type (
	// ConnectionOptions configures Dial.
	ConnectionOptions struct {
		// HostPort is the Temporal frontend address. Required unless Client
		// is set.
		HostPort string
		// Namespace defaults to "default".
		Namespace string
		// TLS enables mutual TLS when non-nil.
		TLS *tls.Config
		// Identity is reported to the server for this client and its workers.
		// The SDK derives one from the host and PID when empty.
		Identity string
		// Lazy defers the network connection to the first call instead of
		// checking reachability in Dial.
		Lazy bool

		// Client is an optional pre-configured client. Dial then skips
		// connecting and only records the instrumentation so workers built on
		// the connection still get the tracing interceptor.
		Client client.Client

		// Instrumentation wires OTEL tracing and metrics into the client.
		Instrumentation InstrumentationOptions

		// Logger receives connection events and, through an adapter, the
		// Temporal SDK logs. Defaults to a noop logger.
		Logger telemetry.Logger
	}

	// Connection owns a Temporal client. It is released by Shutdown or
	// ForceShutdown; the underlying client is closed exactly once.
	Connection struct {
		client     client.Client
		hostPort   string
		namespace  string
		inst       *instrumentation
		workerInst *instrumentation
		logger     telemetry.Logger

		closeOnce sync.Once
		closed    chan struct{}
	}
)

// Dial connects to the Temporal frontend described by opts.
//
// When the OTEL interceptors cannot be built, Dial logs a warning and
// connects without instrumentation. Any failure to reach or authenticate to
// the frontend is returned as a *ConnectionError.
func Dial(ctx context.Context, opts ConnectionOptions) (*Connection, error) {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	namespace := opts.Namespace
	if namespace == "" {
		namespace = client.DefaultNamespace
	}

	inst, err := configureInstrumentation(opts.Instrumentation)
	if err != nil {
		logger.Warn(ctx, "temporal instrumentation unavailable, connecting without telemetry", "err", err)
		inst = nil
	}

	if opts.Client != nil {
		return newConnection(opts.Client, opts.HostPort, namespace, inst, inst, logger), nil
	}
	if opts.HostPort == "" {
		return nil, &ConnectionError{Namespace: namespace, Err: errors.New("host:port is required")}
	}

	clientOpts := client.Options{
		HostPort:  opts.HostPort,
		Namespace: namespace,
		Identity:  opts.Identity,
		Logger:    telemetry.NewTemporalLogger(ctx, logger),
	}
	if opts.TLS != nil {
		clientOpts.ConnectionOptions.TLS = opts.TLS
	}
	applyClientInstrumentation(&clientOpts, inst)

	var c client.Client
	if opts.Lazy {
		c, err = client.NewLazyClient(clientOpts)
	} else {
		c, err = client.DialContext(ctx, clientOpts)
	}
	if err != nil {
		return nil, &ConnectionError{HostPort: opts.HostPort, Namespace: namespace, Err: err}
	}
	logger.Info(ctx, "temporal client connected",
		"host_port", opts.HostPort,
		"namespace", namespace,
		"tls", opts.TLS != nil,
		"instrumented", inst != nil)
	// Interceptors installed on the client are inherited by its workers.
	return newConnection(c, opts.HostPort, namespace, inst, nil, logger), nil
}

func newConnection(c client.Client, hostPort, namespace string, inst, workerInst *instrumentation, logger telemetry.Logger) *Connection {
	return &Connection{
		client:     c,
		hostPort:   hostPort,
		namespace:  namespace,
		inst:       inst,
		workerInst: workerInst,
		logger:     logger,
		closed:     make(chan struct{}),
	}
}

// Client returns the Temporal client.
func (c *Connection) Client() client.Client { return c.client }

// Namespace returns the namespace the client is bound to.
func (c *Connection) Namespace() string { return c.namespace }

// Instrumented reports whether OTEL interceptors are attached.
func (c *Connection) Instrumented() bool { return c.inst != nil }

// Shutdown closes the client. It waits for the close to complete or for ctx
// to end, whichever happens first.
func (c *Connection) Shutdown(ctx context.Context) error {
	return c.close(ctx)
}

// ForceShutdown waits once more for the close started by Shutdown. Closing
// the client tears down its gRPC connection so there is no harsher action
// left to take.
func (c *Connection) ForceShutdown(ctx context.Context) error {
	return c.close(ctx)
}

func (c *Connection) close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		go func() {
			defer close(c.closed)
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error(context.Background(), "temporal client close panicked", "panic", r)
				}
			}()
			c.client.Close()
		}()
	})
	select {
	case <-c.closed:
		c.logger.Debug(ctx, "temporal client closed", "host_port", c.hostPort)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
