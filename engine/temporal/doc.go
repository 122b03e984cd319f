// Package temporal connects the process to a Temporal frontend and runs the
// worker that executes the greeting workflow.
//
// # Connection
//
// Dial creates the client. Unless instrumentation is disabled, the OTEL
// tracing interceptor and metrics handler from the Temporal contrib module
// are attached to the client and later to every worker built on it:
//
//	conn, err := temporal.Dial(ctx, temporal.ConnectionOptions{
//	    HostPort:  "localhost:7233",
//	    Namespace: "default",
//	    Instrumentation: temporal.InstrumentationOptions{
//	        Tracer: tp.Tracer("hello"),
//	        Meter:  mp.Meter("hello"),
//	    },
//	})
//
// # Runtime
//
// NewRuntime binds a worker to a task queue. Register workflows before Start.
// Shutdown stops polling and drains in-flight tasks for the configured stop
// timeout, after which the SDK cancels whatever is still running;
// ForceShutdown waits for that cancellation to complete.
//
// Connection and Runtime both satisfy the shutdown contract used by the
// lifecycle coordinator and may be released concurrently and repeatedly.
package temporal
