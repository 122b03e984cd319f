// Command hello-worker runs the Temporal worker that executes the greeting
// workflow. It polls the task queue until interrupted (SIGINT or SIGTERM)
// and then drains in-flight tasks before exiting.
//
// # Configuration
//
// Environment variables:
//
//	TEMPORAL_HOST_URL            - Temporal frontend (default: "localhost:7233")
//	TEMPORAL_NAMESPACE           - Namespace (default: "default")
//	TEMPORAL_TASK_QUEUE          - Task queue (default: "hello-world-task-queue")
//	TEMPORAL_TLS_CERT            - mTLS client certificate, required for remote hosts
//	TEMPORAL_TLS_KEY             - mTLS client key, required for remote hosts
//	OTEL_EXPORTER_OTLP_ENDPOINT  - OTLP/gRPC collector (default: "http://localhost:4317")
//	OTEL_ACCESS_TOKEN            - "header=value" sent to remote collectors
//	OTEL_RESOURCE_ATTRIBUTES     - "service.name=...,environment=..."
//	OTEL_ENVIRONMENT             - Deployment environment (default: "development")
//	OTEL_SDK_DISABLED            - Disable span and metric export
//	OTEL_TRACES_EXPORTER         - "otlp", "console" or "none" (default: "otlp")
//	OTEL_PROMETHEUS_ADDR         - Also serve metrics on http://<addr>/metrics
//	HELLO_DEBUG                  - Enable debug logs
//
// # Example
//
//	go run ./cmd/hello-worker
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"goa.design/clue/log"

	"goa.design/hello-temporal/app"
	"goa.design/hello-temporal/config"
	"goa.design/hello-temporal/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "hello-worker:", err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "hello-worker",
		Short:         "Run the worker executing the HelloWorldWorkflow",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context())
		},
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx = logContext(ctx, cfg.Debug)

	worker := app.NewWorker(cfg, app.Options{Logger: telemetry.NewClueLogger()})
	log.Print(ctx, log.KV{K: "msg", V: "worker starting"},
		log.KV{K: "host_port", V: cfg.Temporal.HostPort},
		log.KV{K: "task_queue", V: cfg.Temporal.TaskQueue})
	if err := worker.Run(ctx); err != nil {
		return err
	}
	log.Print(ctx, log.KV{K: "msg", V: "worker stopped"})
	return nil
}

func logContext(ctx context.Context, debug bool) context.Context {
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx = log.Context(ctx, log.WithFormat(format))
	if debug {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}
	return ctx
}
