// Command hello-starter executes the greeting workflow once and prints its
// result. The worker (hello-worker) must be running on the same task queue.
//
// Usage:
//
//	hello-starter [name]
//
// The name defaults to "Temporal". Configuration is read from the same
// environment variables as hello-worker.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"goa.design/clue/log"

	"goa.design/hello-temporal/app"
	"goa.design/hello-temporal/config"
	"goa.design/hello-temporal/telemetry"
)

const defaultName = "Temporal"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newCommand(os.Stdout).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "hello-starter:", err)
		os.Exit(1)
	}
}

func newCommand(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:           "hello-starter [name]",
		Short:         "Execute the HelloWorldWorkflow and print the greeting",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := defaultName
			if len(args) == 1 {
				name = args[0]
			}
			return run(cmd.Context(), out, name)
		},
	}
}

func run(ctx context.Context, out io.Writer, name string) (err error) {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx = log.Context(ctx, log.WithFormat(format))
	if cfg.Debug {
		ctx = log.Context(ctx, log.WithDebug())
	}

	starter := app.NewStarter(cfg, app.Options{Logger: telemetry.NewClueLogger()})
	if err := starter.Start(ctx); err != nil {
		return err
	}
	defer func() {
		// Flushes the workflow spans before exiting.
		if serr := starter.Shutdown(context.WithoutCancel(ctx)); serr != nil && err == nil {
			err = serr
		}
	}()

	greeting, err := starter.Greet(ctx, name)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "Workflow execution completed:")
	fmt.Fprintln(out, "Result:", greeting.Result)
	fmt.Fprintln(out, "Workflow ID:", greeting.WorkflowID)
	if starter.Telemetry().Enabled() {
		fmt.Fprintln(out, starter.TelemetryStatus())
	} else {
		fmt.Fprintln(out, "Warning:", starter.TelemetryStatus())
	}
	return nil
}
