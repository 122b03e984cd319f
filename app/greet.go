package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	sdktemporal "go.temporal.io/sdk/temporal"

	"goa.design/hello-temporal/lifecycle"
	"goa.design/hello-temporal/telemetry"
	"goa.design/hello-temporal/workflows"
)

// Metric names recorded by Greet.
const (
	MetricExecutions = "hello.workflow.executions"
	MetricDuration   = "hello.workflow.duration"
)

// WorkflowIDPrefix prefixes the generated workflow IDs.
const WorkflowIDPrefix = "hello-world-"

// ErrNotRunning is returned by Greet when the process is not Running.
var ErrNotRunning = errors.New("process is not running")

// Greeting is the outcome of a greeting workflow execution.
type Greeting struct {
	WorkflowID string
	RunID      string
	Result     string
	Duration   time.Duration
}

// RetryPolicy is the retry policy of greeting executions.
func RetryPolicy() *sdktemporal.RetryPolicy {
	return &sdktemporal.RetryPolicy{
		InitialInterval:    time.Second,
		MaximumInterval:    10 * time.Second,
		BackoffCoefficient: 2.0,
		MaximumAttempts:    3,
	}
}

// Greet executes the greeting workflow for name and waits for its result.
// The call is traced by a StartWorkflow span with an ExecuteWorkflow child
// covering the wait for the result.
func (p *Process) Greet(ctx context.Context, name string) (*Greeting, error) {
	if p.State() != lifecycle.Running {
		return nil, ErrNotRunning
	}
	conn := p.Connection()
	provider := p.Telemetry()
	tracer, metrics := telemetry.NewNoopTracer(), telemetry.NewNoopMetrics()
	if provider != nil {
		tracer, metrics = provider.Tracer(), provider.Metrics()
	}
	taskQueue := p.cfg.Temporal.TaskQueue
	workflowID := WorkflowIDPrefix + uuid.NewString()
	started := time.Now()

	ctx, span := tracer.Start(ctx, "StartWorkflow")
	defer span.End()
	span.SetAttributes(
		"workflow.name", workflows.HelloWorldName,
		"workflow.input", name,
		"workflow.id", workflowID,
		"workflow.task_queue", taskQueue,
		"workflow.attempt", 1,
	)

	greeting, err := p.execute(ctx, tracer, conn.Client(), workflowID, taskQueue, name)
	elapsed := time.Since(started)
	outcome := "success"
	if err != nil {
		outcome = "failure"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Error(ctx, "greeting workflow failed", "workflow_id", workflowID, "err", err)
	} else {
		span.SetStatus(codes.Ok, "")
		greeting.Duration = elapsed
		p.logger.Info(ctx, "greeting workflow completed",
			"workflow_id", workflowID, "result", greeting.Result, "elapsed", elapsed.String())
	}
	metrics.IncCounter(MetricExecutions, 1, "workflow.name", workflows.HelloWorldName, "outcome", outcome)
	metrics.RecordTimer(MetricDuration, elapsed, "workflow.name", workflows.HelloWorldName, "outcome", outcome)
	return greeting, err
}

func (p *Process) execute(ctx context.Context, tracer telemetry.Tracer, c client.Client, workflowID, taskQueue, name string) (*Greeting, error) {
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                    workflowID,
		TaskQueue:             taskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE_FAILED_ONLY,
		RetryPolicy:           RetryPolicy(),
	}, workflows.HelloWorldName, name)
	if err != nil {
		return nil, fmt.Errorf("start workflow %s: %w", workflowID, err)
	}

	ctx, span := tracer.Start(ctx, "ExecuteWorkflow")
	defer span.End()
	span.SetAttributes(
		"workflow.id", workflowID,
		"workflow.run_id", run.GetRunID(),
		"workflow.task_queue", taskQueue,
	)
	var result string
	if err := run.Get(ctx, &result); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("workflow %s: %w", workflowID, err)
	}
	span.SetAttributes("workflow.result", result)
	span.SetStatus(codes.Ok, "")
	return &Greeting{WorkflowID: workflowID, RunID: run.GetRunID(), Result: result}, nil
}
