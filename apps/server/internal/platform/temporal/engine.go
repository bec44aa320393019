package temporalplatform

import (
	"context"
	"errors"
	"fmt"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"github.com/loomhq/loom/apps/server/internal/migrations"
	"github.com/loomhq/loom/apps/server/internal/migrations/execution"
)

// Compile-time check: *Engine implements migrations.ExecutionEngine.
var _ migrations.ExecutionEngine = (*Engine)(nil)

const taskQueue = "loom-migrations"

// Engine implements migrations.ExecutionEngine using the Temporal SDK client.
// Temporal's NotFound service errors are translated to RunNotFoundError so
// the service layer can heal stale store state without knowing the runtime.
type Engine struct {
	c client.Client
}

// NewEngine creates a new Temporal execution engine.
func NewEngine(c client.Client) *Engine {
	return &Engine{c: c}
}

// TaskQueue returns the Temporal task queue name used by the engine.
func TaskQueue() string { return taskQueue }

// StartRun starts a new Temporal workflow execution with the given instance id.
func (e *Engine) StartRun(ctx context.Context, workflowName, instanceID string, input any) (string, error) {
	opts := client.StartWorkflowOptions{
		ID:        instanceID,
		TaskQueue: taskQueue,
	}
	run, err := e.c.ExecuteWorkflow(ctx, opts, workflowName, input)
	if err != nil {
		// Two concurrent starts of the same instance id are serialized here:
		// Temporal rejects the second while the first is still running.
		var alreadyStarted *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &alreadyStarted) {
			_, candidateID, perr := migrations.ParseRunID(instanceID)
			if perr != nil {
				candidateID = instanceID
			}
			return "", migrations.CandidateAlreadyRunError{ID: candidateID, Status: "running"}
		}
		return "", fmt.Errorf("start workflow %q: %w", workflowName, err)
	}
	return run.GetID(), nil
}

// GetStatus returns the runtime status and step history of a run. Live runs
// are queried for progress; finished runs yield their final result.
func (e *Engine) GetStatus(ctx context.Context, instanceID string) (*migrations.RunStatus, error) {
	desc, err := e.c.DescribeWorkflowExecution(ctx, instanceID, "")
	if err != nil {
		if isNotFound(err) {
			return nil, migrations.RunNotFoundError{InstanceID: instanceID}
		}
		return nil, fmt.Errorf("describe workflow %q: %w", instanceID, err)
	}

	status := mapTemporalStatus(desc.WorkflowExecutionInfo.Status)
	rs := &migrations.RunStatus{RuntimeStatus: status}

	if status == migrations.RuntimeStatusRunning {
		val, err := e.c.QueryWorkflow(ctx, instanceID, "", "progress")
		if err == nil {
			var progress execution.MigrationResult
			if err := val.Get(&progress); err == nil {
				rs.Steps = progress.Results
			}
		}
		return rs, nil
	}

	// Finished run: the workflow result carries the final step history.
	// A failed or cancelled run returns an error from Get; the step history
	// is then unavailable and Steps stays empty.
	run := e.c.GetWorkflow(ctx, instanceID, "")
	var result execution.MigrationResult
	if err := run.Get(ctx, &result); err == nil {
		rs.Steps = result.Results
	}

	return rs, nil
}

// RaiseEvent signals a running workflow with an external event.
func (e *Engine) RaiseEvent(ctx context.Context, instanceID, eventName string, payload any) error {
	if err := e.c.SignalWorkflow(ctx, instanceID, "", eventName, payload); err != nil {
		if isNotFound(err) {
			return migrations.RunNotFoundError{InstanceID: instanceID}
		}
		return fmt.Errorf("signal %q on %q: %w", eventName, instanceID, err)
	}
	return nil
}

// CancelRun requests cooperative cancellation of a workflow execution.
func (e *Engine) CancelRun(ctx context.Context, instanceID string) error {
	if err := e.c.CancelWorkflow(ctx, instanceID, ""); err != nil {
		if isNotFound(err) {
			return migrations.RunNotFoundError{InstanceID: instanceID}
		}
		return fmt.Errorf("cancel workflow %q: %w", instanceID, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var notFound *serviceerror.NotFound
	return errors.As(err, &notFound)
}

func mapTemporalStatus(s enumspb.WorkflowExecutionStatus) string {
	switch s {
	case enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING:
		return migrations.RuntimeStatusRunning
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		return migrations.RuntimeStatusCompleted
	case enumspb.WORKFLOW_EXECUTION_STATUS_FAILED,
		enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT:
		return migrations.RuntimeStatusFailed
	case enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED:
		return migrations.RuntimeStatusCancelled
	case enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED:
		return migrations.RuntimeStatusTerminated
	case enumspb.WORKFLOW_EXECUTION_STATUS_UNSPECIFIED,
		enumspb.WORKFLOW_EXECUTION_STATUS_CONTINUED_AS_NEW:
		return migrations.RuntimeStatusUnknown
	default:
		return migrations.RuntimeStatusUnknown
	}
}
