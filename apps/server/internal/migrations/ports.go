package migrations

import (
	"context"

	"github.com/loomhq/loom/pkg/api"
)

// ExecutionEngine abstracts the durable workflow runtime.
// The platform/temporal package provides the concrete implementation.
type ExecutionEngine interface {
	// StartRun starts a named workflow. A second start with the same
	// instance id while the first is live fails with the engine's
	// already-exists error.
	StartRun(ctx context.Context, workflowName, instanceID string, input any) (string, error)
	// GetStatus reports the runtime status and step history of a run.
	// Returns RunNotFoundError when the instance is unknown.
	GetStatus(ctx context.Context, instanceID string) (*RunStatus, error)
	// RaiseEvent delivers a named signal to a live run.
	RaiseEvent(ctx context.Context, instanceID, eventName string, payload any) error
	// CancelRun requests cooperative cancellation of a run.
	CancelRun(ctx context.Context, instanceID string) error
}

// MigratorNotifier dispatches step requests to external migrator processes.
// Implementations: direct HTTP POST and Redis pub/sub; behaviour contracts
// are identical and delivery is at-least-once.
type MigratorNotifier interface {
	Dispatch(ctx context.Context, req api.DispatchStepRequest) error
}

// DryRunner forwards a simulated step sequence to a migrator and returns
// per-step file diffs.
type DryRunner interface {
	DryRun(ctx context.Context, migratorURL string, req api.DryRunRequest) (*api.DryRunResult, error)
}

// MigrationStore persists migration definitions and per-candidate run
// status. Candidate status writes are last-writer-wins; no cross-key
// transactions are assumed.
type MigrationStore interface {
	Save(ctx context.Context, m api.Migration) error
	Get(ctx context.Context, id string) (*api.Migration, error)
	List(ctx context.Context) ([]api.Migration, error)
	SetCandidateStatus(ctx context.Context, migrationID, candidateID string, status api.CandidateStatus) error
	UpdateCandidateMetadata(ctx context.Context, migrationID, candidateID string, metadata map[string]string) error
	SaveCandidates(ctx context.Context, migrationID string, candidates []api.Candidate) error
	GetCandidates(ctx context.Context, migrationID string) ([]api.Candidate, error)
}

// EventStore records lifecycle events for dashboards and metrics. It is an
// optional dependency: the service tolerates a nil EventStore.
type EventStore interface {
	RecordEvent(ctx context.Context, event StepEvent) error
	GetOverview(ctx context.Context) (*MetricsOverview, error)
	GetStepMetrics(ctx context.Context) ([]StepMetrics, error)
	GetTimeline(ctx context.Context, days int) ([]TimelinePoint, error)
	GetRecentFailures(ctx context.Context, limit int) ([]StepEvent, error)
}
