package execution

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/loomhq/loom/apps/server/internal/migrations"
	"github.com/loomhq/loom/pkg/api"
)

const instrName = "github.com/loomhq/loom"

// Activities groups the Temporal activity methods the orchestrator calls.
// The struct holds dependencies injected at startup (idiomatic Temporal
// pattern). events may be nil; RecordEvent is then a no-op.
type Activities struct {
	notifier migrations.MigratorNotifier
	store    migrations.MigrationStore
	events   migrations.EventStore
	log      *slog.Logger
}

// NewActivities creates a new Activities instance with the given dependencies.
func NewActivities(
	notifier migrations.MigratorNotifier,
	store migrations.MigrationStore,
	events migrations.EventStore,
	log *slog.Logger,
) *Activities {
	return &Activities{notifier: notifier, store: store, events: events, log: log}
}

// DispatchStep publishes a step request to the owning migrator via the
// MigratorNotifier.
func (a *Activities) DispatchStep(ctx context.Context, req api.DispatchStepRequest) error {
	a.log.Info("DispatchStep activity called",
		"step", req.StepName,
		"candidate", req.Candidate.Id,
		"migratorApp", req.MigratorApp,
	)

	ctx, span := otel.Tracer(instrName).Start(ctx, "DispatchStep",
		trace.WithAttributes(
			attribute.String("step.name", req.StepName),
			attribute.String("candidate.id", req.Candidate.Id),
		),
	)
	defer span.End()

	if err := a.notifier.Dispatch(ctx, req); err != nil {
		span.RecordError(err)
		return fmt.Errorf("dispatch step %q for %q: %w", req.StepName, req.Candidate.Id, err)
	}
	return nil
}

// UpdateCandidateStatusInput is the input for the UpdateCandidateStatus activity.
type UpdateCandidateStatusInput struct {
	MigrationID string `json:"migrationId"`
	CandidateID string `json:"candidateId"`
	Status      string `json:"status"`
}

// UpdateCandidateStatus writes the candidate status to the migration store.
func (a *Activities) UpdateCandidateStatus(ctx context.Context, input UpdateCandidateStatusInput) error {
	ctx, span := otel.Tracer(instrName).Start(ctx, "UpdateCandidateStatus",
		trace.WithAttributes(
			attribute.String("candidate.id", input.CandidateID),
			attribute.String("status", input.Status),
		),
	)
	defer span.End()

	if err := a.store.SetCandidateStatus(ctx, input.MigrationID, input.CandidateID, api.CandidateStatus(input.Status)); err != nil {
		span.RecordError(err)
		return fmt.Errorf("update candidate status: %w", err)
	}
	a.log.Info("updated candidate status",
		"migrationId", input.MigrationID,
		"candidate", input.CandidateID,
		"status", input.Status,
	)
	return nil
}

// RecordEvent appends a lifecycle event to the event store.
func (a *Activities) RecordEvent(ctx context.Context, event migrations.StepEvent) error {
	if a.events == nil {
		return nil
	}
	if err := a.events.RecordEvent(ctx, event); err != nil {
		return fmt.Errorf("record event %q: %w", event.EventType, err)
	}
	return nil
}
