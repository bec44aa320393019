package execution

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/loomhq/loom/apps/server/internal/migrations"
	"github.com/loomhq/loom/pkg/api"
)

// Run result statuses as reported in MigrationResult.Status.
const (
	resultStatusRunning   = "running"
	resultStatusCompleted = "completed"
	resultStatusFailed    = "failed"
	resultStatusCancelled = "cancelled"
)

// MigrationResult is the workflow's return value and the payload of the
// "progress" query. Results is the step history, one entry per
// (step, candidate), upserted in place as events arrive.
type MigrationResult struct {
	MigrationId string          `json:"migrationId"`
	Status      string          `json:"status"`
	Results     []api.StepState `json:"results"`
}

// MigrationOrchestrator is the Temporal workflow that drives one candidate
// through a migration's steps in order.
//
// For each step it dispatches a request to the owning migrator via the
// DispatchStep activity, then waits on named signals:
//
//   - step-completed:<step>:<candidate> carries terminal and intermediate
//     StepStatusEvents from the migrator
//   - pr-opened:<step>:<candidate> surfaces a PR URL while the step is open
//   - retry-step:<step>:<candidate> re-dispatches a failed step
//   - update-inputs:<candidate> replaces candidate metadata before the next
//     dispatch
//
// A "progress" query exposes the accumulated step history while the run is
// live. On cancellation or failure the candidate is released back to
// not_started via a disconnected context so the cleanup survives the cancel.
//
//nolint:gocognit // orchestration state machine reads best in one place
func MigrationOrchestrator(
	ctx workflow.Context,
	manifest api.MigrationManifest,
) (MigrationResult, error) {
	results := make([]api.StepState, 0, len(manifest.Steps)*len(manifest.Candidates))

	if err := workflow.SetQueryHandler(ctx, "progress", func() (MigrationResult, error) {
		return MigrationResult{
			MigrationId: manifest.MigrationId,
			Status:      resultStatusRunning,
			Results:     results,
		}, nil
	}); err != nil {
		return MigrationResult{}, fmt.Errorf("register query handler: %w", err)
	}

	// Dispatches cover the whole migrator-side execution of a step, so they
	// get a long leash. Status writes and lifecycle events below do not.
	dispatchOpts := workflow.ActivityOptions{
		TaskQueue:           workflow.GetInfo(ctx).TaskQueueName,
		StartToCloseTimeout: 24 * time.Hour,
	}
	dispatchCtx := workflow.WithActivityOptions(ctx, dispatchOpts)
	log := workflow.GetLogger(ctx)
	callbackID := workflow.GetInfo(ctx).WorkflowExecution.ID
	runStart := workflow.Now(ctx)

	// Lifecycle events are fire-and-forget: a short single-attempt local
	// activity, so an event-store outage cannot stall the next dispatch.
	eventOpts := workflow.LocalActivityOptions{
		StartToCloseTimeout: 5 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	}
	recordEvent := func(rctx workflow.Context, ev migrations.StepEvent) {
		ev.MigrationID = manifest.MigrationId
		lctx := workflow.WithLocalActivityOptions(rctx, eventOpts)
		if err := workflow.ExecuteLocalActivity(lctx, "RecordEvent", ev).Get(lctx, nil); err != nil {
			log.Warn("failed to record lifecycle event", "eventType", ev.EventType, "error", err)
		}
	}

	// Candidate status writes go through the store activity; failures are
	// logged, never fatal, because the read path heals stale status anyway.
	statusOpts := workflow.ActivityOptions{
		TaskQueue:           workflow.GetInfo(ctx).TaskQueueName,
		StartToCloseTimeout: 30 * time.Second,
	}
	setCandidateStatus := func(wctx workflow.Context, candidateID string, status api.CandidateStatus) {
		input := UpdateCandidateStatusInput{
			MigrationID: manifest.MigrationId,
			CandidateID: candidateID,
			Status:      string(status),
		}
		sctx := workflow.WithActivityOptions(wctx, statusOpts)
		if err := workflow.ExecuteActivity(sctx, "UpdateCandidateStatus", input).Get(sctx, nil); err != nil {
			log.Warn("failed to update candidate status", "candidate", candidateID, "status", status, "error", err)
		}
	}

	// Cleanup on any non-completed exit. The disconnected context keeps the
	// reset activity runnable after the workflow context is cancelled.
	var finished bool
	var cancelled bool
	defer func() {
		if finished {
			return
		}
		dctx, _ := workflow.NewDisconnectedContext(ctx)
		for _, c := range manifest.Candidates {
			setCandidateStatus(dctx, c.Id, api.CandidateStatusNotStarted)
		}
		eventType := migrations.EventRunCompleted
		status := resultStatusFailed
		if cancelled {
			eventType = migrations.EventRunCancelled
			status = resultStatusCancelled
		}
		for _, c := range manifest.Candidates {
			recordEvent(dctx, migrations.StepEvent{
				CandidateID: c.Id,
				EventType:   eventType,
				Status:      status,
			})
		}
	}()

	for _, c := range manifest.Candidates {
		recordEvent(ctx, migrations.StepEvent{
			CandidateID: c.Id,
			EventType:   migrations.EventRunStarted,
		})
	}

	for _, step := range manifest.Steps {
		for ci := range manifest.Candidates {
			candidate := &manifest.Candidates[ci]

			updateInputsCh := workflow.GetSignalChannel(ctx, migrations.UpdateInputsEventName(candidate.Id))
			stepCompletedCh := workflow.GetSignalChannel(ctx, migrations.StepEventName(step.Name, candidate.Id))
			prOpenedCh := workflow.GetSignalChannel(ctx, migrations.PROpenedEventName(step.Name, candidate.Id))
			retryCh := workflow.GetSignalChannel(ctx, migrations.RetryStepEventName(step.Name, candidate.Id))

			var stepStart time.Time

			dispatch := func() error {
				drainInputs(updateInputsCh, candidate)

				entry := api.StepState{
					StepName:  step.Name,
					Candidate: *candidate,
					Status:    api.StepStateStatusInProgress,
				}
				if meta := manualReviewMetadata(step); meta != nil {
					entry.Metadata = meta
				}
				upsertResult(&results, entry)

				stepStart = workflow.Now(ctx)
				recordEvent(ctx, migrations.StepEvent{
					CandidateID: candidate.Id,
					StepName:    step.Name,
					EventType:   migrations.EventStepDispatched,
				})

				req := api.DispatchStepRequest{
					MigrationId: manifest.MigrationId,
					StepName:    step.Name,
					Candidate:   *candidate,
					Config:      step.Config,
					Type:        step.Type,
					CallbackId:  callbackID,
					EventName:   migrations.StepEventName(step.Name, candidate.Id),
					MigratorApp: step.MigratorApp,
					MigratorUrl: manifest.MigratorUrl,
				}
				return workflow.ExecuteActivity(dispatchCtx, "DispatchStep", req).Get(ctx, nil)
			}

			if err := dispatch(); err != nil {
				return MigrationResult{
					MigrationId: manifest.MigrationId,
					Status:      resultStatusFailed,
					Results:     results,
				}, fmt.Errorf("dispatch step %q for %q: %w", step.Name, candidate.Id, err)
			}

			for {
				// Wait for a terminal event. Intermediate pending and
				// pr-opened events update the entry and keep the wait open.
				var terminal api.StepStateStatus
				done := false
				for !done {
					sel := workflow.NewSelector(ctx)

					sel.AddReceive(prOpenedCh, func(ch workflow.ReceiveChannel, _ bool) {
						var event api.StepStatusEvent
						ch.Receive(ctx, &event)
						applyEvent(&results, *candidate, event, api.StepStateStatusPending)
					})

					sel.AddReceive(stepCompletedCh, func(ch workflow.ReceiveChannel, _ bool) {
						var event api.StepStatusEvent
						ch.Receive(ctx, &event)
						status := api.StepStateStatus(event.Status)
						applyEvent(&results, *candidate, event, status)
						if status != api.StepStateStatusPending {
							terminal = status
							done = true
						}
					})

					sel.AddReceive(ctx.Done(), func(workflow.ReceiveChannel, bool) {
						cancelled = true
						done = true
					})

					sel.Select(ctx)
				}

				if cancelled {
					return MigrationResult{
						MigrationId: manifest.MigrationId,
						Status:      resultStatusCancelled,
						Results:     results,
					}, temporal.NewCanceledError("run cancelled")
				}

				durationMs := int(workflow.Now(ctx).Sub(stepStart).Milliseconds())
				recordEvent(ctx, migrations.StepEvent{
					CandidateID: candidate.Id,
					StepName:    step.Name,
					EventType:   migrations.EventStepCompleted,
					Status:      string(terminal),
					DurationMs:  &durationMs,
				})

				if terminal != api.StepStateStatusFailed {
					break
				}

				// Failed step: hold here until an operator retries or
				// cancels. Updated inputs sent meanwhile are picked up by
				// the re-dispatch.
				retried := false
				sel := workflow.NewSelector(ctx)
				sel.AddReceive(retryCh, func(ch workflow.ReceiveChannel, _ bool) {
					ch.Receive(ctx, nil)
					retried = true
				})
				sel.AddReceive(ctx.Done(), func(workflow.ReceiveChannel, bool) {
					cancelled = true
				})
				sel.Select(ctx)

				if !retried {
					return MigrationResult{
						MigrationId: manifest.MigrationId,
						Status:      resultStatusCancelled,
						Results:     results,
					}, temporal.NewCanceledError("run cancelled")
				}

				recordEvent(ctx, migrations.StepEvent{
					CandidateID: candidate.Id,
					StepName:    step.Name,
					EventType:   migrations.EventStepRetried,
				})

				if err := dispatch(); err != nil {
					return MigrationResult{
						MigrationId: manifest.MigrationId,
						Status:      resultStatusFailed,
						Results:     results,
					}, fmt.Errorf("dispatch step %q for %q: %w", step.Name, candidate.Id, err)
				}
			}
		}
	}

	finished = true
	totalMs := int(workflow.Now(ctx).Sub(runStart).Milliseconds())
	for _, c := range manifest.Candidates {
		setCandidateStatus(ctx, c.Id, api.CandidateStatusCompleted)
		recordEvent(ctx, migrations.StepEvent{
			CandidateID: c.Id,
			EventType:   migrations.EventRunCompleted,
			Status:      resultStatusCompleted,
			DurationMs:  &totalMs,
		})
	}

	return MigrationResult{
		MigrationId: manifest.MigrationId,
		Status:      resultStatusCompleted,
		Results:     results,
	}, nil
}

// drainInputs consumes all queued update-inputs signals, folding each payload
// into the candidate metadata. Later signals win per key.
func drainInputs(ch workflow.ReceiveChannel, candidate *api.Candidate) {
	for {
		var inputs map[string]string
		if !ch.ReceiveAsync(&inputs) {
			return
		}
		if len(inputs) == 0 {
			continue
		}
		merged := make(map[string]string)
		if candidate.Metadata != nil {
			for k, v := range *candidate.Metadata {
				merged[k] = v
			}
		}
		for k, v := range inputs {
			merged[k] = v
		}
		candidate.Metadata = &merged
	}
}

// manualReviewMetadata seeds the instructions for manual-review steps so
// the console can render them before the migrator reports anything.
func manualReviewMetadata(step api.StepDefinition) *map[string]string {
	stepType := ""
	if step.Type != nil {
		stepType = *step.Type
	} else if step.Config != nil {
		stepType = (*step.Config)["type"]
	}
	if stepType != "manual-review" {
		return nil
	}
	meta := map[string]string{"phase": "awaiting_review"}
	if step.Config != nil {
		if instructions, ok := (*step.Config)["instructions"]; ok {
			meta["instructions"] = instructions
		}
	}
	return &meta
}

// applyEvent folds a StepStatusEvent into the step history with the given
// status. Event metadata is merged per key; a nil payload preserves what is
// already recorded, so an early prUrl survives a bare terminal event.
func applyEvent(results *[]api.StepState, candidate api.Candidate, event api.StepStatusEvent, status api.StepStateStatus) {
	entry := api.StepState{
		StepName:  event.StepName,
		Candidate: candidate,
		Status:    status,
	}
	if existing := findResult(*results, event.StepName, event.CandidateId); existing != nil && existing.Metadata != nil {
		merged := make(map[string]string, len(*existing.Metadata))
		for k, v := range *existing.Metadata {
			merged[k] = v
		}
		entry.Metadata = &merged
	}
	if event.Metadata != nil {
		if entry.Metadata == nil {
			entry.Metadata = &map[string]string{}
		}
		for k, v := range *event.Metadata {
			(*entry.Metadata)[k] = v
		}
	}
	upsertResult(results, entry)
}

// findResult returns the existing entry for step+candidate, nil if absent.
func findResult(results []api.StepState, stepName, candidateID string) *api.StepState {
	for i := range results {
		if results[i].StepName == stepName && results[i].Candidate.Id == candidateID {
			return &results[i]
		}
	}
	return nil
}

// upsertResult replaces the entry for the same step+candidate, or appends.
func upsertResult(results *[]api.StepState, r api.StepState) {
	for i, existing := range *results {
		if existing.StepName == r.StepName && existing.Candidate.Id == r.Candidate.Id {
			(*results)[i] = r
			return
		}
	}
	*results = append(*results, r)
}
