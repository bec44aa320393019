package migrations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loomhq/loom/pkg/api"
)

// OrchestratorWorkflowName is the registered name of the durable workflow
// started for each (migration, candidate) pair.
const OrchestratorWorkflowName = "MigrationOrchestrator"

// Service is the application-level use-case layer for migrations. It depends
// only on port interfaces — no framework imports. It owns the reconciliation
// rules between the store and the execution engine: the store is the source
// of truth for candidate status, the workflow for step history, and
// disagreements are healed at read and at start.
type Service struct {
	engine ExecutionEngine
	store  MigrationStore
	dryRun DryRunner
	events EventStore // optional; nil disables metrics reads
}

// NewService creates a new Service.
func NewService(engine ExecutionEngine, store MigrationStore, dryRun DryRunner, events EventStore) *Service {
	return &Service{engine: engine, store: store, dryRun: dryRun, events: events}
}

// Announce upserts a migration from a migrator announcement. The migrator
// owns the id (a stable slug); createdAt and the candidate set survive
// re-announcements, everything else is last-write-wins.
func (s *Service) Announce(ctx context.Context, ann api.MigrationAnnouncement) (*api.Migration, error) {
	existing, err := s.store.Get(ctx, ann.Id)
	if err != nil {
		return nil, fmt.Errorf("get migration %q: %w", ann.Id, err)
	}

	if existing != nil {
		existing.Name = ann.Name
		existing.Description = ann.Description
		existing.RequiredInputs = ann.RequiredInputs
		existing.Steps = ann.Steps
		existing.MigratorUrl = ann.MigratorUrl
		if err := s.store.Save(ctx, *existing); err != nil {
			return nil, fmt.Errorf("save migration: %w", err)
		}
		return existing, nil
	}

	m := api.Migration{
		Id:             ann.Id,
		Name:           ann.Name,
		Description:    ann.Description,
		RequiredInputs: ann.RequiredInputs,
		Steps:          ann.Steps,
		MigratorUrl:    ann.MigratorUrl,
		CreatedAt:      time.Now().UTC(),
		Candidates:     []api.Candidate{},
	}
	if err := s.store.Save(ctx, m); err != nil {
		return nil, fmt.Errorf("save migration: %w", err)
	}
	return &m, nil
}

// List returns all registered migrations.
func (s *Service) List(ctx context.Context) ([]api.Migration, error) {
	ms, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	return ms, nil
}

// Get returns a migration by id, nil when unknown.
func (s *Service) Get(ctx context.Context, id string) (*api.Migration, error) {
	m, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get migration %q: %w", id, err)
	}
	return m, nil
}

// SubmitCandidates replaces a migration's candidate set with the migrator's
// latest discovery results.
func (s *Service) SubmitCandidates(ctx context.Context, migrationID string, req api.SubmitCandidatesRequest) error {
	m, err := s.store.Get(ctx, migrationID)
	if err != nil {
		return fmt.Errorf("get migration %q: %w", migrationID, err)
	}
	if m == nil {
		return MigrationNotFoundError{ID: migrationID}
	}
	if err := s.store.SaveCandidates(ctx, migrationID, req.Candidates); err != nil {
		return fmt.Errorf("save candidates: %w", err)
	}
	return nil
}

// GetCandidates returns the candidate set with current status. This is the
// primary reconciliation point exposed to readers: a candidate stored as
// running whose run the engine no longer knows is healed to not_started.
// Engine errors other than RunNotFound leave the entry unchanged.
func (s *Service) GetCandidates(ctx context.Context, migrationID string) ([]api.Candidate, error) {
	candidates, err := s.store.GetCandidates(ctx, migrationID)
	if err != nil {
		return nil, fmt.Errorf("get candidates for %q: %w", migrationID, err)
	}

	for i, c := range candidates {
		if c.Status == nil || *c.Status != api.CandidateStatusRunning {
			continue
		}
		_, err := s.engine.GetStatus(ctx, RunID(migrationID, c.Id))
		if err == nil {
			continue
		}
		var notFound RunNotFoundError
		if !errors.As(err, &notFound) {
			continue
		}
		if err := s.store.SetCandidateStatus(ctx, migrationID, c.Id, api.CandidateStatusNotStarted); err != nil {
			return nil, fmt.Errorf("reset stale candidate %q: %w", c.Id, err)
		}
		ns := api.CandidateStatusNotStarted
		candidates[i].Status = &ns
	}

	return candidates, nil
}

// Start begins a run for one candidate. Operator inputs are merged over the
// candidate metadata (inputs win), requiredInputs are enforced, and the
// already-run guard heals through stale store state: the start is rejected
// only when the engine confirms a live or completed run.
func (s *Service) Start(ctx context.Context, migrationID, candidateID string, inputs map[string]string) (string, error) {
	if err := ValidateIDPart(migrationID); err != nil {
		return "", fmt.Errorf("migration id: %w", err)
	}
	if err := ValidateIDPart(candidateID); err != nil {
		return "", fmt.Errorf("candidate id: %w", err)
	}

	m, candidate, err := s.loadCandidate(ctx, migrationID, candidateID)
	if err != nil {
		return "", err
	}

	runID := RunID(migrationID, candidateID)

	if candidate.Status != nil &&
		(*candidate.Status == api.CandidateStatusRunning || *candidate.Status == api.CandidateStatusCompleted) {
		rs, err := s.engine.GetStatus(ctx, runID)
		switch {
		case err == nil:
			if rs.RuntimeStatus == RuntimeStatusRunning || rs.RuntimeStatus == RuntimeStatusCompleted {
				return "", CandidateAlreadyRunError{ID: candidateID, Status: string(*candidate.Status)}
			}
			// Failed, cancelled or terminated run — the candidate may go again.
		case errors.As(err, &RunNotFoundError{}):
			// Stale store state; heal through start.
		default:
			return "", fmt.Errorf("check run %q: %w", runID, err)
		}
	}

	merged := mergeMetadata(candidate.Metadata, inputs)
	if missing := missingInputs(m.RequiredInputs, merged); len(missing) > 0 {
		return "", MissingInputsError{Names: missing}
	}
	if len(merged) > 0 {
		candidate.Metadata = &merged
	}

	steps := m.Steps
	if candidate.Steps != nil {
		steps = *candidate.Steps
	}

	manifest := api.MigrationManifest{
		MigrationId: m.Id,
		Candidates:  []api.Candidate{*candidate},
		Steps:       steps,
		MigratorUrl: m.MigratorUrl,
	}

	if _, err := s.engine.StartRun(ctx, OrchestratorWorkflowName, runID, manifest); err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}

	if err := s.store.SetCandidateStatus(ctx, migrationID, candidateID, api.CandidateStatusRunning); err != nil {
		return "", fmt.Errorf("mark candidate running: %w", err)
	}

	return runID, nil
}

// Cancel requests cooperative cancellation of a running candidate and
// releases it back to not_started. A missing run is tolerated — the store
// write proceeds regardless, and the workflow's own deferred cleanup writes
// the same terminal value, so both paths converge.
func (s *Service) Cancel(ctx context.Context, migrationID, candidateID string) error {
	if _, _, err := s.loadRunningCandidate(ctx, migrationID, candidateID); err != nil {
		return err
	}

	runID := RunID(migrationID, candidateID)
	if err := s.engine.CancelRun(ctx, runID); err != nil && !errors.As(err, &RunNotFoundError{}) {
		return fmt.Errorf("cancel run %q: %w", runID, err)
	}

	if err := s.store.SetCandidateStatus(ctx, migrationID, candidateID, api.CandidateStatusNotStarted); err != nil {
		return fmt.Errorf("reset candidate %q: %w", candidateID, err)
	}
	return nil
}

// RetryStep raises the retry signal for a failed step of a running
// candidate. The workflow consumes it from its retry wait state.
func (s *Service) RetryStep(ctx context.Context, migrationID, candidateID, stepName string) error {
	if _, _, err := s.loadRunningCandidate(ctx, migrationID, candidateID); err != nil {
		return err
	}

	runID := RunID(migrationID, candidateID)
	eventName := RetryStepEventName(stepName, candidateID)
	if err := s.engine.RaiseEvent(ctx, runID, eventName, nil); err != nil {
		return fmt.Errorf("raise event %q: %w", eventName, err)
	}
	return nil
}

// UpdateInputs edits a running candidate's metadata. The values are both
// persisted (so a re-run after restart sees them) and signalled into the
// live run (the workflow merges them at the next dispatch boundary).
func (s *Service) UpdateInputs(ctx context.Context, migrationID, candidateID string, inputs map[string]string) error {
	if _, _, err := s.loadRunningCandidate(ctx, migrationID, candidateID); err != nil {
		return err
	}

	if err := s.store.UpdateCandidateMetadata(ctx, migrationID, candidateID, inputs); err != nil {
		return fmt.Errorf("persist inputs for %q: %w", candidateID, err)
	}

	runID := RunID(migrationID, candidateID)
	eventName := UpdateInputsEventName(candidateID)
	if err := s.engine.RaiseEvent(ctx, runID, eventName, inputs); err != nil {
		return fmt.Errorf("raise event %q: %w", eventName, err)
	}
	return nil
}

// HandleEvent raises a step status signal into the run named by instanceID,
// unblocking (or updating) the matching step wait.
func (s *Service) HandleEvent(ctx context.Context, instanceID string, event api.StepStatusEvent) error {
	eventName := StepEventName(event.StepName, event.CandidateId)
	if err := s.engine.RaiseEvent(ctx, instanceID, eventName, event); err != nil {
		return fmt.Errorf("raise event %q: %w", eventName, err)
	}
	return nil
}

// HandlePROpened raises the pr-opened signal so the PR URL becomes queryable
// immediately, while the step keeps waiting for its terminal event.
func (s *Service) HandlePROpened(ctx context.Context, instanceID string, event api.StepStatusEvent) error {
	eventName := PROpenedEventName(event.StepName, event.CandidateId)
	if err := s.engine.RaiseEvent(ctx, instanceID, eventName, event); err != nil {
		return fmt.Errorf("raise event %q: %w", eventName, err)
	}
	return nil
}

// GetCandidateSteps returns the step history of a candidate's run, live or
// finished. Returns nil (no error) when no run exists.
func (s *Service) GetCandidateSteps(ctx context.Context, migrationID, candidateID string) (*api.CandidateStepsResponse, error) {
	runID := RunID(migrationID, candidateID)
	rs, err := s.engine.GetStatus(ctx, runID)
	if err != nil {
		if errors.As(err, &RunNotFoundError{}) {
			return nil, nil //nolint:nilnil // nil response means "no run" to the handler
		}
		return nil, fmt.Errorf("get run status %q: %w", runID, err)
	}

	status := api.CandidateStepsResponseStatusCompleted
	if rs.RuntimeStatus == RuntimeStatusRunning {
		status = api.CandidateStepsResponseStatusRunning
	}

	steps := rs.Steps
	if steps == nil {
		steps = []api.StepState{}
	}
	return &api.CandidateStepsResponse{Status: status, Steps: steps}, nil
}

// DryRun forwards a simulation request for one candidate to the owning
// migrator and returns the per-step diffs. The migration's migratorUrl is the
// dry-run target: the migrator that announced the migration owns its steps.
func (s *Service) DryRun(ctx context.Context, migrationID string, candidate api.Candidate) (*api.DryRunResult, error) {
	m, err := s.store.Get(ctx, migrationID)
	if err != nil {
		return nil, fmt.Errorf("get migration %q: %w", migrationID, err)
	}
	if m == nil {
		return nil, MigrationNotFoundError{ID: migrationID}
	}

	steps := m.Steps
	if candidate.Steps != nil {
		steps = *candidate.Steps
	}

	req := api.DryRunRequest{
		MigrationId: migrationID,
		Candidate:   candidate,
		Steps:       steps,
	}
	result, err := s.dryRun.DryRun(ctx, m.MigratorUrl, req)
	if err != nil {
		return nil, fmt.Errorf("dry run: %w", err)
	}
	return result, nil
}

// GetMetricsOverview returns dashboard totals; zero values when no event
// store is wired.
func (s *Service) GetMetricsOverview(ctx context.Context) (*MetricsOverview, error) {
	if s.events == nil {
		return &MetricsOverview{}, nil
	}
	return s.events.GetOverview(ctx)
}

// GetStepMetrics returns per-step aggregates.
func (s *Service) GetStepMetrics(ctx context.Context) ([]StepMetrics, error) {
	if s.events == nil {
		return []StepMetrics{}, nil
	}
	return s.events.GetStepMetrics(ctx)
}

// GetMetricsTimeline returns daily activity counts for the trailing window.
func (s *Service) GetMetricsTimeline(ctx context.Context, days int) ([]TimelinePoint, error) {
	if s.events == nil {
		return []TimelinePoint{}, nil
	}
	return s.events.GetTimeline(ctx, days)
}

// GetRecentFailures returns the most recent failed step events.
func (s *Service) GetRecentFailures(ctx context.Context, limit int) ([]StepEvent, error) {
	if s.events == nil {
		return []StepEvent{}, nil
	}
	return s.events.GetRecentFailures(ctx, limit)
}

// loadCandidate fetches the migration and locates the candidate within it.
func (s *Service) loadCandidate(ctx context.Context, migrationID, candidateID string) (*api.Migration, *api.Candidate, error) {
	m, err := s.store.Get(ctx, migrationID)
	if err != nil {
		return nil, nil, fmt.Errorf("get migration %q: %w", migrationID, err)
	}
	if m == nil {
		return nil, nil, MigrationNotFoundError{ID: migrationID}
	}
	for i := range m.Candidates {
		if m.Candidates[i].Id == candidateID {
			return m, &m.Candidates[i], nil
		}
	}
	return nil, nil, CandidateNotFoundError{MigrationID: migrationID, CandidateID: candidateID}
}

// loadRunningCandidate is loadCandidate plus the running-status guard shared
// by cancel, retry-step and update-inputs.
func (s *Service) loadRunningCandidate(ctx context.Context, migrationID, candidateID string) (*api.Migration, *api.Candidate, error) {
	m, c, err := s.loadCandidate(ctx, migrationID, candidateID)
	if err != nil {
		return nil, nil, err
	}
	if c.Status == nil || *c.Status != api.CandidateStatusRunning {
		return nil, nil, CandidateNotRunningError{ID: candidateID}
	}
	return m, c, nil
}

// mergeMetadata copies base and overlays inputs on top.
func mergeMetadata(base *map[string]string, inputs map[string]string) map[string]string {
	merged := make(map[string]string)
	if base != nil {
		for k, v := range *base {
			merged[k] = v
		}
	}
	for k, v := range inputs {
		merged[k] = v
	}
	return merged
}

// missingInputs returns the names of required inputs absent or empty in the
// merged metadata, in declaration order.
func missingInputs(required *[]api.InputSpec, merged map[string]string) []string {
	if required == nil {
		return nil
	}
	var missing []string
	for _, spec := range *required {
		if merged[spec.Name] == "" {
			missing = append(missing, spec.Name)
		}
	}
	return missing
}
