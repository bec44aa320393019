package api

// ListMigrationsResponse wraps GET /migrations.
type ListMigrationsResponse struct {
	Migrations []Migration `json:"migrations"`
}

// SubmitCandidatesRequest is the body of POST /migrations/{id}/candidates.
type SubmitCandidatesRequest struct {
	Candidates []Candidate `json:"candidates"`
}

// StartRequest is the optional body of POST .../candidates/{cand}/start.
// Inputs are operator-supplied values for the migration's requiredInputs;
// they are merged over the candidate's metadata before dispatch.
type StartRequest struct {
	Inputs *map[string]string `json:"inputs,omitempty"`
}

// RetryStepRequest is the body of POST .../candidates/{cand}/retry-step.
type RetryStepRequest struct {
	StepName string `json:"stepName" binding:"required"`
}

// DryRunCandidateRequest is the body of POST /migrations/{id}/dry-run.
type DryRunCandidateRequest struct {
	Candidate Candidate `json:"candidate"`
}

// CandidateStepsResponseStatus is the run-level status reported by
// GET .../candidates/{cand}/steps.
type CandidateStepsResponseStatus string

// Run-level statuses: running while the workflow is live, completed once it
// has returned (regardless of how) — the per-step statuses carry the detail.
const (
	CandidateStepsResponseStatusRunning   CandidateStepsResponseStatus = "running"
	CandidateStepsResponseStatusCompleted CandidateStepsResponseStatus = "completed"
)

// CandidateStepsResponse is the live (or final) step history of a run.
type CandidateStepsResponse struct {
	Status CandidateStepsResponseStatus `json:"status"`
	Steps  []StepState                  `json:"steps"`
}
