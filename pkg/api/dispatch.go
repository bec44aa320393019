package api

// DispatchStepRequest is the message sent to a migrator when the workflow
// dispatches a step. CallbackId is the workflow instance id; the migrator
// POSTs StepStatusEvents to /event/{CallbackId} when it has news.
type DispatchStepRequest struct {
	MigrationId string             `json:"migrationId"`
	StepName    string             `json:"stepName"`
	Candidate   Candidate          `json:"candidate"`
	Config      *map[string]string `json:"config,omitempty"`
	Type        *string            `json:"type,omitempty"`
	CallbackId  string             `json:"callbackId"`
	EventName   string             `json:"eventName"`
	MigratorApp string             `json:"migratorApp"`
	MigratorUrl string             `json:"migratorUrl,omitempty"`
}

// StepStatusEventStatus is the status a migrator reports for a step.
type StepStatusEventStatus string

// Reported step statuses. pending is an intermediate update (the workflow
// keeps waiting); the other three are terminal for the dispatch attempt.
const (
	StepStatusEventStatusPending   StepStatusEventStatus = "pending"
	StepStatusEventStatusSucceeded StepStatusEventStatus = "succeeded"
	StepStatusEventStatusMerged    StepStatusEventStatus = "merged"
	StepStatusEventStatusFailed    StepStatusEventStatus = "failed"
)

// StepStatusEvent is the migrator's asynchronous report for one step of one
// candidate. Nil Metadata means "no new metadata" — previously recorded
// values are preserved, never discarded.
type StepStatusEvent struct {
	StepName    string                `json:"stepName"`
	CandidateId string                `json:"candidateId"`
	Status      StepStatusEventStatus `json:"status"`
	Metadata    *map[string]string    `json:"metadata,omitempty"`
}

// DryRunRequest asks a migrator to simulate the given steps for a candidate
// without touching any repository.
type DryRunRequest struct {
	MigrationId string           `json:"migrationId"`
	Candidate   Candidate        `json:"candidate"`
	Steps       []StepDefinition `json:"steps"`
}

// FileDiff is a single simulated file change.
type FileDiff struct {
	Path   string  `json:"path"`
	Before *string `json:"before,omitempty"`
	After  *string `json:"after,omitempty"`
	Diff   *string `json:"diff,omitempty"`
}

// StepDryRunResult is the simulation outcome for one step. Skipped means the
// migrator determined the step is a no-op for this candidate.
type StepDryRunResult struct {
	StepName string      `json:"stepName"`
	Skipped  bool        `json:"skipped,omitempty"`
	Error    *string     `json:"error,omitempty"`
	Files    *[]FileDiff `json:"files,omitempty"`
}

// DryRunResult is the migrator's response to a DryRunRequest.
type DryRunResult struct {
	Steps []StepDryRunResult `json:"steps"`
}
