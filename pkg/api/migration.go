// Package api holds the JSON wire types shared by the Loom server, its
// console, and the migrator processes. The shapes here mirror the OpenAPI
// document in schemas/ — optional fields are pointers so that "absent" and
// "zero" stay distinguishable on the wire.
package api

import "time"

// CandidateStatus is the store-level lifecycle status of a candidate.
type CandidateStatus string

// Candidate lifecycle statuses. There is deliberately no "failed" status:
// a candidate whose run fails is released back to not_started.
const (
	CandidateStatusNotStarted CandidateStatus = "not_started"
	CandidateStatusRunning    CandidateStatus = "running"
	CandidateStatusCompleted  CandidateStatus = "completed"
)

// StepDefinition describes one stage of a migration pipeline.
type StepDefinition struct {
	Name        string             `json:"name"`
	Description *string            `json:"description,omitempty"`
	MigratorApp string             `json:"migratorApp"`
	Type        *string            `json:"type,omitempty"`
	Config      *map[string]string `json:"config,omitempty"`
}

// InputSpec declares an operator-supplied input the migration needs before a
// candidate may be started.
type InputSpec struct {
	Name        string `json:"name"`
	Label       string `json:"label,omitempty"`
	Description string `json:"description,omitempty"`
}

// FileGroup is a named set of files discovered in a candidate repository.
type FileGroup struct {
	Name  string   `json:"name"`
	Files []string `json:"files"`
}

// Candidate is a unit of work (typically a repository) a migration applies to.
type Candidate struct {
	Id         string             `json:"id"`
	Kind       string             `json:"kind,omitempty"`
	Metadata   *map[string]string `json:"metadata,omitempty"`
	Steps      *[]StepDefinition  `json:"steps,omitempty"` // per-candidate override of the migration's steps
	FileGroups *[]FileGroup       `json:"fileGroups,omitempty"`
	Status     *CandidateStatus   `json:"status,omitempty"`
}

// Migration is a registered migration definition plus its candidate set.
// The Id is owned by the announcing migrator and is a stable slug.
type Migration struct {
	Id             string           `json:"id"`
	Name           string           `json:"name"`
	Description    string           `json:"description,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	RequiredInputs *[]InputSpec     `json:"requiredInputs,omitempty"`
	Steps          []StepDefinition `json:"steps"`
	MigratorUrl    string           `json:"migratorUrl,omitempty"`
	Candidates     []Candidate      `json:"candidates,omitempty"`
}

// MigrationAnnouncement is what a migrator publishes on startup to register
// (or re-register) itself. Subsequent announcements upsert the definition
// while createdAt and the candidate set are preserved server-side.
type MigrationAnnouncement struct {
	Id             string           `json:"id"`
	Name           string           `json:"name"`
	Description    string           `json:"description,omitempty"`
	RequiredInputs *[]InputSpec     `json:"requiredInputs,omitempty"`
	Steps          []StepDefinition `json:"steps"`
	MigratorUrl    string           `json:"migratorUrl,omitempty"`
}

// MigrationManifest is the workflow input: one migration, one candidate, and
// the effective step list (the candidate's override or the migration's steps).
type MigrationManifest struct {
	MigrationId string           `json:"migrationId"`
	Candidates  []Candidate      `json:"candidates"`
	Steps       []StepDefinition `json:"steps"`
	MigratorUrl string           `json:"migratorUrl,omitempty"`
}

// StepStateStatus is the per-step status recorded by the workflow.
type StepStateStatus string

// Step states. pending means the migrator has acknowledged the step and may
// be streaming intermediate updates (e.g. a PR URL) while the outcome is
// still open; in_progress means the step has been dispatched.
const (
	StepStateStatusPending    StepStateStatus = "pending"
	StepStateStatusInProgress StepStateStatus = "in_progress"
	StepStateStatusSucceeded  StepStateStatus = "succeeded"
	StepStateStatusMerged     StepStateStatus = "merged"
	StepStateStatusFailed     StepStateStatus = "failed"
)

// StepState is one entry in a run's step history. Metadata carries
// migrator-provided values; conventional keys are prUrl, instructions and
// commitSha.
type StepState struct {
	StepName  string             `json:"stepName"`
	Candidate Candidate          `json:"candidate"`
	Status    StepStateStatus    `json:"status"`
	Metadata  *map[string]string `json:"metadata,omitempty"`
}
