package migrations

import (
	"fmt"
	"strings"
)

// MigrationNotFoundError is returned when the requested migration does not
// exist in the store.
type MigrationNotFoundError struct {
	ID string
}

// Error implements the error interface.
func (e MigrationNotFoundError) Error() string {
	return fmt.Sprintf("migration %q not found", e.ID)
}

// CandidateNotFoundError is returned when the requested candidate does not
// exist in the migration.
type CandidateNotFoundError struct {
	MigrationID string
	CandidateID string
}

// Error implements the error interface.
func (e CandidateNotFoundError) Error() string {
	return fmt.Sprintf("candidate %q not found in migration %q", e.CandidateID, e.MigrationID)
}

// CandidateAlreadyRunError is returned when a start is attempted for a
// candidate whose run is still live (or already completed).
type CandidateAlreadyRunError struct {
	ID     string
	Status string
}

// Error implements the error interface.
func (e CandidateAlreadyRunError) Error() string {
	return fmt.Sprintf("candidate %q already has status %q", e.ID, e.Status)
}

// CandidateNotRunningError is returned when cancel, retry-step or
// update-inputs is requested for a candidate that is not running.
type CandidateNotRunningError struct {
	ID string
}

// Error implements the error interface.
func (e CandidateNotRunningError) Error() string {
	return fmt.Sprintf("candidate %q is not running", e.ID)
}

// RunNotFoundError is returned by the ExecutionEngine when the run instance
// does not exist — typically after the engine is restarted in development.
// The service treats it as a repair signal, not a user-visible failure.
type RunNotFoundError struct {
	InstanceID string
}

// Error implements the error interface.
func (e RunNotFoundError) Error() string {
	return fmt.Sprintf("run %q not found", e.InstanceID)
}

// MissingInputsError is returned when a start request does not satisfy the
// migration's requiredInputs.
type MissingInputsError struct {
	Names []string
}

// Error implements the error interface.
func (e MissingInputsError) Error() string {
	return fmt.Sprintf("missing required inputs: %s", strings.Join(e.Names, ", "))
}
