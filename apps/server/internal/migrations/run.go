package migrations

import (
	"fmt"
	"strings"

	"github.com/loomhq/loom/pkg/api"
)

// RuntimeStatus values returned by the ExecutionEngine.
const (
	RuntimeStatusRunning    = "RUNNING"
	RuntimeStatusCompleted  = "COMPLETED"
	RuntimeStatusFailed     = "FAILED"
	RuntimeStatusCancelled  = "CANCELLED"
	RuntimeStatusTerminated = "TERMINATED"
	RuntimeStatusUnknown    = "UNKNOWN"
)

// RunStatus is the port-level view of a run returned by the ExecutionEngine.
// Steps carries the step history for both live runs (via the progress query)
// and finished runs (via the workflow result).
type RunStatus struct {
	RuntimeStatus string
	Steps         []api.StepState
}

// runIDSep separates migration id from candidate id inside a run instance
// id. Neither id may contain this sequence; see ValidateIDPart.
const runIDSep = "__"

// RunID returns the deterministic run instance id for a migration+candidate
// pair. Each candidate runs at most once per migration, so the id is stable
// and recoverable.
func RunID(migrationID, candidateID string) string {
	return migrationID + runIDSep + candidateID
}

// ParseRunID splits a run id back into its migration and candidate ids.
// Ambiguous or malformed ids are rejected, never guessed at.
func ParseRunID(runID string) (migrationID, candidateID string, err error) {
	parts := strings.SplitN(runID, runIDSep, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid run id %q: expected <migrationId>%s<candidateId>", runID, runIDSep)
	}
	return parts[0], parts[1], nil
}

// ValidateIDPart rejects ids that would make a run id unparseable.
func ValidateIDPart(id string) error {
	if id == "" {
		return fmt.Errorf("id must not be empty")
	}
	if strings.Contains(id, runIDSep) {
		return fmt.Errorf("id %q must not contain %q", id, runIDSep)
	}
	return nil
}

// StepEventName returns the deterministic signal name the run listens on for
// a step's status events. Migrators receive it in DispatchStepRequest.EventName.
func StepEventName(stepName, candidateID string) string {
	return fmt.Sprintf("step-completed:%s:%s", stepName, candidateID)
}

// PROpenedEventName returns the signal name for intermediate PR-opened
// notifications. The workflow folds these into the step's metadata while the
// step stays pending.
func PROpenedEventName(stepName, candidateID string) string {
	return fmt.Sprintf("pr-opened:%s:%s", stepName, candidateID)
}

// RetryStepEventName returns the signal name the run listens on while a
// failed step waits for an operator to retry it.
func RetryStepEventName(stepName, candidateID string) string {
	return fmt.Sprintf("retry-step:%s:%s", stepName, candidateID)
}

// UpdateInputsEventName returns the signal name used to push updated
// candidate metadata into a live run.
func UpdateInputsEventName(candidateID string) string {
	return fmt.Sprintf("update-inputs:%s", candidateID)
}
