package migrations

import "time"

// Lifecycle event types recorded by the workflow and read back by the
// metrics endpoints.
const (
	EventRunStarted     = "run_started"
	EventStepDispatched = "step_dispatched"
	EventStepCompleted  = "step_completed"
	EventStepRetried    = "step_retried"
	EventRunCompleted   = "run_completed"
	EventRunCancelled   = "run_cancelled"
)

// StepEvent is one row in the append-only lifecycle log. Durations are
// measured with the workflow clock, in milliseconds, and are only present
// on step_completed / run_completed events.
type StepEvent struct {
	ID          int64             `json:"id,omitempty"`
	MigrationID string            `json:"migrationId"`
	CandidateID string            `json:"candidateId"`
	StepName    string            `json:"stepName,omitempty"`
	EventType   string            `json:"eventType"`
	Status      string            `json:"status,omitempty"`
	DurationMs  *int              `json:"durationMs,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"createdAt,omitempty"`
}

// MetricsOverview aggregates totals for the dashboard landing page.
type MetricsOverview struct {
	TotalRuns     int     `json:"totalRuns"`
	CompletedRuns int     `json:"completedRuns"`
	FailedSteps   int     `json:"failedSteps"`
	PRsRaised     int     `json:"prsRaised"`
	AvgDurationMs float64 `json:"avgDurationMs"`
	FailureRate   float64 `json:"failureRate"`
}

// StepMetrics is the per-step-name aggregate.
type StepMetrics struct {
	StepName    string  `json:"stepName"`
	Count       int     `json:"count"`
	AvgMs       float64 `json:"avgMs"`
	P95Ms       float64 `json:"p95Ms"`
	FailureRate float64 `json:"failureRate"`
}

// TimelinePoint is one day of activity.
type TimelinePoint struct {
	Date      string `json:"date"`
	Started   int    `json:"started"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
}
