package domain

import "time"

// BatchJobStatus tracks a submitted batch from the pipeline's point of view.
type BatchJobStatus string

const (
	BatchSubmitted  BatchJobStatus = "submitted"
	BatchReconciled BatchJobStatus = "reconciled"
	BatchFailed     BatchJobStatus = "failed"
)

// BatchJob is the local record of a remote asynchronous batch.
type BatchJob struct {
	ID           string
	Status       BatchJobStatus
	ItemCount    int
	SubmittedAt  time.Time
	ReconciledAt *time.Time
}

// RunOutcome is the final state of one orchestrator run.
type RunOutcome string

const (
	RunSucceeded RunOutcome = "succeeded"
	RunAborted   RunOutcome = "aborted"
)

// PipelineRun is the audit record of one fetch -> analyze -> notify sequence.
type PipelineRun struct {
	ID           string
	StartedAt    time.Time
	FinishedAt   time.Time
	Outcome      RunOutcome
	AbortedStage string
	Fetched      int
	Attempted    int
	Succeeded    int
	Notified     int
	Error        string
}
