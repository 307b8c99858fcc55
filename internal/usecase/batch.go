package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"ArxivMind/internal/domain"
	"ArxivMind/internal/observability"
	"ArxivMind/internal/ports"
)

// BatchRunnerDeps wires the batch analysis stage.
type BatchRunnerDeps struct {
	Store   ports.PaperStore
	Jobs    ports.BatchJobStore
	Service ports.BatchService
	Now     func() time.Time
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// BatchRunner analyzes pending papers through one remote batch job instead
// of live calls. It shares the state machine and Paper.Complete with Analyzer.
type BatchRunner struct {
	store   ports.PaperStore
	jobs    ports.BatchJobStore
	service ports.BatchService
	now     func() time.Time
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewBatchRunner constructs the batch analysis stage.
func NewBatchRunner(deps BatchRunnerDeps) *BatchRunner {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &BatchRunner{
		store:   deps.Store,
		jobs:    deps.Jobs,
		service: deps.Service,
		now:     now,
		metrics: deps.Metrics,
		logger:  loggerOrDiscard(deps.Logger),
	}
}

// Submit packages every pending paper with text into one batch and marks the
// included papers processing. Papers without text are settled as
// failed_no_text. submitted is false when there was nothing to send.
func (b *BatchRunner) Submit(ctx context.Context) (jobID string, submitted bool, err error) {
	if b.store == nil || b.jobs == nil || b.service == nil {
		return "", false, fmt.Errorf("batch runner is not configured")
	}

	pending, err := b.store.FindByStatus(ctx, domain.StatusPending)
	if err != nil {
		return "", false, fmt.Errorf("load pending papers: %w", err)
	}

	var (
		items    []ports.BatchItem
		included []domain.Paper
	)
	for _, paper := range pending {
		if !paper.HasText() {
			if settleNoText(ctx, b.store, paper, b.logger) {
				b.metrics.RecordAnalysisOutcome(string(domain.StatusFailedNoText))
			}
			continue
		}
		items = append(items, ports.BatchItem{
			CustomID: strconv.FormatInt(paper.ID, 10),
			Title:    paper.Title,
			Body:     paper.BodyText,
		})
		included = append(included, paper)
	}

	if len(items) == 0 {
		b.logger.Info("nothing to submit")
		return "", false, nil
	}

	jobID, err = b.service.Submit(ctx, items)
	if err != nil {
		return "", false, fmt.Errorf("submit batch: %w", err)
	}

	job := domain.BatchJob{
		ID:          jobID,
		Status:      domain.BatchSubmitted,
		ItemCount:   len(items),
		SubmittedAt: b.now().UTC(),
	}
	if err := b.jobs.SaveBatchJob(ctx, job); err != nil {
		return jobID, false, fmt.Errorf("record batch job %s: %w", jobID, err)
	}
	b.metrics.RecordBatchJob(string(domain.BatchSubmitted))

	for _, paper := range included {
		if err := paper.MarkStatus(domain.StatusProcessing); err != nil {
			b.logger.Error("mark processing", "paper_id", paper.ID, "error", err)
			continue
		}
		if err := b.store.Update(ctx, paper); err != nil {
			b.logger.Error("store processing", "paper_id", paper.ID, "error", err)
		}
	}

	b.logger.Info("batch submitted", "job_id", jobID, "items", len(items))
	return jobID, true, nil
}

// PollAndReconcile checks jobID once. A running job yields false with no side
// effects. A finished job has every parsable result applied and is recorded
// reconciled; lines that fail validation leave their paper processing for
// manual inspection. A job the provider failed, expired or cancelled is
// recorded failed and reported with domain.ErrBatchJobFailed.
func (b *BatchRunner) PollAndReconcile(ctx context.Context, jobID string) (bool, error) {
	if b.store == nil || b.jobs == nil || b.service == nil {
		return false, fmt.Errorf("batch runner is not configured")
	}

	status, err := b.service.Status(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("poll batch %s: %w", jobID, err)
	}

	switch status.State {
	case ports.BatchStateRunning:
		b.logger.Debug("batch still running", "job_id", jobID, "remote_status", status.RemoteStatus)
		return false, nil
	case ports.BatchStateFailed:
		if err := b.finishJob(ctx, jobID, domain.BatchFailed); err != nil {
			return false, err
		}
		b.logger.Warn("batch failed, papers stay processing", "job_id", jobID, "remote_status", status.RemoteStatus)
		return false, fmt.Errorf("batch %s %s: %w", jobID, status.RemoteStatus, domain.ErrBatchJobFailed)
	}

	outcomes, err := b.service.Results(ctx, status)
	if err != nil {
		return false, fmt.Errorf("download batch %s results: %w", jobID, err)
	}

	applied := 0
	for _, outcome := range outcomes {
		if b.apply(ctx, jobID, outcome) {
			applied++
		}
	}

	if err := b.finishJob(ctx, jobID, domain.BatchReconciled); err != nil {
		return false, err
	}
	b.logger.Info("batch reconciled", "job_id", jobID, "results", len(outcomes), "completed", applied)
	return true, nil
}

// ReconcileOpen polls every submitted job. It returns how many jobs were
// reconciled; failed jobs are logged and do not stop the sweep.
func (b *BatchRunner) ReconcileOpen(ctx context.Context) (int, error) {
	if b.jobs == nil {
		return 0, fmt.Errorf("batch runner is not configured")
	}

	open, err := b.jobs.FindBatchJobsByStatus(ctx, domain.BatchSubmitted)
	if err != nil {
		return 0, fmt.Errorf("load open batch jobs: %w", err)
	}

	reconciled := 0
	for _, job := range open {
		done, err := b.PollAndReconcile(ctx, job.ID)
		switch {
		case errors.Is(err, domain.ErrStoreUnavailable):
			return reconciled, err
		case err != nil:
			b.logger.Warn("batch poll failed", "job_id", job.ID, "error", err)
		case done:
			reconciled++
		}
	}
	return reconciled, nil
}

func (b *BatchRunner) apply(ctx context.Context, jobID string, outcome ports.BatchOutcome) bool {
	log := b.logger.With("job_id", jobID, "custom_id", outcome.CustomID)

	id, err := strconv.ParseInt(outcome.CustomID, 10, 64)
	if err != nil {
		log.Warn("unknown custom id in batch output")
		return false
	}
	if outcome.Err != nil {
		log.Warn("batch result unusable, paper left processing", "paper_id", id, "error", outcome.Err)
		return false
	}

	paper, err := b.store.FindByID(ctx, id)
	if err != nil {
		log.Error("load paper", "paper_id", id, "error", err)
		return false
	}
	if paper.Status != domain.StatusProcessing {
		log.Debug("paper not awaiting a batch result", "paper_id", id, "status", paper.Status)
		return false
	}

	if err := paper.Complete(outcome.Result, b.now()); err != nil {
		log.Error("apply analysis", "paper_id", id, "error", err)
		return false
	}
	if err := b.store.Update(ctx, paper); err != nil {
		log.Error("store completed", "paper_id", id, "error", err)
		return false
	}
	b.metrics.RecordAnalysisOutcome(string(domain.StatusCompleted))
	return true
}

// finishJob records the job's final state.
func (b *BatchRunner) finishJob(ctx context.Context, jobID string, status domain.BatchJobStatus) error {
	at := b.now().UTC()
	job := domain.BatchJob{ID: jobID, Status: status, ReconciledAt: &at}
	if err := b.jobs.UpdateBatchJob(ctx, job); err != nil {
		return fmt.Errorf("record batch job %s as %s: %w", jobID, status, err)
	}
	b.metrics.RecordBatchJob(string(status))
	return nil
}
