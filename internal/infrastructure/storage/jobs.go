package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"ArxivMind/internal/domain"
)

// SaveBatchJob records a newly submitted remote batch.
func (r *Repository) SaveBatchJob(ctx context.Context, job domain.BatchJob) error {
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = r.timestamp()
	}

	query, args, err := r.sb.Insert("batch_jobs").
		Columns("id", "status", "item_count", "submitted_at", "reconciled_at").
		Values(job.ID, string(job.Status), job.ItemCount, job.SubmittedAt.UTC(), nullableTime(job.ReconciledAt)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert batch job: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: insert batch job %s: %w", domain.ErrStoreUnavailable, job.ID, err)
	}
	return nil
}

// FindBatchJobsByStatus lists jobs in status, oldest submission first.
func (r *Repository) FindBatchJobsByStatus(ctx context.Context, status domain.BatchJobStatus) ([]domain.BatchJob, error) {
	query, args, err := r.sb.Select("id", "status", "item_count", "submitted_at", "reconciled_at").
		From("batch_jobs").
		Where(sq.Eq{"status": string(status)}).
		OrderBy("submitted_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build batch job query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query batch jobs: %w", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var jobs []domain.BatchJob
	for rows.Next() {
		var (
			job        domain.BatchJob
			jobStatus  string
			reconciled sql.NullTime
		)
		if err := rows.Scan(&job.ID, &jobStatus, &job.ItemCount, &job.SubmittedAt, &reconciled); err != nil {
			return nil, fmt.Errorf("scan batch job: %w", err)
		}
		job.Status = domain.BatchJobStatus(jobStatus)
		job.SubmittedAt = job.SubmittedAt.UTC()
		if reconciled.Valid {
			t := reconciled.Time.UTC()
			job.ReconciledAt = &t
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: batch job rows: %w", domain.ErrStoreUnavailable, err)
	}
	return jobs, nil
}

// UpdateBatchJob stores the job's new status and reconciliation time. The
// item count is fixed at submission.
func (r *Repository) UpdateBatchJob(ctx context.Context, job domain.BatchJob) error {
	query, args, err := r.sb.Update("batch_jobs").
		Set("status", string(job.Status)).
		Set("reconciled_at", nullableTime(job.ReconciledAt)).
		Where(sq.Eq{"id": job.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update batch job: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: update batch job %s: %w", domain.ErrStoreUnavailable, job.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update batch job %s: %w", job.ID, domain.ErrNotFound)
	}
	return nil
}

// SaveRun appends an orchestrator run record.
func (r *Repository) SaveRun(ctx context.Context, run domain.PipelineRun) error {
	query, args, err := r.sb.Insert("pipeline_runs").
		Columns(
			"id", "started_at", "finished_at", "outcome", "aborted_stage",
			"fetched", "attempted", "succeeded", "notified", "error",
		).
		Values(
			run.ID, run.StartedAt.UTC(), run.FinishedAt.UTC(), string(run.Outcome), run.AbortedStage,
			run.Fetched, run.Attempted, run.Succeeded, run.Notified, run.Error,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert run: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: insert run %s: %w", domain.ErrStoreUnavailable, run.ID, err)
	}
	return nil
}

// LastSuccessfulRun returns the most recent run that finished every stage.
func (r *Repository) LastSuccessfulRun(ctx context.Context) (domain.PipelineRun, error) {
	query, args, err := r.sb.Select(
		"id", "started_at", "finished_at", "outcome", "aborted_stage",
		"fetched", "attempted", "succeeded", "notified", "error",
	).
		From("pipeline_runs").
		Where(sq.Eq{"outcome": string(domain.RunSucceeded)}).
		OrderBy("started_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return domain.PipelineRun{}, fmt.Errorf("build last run query: %w", err)
	}

	var (
		run     domain.PipelineRun
		outcome string
	)
	err = r.db.QueryRowContext(ctx, query, args...).Scan(
		&run.ID, &run.StartedAt, &run.FinishedAt, &outcome, &run.AbortedStage,
		&run.Fetched, &run.Attempted, &run.Succeeded, &run.Notified, &run.Error,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PipelineRun{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.PipelineRun{}, fmt.Errorf("%w: load last run: %w", domain.ErrStoreUnavailable, err)
	}

	run.Outcome = domain.RunOutcome(outcome)
	run.StartedAt = run.StartedAt.UTC()
	run.FinishedAt = run.FinishedAt.UTC()
	return run, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
