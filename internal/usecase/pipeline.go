package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ArxivMind/internal/domain"
	"ArxivMind/internal/observability"
	"ArxivMind/internal/ports"
)

// Pipeline stage names recorded on aborted runs.
const (
	StageFetch   = "fetch"
	StageAnalyze = "analyze"
	StageNotify  = "notify"
)

// firstDigestWindow bounds the digest when no successful run exists yet.
const firstDigestWindow = 24 * time.Hour

// PipelineDeps wires all stages into the daily orchestration. BatchMode selects
// the batch analysis stage instead of the concurrent one. Notifier may be nil.
type PipelineDeps struct {
	Fetcher    *Fetcher
	Analyzer   *Analyzer
	Batch      *BatchRunner
	BatchMode  bool
	Store      ports.PaperStore
	Runs       ports.RunStore
	Notifier   ports.Notifier
	Topic      string
	MaxResults int
	Now        func() time.Time
	Metrics    *observability.Metrics
	Logger     *slog.Logger
}

// Pipeline implements the daily fetch, analyze and notify sequence.
type Pipeline struct {
	fetcher    *Fetcher
	analyzer   *Analyzer
	batch      *BatchRunner
	batchMode  bool
	store      ports.PaperStore
	runs       ports.RunStore
	notifier   ports.Notifier
	topic      string
	maxResults int
	now        func() time.Time
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Pipeline{
		fetcher:    deps.Fetcher,
		analyzer:   deps.Analyzer,
		batch:      deps.Batch,
		batchMode:  deps.BatchMode,
		store:      deps.Store,
		runs:       deps.Runs,
		notifier:   deps.Notifier,
		topic:      deps.Topic,
		maxResults: deps.MaxResults,
		now:        now,
		metrics:    deps.Metrics,
		logger:     loggerOrDiscard(deps.Logger),
	}
}

// RunDaily executes fetch, analyze and notify in order. A stage error aborts
// the remaining stages; the run record is stored either way and returned
// together with the stage error.
func (p *Pipeline) RunDaily(ctx context.Context, now time.Time) (domain.PipelineRun, error) {
	run := domain.PipelineRun{
		ID:        uuid.NewString(),
		StartedAt: now.UTC(),
		Outcome:   domain.RunSucceeded,
	}
	log := p.logger.With("run_id", run.ID)
	log.Info("pipeline started", "topic", p.topic, "batch_mode", p.batchMode)

	stages := []struct {
		name string
		fn   func(context.Context, *domain.PipelineRun) error
	}{
		{StageFetch, p.fetch},
		{StageAnalyze, p.analyze},
		{StageNotify, p.notify},
	}

	var stageErr error
	for _, stage := range stages {
		if err := stage.fn(ctx, &run); err != nil {
			stageErr = fmt.Errorf("stage %s: %w", stage.name, err)
			run.Outcome = domain.RunAborted
			run.AbortedStage = stage.name
			run.Error = err.Error()
			log.Error("pipeline aborted", "stage", stage.name, "error", err)
			break
		}
	}

	run.FinishedAt = p.now().UTC()
	p.metrics.RecordRun(string(run.Outcome), run.FinishedAt.Sub(run.StartedAt))

	if p.runs != nil {
		if err := p.runs.SaveRun(ctx, run); err != nil {
			log.Error("store run record", "error", err)
		}
	}

	log.Info("pipeline finished",
		"outcome", run.Outcome,
		"fetched", run.Fetched,
		"attempted", run.Attempted,
		"succeeded", run.Succeeded,
		"notified", run.Notified,
	)
	return run, stageErr
}

func (p *Pipeline) fetch(ctx context.Context, run *domain.PipelineRun) error {
	if p.fetcher == nil {
		return nil
	}
	n, err := p.fetcher.FetchNew(ctx, p.topic, p.maxResults)
	run.Fetched = n
	return err
}

func (p *Pipeline) analyze(ctx context.Context, run *domain.PipelineRun) error {
	if p.batchMode {
		if p.batch == nil {
			return fmt.Errorf("batch mode selected without a batch runner")
		}
		if _, err := p.batch.ReconcileOpen(ctx); err != nil {
			return err
		}
		jobID, submitted, err := p.batch.Submit(ctx)
		if err != nil {
			return err
		}
		if submitted {
			p.logger.Info("analysis deferred to batch", "job_id", jobID)
		}
		return nil
	}

	if p.analyzer == nil {
		return nil
	}
	stats, err := p.analyzer.RunPending(ctx)
	run.Attempted = stats.Attempted
	run.Succeeded = stats.Succeeded
	return err
}

func (p *Pipeline) notify(ctx context.Context, run *domain.PipelineRun) error {
	if p.notifier == nil || p.store == nil {
		return nil
	}

	since, err := p.watermark(ctx, run.StartedAt)
	if err != nil {
		return err
	}

	papers, err := p.store.FindCompletedSince(ctx, since)
	if err != nil {
		return fmt.Errorf("load completed papers: %w", err)
	}
	if len(papers) == 0 {
		p.logger.Info("nothing new to notify", "since", since)
		return nil
	}

	if err := p.notifier.PublishDigest(ctx, BuildDigest(papers, run.StartedAt)); err != nil {
		return fmt.Errorf("publish digest: %w", err)
	}
	run.Notified = len(papers)
	return nil
}

// watermark is the end of the last successful run, so papers completed
// during an aborted run are announced by the next successful one.
func (p *Pipeline) watermark(ctx context.Context, started time.Time) (time.Time, error) {
	if p.runs == nil {
		return started.Add(-firstDigestWindow), nil
	}
	last, err := p.runs.LastSuccessfulRun(ctx)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return started.Add(-firstDigestWindow), nil
	case err != nil:
		return time.Time{}, fmt.Errorf("load last run: %w", err)
	}
	return last.FinishedAt, nil
}
