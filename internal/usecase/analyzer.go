package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"ArxivMind/internal/domain"
	"ArxivMind/internal/observability"
	"ArxivMind/internal/ports"
	"ArxivMind/internal/retry"
)

const defaultWorkers = 3

// RunStats aggregates one RunPending invocation. Attempted counts papers
// sent to the analysis service, not individual calls.
type RunStats struct {
	Attempted int
	Succeeded int
	Failed    int
	NoText    int
}

// AnalyzerDeps wires the concurrent analysis stage.
type AnalyzerDeps struct {
	Store   ports.PaperStore
	Client  ports.Analyzer
	Workers int
	// Policy overrides retry.Analysis when Attempts is set.
	Policy  retry.Policy
	Now     func() time.Time
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// Analyzer drains pending papers through a bounded pool of analysis calls.
type Analyzer struct {
	store   ports.PaperStore
	client  ports.Analyzer
	workers int
	policy  retry.Policy
	now     func() time.Time
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewAnalyzer constructs the concurrent analysis stage.
func NewAnalyzer(deps AnalyzerDeps) *Analyzer {
	workers := deps.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	policy := deps.Policy
	if policy.Attempts <= 0 {
		policy = retry.Analysis
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Analyzer{
		store:   deps.Store,
		client:  deps.Client,
		workers: workers,
		policy:  policy,
		now:     now,
		metrics: deps.Metrics,
		logger:  loggerOrDiscard(deps.Logger),
	}
}

// RunPending snapshots the pending papers once and settles each of them:
// papers without text become failed_no_text, the rest are analyzed by at most
// Workers goroutines and end completed or failed. Only a failure to read the
// snapshot is returned; per-paper errors are logged and counted.
func (a *Analyzer) RunPending(ctx context.Context) (RunStats, error) {
	var stats RunStats
	if a.store == nil || a.client == nil {
		return stats, fmt.Errorf("analyzer is not configured")
	}

	pending, err := a.store.FindByStatus(ctx, domain.StatusPending)
	if err != nil {
		return stats, fmt.Errorf("load pending papers: %w", err)
	}

	work := make([]domain.Paper, 0, len(pending))
	for _, paper := range pending {
		if paper.HasText() {
			work = append(work, paper)
			continue
		}
		if settleNoText(ctx, a.store, paper, a.logger) {
			stats.NoText++
			a.metrics.RecordAnalysisOutcome(string(domain.StatusFailedNoText))
		}
	}

	var succeeded, failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(a.workers)
	for _, paper := range work {
		g.Go(func() error {
			switch a.process(ctx, paper) {
			case domain.StatusCompleted:
				succeeded.Add(1)
			case domain.StatusFailed:
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	stats.Attempted = len(work)
	stats.Succeeded = int(succeeded.Load())
	stats.Failed = int(failed.Load())

	a.logger.Info("analysis finished",
		"attempted", stats.Attempted,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
		"no_text", stats.NoText,
	)
	return stats, nil
}

// process analyzes one paper and performs its single terminal write. It
// returns the status written, or "" when the write itself failed.
func (a *Analyzer) process(ctx context.Context, paper domain.Paper) domain.Status {
	log := a.logger.With("paper_id", paper.ID)

	var result domain.AnalysisResult
	attempts, err := retry.Do(ctx, a.policy, domain.IsRetryableAnalysis, func(ctx context.Context) error {
		started := time.Now()
		res, err := a.client.Analyze(ctx, paper.Title, paper.BodyText)
		a.metrics.RecordAnalysisAttempt(time.Since(started))
		if err != nil {
			log.Debug("analysis attempt failed", "error", err)
			return err
		}
		result = res
		return nil
	})

	if err != nil {
		exhausted := &domain.ExhaustedError{Attempts: attempts, Last: err}
		log.Warn("analysis gave up", "error", exhausted)
		if err := paper.MarkStatus(domain.StatusFailed); err != nil {
			log.Error("mark failed", "error", err)
			return ""
		}
	} else if err := paper.Complete(result, a.now()); err != nil {
		log.Error("apply analysis", "error", err)
		return ""
	}

	if err := a.store.Update(ctx, paper); err != nil {
		log.Error("store terminal status", "status", paper.Status, "error", err)
		return ""
	}

	a.metrics.RecordAnalysisOutcome(string(paper.Status))
	log.Debug("paper settled", "status", paper.Status, "attempts", attempts)
	return paper.Status
}

// settleNoText moves a paper without body text straight to failed_no_text.
func settleNoText(ctx context.Context, store ports.PaperStore, paper domain.Paper, logger *slog.Logger) bool {
	if err := paper.MarkStatus(domain.StatusFailedNoText); err != nil {
		logger.Error("mark failed_no_text", "paper_id", paper.ID, "error", err)
		return false
	}
	if err := store.Update(ctx, paper); err != nil {
		logger.Error("store failed_no_text", "paper_id", paper.ID, "error", err)
		return false
	}
	logger.Info("paper has no text", "paper_id", paper.ID, "url", paper.SourceURL)
	return true
}

func loggerOrDiscard(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
