package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"ArxivMind/internal/config"
	"ArxivMind/internal/domain"
	"ArxivMind/internal/infrastructure/citations"
	"ArxivMind/internal/infrastructure/llm"
	"ArxivMind/internal/infrastructure/parser"
	"ArxivMind/internal/infrastructure/pdf"
	"ArxivMind/internal/infrastructure/scheduler"
	"ArxivMind/internal/infrastructure/storage"
	"ArxivMind/internal/infrastructure/telegram"
	"ArxivMind/internal/logging"
	"ArxivMind/internal/observability"
	"ArxivMind/internal/ports"
	"ArxivMind/internal/scanner"
	"ArxivMind/internal/usecase"
)

const shutdownTimeout = 30 * time.Second

// Application wires configs to use cases and owns every long-lived resource.
type Application struct {
	cfg    config.Config
	logger *slog.Logger
	db     *sql.DB

	Metrics  *observability.Metrics
	Fetcher  *usecase.Fetcher
	Analyzer *usecase.Analyzer
	Batch    *usecase.BatchRunner
	Pipeline *usecase.Pipeline
	Requeuer *usecase.Requeuer
}

// New migrates the store, opens the connection pool and builds every
// component. Close must be called to release the pool.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if err := storage.Migrate(ctx, cfg.Database.Driver, cfg.Database.DSN, baseLogger.With("component", "migrate")); err != nil {
		return nil, err
	}
	db, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	repo := storage.NewRepository(db, cfg.Database.Driver)

	metrics := observability.NewMetrics("arxivmind")
	httpClient := &http.Client{Timeout: 60 * time.Second}

	registry := scanner.NewRegistry()
	registry.Register(parser.NewArxivAPIScanner(httpClient, cfg.Catalog.RequestInterval.Duration))
	registry.Register(parser.NewArxivListingScanner(httpClient, cfg.Catalog.RequestInterval.Duration))
	source := parser.NewStrategySource(registry, cfg.Sites, baseLogger.With("component", "source"))

	var lookup ports.CitationLookup
	if cfg.Citations.Enabled {
		lookup = citations.NewClient(cfg.Citations)
	}

	fetcher := usecase.NewFetcher(usecase.FetcherDeps{
		Source:     source,
		Store:      repo,
		Downloader: pdf.NewDownloader(httpClient, cfg.Catalog.DownloadRate, baseLogger.With("component", "downloader")),
		Extractor:  pdf.NewExtractor(),
		Citations:  lookup,
		MaxPages:   cfg.Pipeline.MaxPages,
		Metrics:    metrics,
		Logger:     baseLogger.With("component", "fetcher"),
	})

	analyzer := usecase.NewAnalyzer(usecase.AnalyzerDeps{
		Store:   repo,
		Client:  llm.NewAnalysisClient(cfg.Analysis),
		Workers: cfg.Pipeline.Workers,
		Metrics: metrics,
		Logger:  baseLogger.With("component", "analyzer"),
	})

	batch := usecase.NewBatchRunner(usecase.BatchRunnerDeps{
		Store:   repo,
		Jobs:    repo,
		Service: llm.NewBatchClient(cfg.Analysis),
		Metrics: metrics,
		Logger:  baseLogger.With("component", "batch"),
	})

	var notifier ports.Notifier
	if cfg.Notifications.Telegram.Enabled() {
		notifier = telegram.NewNotifier(cfg.Notifications.Telegram)
	}

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Fetcher:    fetcher,
		Analyzer:   analyzer,
		Batch:      batch,
		BatchMode:  cfg.Pipeline.Mode == config.ModeBatch,
		Store:      repo,
		Runs:       repo,
		Notifier:   notifier,
		Topic:      cfg.Pipeline.Topic,
		MaxResults: cfg.Pipeline.MaxResults,
		Metrics:    metrics,
		Logger:     baseLogger.With("component", "pipeline"),
	})

	return &Application{
		cfg:      cfg,
		logger:   baseLogger,
		db:       db,
		Metrics:  metrics,
		Fetcher:  fetcher,
		Analyzer: analyzer,
		Batch:    batch,
		Pipeline: pipeline,
		Requeuer: usecase.NewRequeuer(repo, baseLogger.With("component", "requeue")),
	}, nil
}

// Close releases the connection pool.
func (a *Application) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

// Run performs a single pipeline execution.
func (a *Application) Run(ctx context.Context) (domain.PipelineRun, error) {
	now := time.Now().In(a.cfg.Scheduler.Location())
	return a.Pipeline.RunDaily(ctx, now)
}

// Serve runs the pipeline every day at the configured time and exposes
// metrics until ctx is cancelled.
func (a *Application) Serve(ctx context.Context) error {
	hour, minute, err := config.ParseClock(a.cfg.Scheduler.RunAt)
	if err != nil {
		return err
	}
	driver, err := scheduler.NewDailyScheduler(hour, minute, a.cfg.Scheduler.Location())
	if err != nil {
		return err
	}

	sched := usecase.NewScheduler(driver, a.Pipeline, a.logger.With("component", "scheduler"))
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.logger.Info("scheduler started",
		"run_at", a.cfg.Scheduler.RunAt,
		"timezone", a.cfg.Scheduler.Location().String(),
		"next_run", driver.Next(time.Now()),
	)

	errCh := make(chan error, 1)
	var metricsServer *http.Server
	if a.cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.Metrics.Handler())
		metricsServer = &http.Server{
			Addr:              a.cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			a.logger.Info("metrics server starting", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
		a.logger.Info("received shutdown signal")
	case serveErr = <-errCh:
		a.logger.Error("server error", "error", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown", "error", err)
		}
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		a.logger.Error("scheduler shutdown", "error", err)
	}
	return serveErr
}
