package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ArxivMind/internal/domain"
	"ArxivMind/internal/observability"
	"ArxivMind/internal/ports"
)

// defaultMaxPages bounds how much of each document is extracted.
const defaultMaxPages = 8

// Fetch stages reported in domain.FetchItemError.
const (
	stageValidate = "validate"
	stageDownload = "download"
	stageExtract  = "extract"
	stageStore    = "store"
)

// FetcherDeps wires the adapters the fetch stage needs. Citations and
// Metrics are optional.
type FetcherDeps struct {
	Source     ports.CatalogSource
	Store      ports.PaperStore
	Downloader ports.DocumentDownloader
	Extractor  ports.TextExtractor
	Citations  ports.CitationLookup
	MaxPages   int
	Metrics    *observability.Metrics
	Logger     *slog.Logger
}

// Fetcher turns new catalog entries into pending papers.
type Fetcher struct {
	source     ports.CatalogSource
	store      ports.PaperStore
	downloader ports.DocumentDownloader
	extractor  ports.TextExtractor
	citations  ports.CitationLookup
	maxPages   int
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewFetcher constructs the fetch stage.
func NewFetcher(deps FetcherDeps) *Fetcher {
	maxPages := deps.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	return &Fetcher{
		source:     deps.Source,
		store:      deps.Store,
		downloader: deps.Downloader,
		extractor:  deps.Extractor,
		citations:  deps.Citations,
		maxPages:   maxPages,
		metrics:    deps.Metrics,
		logger:     loggerOrDiscard(deps.Logger),
	}
}

// FetchNew walks the catalog newest first and stores every candidate not yet
// known by source URL. Per-item failures are logged and skipped; catalog
// errors and an unreachable store abort the walk. It returns the number of
// papers created.
func (f *Fetcher) FetchNew(ctx context.Context, topic string, maxResults int) (int, error) {
	if f.source == nil || f.store == nil {
		return 0, fmt.Errorf("fetcher is not configured")
	}

	created := 0
	for candidate, err := range f.source.Candidates(ctx, topic, maxResults) {
		if err != nil {
			return created, fmt.Errorf("list candidates: %w", err)
		}

		ok, err := f.fetchOne(ctx, candidate)
		if err != nil {
			var itemErr *domain.FetchItemError
			if errors.As(err, &itemErr) {
				f.metrics.RecordFetchFailure(itemErr.Stage)
				f.logger.Warn("skip candidate", "url", itemErr.SourceURL, "stage", itemErr.Stage, "error", itemErr.Err)
				continue
			}
			return created, err
		}
		if ok {
			created++
		}
	}

	f.metrics.RecordFetched(created)
	f.logger.Info("fetch finished", "topic", topic, "created", created)
	return created, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, candidate domain.Candidate) (bool, error) {
	sourceURL, err := domain.CanonicalSourceURL(candidate.SourceURL)
	if err != nil {
		return false, &domain.FetchItemError{SourceURL: candidate.SourceURL, Stage: stageValidate, Err: err}
	}
	candidate.SourceURL = sourceURL

	exists, err := f.store.ExistsByURL(ctx, sourceURL)
	if err != nil {
		return false, fmt.Errorf("check %s: %w", sourceURL, err)
	}
	if exists {
		f.logger.Debug("already stored", "url", sourceURL)
		return false, nil
	}

	data, err := f.downloader.Download(ctx, candidate.DocumentURL)
	if err != nil {
		return false, &domain.FetchItemError{SourceURL: sourceURL, Stage: stageDownload, Err: err}
	}

	// Extractors return sanitized text; an empty body is still stored so the
	// analysis stage can settle it as failed_no_text.
	body, err := f.extractor.ExtractText(data, f.maxPages)
	if err != nil {
		return false, &domain.FetchItemError{SourceURL: sourceURL, Stage: stageExtract, Err: err}
	}

	paper := domain.NewPendingPaper(candidate, body)
	f.enrich(ctx, candidate, &paper)

	stored, ok, err := f.store.Create(ctx, paper)
	if err != nil {
		return false, &domain.FetchItemError{SourceURL: sourceURL, Stage: stageStore, Err: err}
	}
	if ok {
		f.logger.Debug("paper created", "id", stored.ID, "url", sourceURL, "has_text", stored.HasText())
	}
	return ok, nil
}

func (f *Fetcher) enrich(ctx context.Context, candidate domain.Candidate, paper *domain.Paper) {
	if f.citations == nil || candidate.ExternalID == "" {
		return
	}
	counts, err := f.citations.Lookup(ctx, candidate.ExternalID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			f.logger.Warn("citation lookup failed", "arxiv_id", candidate.ExternalID, "error", err)
		}
		return
	}
	paper.CitationCount = counts.Citations
	paper.InfluentialCitationCount = counts.InfluentialCitations
}
