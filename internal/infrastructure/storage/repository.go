package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"ArxivMind/internal/domain"
	"ArxivMind/internal/ports"
)

var paperColumns = []string{
	"id", "source_url", "document_url", "title", "published_at", "body_text",
	"category", "motivation", "method", "result", "implementation_example",
	"popular_science", "keywords", "analysis_json",
	"citation_count", "influential_citation_count",
	"status", "created_at", "updated_at", "analyzed_at",
}

// Repository persists papers, batch jobs and pipeline runs in SQLite or Postgres.
type Repository struct {
	db  *sql.DB
	sb  sq.StatementBuilderType
	now func() time.Time
}

var (
	_ ports.PaperStore    = (*Repository)(nil)
	_ ports.BatchJobStore = (*Repository)(nil)
	_ ports.RunStore      = (*Repository)(nil)
)

// NewRepository wires a sql.DB opened for driver.
func NewRepository(db *sql.DB, driver string) *Repository {
	return &Repository{
		db:  db,
		sb:  statementBuilder(driver),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Create inserts a pending paper unless its source URL is already stored.
func (r *Repository) Create(ctx context.Context, paper domain.Paper) (domain.Paper, bool, error) {
	if paper.Status == "" {
		paper.Status = domain.StatusPending
	}
	now := r.timestamp()
	paper.CreatedAt = now
	paper.UpdatedAt = now

	query, args, err := r.sb.Insert("papers").
		Columns(
			"source_url", "document_url", "title", "published_at", "body_text",
			"citation_count", "influential_citation_count", "status", "created_at", "updated_at",
		).
		Values(
			paper.SourceURL, paper.DocumentURL, paper.Title, paper.PublishedAt.UTC(), paper.BodyText,
			paper.CitationCount, paper.InfluentialCitationCount, string(paper.Status), now, now,
		).
		Suffix("ON CONFLICT (source_url) DO NOTHING RETURNING id").
		ToSql()
	if err != nil {
		return domain.Paper{}, false, fmt.Errorf("build insert paper: %w", err)
	}

	err = r.db.QueryRowContext(ctx, query, args...).Scan(&paper.ID)
	if errors.Is(err, sql.ErrNoRows) {
		existing, findErr := r.FindByURL(ctx, paper.SourceURL)
		if findErr != nil {
			return domain.Paper{}, false, findErr
		}
		return existing, false, nil
	}
	if err != nil {
		return domain.Paper{}, false, fmt.Errorf("%w: insert paper: %w", domain.ErrStoreUnavailable, err)
	}

	return paper, true, nil
}

// FindByURL returns the paper stored under sourceURL.
func (r *Repository) FindByURL(ctx context.Context, sourceURL string) (domain.Paper, error) {
	return r.findOne(ctx, sq.Eq{"source_url": sourceURL})
}

// FindByID returns the paper with the given identifier.
func (r *Repository) FindByID(ctx context.Context, id int64) (domain.Paper, error) {
	return r.findOne(ctx, sq.Eq{"id": id})
}

// ExistsByURL reports whether sourceURL has already been ingested.
func (r *Repository) ExistsByURL(ctx context.Context, sourceURL string) (bool, error) {
	query, args, err := r.sb.Select("1").From("papers").Where(sq.Eq{"source_url": sourceURL}).Limit(1).ToSql()
	if err != nil {
		return false, fmt.Errorf("build exists query: %w", err)
	}

	var one int
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: check source url: %w", domain.ErrStoreUnavailable, err)
	}
	return true, nil
}

// FindByStatus returns every paper in status, oldest first.
func (r *Repository) FindByStatus(ctx context.Context, status domain.Status) ([]domain.Paper, error) {
	return r.findMany(ctx, r.sb.Select(paperColumns...).From("papers").
		Where(sq.Eq{"status": string(status)}).
		OrderBy("id"))
}

// FindCompletedSince returns papers completed strictly after since.
func (r *Repository) FindCompletedSince(ctx context.Context, since time.Time) ([]domain.Paper, error) {
	return r.findMany(ctx, r.sb.Select(paperColumns...).From("papers").
		Where(sq.Eq{"status": string(domain.StatusCompleted)}).
		Where(sq.Gt{"analyzed_at": since.UTC()}).
		OrderBy("category", "analyzed_at", "id"))
}

// Update writes every mutable column in one transaction. The write is refused
// with domain.ErrInvalidTransition when the stored status cannot move to the
// new one.
func (r *Repository) Update(ctx context.Context, paper domain.Paper) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin update: %w", domain.ErrStoreUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	query, args, err := r.sb.Select("status").From("papers").Where(sq.Eq{"id": paper.ID}).ToSql()
	if err != nil {
		return fmt.Errorf("build status query: %w", err)
	}

	var current string
	err = tx.QueryRowContext(ctx, query, args...).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("update paper %d: %w", paper.ID, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("%w: load status: %w", domain.ErrStoreUnavailable, err)
	}

	from := domain.Status(current)
	if !allowedWrite(from, paper.Status) {
		return fmt.Errorf("update paper %d: %w: %s -> %s", paper.ID, domain.ErrInvalidTransition, from, paper.Status)
	}

	var analysis any
	if len(paper.AnalysisJSON) > 0 {
		analysis = string(paper.AnalysisJSON)
	}
	var analyzedAt any
	if paper.AnalyzedAt != nil {
		analyzedAt = paper.AnalyzedAt.UTC()
	}

	query, args, err = r.sb.Update("papers").
		SetMap(map[string]any{
			"document_url":               paper.DocumentURL,
			"title":                      paper.Title,
			"body_text":                  paper.BodyText,
			"category":                   string(paper.Category),
			"motivation":                 paper.Motivation,
			"method":                     paper.Method,
			"result":                     paper.Result,
			"implementation_example":     paper.ImplementationExample,
			"popular_science":            paper.PopularScience,
			"keywords":                   paper.Keywords,
			"analysis_json":              analysis,
			"citation_count":             paper.CitationCount,
			"influential_citation_count": paper.InfluentialCitationCount,
			"status":                     string(paper.Status),
			"updated_at":                 r.timestamp(),
			"analyzed_at":                analyzedAt,
		}).
		Where(sq.Eq{"id": paper.ID, "status": current}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update paper: %w", err)
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: update paper %d: %w", domain.ErrStoreUnavailable, paper.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update paper %d: %w: status changed concurrently", paper.ID, domain.ErrInvalidTransition)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit update: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// allowedWrite permits forward transitions and same-status rewrites of
// non-terminal papers (for example enrichment of a pending record).
func allowedWrite(from, to domain.Status) bool {
	if from == to {
		return !from.Terminal()
	}
	return domain.CanTransition(from, to)
}

// Requeue moves failed or processing papers back to pending. It returns the
// number of papers actually moved.
func (r *Repository) Requeue(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query, args, err := r.sb.Update("papers").
		Set("status", string(domain.StatusPending)).
		Set("updated_at", r.timestamp()).
		Where(sq.Eq{"id": ids}).
		Where(sq.Eq{"status": []string{string(domain.StatusFailed), string(domain.StatusProcessing)}}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build requeue: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: requeue: %w", domain.ErrStoreUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue rows affected: %w", err)
	}
	return int(n), nil
}

func (r *Repository) findOne(ctx context.Context, where sq.Sqlizer) (domain.Paper, error) {
	query, args, err := r.sb.Select(paperColumns...).From("papers").Where(where).Limit(1).ToSql()
	if err != nil {
		return domain.Paper{}, fmt.Errorf("build paper query: %w", err)
	}

	paper, err := scanPaper(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Paper{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Paper{}, fmt.Errorf("%w: load paper: %w", domain.ErrStoreUnavailable, err)
	}
	return paper, nil
}

func (r *Repository) findMany(ctx context.Context, builder sq.SelectBuilder) ([]domain.Paper, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build papers query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query papers: %w", domain.ErrStoreUnavailable, err)
	}

	var papers []domain.Paper
	for rows.Next() {
		paper, err := scanPaper(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan paper: %w", err)
		}
		papers = append(papers, paper)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("%w: rows iteration: %w", domain.ErrStoreUnavailable, rowsErr)
	}

	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}

	return papers, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPaper(row rowScanner) (domain.Paper, error) {
	var (
		p          domain.Paper
		category   string
		status     string
		analysis   sql.NullString
		analyzedAt sql.NullTime
	)

	err := row.Scan(
		&p.ID, &p.SourceURL, &p.DocumentURL, &p.Title, &p.PublishedAt, &p.BodyText,
		&category, &p.Motivation, &p.Method, &p.Result, &p.ImplementationExample,
		&p.PopularScience, &p.Keywords, &analysis,
		&p.CitationCount, &p.InfluentialCitationCount,
		&status, &p.CreatedAt, &p.UpdatedAt, &analyzedAt,
	)
	if err != nil {
		return domain.Paper{}, err
	}

	p.Category = domain.Category(category)
	p.Status = domain.Status(status)
	if analysis.Valid && analysis.String != "" {
		p.AnalysisJSON = []byte(analysis.String)
	}
	if analyzedAt.Valid {
		t := analyzedAt.Time.UTC()
		p.AnalyzedAt = &t
	}
	p.PublishedAt = p.PublishedAt.UTC()
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func (r *Repository) timestamp() time.Time {
	return r.now().UTC().Truncate(time.Microsecond)
}
