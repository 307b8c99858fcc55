package domain

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Candidate is a catalog entry that may become a Paper.
type Candidate struct {
	ExternalID  string
	Title       string
	SourceURL   string
	DocumentURL string
	PublishedAt time.Time
}

// Paper is the unit of work moving through the pipeline.
type Paper struct {
	ID          int64
	SourceURL   string
	DocumentURL string
	Title       string
	PublishedAt time.Time

	// BodyText is transient: present while pending, cleared on completion.
	BodyText string

	Category              Category
	Motivation            string
	Method                string
	Result                string
	ImplementationExample string
	PopularScience        string
	Keywords              string
	AnalysisJSON          json.RawMessage

	CitationCount            int
	InfluentialCitationCount int

	Status     Status
	CreatedAt  time.Time
	UpdatedAt  time.Time
	AnalyzedAt *time.Time
}

// NewPendingPaper builds the record the fetcher stores for a fresh candidate.
func NewPendingPaper(c Candidate, body string) Paper {
	return Paper{
		SourceURL:   c.SourceURL,
		DocumentURL: c.DocumentURL,
		Title:       c.Title,
		PublishedAt: c.PublishedAt,
		BodyText:    body,
		Status:      StatusPending,
	}
}

// HasText reports whether there is anything worth sending to the analysis service.
func (p Paper) HasText() bool {
	return strings.TrimSpace(p.BodyText) != ""
}

// Complete applies an analysis result, reclaims the body text and marks the
// paper completed. Both the concurrent and the batch schedulers go through it.
func (p *Paper) Complete(result AnalysisResult, at time.Time) error {
	if !CanTransition(p.Status, StatusCompleted) {
		return fmt.Errorf("complete paper %d: %w: %s -> %s", p.ID, ErrInvalidTransition, p.Status, StatusCompleted)
	}

	raw := result.Raw
	if len(raw) == 0 {
		encoded, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("encode analysis for paper %d: %w", p.ID, err)
		}
		raw = encoded
	}

	p.Category = result.Category
	p.Motivation = result.Motivation
	p.Method = result.Method
	p.Result = result.Result
	p.ImplementationExample = result.ImplementationExample
	p.PopularScience = result.PopularScience
	p.Keywords = strings.Join(result.KeywordList(), ", ")
	p.AnalysisJSON = raw
	p.BodyText = ""
	p.Status = StatusCompleted
	analyzed := at.UTC()
	p.AnalyzedAt = &analyzed
	return nil
}

// MarkStatus moves the paper to a non-completed status, validating the edge.
func (p *Paper) MarkStatus(to Status) error {
	if to == StatusCompleted {
		return fmt.Errorf("paper %d: completed requires an analysis result", p.ID)
	}
	if !CanTransition(p.Status, to) {
		return fmt.Errorf("paper %d: %w: %s -> %s", p.ID, ErrInvalidTransition, p.Status, to)
	}
	p.Status = to
	return nil
}

var arxivVersionExpr = regexp.MustCompile(`^(/abs/.+?)v\d+$`)

// CanonicalSourceURL normalises a document URL into the deduplication key:
// https scheme, lower-case host, no query, fragment or trailing slash.
// arXiv abstract URLs lose their version suffix and the export mirror
// folds into arxiv.org, so every revision of a paper shares one key.
func CanonicalSourceURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty source url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse source url %q: %w", raw, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("source url %q has no host", raw)
	}
	u.Scheme = "https"
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = ""
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	if u.Host == "arxiv.org" || strings.HasSuffix(u.Host, ".arxiv.org") {
		u.Host = "arxiv.org"
		u.Path = arxivVersionExpr.ReplaceAllString(u.Path, "$1")
	}
	return u.String(), nil
}
