package parser

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"ArxivMind/internal/domain"
	"ArxivMind/internal/scanner"
)

const (
	arxivAPIBaseURL = "https://export.arxiv.org/api/query"
	apiPageSize     = 100
)

var absIDExpr = regexp.MustCompile(`arxiv\.org/abs/(.+?)(v\d+)?$`)

type atomFeed struct {
	XMLName      xml.Name    `xml:"feed"`
	TotalResults int         `xml:"totalResults"`
	Entries      []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string     `xml:"id"`
	Title     string     `xml:"title"`
	Published string     `xml:"published"`
	Links     []atomLink `xml:"link"`
}

type atomLink struct {
	Href  string `xml:"href,attr"`
	Rel   string `xml:"rel,attr"`
	Type  string `xml:"type,attr"`
	Title string `xml:"title,attr"`
}

// ArxivAPIScanner queries the arXiv export API sorted by submission date.
type ArxivAPIScanner struct {
	fetcher  *pageFetcher
	baseURL  string
	pageSize int
}

// NewArxivAPIScanner wires an HTTP client; requests are spaced by interval
// (arXiv asks for one request every three seconds).
func NewArxivAPIScanner(client *http.Client, interval time.Duration) *ArxivAPIScanner {
	return &ArxivAPIScanner{
		fetcher:  newPageFetcher(client, interval),
		baseURL:  arxivAPIBaseURL,
		pageSize: apiPageSize,
	}
}

// Name identifies the strategy inside the registry.
func (a *ArxivAPIScanner) Name() string {
	return "arxiv-api"
}

// Scan pages through the export API until MaxResults candidates were yielded
// or the feed is exhausted.
func (a *ArxivAPIScanner) Scan(ctx context.Context, req scanner.Request) iter.Seq2[domain.Candidate, error] {
	return func(yield func(domain.Candidate, error) bool) {
		query := searchQuery(req)
		if query == "" {
			yield(domain.Candidate{}, fmt.Errorf("no topic or categories provided for site %s", req.SiteName))
			return
		}

		yielded := 0
		for start := 0; req.MaxResults <= 0 || yielded < req.MaxResults; start += a.pageSize {
			size := a.pageSize
			if req.MaxResults > 0 && req.MaxResults-yielded < size {
				size = req.MaxResults - yielded
			}

			pageURL, err := a.buildQueryURL(query, start, size)
			if err != nil {
				yield(domain.Candidate{}, err)
				return
			}

			raw, err := a.fetcher.get(ctx, pageURL)
			if err != nil {
				yield(domain.Candidate{}, fmt.Errorf("query arxiv api: %w", err))
				return
			}

			var feed atomFeed
			if err := xml.NewDecoder(bytes.NewReader(raw)).Decode(&feed); err != nil {
				yield(domain.Candidate{}, fmt.Errorf("decode arxiv feed: %w", err))
				return
			}

			for _, entry := range feed.Entries {
				candidate, ok := entryToCandidate(entry)
				if !ok {
					continue
				}
				if !yield(candidate, nil) {
					return
				}
				yielded++
				if req.MaxResults > 0 && yielded >= req.MaxResults {
					return
				}
			}

			if len(feed.Entries) < size || start+len(feed.Entries) >= feed.TotalResults {
				return
			}
		}
	}
}

func (a *ArxivAPIScanner) buildQueryURL(query string, start, size int) (string, error) {
	parsed, err := url.Parse(a.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid api url %s: %w", a.baseURL, err)
	}

	q := parsed.Query()
	q.Set("search_query", query)
	q.Set("start", strconv.Itoa(start))
	q.Set("max_results", strconv.Itoa(size))
	q.Set("sortBy", "submittedDate")
	q.Set("sortOrder", "descending")
	parsed.RawQuery = q.Encode()
	return parsed.String(), nil
}

// searchQuery turns "cs.AI" into "cat:cs.AI"; explicit field queries pass through.
func searchQuery(req scanner.Request) string {
	topic := strings.TrimSpace(req.Topic)
	if topic == "" && len(req.Categories) > 0 {
		parts := make([]string, 0, len(req.Categories))
		for _, cat := range req.Categories {
			parts = append(parts, "cat:"+cat.Name)
		}
		return strings.Join(parts, " OR ")
	}
	if topic == "" || strings.Contains(topic, ":") {
		return topic
	}
	return "cat:" + topic
}

func entryToCandidate(entry atomEntry) (domain.Candidate, bool) {
	id := strings.TrimSpace(entry.ID)
	match := absIDExpr.FindStringSubmatch(id)
	if match == nil {
		return domain.Candidate{}, false
	}
	arxivID := match[1]

	pdfURL := ""
	for _, link := range entry.Links {
		if link.Title == "pdf" || link.Type == "application/pdf" {
			pdfURL = link.Href
			break
		}
	}
	if pdfURL == "" {
		pdfURL = arxivBaseURL + "/pdf/" + arxivID + match[2]
	}

	published := time.Time{}
	if t, err := time.Parse(time.RFC3339, strings.TrimSpace(entry.Published)); err == nil {
		published = t.UTC()
	}

	return domain.Candidate{
		ExternalID:  arxivID,
		Title:       strings.Join(strings.Fields(entry.Title), " "),
		SourceURL:   arxivBaseURL + "/abs/" + arxivID,
		DocumentURL: pdfURL,
		PublishedAt: published,
	}, true
}
