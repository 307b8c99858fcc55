package parser

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"ArxivMind/internal/domain"
	"ArxivMind/internal/scanner"
)

const (
	arxivBaseURL    = "https://arxiv.org"
	listingPageSize = 200
)

var (
	dateExpr    = regexp.MustCompile(`\d{1,2} [A-Za-z]{3} \d{4}`)
	versionExpr = regexp.MustCompile(`v\d+$`)
)

// ArxivListingScanner crawls category listing pages, which arXiv orders by
// announcement, newest first.
type ArxivListingScanner struct {
	fetcher  *pageFetcher
	pageSize int
}

// NewArxivListingScanner wires an HTTP client; pageSize defaults to 200.
func NewArxivListingScanner(client *http.Client, interval time.Duration) *ArxivListingScanner {
	return &ArxivListingScanner{fetcher: newPageFetcher(client, interval), pageSize: listingPageSize}
}

// Name identifies the strategy inside the registry.
func (a *ArxivListingScanner) Name() string {
	return "arxiv-listing"
}

// Scan walks through each category URL until MaxResults candidates were yielded.
func (a *ArxivListingScanner) Scan(ctx context.Context, req scanner.Request) iter.Seq2[domain.Candidate, error] {
	return func(yield func(domain.Candidate, error) bool) {
		categories := req.Categories
		if len(categories) == 0 && strings.TrimSpace(req.Topic) != "" {
			topic := strings.TrimSpace(req.Topic)
			categories = []scanner.Category{{Name: topic, URL: arxivBaseURL + "/list/" + topic + "/pastweek"}}
		}
		if len(categories) == 0 {
			yield(domain.Candidate{}, fmt.Errorf("no categories provided for site %s", req.SiteName))
			return
		}

		seen := map[string]struct{}{}
		yielded := 0

		for _, cat := range categories {
			for skip := 0; ; skip += a.pageSize {
				pageURL, err := buildPageURL(cat.URL, skip, a.pageSize)
				if err != nil {
					yield(domain.Candidate{}, fmt.Errorf("category %s: %w", cat.Name, err))
					return
				}

				doc, err := a.fetchDocument(ctx, pageURL)
				if err != nil {
					yield(domain.Candidate{}, fmt.Errorf("category %s: %w", cat.Name, err))
					return
				}

				candidates, processed := extractCandidates(doc)
				for _, c := range candidates {
					if _, ok := seen[c.ExternalID]; ok {
						continue
					}
					seen[c.ExternalID] = struct{}{}
					if !yield(c, nil) {
						return
					}
					yielded++
					if req.MaxResults > 0 && yielded >= req.MaxResults {
						return
					}
				}

				if processed < a.pageSize {
					break
				}
			}
		}
	}
}

func (a *ArxivListingScanner) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	raw, err := a.fetcher.get(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("request listing: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

func extractCandidates(doc *goquery.Document) ([]domain.Candidate, int) {
	var (
		collected []domain.Candidate
		processed int
	)

	doc.Find("dl > dt").Each(func(i int, dt *goquery.Selection) {
		processed++
		candidate, err := parseEntry(dt, dt.Next())
		if err != nil {
			return
		}
		collected = append(collected, candidate)
	})

	return collected, processed
}

func parseEntry(dt, dd *goquery.Selection) (domain.Candidate, error) {
	link := dt.Find("a[href*=\"/abs/\"]").First()
	href, _ := link.Attr("href")
	if href == "" {
		return domain.Candidate{}, fmt.Errorf("entry has no abstract link")
	}
	if !strings.HasPrefix(href, "http") {
		href = strings.TrimSuffix(arxivBaseURL, "/") + href
	}

	id := href[strings.LastIndex(href, "/abs/")+len("/abs/"):]
	id = versionExpr.ReplaceAllString(id, "")

	pdfURL := arxivBaseURL + "/pdf/" + id
	if pdfHref, ok := dt.Find("a[href*=\"/pdf/\"]").First().Attr("href"); ok {
		if strings.HasPrefix(pdfHref, "http") {
			pdfURL = pdfHref
		} else {
			pdfURL = arxivBaseURL + pdfHref
		}
	}

	title := strings.TrimSpace(dd.Find(".list-title").First().Text())
	title = strings.TrimPrefix(title, "Title:")
	title = strings.Join(strings.Fields(title), " ")

	dateText := strings.TrimSpace(dd.Find(".list-date").First().Text())
	if dateText == "" {
		dateText = strings.TrimSpace(dd.Find(".list-dateline").First().Text())
	}

	var publishedAt time.Time
	if match := dateExpr.FindString(dateText); match != "" {
		if parsed, err := time.Parse("2 Jan 2006", match); err == nil {
			publishedAt = parsed
		}
	}

	return domain.Candidate{
		ExternalID:  id,
		Title:       title,
		SourceURL:   href,
		DocumentURL: pdfURL,
		PublishedAt: publishedAt,
	}, nil
}

func buildPageURL(base string, skip, pageSize int) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid category url %s: %w", base, err)
	}

	query := parsed.Query()
	query.Set("skip", strconv.Itoa(skip))
	query.Set("show", strconv.Itoa(pageSize))
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
