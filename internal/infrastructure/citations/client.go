package citations

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"ArxivMind/internal/config"
	"ArxivMind/internal/domain"
	"ArxivMind/internal/ports"
)

const lookupFields = "citationCount,influentialCitationCount"

// Client looks up citation counts in the Semantic Scholar Graph API.
type Client struct {
	baseURL string
	apiKey  string
	limiter *rate.Limiter
	http    *http.Client
}

var _ ports.CitationLookup = (*Client)(nil)

// NewClient creates a reusable, rate limited HTTP client.
func NewClient(cfg config.CitationsConfig) *Client {
	limit := rate.Every(time.Second)
	if cfg.RequestInterval.Duration > 0 {
		limit = rate.Every(cfg.RequestInterval.Duration)
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		limiter: rate.NewLimiter(limit, 1),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Lookup fetches the counts for an arXiv identifier. Unknown papers return
// domain.ErrNotFound.
func (c *Client) Lookup(ctx context.Context, externalID string) (ports.CitationCounts, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return ports.CitationCounts{}, fmt.Errorf("empty arxiv id")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return ports.CitationCounts{}, err
	}

	endpoint := fmt.Sprintf("%s/paper/%s?fields=%s", c.baseURL, url.PathEscape("ArXiv:"+externalID), lookupFields)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ports.CitationCounts{}, fmt.Errorf("new request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return ports.CitationCounts{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ports.CitationCounts{}, fmt.Errorf("arxiv %s: %w", externalID, domain.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return ports.CitationCounts{}, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var payload struct {
		CitationCount            int `json:"citationCount"`
		InfluentialCitationCount int `json:"influentialCitationCount"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return ports.CitationCounts{}, fmt.Errorf("decode response: %w", err)
	}

	return ports.CitationCounts{
		Citations:            payload.CitationCount,
		InfluentialCitations: payload.InfluentialCitationCount,
	}, nil
}
