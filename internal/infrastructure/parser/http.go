package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"ArxivMind/internal/retry"
)

const (
	userAgent    = "ArxivMind/1.0 (+https://github.com/arxivmind)"
	maxPageBytes = 10 << 20
)

// httpStatusError is a non-200 answer from a catalog endpoint.
type httpStatusError struct {
	Code   int
	Status string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("catalog returned %s", e.Status)
}

// pageFetcher performs polite GETs: requests are spaced by a token bucket and
// 429/5xx or network failures are retried.
type pageFetcher struct {
	client  *http.Client
	limiter *rate.Limiter
	policy  retry.Policy
}

func newPageFetcher(client *http.Client, interval time.Duration) *pageFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &pageFetcher{
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
		policy:  retry.Fetch,
	}
}

func (f *pageFetcher) get(ctx context.Context, pageURL string) ([]byte, error) {
	var body []byte
	_, err := retry.Do(ctx, f.policy, retryableFetch, func(ctx context.Context) error {
		if err := f.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("User-Agent", userAgent)

		resp, err := f.client.Do(req)
		if err != nil {
			return fmt.Errorf("request page: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return &httpStatusError{Code: resp.StatusCode, Status: resp.Status}
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
		if err != nil {
			return fmt.Errorf("read page: %w", err)
		}
		body = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func retryableFetch(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *httpStatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= http.StatusInternalServerError
	}
	return true
}
