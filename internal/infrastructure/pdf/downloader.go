package pdf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"ArxivMind/internal/ports"
	"ArxivMind/internal/retry"
)

const maxDocumentBytes = 64 << 20

// statusError is a non-200 answer from the document host.
type statusError struct {
	code   int
	status string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("document host returned %s", e.status)
}

func (e *statusError) retryable() bool {
	return e.code == http.StatusTooManyRequests || e.code >= http.StatusInternalServerError
}

// Downloader fetches documents politely: a token bucket spaces requests and
// transient failures are retried with the fetch backoff schedule.
type Downloader struct {
	client  *http.Client
	limiter *rate.Limiter
	policy  retry.Policy
	logger  *slog.Logger
}

var _ ports.DocumentDownloader = (*Downloader)(nil)

// NewDownloader wires an HTTP client and a limiter allowing perSecond requests.
func NewDownloader(client *http.Client, perSecond float64, log *slog.Logger) *Downloader {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &Downloader{
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
		policy:  retry.Fetch,
		logger:  log,
	}
}

// Download returns the document body.
func (d *Downloader) Download(ctx context.Context, documentURL string) ([]byte, error) {
	var body []byte
	attempts, err := retry.Do(ctx, d.policy, isRetryableDownload, func(ctx context.Context) error {
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}
		data, err := d.get(ctx, documentURL)
		if err != nil {
			return err
		}
		body = data
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("download %s after %d attempts: %w", documentURL, attempts, err)
	}
	if attempts > 1 && d.logger != nil {
		d.logger.Debug("download recovered", "url", documentURL, "attempts", attempts)
	}
	return body, nil
}

func (d *Downloader) get(ctx context.Context, documentURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, documentURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "ArxivMind/1.0")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode, status: resp.Status}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return data, nil
}

func isRetryableDownload(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.retryable()
	}
	return true
}
