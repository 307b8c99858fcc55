package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"ArxivMind/internal/config"
	"ArxivMind/internal/domain"
	"ArxivMind/internal/ports"
)

const maxResponseBytes = 10 << 20

// AnalysisClient implements ports.Analyzer against an OpenAI-compatible
// chat completions API.
type AnalysisClient struct {
	baseURL    string
	apiKey     string
	prompt     promptBuilder
	limiter    *rate.Limiter
	httpClient *http.Client
}

var _ ports.Analyzer = (*AnalysisClient)(nil)

// NewAnalysisClient builds a client from configuration.
func NewAnalysisClient(cfg config.AnalysisConfig) *AnalysisClient {
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSec > 0 {
		limit = rate.Limit(cfg.RequestsPerSec)
	}
	return &AnalysisClient{
		baseURL: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:  cfg.APIKey,
		prompt: promptBuilder{
			model:         cfg.Model,
			systemPrompt:  cfg.SystemPrompt,
			temperature:   cfg.Temperature,
			maxInputRunes: cfg.MaxInputRunes,
		},
		limiter: rate.NewLimiter(limit, 1),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Analyze sends one paper to the model and returns the validated result.
// Every error is a *domain.AnalysisError.
func (c *AnalysisClient) Analyze(ctx context.Context, title, body string) (domain.AnalysisResult, error) {
	if c == nil {
		return domain.AnalysisResult{}, &domain.AnalysisError{Kind: domain.AnalysisRejected, Err: fmt.Errorf("analysis client is nil")}
	}
	if c.apiKey == "" || c.baseURL == "" || c.prompt.model == "" {
		return domain.AnalysisResult{}, &domain.AnalysisError{Kind: domain.AnalysisRejected, Err: fmt.Errorf("analysis client misconfigured")}
	}

	payload, err := json.Marshal(c.prompt.request(title, body))
	if err != nil {
		return domain.AnalysisResult{}, &domain.AnalysisError{Kind: domain.AnalysisRejected, Err: fmt.Errorf("marshal analysis payload: %w", err)}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return domain.AnalysisResult{}, domain.NewTransientError(0, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return domain.AnalysisResult{}, &domain.AnalysisError{Kind: domain.AnalysisRejected, Err: fmt.Errorf("new request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.AnalysisResult{}, domain.NewTransientError(0, fmt.Errorf("send analysis request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return domain.AnalysisResult{}, domain.NewTransientError(resp.StatusCode, fmt.Errorf("read analysis response: %w", err))
	}

	if err := classifyStatus(resp.StatusCode, resp.Status, respBody); err != nil {
		return domain.AnalysisResult{}, err
	}

	return parseCompletion(respBody)
}

// classifyStatus maps a non-2xx answer onto the analysis error kinds.
func classifyStatus(code int, status string, body []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > 512 {
		snippet = snippet[:512]
	}
	err := fmt.Errorf("analysis service error %s: %s", status, snippet)
	if code == http.StatusTooManyRequests || code >= http.StatusInternalServerError || code == http.StatusRequestTimeout {
		return domain.NewTransientError(code, err)
	}
	return &domain.AnalysisError{Kind: domain.AnalysisRejected, StatusCode: code, Err: err}
}
