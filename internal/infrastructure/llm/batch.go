package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ArxivMind/internal/config"
	"ArxivMind/internal/domain"
	"ArxivMind/internal/ports"
)

const (
	batchEndpoint       = "/v1/chat/completions"
	defaultBatchWindow  = "24h"
	maxBatchOutputBytes = 512 << 20
)

// BatchClient submits analysis requests through the OpenAI-compatible
// Files and Batches APIs.
type BatchClient struct {
	baseURL    string
	apiKey     string
	window     string
	prompt     promptBuilder
	httpClient *http.Client
}

var _ ports.BatchService = (*BatchClient)(nil)

// NewBatchClient builds a batch client sharing the analysis configuration.
func NewBatchClient(cfg config.AnalysisConfig) *BatchClient {
	window := cfg.BatchWindow
	if window == "" {
		window = defaultBatchWindow
	}
	return &BatchClient{
		baseURL: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:  cfg.APIKey,
		window:  window,
		prompt: promptBuilder{
			model:         cfg.Model,
			systemPrompt:  cfg.SystemPrompt,
			temperature:   cfg.Temperature,
			maxInputRunes: cfg.MaxInputRunes,
		},
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

type batchLine struct {
	CustomID string      `json:"custom_id"`
	Method   string      `json:"method"`
	URL      string      `json:"url"`
	Body     chatRequest `json:"body"`
}

type fileObject struct {
	ID string `json:"id"`
}

type batchObject struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	OutputFileID string `json:"output_file_id"`
	ErrorFileID  string `json:"error_file_id"`
}

type batchResultLine struct {
	CustomID string `json:"custom_id"`
	Response *struct {
		StatusCode int             `json:"status_code"`
		Body       json.RawMessage `json:"body"`
	} `json:"response"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// BuildJSONL renders one chat completion request per item.
func (c *BatchClient) BuildJSONL(items []ports.BatchItem) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, item := range items {
		line := batchLine{
			CustomID: item.CustomID,
			Method:   http.MethodPost,
			URL:      batchEndpoint,
			Body:     c.prompt.request(item.Title, item.Body),
		}
		if err := enc.Encode(line); err != nil {
			return nil, fmt.Errorf("encode batch line %s: %w", item.CustomID, err)
		}
	}
	return buf.Bytes(), nil
}

// Submit uploads the request file and creates the remote batch.
func (c *BatchClient) Submit(ctx context.Context, items []ports.BatchItem) (string, error) {
	if len(items) == 0 {
		return "", fmt.Errorf("batch has no items")
	}
	if c.apiKey == "" || c.baseURL == "" {
		return "", fmt.Errorf("batch client misconfigured")
	}

	data, err := c.BuildJSONL(items)
	if err != nil {
		return "", err
	}

	fileID, err := c.uploadFile(ctx, data)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(map[string]string{
		"input_file_id":     fileID,
		"endpoint":          batchEndpoint,
		"completion_window": c.window,
	})
	if err != nil {
		return "", fmt.Errorf("marshal batch request: %w", err)
	}

	var batch batchObject
	if err := c.doJSON(ctx, http.MethodPost, "/batches", "application/json", bytes.NewReader(payload), &batch); err != nil {
		return "", fmt.Errorf("create batch: %w", err)
	}
	if batch.ID == "" {
		return "", fmt.Errorf("create batch: empty batch id")
	}
	return batch.ID, nil
}

// Status reports the remote lifecycle of jobID.
func (c *BatchClient) Status(ctx context.Context, jobID string) (ports.BatchStatus, error) {
	var batch batchObject
	if err := c.doJSON(ctx, http.MethodGet, "/batches/"+url.PathEscape(jobID), "", nil, &batch); err != nil {
		return ports.BatchStatus{}, fmt.Errorf("retrieve batch %s: %w", jobID, err)
	}

	status := ports.BatchStatus{
		RemoteStatus: batch.Status,
		OutputFileID: batch.OutputFileID,
		ErrorFileID:  batch.ErrorFileID,
	}
	switch batch.Status {
	case "completed":
		status.State = ports.BatchStateCompleted
	case "failed", "expired", "cancelled", "cancelling":
		status.State = ports.BatchStateFailed
	default:
		status.State = ports.BatchStateRunning
	}
	return status, nil
}

// Results downloads and parses the output and error files of a completed
// batch. Each line is validated exactly like a live analysis response. A
// batch whose requests all failed only carries an error file.
func (c *BatchClient) Results(ctx context.Context, status ports.BatchStatus) ([]ports.BatchOutcome, error) {
	if status.OutputFileID == "" && status.ErrorFileID == "" {
		return nil, fmt.Errorf("batch has neither output nor error file")
	}

	var outcomes []ports.BatchOutcome
	for _, file := range []struct{ kind, id string }{
		{"output", status.OutputFileID},
		{"error", status.ErrorFileID},
	} {
		if file.id == "" {
			continue
		}
		body, err := c.download(ctx, "/files/"+url.PathEscape(file.id)+"/content")
		if err != nil {
			return nil, fmt.Errorf("download batch %s file: %w", file.kind, err)
		}
		parsed, err := ParseBatchOutput(body)
		if err != nil {
			return nil, fmt.Errorf("parse batch %s file: %w", file.kind, err)
		}
		outcomes = append(outcomes, parsed...)
	}
	return outcomes, nil
}

// ParseBatchOutput turns output JSONL into per-item outcomes. Lines that
// cannot be attributed to a custom_id are skipped.
func ParseBatchOutput(data []byte) ([]ports.BatchOutcome, error) {
	var outcomes []ports.BatchOutcome

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 32<<20)
	for scanner.Scan() {
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var line batchResultLine
		if err := json.Unmarshal(raw, &line); err != nil || line.CustomID == "" {
			continue
		}

		outcome := ports.BatchOutcome{CustomID: line.CustomID}
		switch {
		case line.Error != nil:
			outcome.Err = &domain.AnalysisError{Kind: domain.AnalysisRejected, Err: fmt.Errorf("%s: %s", line.Error.Code, line.Error.Message)}
		case line.Response == nil:
			outcome.Err = domain.NewSchemaError(fmt.Errorf("line has no response"))
		case line.Response.StatusCode != http.StatusOK:
			outcome.Err = classifyStatus(line.Response.StatusCode, http.StatusText(line.Response.StatusCode), line.Response.Body)
		default:
			outcome.Result, outcome.Err = parseCompletion(line.Response.Body)
		}
		outcomes = append(outcomes, outcome)
	}
	if err := scanner.Err(); err != nil {
		return outcomes, fmt.Errorf("read batch output: %w", err)
	}
	return outcomes, nil
}

func (c *BatchClient) uploadFile(ctx context.Context, data []byte) (string, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	if err := form.WriteField("purpose", "batch"); err != nil {
		return "", fmt.Errorf("write purpose field: %w", err)
	}
	part, err := form.CreateFormFile("file", "analysis_batch.jsonl")
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("close form: %w", err)
	}

	var file fileObject
	if err := c.doJSON(ctx, http.MethodPost, "/files", form.FormDataContentType(), &body, &file); err != nil {
		return "", fmt.Errorf("upload batch file: %w", err)
	}
	if file.ID == "" {
		return "", fmt.Errorf("upload batch file: empty file id")
	}
	return file.ID, nil
}

func (c *BatchClient) doJSON(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := classifyStatus(resp.StatusCode, resp.Status, respBody); err != nil {
		return err
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *BatchClient) download(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBatchOutputBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := classifyStatus(resp.StatusCode, resp.Status, data); err != nil {
		return nil, err
	}
	return data, nil
}
