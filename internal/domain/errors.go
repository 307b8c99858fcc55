package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by the store when a lookup has no match.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition rejects a status write that would move a paper backwards.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrStoreUnavailable is fatal for the current stage.
	ErrStoreUnavailable = errors.New("record store unavailable")
	// ErrBatchJobFailed reports a remote batch that ended without results.
	ErrBatchJobFailed = errors.New("batch job failed")
)

// FetchItemError describes a per-candidate failure the fetcher logs and skips.
type FetchItemError struct {
	SourceURL string
	Stage     string
	Err       error
}

func (e *FetchItemError) Error() string {
	return fmt.Sprintf("fetch %s (%s): %v", e.SourceURL, e.Stage, e.Err)
}

func (e *FetchItemError) Unwrap() error { return e.Err }

// ExtractionError is returned when a document cannot be turned into text.
type ExtractionError struct {
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract text: %v", e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// AnalysisErrorKind classifies analysis failures for the retry policy.
type AnalysisErrorKind string

const (
	// AnalysisTransient covers network errors, timeouts, 429 and 5xx.
	AnalysisTransient AnalysisErrorKind = "transient"
	// AnalysisSchema means the service answered but the payload is unusable.
	AnalysisSchema AnalysisErrorKind = "schema"
	// AnalysisRejected is a non-retryable refusal such as 400 or 401.
	AnalysisRejected AnalysisErrorKind = "rejected"
)

// AnalysisError is the only error type returned by the analysis client.
type AnalysisError struct {
	Kind       AnalysisErrorKind
	StatusCode int
	Err        error
}

func (e *AnalysisError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("analysis %s error (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("analysis %s error: %v", e.Kind, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt may succeed. Schema failures are
// retried because a second completion can be well formed.
func (e *AnalysisError) Retryable() bool {
	return e.Kind == AnalysisTransient || e.Kind == AnalysisSchema
}

// NewTransientError wraps err as a transient analysis failure.
func NewTransientError(status int, err error) *AnalysisError {
	return &AnalysisError{Kind: AnalysisTransient, StatusCode: status, Err: err}
}

// NewSchemaError wraps err as a schema failure.
func NewSchemaError(err error) *AnalysisError {
	return &AnalysisError{Kind: AnalysisSchema, Err: err}
}

// IsRetryableAnalysis reports whether err is an AnalysisError worth retrying.
func IsRetryableAnalysis(err error) bool {
	var aerr *AnalysisError
	if errors.As(err, &aerr) {
		return aerr.Retryable()
	}
	return false
}

// ExhaustedError is the terminal outcome once the retry ceiling is reached.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("analysis exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }
