package ports

import (
	"context"
	"iter"
	"time"

	"ArxivMind/internal/domain"
)

// PaperStore persists papers and enforces the status state machine.
type PaperStore interface {
	// Create inserts a pending paper. created is false when the source URL
	// already exists, in which case nothing is written.
	Create(ctx context.Context, paper domain.Paper) (stored domain.Paper, created bool, err error)
	FindByURL(ctx context.Context, sourceURL string) (domain.Paper, error)
	ExistsByURL(ctx context.Context, sourceURL string) (bool, error)
	FindByStatus(ctx context.Context, status domain.Status) ([]domain.Paper, error)
	FindByID(ctx context.Context, id int64) (domain.Paper, error)
	// Update writes all mutable fields in one transaction, rejecting backward transitions.
	Update(ctx context.Context, paper domain.Paper) error
	FindCompletedSince(ctx context.Context, since time.Time) ([]domain.Paper, error)
	// Requeue moves failed or processing papers back to pending.
	Requeue(ctx context.Context, ids []int64) (int, error)
}

// BatchJobStore keeps track of submitted remote batches.
type BatchJobStore interface {
	SaveBatchJob(ctx context.Context, job domain.BatchJob) error
	FindBatchJobsByStatus(ctx context.Context, status domain.BatchJobStatus) ([]domain.BatchJob, error)
	UpdateBatchJob(ctx context.Context, job domain.BatchJob) error
}

// RunStore records orchestrator runs.
type RunStore interface {
	SaveRun(ctx context.Context, run domain.PipelineRun) error
	LastSuccessfulRun(ctx context.Context) (domain.PipelineRun, error)
}

// CatalogSource lists candidate papers, newest submissions first.
type CatalogSource interface {
	Candidates(ctx context.Context, topic string, maxResults int) iter.Seq2[domain.Candidate, error]
}

// DocumentDownloader retrieves raw document bytes.
type DocumentDownloader interface {
	Download(ctx context.Context, documentURL string) ([]byte, error)
}

// TextExtractor turns document bytes into plain text.
type TextExtractor interface {
	ExtractText(data []byte, maxPages int) (string, error)
}

// Analyzer produces a validated analysis for one paper.
type Analyzer interface {
	Analyze(ctx context.Context, title, body string) (domain.AnalysisResult, error)
}

// BatchItem is one request line of a remote batch.
type BatchItem struct {
	CustomID string
	Title    string
	Body     string
}

// BatchOutcome is one parsed line of a finished batch.
type BatchOutcome struct {
	CustomID string
	Result   domain.AnalysisResult
	Err      error
}

// BatchState is the remote lifecycle of a batch.
type BatchState string

const (
	BatchStateRunning   BatchState = "running"
	BatchStateCompleted BatchState = "completed"
	BatchStateFailed    BatchState = "failed"
)

// BatchStatus is the remote view of a submitted batch.
type BatchStatus struct {
	State        BatchState
	RemoteStatus string
	OutputFileID string
	ErrorFileID  string
}

// BatchService submits and collects asynchronous analysis batches.
type BatchService interface {
	Submit(ctx context.Context, items []BatchItem) (string, error)
	Status(ctx context.Context, jobID string) (BatchStatus, error)
	Results(ctx context.Context, status BatchStatus) ([]BatchOutcome, error)
}

// CitationCounts is the enrichment returned by a citation index.
type CitationCounts struct {
	Citations            int
	InfluentialCitations int
}

// CitationLookup queries a citation index by paper identifier.
type CitationLookup interface {
	Lookup(ctx context.Context, externalID string) (CitationCounts, error)
}

// Notifier streams selected digests to Telegram or other channels.
type Notifier interface {
	PublishDigest(ctx context.Context, digest string) error
}

// Scheduler controls when pipelines execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
