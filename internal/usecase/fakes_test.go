package usecase

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sort"
	"sync"
	"time"

	"ArxivMind/internal/domain"
	"ArxivMind/internal/ports"
)

// memStore is an in-memory PaperStore, BatchJobStore and RunStore with the
// same transition rules as the SQL repository.
type memStore struct {
	mu       sync.Mutex
	nextID   int64
	papers   map[int64]domain.Paper
	writes   map[int64][]domain.Status
	jobs     map[string]domain.BatchJob
	runs     []domain.PipelineRun
	unusable bool
}

func newMemStore() *memStore {
	return &memStore{
		papers: map[int64]domain.Paper{},
		writes: map[int64][]domain.Status{},
		jobs:   map[string]domain.BatchJob{},
	}
}

func (m *memStore) seed(p domain.Paper) domain.Paper {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	p.ID = m.nextID
	if p.Status == "" {
		p.Status = domain.StatusPending
	}
	m.papers[p.ID] = p
	return p
}

func (m *memStore) get(id int64) domain.Paper {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.papers[id]
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.papers)
}

func (m *memStore) down() error {
	if m.unusable {
		return fmt.Errorf("%w: connection refused", domain.ErrStoreUnavailable)
	}
	return nil
}

func (m *memStore) Create(ctx context.Context, paper domain.Paper) (domain.Paper, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.down(); err != nil {
		return domain.Paper{}, false, err
	}
	for _, p := range m.papers {
		if p.SourceURL == paper.SourceURL {
			return p, false, nil
		}
	}
	m.nextID++
	paper.ID = m.nextID
	m.papers[paper.ID] = paper
	return paper, true, nil
}

func (m *memStore) FindByURL(ctx context.Context, sourceURL string) (domain.Paper, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.papers {
		if p.SourceURL == sourceURL {
			return p, nil
		}
	}
	return domain.Paper{}, domain.ErrNotFound
}

func (m *memStore) ExistsByURL(ctx context.Context, sourceURL string) (bool, error) {
	if err := m.down(); err != nil {
		return false, err
	}
	_, err := m.FindByURL(ctx, sourceURL)
	return err == nil, nil
}

func (m *memStore) FindByStatus(ctx context.Context, status domain.Status) ([]domain.Paper, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.down(); err != nil {
		return nil, err
	}
	var out []domain.Paper
	for _, p := range m.papers {
		if p.Status == status {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) FindByID(ctx context.Context, id int64) (domain.Paper, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.papers[id]
	if !ok {
		return domain.Paper{}, domain.ErrNotFound
	}
	return p, nil
}

func (m *memStore) Update(ctx context.Context, paper domain.Paper) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.papers[paper.ID]
	if !ok {
		return domain.ErrNotFound
	}
	same := current.Status == paper.Status && !paper.Status.Terminal()
	if !same && !domain.CanTransition(current.Status, paper.Status) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.Status, paper.Status)
	}
	m.papers[paper.ID] = paper
	m.writes[paper.ID] = append(m.writes[paper.ID], paper.Status)
	return nil
}

func (m *memStore) FindCompletedSince(ctx context.Context, since time.Time) ([]domain.Paper, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Paper
	for _, p := range m.papers {
		if p.Status == domain.StatusCompleted && p.AnalyzedAt != nil && p.AnalyzedAt.After(since) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) Requeue(ctx context.Context, ids []int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range ids {
		p, ok := m.papers[id]
		if !ok || !p.Status.Requeueable() {
			continue
		}
		p.Status = domain.StatusPending
		m.papers[id] = p
		n++
	}
	return n, nil
}

func (m *memStore) SaveBatchJob(ctx context.Context, job domain.BatchJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
	return nil
}

func (m *memStore) FindBatchJobsByStatus(ctx context.Context, status domain.BatchJobStatus) ([]domain.BatchJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BatchJob
	for _, j := range m.jobs {
		if j.Status == status {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) UpdateBatchJob(ctx context.Context, job domain.BatchJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.jobs[job.ID]
	if !ok {
		return domain.ErrNotFound
	}
	current.Status = job.Status
	current.ReconciledAt = job.ReconciledAt
	m.jobs[job.ID] = current
	return nil
}

func (m *memStore) SaveRun(ctx context.Context, run domain.PipelineRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

func (m *memStore) LastSuccessfulRun(ctx context.Context) (domain.PipelineRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.runs) - 1; i >= 0; i-- {
		if m.runs[i].Outcome == domain.RunSucceeded {
			return m.runs[i], nil
		}
	}
	return domain.PipelineRun{}, domain.ErrNotFound
}

// staticSource yields a fixed list of candidates.
type staticSource struct {
	candidates []domain.Candidate
	err        error
}

func (s staticSource) Candidates(ctx context.Context, topic string, maxResults int) iter.Seq2[domain.Candidate, error] {
	return func(yield func(domain.Candidate, error) bool) {
		for i, c := range s.candidates {
			if maxResults > 0 && i >= maxResults {
				return
			}
			if !yield(c, nil) {
				return
			}
		}
		if s.err != nil {
			yield(domain.Candidate{}, s.err)
		}
	}
}

// fakeDownloader returns the document URL as content unless it is listed as broken.
type fakeDownloader struct {
	mu     sync.Mutex
	broken []string
	calls  []string
}

func (d *fakeDownloader) Download(ctx context.Context, documentURL string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, documentURL)
	if slices.Contains(d.broken, documentURL) {
		return nil, fmt.Errorf("status 404")
	}
	return []byte(documentURL), nil
}

// fakeExtractor maps document bytes to text; "corrupt" fails and "blank" is empty.
type fakeExtractor struct{}

func (fakeExtractor) ExtractText(data []byte, maxPages int) (string, error) {
	switch string(data) {
	case "https://arxiv.org/pdf/corrupt":
		return "", &domain.ExtractionError{Err: fmt.Errorf("bad xref")}
	case "https://arxiv.org/pdf/blank":
		return "", nil
	}
	return "text of " + string(data), nil
}

// scriptedAnalyzer answers per title: listed titles fail with the given error.
type scriptedAnalyzer struct {
	mu       sync.Mutex
	failures map[string]error
	calls    map[string]int
}

func newScriptedAnalyzer(failures map[string]error) *scriptedAnalyzer {
	return &scriptedAnalyzer{failures: failures, calls: map[string]int{}}
}

func (a *scriptedAnalyzer) Analyze(ctx context.Context, title, body string) (domain.AnalysisResult, error) {
	a.mu.Lock()
	a.calls[title]++
	err := a.failures[title]
	a.mu.Unlock()
	if err != nil {
		return domain.AnalysisResult{}, err
	}
	return sampleResult(), nil
}

func (a *scriptedAnalyzer) totalCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.calls {
		n += c
	}
	return n
}

func sampleResult() domain.AnalysisResult {
	return domain.AnalysisResult{
		Category:              domain.CategoryLanguageModels,
		Motivation:            "why",
		Method:                "how",
		Result:                "what",
		ImplementationExample: "steps",
		PopularScience:        "like a librarian who reads very fast",
		Keywords:              "llm, reasoning",
	}
}

// fakeBatchService records submissions and serves scripted status and outcomes.
type fakeBatchService struct {
	mu        sync.Mutex
	submitted [][]ports.BatchItem
	state     ports.BatchState
	outcomes  []ports.BatchOutcome
}

func (f *fakeBatchService) Submit(ctx context.Context, items []ports.BatchItem) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, items)
	return fmt.Sprintf("batch-%d", len(f.submitted)), nil
}

func (f *fakeBatchService) Status(ctx context.Context, jobID string) (ports.BatchStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return ports.BatchStatus{State: f.state, RemoteStatus: string(f.state), OutputFileID: "file-out"}, nil
}

func (f *fakeBatchService) Results(ctx context.Context, status ports.BatchStatus) ([]ports.BatchOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outcomes, nil
}

// recordingNotifier keeps every digest it was asked to publish.
type recordingNotifier struct {
	digests []string
	err     error
}

func (n *recordingNotifier) PublishDigest(ctx context.Context, digest string) error {
	if n.err != nil {
		return n.err
	}
	n.digests = append(n.digests, digest)
	return nil
}
