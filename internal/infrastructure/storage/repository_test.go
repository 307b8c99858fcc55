package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ArxivMind/internal/domain"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()

	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "arxivmind.db")

	require.NoError(t, Migrate(ctx, DriverSQLite, dsn, nil))

	db, err := Open(ctx, DriverSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewRepository(db, DriverSQLite)
}

func samplePaper(url, body string) domain.Paper {
	return domain.NewPendingPaper(domain.Candidate{
		Title:       "Sample " + url,
		SourceURL:   url,
		DocumentURL: url + ".pdf",
		PublishedAt: time.Date(2025, time.November, 8, 0, 0, 0, 0, time.UTC),
	}, body)
}

func TestMigrateIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "twice.db")

	require.NoError(t, Migrate(ctx, DriverSQLite, dsn, nil))
	require.NoError(t, Migrate(ctx, DriverSQLite, dsn, nil))
}

func TestCreateDeduplicatesBySourceURL(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t)
	ctx := context.Background()

	first, created, err := repo.Create(ctx, samplePaper("https://arxiv.org/abs/2501.00001", "body"))
	require.NoError(t, err)
	require.True(t, created)
	assert.NotZero(t, first.ID)
	assert.Equal(t, domain.StatusPending, first.Status)

	second, created, err := repo.Create(ctx, samplePaper("https://arxiv.org/abs/2501.00001", "other body"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "body", second.BodyText)

	exists, err := repo.ExistsByURL(ctx, "https://arxiv.org/abs/2501.00001")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.ExistsByURL(ctx, "https://arxiv.org/abs/2501.99999")
	require.NoError(t, err)
	assert.False(t, exists)

	pending, err := repo.FindByStatus(ctx, domain.StatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestFindByIDNotFound(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t)

	_, err := repo.FindByID(context.Background(), 42)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateCompletesPaper(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t)
	ctx := context.Background()

	paper, _, err := repo.Create(ctx, samplePaper("https://arxiv.org/abs/2501.00002", "full text"))
	require.NoError(t, err)

	analyzedAt := time.Date(2025, time.November, 9, 6, 0, 0, 0, time.UTC)
	require.NoError(t, paper.Complete(domain.AnalysisResult{
		Category:              domain.CategoryAgents,
		Motivation:            "m",
		Method:                "me",
		Result:                "r",
		ImplementationExample: "ie",
		PopularScience:        "ps",
		Keywords:              "agents, planning",
		Raw:                   []byte(`{"category":"AI Agents"}`),
	}, analyzedAt))
	require.NoError(t, repo.Update(ctx, paper))

	stored, err := repo.FindByID(ctx, paper.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	assert.Empty(t, stored.BodyText)
	assert.Equal(t, domain.CategoryAgents, stored.Category)
	assert.Equal(t, "agents, planning", stored.Keywords)
	assert.JSONEq(t, `{"category":"AI Agents"}`, string(stored.AnalysisJSON))
	require.NotNil(t, stored.AnalyzedAt)
	assert.True(t, stored.AnalyzedAt.Equal(analyzedAt))

	since, err := repo.FindCompletedSince(ctx, analyzedAt.Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, since, 1)

	since, err = repo.FindCompletedSince(ctx, analyzedAt.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, since)
}

func TestUpdateRejectsBackwardTransition(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t)
	ctx := context.Background()

	paper, _, err := repo.Create(ctx, samplePaper("https://arxiv.org/abs/2501.00003", "text"))
	require.NoError(t, err)

	paper.Status = domain.StatusFailed
	require.NoError(t, repo.Update(ctx, paper))

	paper.Status = domain.StatusPending
	err = repo.Update(ctx, paper)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	paper.Status = domain.StatusFailed
	err = repo.Update(ctx, paper)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	stored, err := repo.FindByID(ctx, paper.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status)
}

func TestRequeueOnlyMovesFailedAndProcessing(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t)
	ctx := context.Background()

	statuses := []domain.Status{domain.StatusFailed, domain.StatusProcessing, domain.StatusFailedNoText}
	ids := make([]int64, 0, len(statuses))
	for i, status := range statuses {
		paper, _, err := repo.Create(ctx, samplePaper("https://arxiv.org/abs/2501.1000"+string(rune('0'+i)), "text"))
		require.NoError(t, err)
		paper.Status = status
		require.NoError(t, repo.Update(ctx, paper))
		ids = append(ids, paper.ID)
	}

	moved, err := repo.Requeue(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, 2, moved)

	pending, err := repo.FindByStatus(ctx, domain.StatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	noText, err := repo.FindByID(ctx, ids[2])
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailedNoText, noText.Status)
}

func TestBatchJobLifecycle(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t)
	ctx := context.Background()

	submitted := time.Date(2025, time.November, 9, 1, 0, 0, 0, time.UTC)
	require.NoError(t, repo.SaveBatchJob(ctx, domain.BatchJob{
		ID: "batch_abc", Status: domain.BatchSubmitted, ItemCount: 4, SubmittedAt: submitted,
	}))

	open, err := repo.FindBatchJobsByStatus(ctx, domain.BatchSubmitted)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, 4, open[0].ItemCount)
	assert.Nil(t, open[0].ReconciledAt)

	reconciled := submitted.Add(2 * time.Hour)
	job := open[0]
	job.Status = domain.BatchReconciled
	job.ReconciledAt = &reconciled
	require.NoError(t, repo.UpdateBatchJob(ctx, job))

	open, err = repo.FindBatchJobsByStatus(ctx, domain.BatchSubmitted)
	require.NoError(t, err)
	assert.Empty(t, open)

	err = repo.UpdateBatchJob(ctx, domain.BatchJob{ID: "missing", Status: domain.BatchFailed})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLastSuccessfulRun(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t)
	ctx := context.Background()

	_, err := repo.LastSuccessfulRun(ctx)
	require.ErrorIs(t, err, domain.ErrNotFound)

	base := time.Date(2025, time.November, 9, 6, 0, 0, 0, time.UTC)
	require.NoError(t, repo.SaveRun(ctx, domain.PipelineRun{
		ID: "11111111-1111-1111-1111-111111111111", StartedAt: base, FinishedAt: base.Add(time.Minute), Outcome: domain.RunSucceeded,
	}))
	require.NoError(t, repo.SaveRun(ctx, domain.PipelineRun{
		ID: "22222222-2222-2222-2222-222222222222", StartedAt: base.Add(24 * time.Hour), FinishedAt: base.Add(25 * time.Hour),
		Outcome: domain.RunAborted, AbortedStage: "fetch",
	}))

	last, err := repo.LastSuccessfulRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", last.ID)
	assert.True(t, last.StartedAt.Equal(base))
}
