package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ArxivMind/internal/domain"
	"ArxivMind/internal/ports"
)

func newTestPipeline(store *memStore, source staticSource, client *scriptedAnalyzer, notifier ports.Notifier) *Pipeline {
	return NewPipeline(PipelineDeps{
		Fetcher:    newTestFetcher(store, source, &fakeDownloader{}),
		Analyzer:   newTestAnalyzer(store, client),
		Store:      store,
		Runs:       store,
		Notifier:   notifier,
		Topic:      "cs.AI",
		MaxResults: 10,
		Now:        func() time.Time { return fixedNow.Add(time.Minute) },
	})
}

func TestRunDailyRunsAllStages(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	notifier := &recordingNotifier{}
	source := staticSource{candidates: []domain.Candidate{candidate("a"), candidate("b"), candidate("blank")}}
	client := newScriptedAnalyzer(map[string]error{
		"Paper b": domain.NewTransientError(429, errors.New("slow down")),
	})

	run, err := newTestPipeline(store, source, client, notifier).RunDaily(context.Background(), fixedNow.Add(-time.Hour))
	require.NoError(t, err)

	assert.Equal(t, domain.RunSucceeded, run.Outcome)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, 3, run.Fetched)
	assert.Equal(t, 2, run.Attempted)
	assert.Equal(t, 1, run.Succeeded)
	assert.Equal(t, 1, run.Notified)

	require.Len(t, notifier.digests, 1)
	assert.Contains(t, notifier.digests[0], "Paper a")
	assert.NotContains(t, notifier.digests[0], "Paper b")

	require.Len(t, store.runs, 1)
	assert.Equal(t, run.ID, store.runs[0].ID)
}

func TestRunDailyAbortsAfterFailedStage(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.seed(pendingPaper("old", "body"))
	notifier := &recordingNotifier{}
	client := newScriptedAnalyzer(nil)
	source := staticSource{err: errors.New("catalog down")}

	run, err := newTestPipeline(store, source, client, notifier).RunDaily(context.Background(), fixedNow)
	require.Error(t, err)

	assert.Equal(t, domain.RunAborted, run.Outcome)
	assert.Equal(t, StageFetch, run.AbortedStage)
	assert.Contains(t, run.Error, "catalog down")
	assert.Zero(t, client.totalCalls())
	assert.Empty(t, notifier.digests)

	require.Len(t, store.runs, 1)
	assert.Equal(t, domain.RunAborted, store.runs[0].Outcome)
}

func TestRunDailyNotifyFailureAbortsRun(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	notifier := &recordingNotifier{err: errors.New("telegram down")}
	source := staticSource{candidates: []domain.Candidate{candidate("a")}}

	run, err := newTestPipeline(store, source, newScriptedAnalyzer(nil), notifier).RunDaily(context.Background(), fixedNow.Add(-time.Hour))
	require.Error(t, err)
	assert.Equal(t, StageNotify, run.AbortedStage)
	assert.Equal(t, 1, run.Succeeded)
}

func TestRunDailyUsesLastSuccessfulRunAsWatermark(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	require.NoError(t, store.SaveRun(context.Background(), domain.PipelineRun{
		ID: "previous", StartedAt: fixedNow.Add(-25 * time.Hour), FinishedAt: fixedNow.Add(-24 * time.Hour), Outcome: domain.RunSucceeded,
	}))

	announced := fixedNow.Add(-30 * time.Hour)
	old := pendingPaper("announced", "")
	old.Status = domain.StatusCompleted
	old.AnalyzedAt = &announced
	store.seed(old)

	missed := fixedNow.Add(-10 * time.Hour)
	fresh := pendingPaper("missed", "")
	fresh.Status = domain.StatusCompleted
	fresh.AnalyzedAt = &missed
	store.seed(fresh)

	notifier := &recordingNotifier{}
	run, err := newTestPipeline(store, staticSource{}, newScriptedAnalyzer(nil), notifier).RunDaily(context.Background(), fixedNow)
	require.NoError(t, err)

	assert.Equal(t, 1, run.Notified)
	require.Len(t, notifier.digests, 1)
	assert.Contains(t, notifier.digests[0], "missed")
	assert.NotContains(t, notifier.digests[0], "announced")
}

func TestRunDailyBatchMode(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	svc := &fakeBatchService{state: ports.BatchStateRunning}
	source := staticSource{candidates: []domain.Candidate{candidate("a"), candidate("b")}}

	pipeline := NewPipeline(PipelineDeps{
		Fetcher:    newTestFetcher(store, source, &fakeDownloader{}),
		Batch:      newTestBatchRunner(store, svc),
		BatchMode:  true,
		Store:      store,
		Runs:       store,
		Topic:      "cs.AI",
		MaxResults: 10,
	})

	run, err := pipeline.RunDaily(context.Background(), fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 2, run.Fetched)
	require.Len(t, svc.submitted, 1)
	assert.Len(t, svc.submitted[0], 2)

	processing, err := store.FindByStatus(context.Background(), domain.StatusProcessing)
	require.NoError(t, err)
	assert.Len(t, processing, 2)
}

func TestBuildDigestGroupsByCategory(t *testing.T) {
	t.Parallel()

	papers := []domain.Paper{
		{Title: "Vision one", Category: domain.CategoryVisionMultimodal, SourceURL: "https://arxiv.org/abs/1", PopularScience: strings.Repeat("word ", 100)},
		{Title: "LLM one", Category: domain.CategoryLanguageModels, SourceURL: "https://arxiv.org/abs/2", Keywords: "llm, rl"},
		{Title: "Odd one", Category: "Astrology", SourceURL: "https://arxiv.org/abs/3"},
	}

	digest := BuildDigest(papers, fixedNow)

	assert.True(t, strings.HasPrefix(digest, "ArxivMind digest 2026-03-02: 3 new papers"))
	llm := strings.Index(digest, "## Language/Reasoning Models (1)")
	vision := strings.Index(digest, "## Vision/Multimodal (1)")
	other := strings.Index(digest, "## Other (1)")
	require.True(t, llm >= 0 && vision >= 0 && other >= 0, digest)
	assert.Less(t, llm, vision)
	assert.Less(t, vision, other)
	assert.Contains(t, digest, "Keywords: llm, rl")
	assert.Contains(t, digest, "...")
	assert.Empty(t, BuildDigest(nil, fixedNow))
}
