package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsIsolatedRegistries(t *testing.T) {
	a := NewMetrics("arxivmind")
	b := NewMetrics("arxivmind")

	a.RecordFetched(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(a.PapersFetched))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.PapersFetched))
}

func TestRecordAnalysis(t *testing.T) {
	m := NewMetrics("test")

	m.RecordAnalysisAttempt(1500 * time.Millisecond)
	m.RecordAnalysisAttempt(time.Second)
	m.RecordAnalysisOutcome("completed")
	m.RecordAnalysisOutcome("failed")
	m.RecordAnalysisOutcome("completed")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.AnalysisAttempts))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.AnalysisOutcomes.WithLabelValues("completed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AnalysisOutcomes.WithLabelValues("failed")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.AnalysisDuration))
}

func TestRecordRunAndBatch(t *testing.T) {
	m := NewMetrics("test")

	m.RecordRun("succeeded", time.Minute)
	m.RecordBatchJob("submitted")
	m.RecordFetchFailure("download")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.PipelineRuns.WithLabelValues("succeeded")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.BatchJobs.WithLabelValues("submitted")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.FetchItemsFailed.WithLabelValues("download")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordFetched(1)
		m.RecordFetchFailure("extract")
		m.RecordAnalysisAttempt(time.Second)
		m.RecordAnalysisOutcome("completed")
		m.RecordBatchJob("failed")
		m.RecordRun("aborted", time.Second)
	})
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := NewMetrics("arxivmind")
	m.RecordFetched(2)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "arxivmind_papers_fetched_total 2")
	assert.Contains(t, string(body), "go_goroutines")
}
