package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline's Prometheus collectors. Every collector is
// registered on a private registry so several instances can coexist in tests.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// PapersFetched counts papers created by the fetch stage.
	PapersFetched prometheus.Counter

	// FetchItemsFailed counts skipped candidates, labeled by stage.
	FetchItemsFailed *prometheus.CounterVec

	// AnalysisAttempts counts individual analysis calls, including retries.
	AnalysisAttempts prometheus.Counter

	// AnalysisOutcomes counts terminal outcomes, labeled by resulting status.
	AnalysisOutcomes *prometheus.CounterVec

	// AnalysisDuration observes per-call latency in seconds.
	AnalysisDuration prometheus.Histogram

	// BatchJobs counts batch job transitions, labeled by job status.
	BatchJobs *prometheus.CounterVec

	// PipelineRuns counts orchestrator runs, labeled by outcome.
	PipelineRuns *prometheus.CounterVec

	// PipelineDuration observes end-to-end run duration in seconds.
	PipelineDuration prometheus.Histogram
}

// NewMetrics creates the collectors under namespace.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		PapersFetched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "papers_fetched_total",
			Help:      "Total number of papers created by the fetch stage",
		}),
		FetchItemsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_items_failed_total",
			Help:      "Total number of catalog candidates skipped because of an error",
		}, []string{"stage"}),
		AnalysisAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_attempts_total",
			Help:      "Total number of analysis service calls including retries",
		}),
		AnalysisOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_outcomes_total",
			Help:      "Total number of papers reaching a terminal status",
		}, []string{"status"}),
		AnalysisDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Duration of analysis service calls in seconds",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 60, 120},
		}),
		BatchJobs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_jobs_total",
			Help:      "Total number of batch job transitions",
		}, []string{"status"}),
		PipelineRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Total number of daily pipeline runs",
		}, []string{"outcome"}),
		PipelineDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Duration of daily pipeline runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 10),
		}),
	}
}

// Handler serves the private registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordFetched adds n newly created papers.
func (m *Metrics) RecordFetched(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PapersFetched.Add(float64(n))
}

// RecordFetchFailure counts one skipped candidate.
func (m *Metrics) RecordFetchFailure(stage string) {
	if m == nil {
		return
	}
	m.FetchItemsFailed.WithLabelValues(stage).Inc()
}

// RecordAnalysisAttempt counts one call and its latency.
func (m *Metrics) RecordAnalysisAttempt(d time.Duration) {
	if m == nil {
		return
	}
	m.AnalysisAttempts.Inc()
	m.AnalysisDuration.Observe(d.Seconds())
}

// RecordAnalysisOutcome counts a paper reaching status.
func (m *Metrics) RecordAnalysisOutcome(status string) {
	if m == nil {
		return
	}
	m.AnalysisOutcomes.WithLabelValues(status).Inc()
}

// RecordBatchJob counts a batch job entering status.
func (m *Metrics) RecordBatchJob(status string) {
	if m == nil {
		return
	}
	m.BatchJobs.WithLabelValues(status).Inc()
}

// RecordRun counts a finished pipeline run.
func (m *Metrics) RecordRun(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.PipelineRuns.WithLabelValues(outcome).Inc()
	m.PipelineDuration.Observe(d.Seconds())
}
