package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	questionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askql_questions_total",
			Help: "Questions handled by the pipeline, by final outcome.",
		},
		[]string{"operation", "outcome"},
	)
	stageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askql_stage_duration_seconds",
			Help:    "Latency of each pipeline stage.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"stage", "status"},
	)
	validatorRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askql_validator_rejections_total",
			Help: "Candidate statements rejected by the safety validator, by verdict and rule.",
		},
		[]string{"status", "rule"},
	)
	retrievalMatches = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "askql_retrieval_matches",
			Help:    "Number of catalog tables selected per question.",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21, 34},
		},
	)
	indexEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askql_index_entries_total",
			Help: "Catalog entries processed by the embedding indexer, by action.",
		},
		[]string{"action"},
	)
	resultRowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "askql_result_rows_total",
			Help: "Rows returned to callers by the executor.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		questionsTotal,
		stageDurationSeconds,
		validatorRejectionsTotal,
		retrievalMatches,
		indexEntriesTotal,
		resultRowsTotal,
	)
}

func ObserveQuestion(operation, outcome string) {
	questionsTotal.WithLabelValues(operation, outcome).Inc()
}

func ObserveStage(stage string, err error, elapsed time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	stageDurationSeconds.WithLabelValues(stage, status).Observe(elapsed.Seconds())
}

func ObserveRejection(status, rule string) {
	validatorRejectionsTotal.WithLabelValues(status, rule).Inc()
}

func ObserveRetrievalMatches(count int) {
	retrievalMatches.Observe(float64(count))
}

func ObserveIndexEntries(embedded, skipped, pruned int) {
	if embedded > 0 {
		indexEntriesTotal.WithLabelValues("embedded").Add(float64(embedded))
	}
	if skipped > 0 {
		indexEntriesTotal.WithLabelValues("skipped").Add(float64(skipped))
	}
	if pruned > 0 {
		indexEntriesTotal.WithLabelValues("pruned").Add(float64(pruned))
	}
}

func ObserveResultRows(rows int) {
	if rows > 0 {
		resultRowsTotal.Add(float64(rows))
	}
}
