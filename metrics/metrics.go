// Package metrics holds the Prometheus collectors of the knowledge pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "knowledge"

// Indexing run results.
const (
	ResultIndexed = "indexed"
	ResultFailed  = "failed"
	ResultAborted = "aborted"
	ResultSkipped = "skipped"
)

var (
	// IndexRuns counts indexing runs.
	// Labels: result (indexed, failed, aborted, skipped)
	IndexRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "runs_total",
			Help:      "Total number of document indexing runs by result",
		},
		[]string{"result"},
	)

	IndexDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "run_duration_seconds",
			Help:      "Duration of document indexing runs in seconds",
			Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	IndexedChunks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "chunks_total",
			Help:      "Total number of chunks written by successful indexing runs",
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "queue_depth",
			Help:      "Number of documents waiting in the indexing queue",
		},
	)

	// EmbeddingCalls counts embedding provider calls.
	// Labels: result (success, error)
	EmbeddingCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "calls_total",
			Help:      "Total number of embedding provider calls",
		},
		[]string{"result"},
	)

	Searches = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "searches_total",
			Help:      "Total number of similarity searches",
		},
	)

	SearchResults = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "search_results",
			Help:      "Number of chunks returned per similarity search",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	// Answers counts answer requests.
	// Labels: outcome (grounded, declined, fallback)
	Answers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "answers_total",
			Help:      "Total number of answer requests by outcome",
		},
		[]string{"outcome"},
	)
)

func RecordIndexRun(result string, started time.Time, chunks int) {
	IndexRuns.WithLabelValues(result).Inc()
	if result == ResultSkipped {
		return
	}
	IndexDuration.Observe(time.Since(started).Seconds())
	if result == ResultIndexed {
		IndexedChunks.Add(float64(chunks))
	}
}

func RecordEmbedding(err error) {
	if err != nil {
		EmbeddingCalls.WithLabelValues("error").Inc()
		return
	}
	EmbeddingCalls.WithLabelValues("success").Inc()
}

func RecordSearch(results int) {
	Searches.Inc()
	SearchResults.Observe(float64(results))
}

func RecordAnswer(outcome string) {
	Answers.WithLabelValues(outcome).Inc()
}
