package metrics

import "github.com/prometheus/client_golang/prometheus"

// Indexing pipeline metrics.
var (
	IndexRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_runs_total",
			Help:      "Indexing runs by kind and outcome",
		},
		[]string{"kind", "status"},
	)

	IndexRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "index_run_duration_seconds",
			Help:      "Indexing run duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 180, 600},
		},
		[]string{"kind"},
	)

	IndexFilesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_files_total",
			Help:      "Files seen by directory passes",
		},
		[]string{"result"}, // "unchanged" / "indexed" / "failed"
	)

	IndexChunksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_new_chunks_total",
			Help:      "Chunks inserted into the metadata store",
		},
	)

	IndexRows = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vector_index_rows",
			Help:      "Rows in the last persisted vector index",
		},
	)

	LoaderFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loader_failures_total",
			Help:      "Files that failed text extraction",
		},
		[]string{"format"},
	)

	WatcherTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watcher_checks_total",
			Help:      "Watcher checks by outcome",
		},
		[]string{"result"}, // "unchanged" / "handled" / "failed"
	)

	RetrieverSearchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retriever_searches_total",
			Help:      "Retriever searches by outcome",
		},
		[]string{"status"},
	)
)

var indexingMetricsRegistered bool

// RegisterIndexingMetrics registers indexer, loader, watcher and retriever metrics.
func RegisterIndexingMetrics() {
	if indexingMetricsRegistered {
		return
	}
	prometheus.MustRegister(
		IndexRunsTotal,
		IndexRunDuration,
		IndexFilesTotal,
		IndexChunksTotal,
		IndexRows,
		LoaderFailuresTotal,
		WatcherTicksTotal,
		RetrieverSearchesTotal,
	)
	indexingMetricsRegistered = true
}
