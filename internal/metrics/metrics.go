package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weather_fetch_failures_total",
		Help: "Upstream fetches that produced no data, by reason.",
	}, []string{"reason"})

	IngestSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weather_ingest_skipped_total",
		Help: "Records or values skipped during ingestion, by reason.",
	}, []string{"reason"})

	IngestRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weather_ingest_runs_total",
		Help: "Completed ingestion runs, by result.",
	}, []string{"result"})

	RowsCommitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weather_ingest_rows_committed_total",
		Help: "Rows (stations, types and measurements) written by ingestion commits.",
	})

	QueryRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weather_query_requests_total",
		Help: "Aggregation queries served, by operation and HTTP status.",
	}, []string{"operation", "status"})
)
