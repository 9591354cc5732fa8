package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds all Prometheus metrics for the search service
type Metrics struct {
	SearchRequests   *prometheus.CounterVec
	SearchDuration   *prometheus.HistogramVec
	QueryPendingNums *prometheus.GaugeVec
	UsageRecords     *prometheus.CounterVec
	PostgresQueries  *prometheus.CounterVec
	DBDuration       *prometheus.HistogramVec
	DBConnections    *prometheus.GaugeVec
}
