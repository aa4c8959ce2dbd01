// Package metrics provides the Prometheus registry shared by the exporter.
// All metrics are defined in their respective packages (client, ratelimit,
// panel) to maintain modularity and avoid circular dependencies.
//
// The exporter is a batch job, so instead of serving /metrics it leaves a
// textfile for the node-exporter textfile collector (see WriteTextfile).
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the exporter.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer collects the metrics written by WriteTextfile.
var Gatherer prometheus.Gatherer = prometheus.DefaultGatherer

// WriteTextfile writes every gathered metric to path in the Prometheus
// text format. The file is replaced atomically.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, Gatherer); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - wb_requests_total{endpoint, status} (Counter): Total requests by endpoint and HTTP status
//   - wb_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - wb_errors_total{class} (Counter): Errors by class (client, server, network)
//
// Rate Limit Metrics (pkg/ratelimit):
//   - wb_rate_limit_waits_total{limiter} (Counter): Waits before a request by limiter (interval, redis)
//   - wb_rate_limit_wait_seconds{limiter} (Histogram): Time spent waiting for a request slot
//
// Panel Metrics (pkg/panel):
//   - wb_indicators_total{outcome} (Counter): Indicators by outcome (fetched, empty, failed)
//   - wb_observations_total (Counter): Normalized observations received
//
// Example Prometheus Queries:
//
//   # Indicators without data in the last run
//   wb_indicators_total{outcome="empty"}
//
//   # Server error share
//   sum(wb_errors_total{class="server"}) / sum(wb_requests_total)
//
//   # P95 Request Latency
//   histogram_quantile(0.95, sum by (le) (wb_request_duration_seconds_bucket))
