// Package metrics wires the process-wide Prometheus exporter, following
// the exporter setup in cmd/kcn/main.go (PrometheusExporterFlag handling):
// a dedicated HTTP listener serving promhttp.Handler() on /metrics.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shark-indexer/indexer/internal/log"
)

var logger = log.NewModuleLogger(log.CmdIndexer)

// Registry groups the counters and gauges the outer control loop and
// pipeline update. Kept small and process-wide; internal/pipeline keeps
// its own package-level go-metrics gauges and counters alongside it.
type Registry struct {
	CurrentHeight   prometheus.Gauge
	TargetHeight    prometheus.Gauge
	BlocksIndexed   prometheus.Counter
	ReorgsHandled   prometheus.Counter
	ReorgDepth      prometheus.Histogram
	ConstraintFails prometheus.Counter
	BatchFlushes    prometheus.Counter
	BatchFailures   prometheus.Counter
}

// NewRegistry constructs and registers all indexer metrics against the
// default Prometheus registerer.
func NewRegistry() *Registry {
	r := &Registry{
		CurrentHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shark_indexer_current_height",
			Help: "Highest block height durably committed by the indexer.",
		}),
		TargetHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shark_indexer_target_height",
			Help: "Chain tip as last observed from the node.",
		}),
		BlocksIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shark_indexer_blocks_indexed_total",
			Help: "Total blocks committed.",
		}),
		ReorgsHandled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shark_indexer_reorgs_total",
			Help: "Total reorganizations handled.",
		}),
		ReorgDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shark_indexer_reorg_depth",
			Help:    "Depth (in blocks) of handled reorganizations.",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		}),
		ConstraintFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shark_indexer_constraint_violations_total",
			Help: "Row-level constraint violations caught by the bulk-insert fallback.",
		}),
		BatchFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shark_indexer_minibatch_flushes_total",
			Help: "Total mini-batch flushes committed.",
		}),
		BatchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shark_indexer_minibatch_failures_total",
			Help: "Total mini-batch flushes that fell back to solo processing.",
		}),
	}
	prometheus.MustRegister(
		r.CurrentHeight, r.TargetHeight, r.BlocksIndexed, r.ReorgsHandled,
		r.ReorgDepth, r.ConstraintFails, r.BatchFlushes, r.BatchFailures,
	)
	return r
}

// Serve starts the /metrics HTTP listener in the background. Errors are
// logged, not fatal: metrics are an operational aid, never load-bearing
// for ingestion correctness.
func Serve(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		addr := fmt.Sprintf(":%d", port)
		logger.Info("starting prometheus exporter", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("prometheus exporter stopped", "err", err)
		}
	}()
}
