// Package metrics declares the pipeline's prometheus instruments.
//
// Counters are registered on the default registry at init; the HTTP
// surface exposes them via Handler on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FeedDays counts per-(source, day) ingest outcomes.
	// result: fetched | skipped | failed.
	FeedDays = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nrdwatch_feed_days_total",
		Help: "Feed ingest outcomes per source and day.",
	}, []string{"source", "result"})

	// Scans counts per-domain probe outcomes.
	// result: active | inactive | error.
	Scans = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nrdwatch_scans_total",
		Help: "Availability scan outcomes per domain.",
	}, []string{"result"})

	// ScanChanged counts scans whose content fingerprint differed from
	// the previous successful scan.
	ScanChanged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nrdwatch_scan_changed_total",
		Help: "Scans that observed a changed content fingerprint.",
	})

	// Captures counts screenshot attempts per strategy tier.
	// result: ok | failed.
	Captures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nrdwatch_captures_total",
		Help: "Screenshot capture outcomes per method.",
	}, []string{"method", "result"})

	// PipelineRuns counts stage executions.
	// result: ok | error.
	PipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nrdwatch_pipeline_runs_total",
		Help: "Pipeline stage executions.",
	}, []string{"stage", "result"})
)

// Handler returns the prometheus scrape handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
