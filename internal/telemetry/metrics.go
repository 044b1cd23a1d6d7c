// Package telemetry exposes prometheus metrics for the diagnosis engine.
package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	// CellsTotal counts execution cells by provider and outcome.
	CellsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "geo_cells_total", Help: "Execution cells processed, by provider and result"},
		[]string{"provider", "result"},
	)
	// RetriesTotal counts provider call re-attempts by provider.
	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "geo_retries_total", Help: "Provider call retries"},
		[]string{"provider"},
	)
	// DeadLettersTotal counts entries pushed to the dead letter queue.
	DeadLettersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "geo_dead_letters_total", Help: "Tasks parked in the dead letter queue"},
	)
	// InFlightCells gauges cells currently executing across all jobs.
	InFlightCells = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "geo_cells_inflight", Help: "Cells currently executing"},
	)
	// ProviderLatency observes wall-clock latency of provider calls.
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geo_provider_latency_seconds",
			Help:    "Provider call latency",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"provider"},
	)
	// DiagnosesTotal counts finished diagnosis jobs by terminal state.
	DiagnosesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "geo_diagnoses_total", Help: "Finished diagnosis jobs by terminal state"},
		[]string{"state"},
	)
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			CellsTotal,
			RetriesTotal,
			DeadLettersTotal,
			InFlightCells,
			ProviderLatency,
			DiagnosesTotal,
		)
	})
	return promhttp.Handler()
}
