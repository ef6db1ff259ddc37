// Package metrics exposes Prometheus collectors for the acquisition pipeline.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	laneTasksTotal        *prometheus.CounterVec
	laneRunning           *prometheus.GaugeVec
	lanePending           *prometheus.GaugeVec
	laneDispatchDelay     *prometheus.HistogramVec
	mediaVariantsTotal    *prometheus.CounterVec
	syncRequestsTotal     *prometheus.CounterVec
	challengeWaitsSeconds prometheus.Histogram

	once sync.Once
)

// Init registers the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		laneTasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_lane_tasks_total",
				Help: "Total tasks finished per lane, labeled by outcome.",
			},
			[]string{"lane", "outcome"},
		)

		laneRunning = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pipeline_lane_running",
				Help: "Tasks currently executing per lane.",
			},
			[]string{"lane"},
		)

		lanePending = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pipeline_lane_pending",
				Help: "Tasks waiting for dispatch per lane.",
			},
			[]string{"lane"},
		)

		laneDispatchDelay = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_lane_dispatch_delay_seconds",
				Help:    "Pacing delay applied before dispatching a task.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"lane"},
		)

		mediaVariantsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "media_variants_total",
				Help: "Media variants produced, labeled by variant key and outcome.",
			},
			[]string{"variant", "outcome"},
		)

		syncRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_requests_total",
				Help: "Ingestion API sync attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		challengeWaitsSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "antibot_challenge_wait_seconds",
				Help:    "Time spent waiting for anti-bot challenges to resolve.",
				Buckets: []float64{1, 5, 10, 30, 60, 120},
			},
		)
	})
}

// Handler returns an http.Handler exposing the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveLaneTask records a finished task for the lane.
func ObserveLaneTask(lane, outcome string) {
	if laneTasksTotal == nil {
		return
	}
	laneTasksTotal.WithLabelValues(lane, outcome).Inc()
}

// SetLaneDepth updates the pending/running gauges for the lane.
func SetLaneDepth(lane string, pending, running int) {
	if lanePending == nil {
		return
	}
	lanePending.WithLabelValues(lane).Set(float64(pending))
	laneRunning.WithLabelValues(lane).Set(float64(running))
}

// ObserveDispatchDelay records the pacing sleep applied before a dispatch.
func ObserveDispatchDelay(lane string, d time.Duration) {
	if laneDispatchDelay == nil || d <= 0 {
		return
	}
	laneDispatchDelay.WithLabelValues(lane).Observe(d.Seconds())
}

// ObserveMediaVariant records the outcome for a produced (or failed) variant.
func ObserveMediaVariant(variant, outcome string) {
	if mediaVariantsTotal == nil {
		return
	}
	mediaVariantsTotal.WithLabelValues(variant, outcome).Inc()
}

// ObserveSync records the outcome of an ingestion sync attempt.
func ObserveSync(outcome string) {
	if syncRequestsTotal == nil {
		return
	}
	syncRequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveChallengeWait records how long a challenge took to resolve.
func ObserveChallengeWait(d time.Duration) {
	if challengeWaitsSeconds == nil {
		return
	}
	challengeWaitsSeconds.Observe(d.Seconds())
}
