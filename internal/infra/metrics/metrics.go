// Package metrics exposes the Prometheus collectors of the generation core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ModeInteractive = "interactive"
	ModeBatch       = "batch"
)

var (
	GenerationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docgen_duration_ms",
		Help:    "End-to-end generation duration in milliseconds.",
		Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 120000},
	}, []string{"template_id", "output_format", "mode"})

	GenerationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docgen_failures_total",
		Help: "Generation failures by classified reason.",
	}, []string{"reason", "mode"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "queue_depth",
		Help: "Rows fetched by the last poll cycle.",
	})

	Retries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retries_total",
		Help: "Batch retries scheduled, by attempt number.",
	}, []string{"attempt"})

	TemplateCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "template_cache_hits_total",
		Help: "Template cache hits.",
	})

	TemplateCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "template_cache_misses_total",
		Help: "Template cache misses.",
	})

	ConversionPoolActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "conversion_pool_active",
		Help: "Conversions currently running.",
	})

	ConversionPoolQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "conversion_pool_queued",
		Help: "Conversions waiting for a pool slot.",
	})

	IdempotencyHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "idempotency_cache_hits_total",
		Help: "Interactive requests answered from a prior artifact.",
	})
)
