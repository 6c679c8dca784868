package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Correlation request metrics
	CorrelationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_coverage_correlations_total",
			Help: "Total number of correlation runs by tier and outcome",
		},
		[]string{"tier", "status"},
	)

	CorrelationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "telhawk_coverage_correlation_duration_seconds",
			Help:    "Duration of full operation correlations in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	DetectionRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "telhawk_coverage_detection_rate",
			Help: "Detection rate of the most recent correlation per tier",
		},
		[]string{"tier"},
	)

	// Alert store metrics
	SearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "telhawk_coverage_search_duration_seconds",
			Help:    "Duration of alert store searches in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	SearchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_coverage_search_errors_total",
			Help: "Total number of failed alert store searches",
		},
		[]string{"kind"},
	)

	StepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_coverage_steps_total",
			Help: "Total number of correlated execution steps by outcome",
		},
		[]string{"outcome"},
	)

	// Publication metrics
	ReportsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_coverage_reports_published_total",
			Help: "Total number of report publications by sink and status",
		},
		[]string{"sink", "status"},
	)

	// Rate limiting metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_coverage_rate_limit_hits_total",
			Help: "Total number of rate limited requests",
		},
		[]string{"key_kind"},
	)
)
