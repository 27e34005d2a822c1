package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quadra_jobs_total",
		Help: "Number of optimization jobs by terminal status.",
	}, []string{"status"})

	jobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quadra_jobs_running",
		Help: "Number of optimization jobs currently running.",
	})

	evaluationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quadra_function_evaluations_total",
		Help: "Total objective function evaluations across completed jobs.",
	})

	jobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quadra_job_duration_seconds",
		Help:    "Wall clock duration of optimization jobs.",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
	})
)
