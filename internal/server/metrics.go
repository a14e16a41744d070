package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// metrics are the Prometheus collectors for optimization jobs.
type metrics struct {
	optimizations *prometheus.CounterVec
	evaluations   prometheus.Histogram
	duration      prometheus.Histogram
	running       prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		optimizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "varopt_optimizations_total",
			Help: "Optimization jobs by final status.",
		}, []string{"status"}),
		evaluations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "varopt_function_evaluations",
			Help:    "Objective evaluations per finished optimization.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "varopt_optimization_duration_seconds",
			Help:    "Wall time spent inside the optimizer.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "varopt_optimizations_running",
			Help: "Optimization jobs holding a worker slot.",
		}),
	}
	reg.MustRegister(
		m.optimizations,
		m.evaluations,
		m.duration,
		m.running,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}
