package exporter

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pinglue/pg-repo-sub000/core/analytics"
)

// PrometheusExporter publishes the latest export window as gauges, next to
// the live counters kept by the metrics adapter. Gauges are reset on every
// push so channels that went quiet drop out.
type PrometheusExporter struct {
	mu sync.Mutex

	windowRuns     *prometheus.GaugeVec
	windowFailures *prometheus.GaugeVec
	windowAvg      *prometheus.GaugeVec
	windowMax      *prometheus.GaugeVec
}

// PrometheusConfig configures the Prometheus exporter.
type PrometheusConfig struct {
	// Registerer receives the gauges (default: prometheus.DefaultRegisterer).
	Registerer prometheus.Registerer

	// Namespace prefixes all metric names (default: "pinglue").
	Namespace string
}

// NewPrometheusExporter creates the exporter and registers its gauges.
func NewPrometheusExporter(cfg PrometheusConfig) *PrometheusExporter {
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.DefaultRegisterer
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "pinglue"
	}
	factory := promauto.With(cfg.Registerer)

	return &PrometheusExporter{
		windowRuns: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: "window",
				Name:      "runs",
				Help:      "Channel runs in the last export window",
			},
			[]string{"channel", "outcome"},
		),
		windowFailures: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: "window",
				Name:      "handler_failures",
				Help:      "Handler failures in the last export window",
			},
			[]string{"channel"},
		),
		windowAvg: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: "window",
				Name:      "run_duration_avg_seconds",
				Help:      "Average run duration in the last export window",
			},
			[]string{"channel"},
		),
		windowMax: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: "window",
				Name:      "run_duration_max_seconds",
				Help:      "Longest run in the last export window",
			},
			[]string{"channel"},
		),
	}
}

// Name returns the exporter name.
func (e *PrometheusExporter) Name() string {
	return "prometheus"
}

// Push replaces the gauges with the given window.
func (e *PrometheusExporter) Push(_ context.Context, summaries []analytics.Summary) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.windowRuns.Reset()
	e.windowFailures.Reset()
	e.windowAvg.Reset()
	e.windowMax.Reset()

	for _, s := range summaries {
		for outcome, n := range map[string]int64{
			"ok":       s.OKRuns,
			"partial":  s.PartialRuns,
			"conflict": s.ConflictRuns,
			"rejected": s.RejectedRuns,
		} {
			e.windowRuns.WithLabelValues(s.Channel, outcome).Set(float64(n))
		}
		e.windowFailures.WithLabelValues(s.Channel).Set(float64(s.HandlerFailures))
		e.windowAvg.WithLabelValues(s.Channel).Set(float64(s.AvgDurationNS) / 1e9)
		e.windowMax.WithLabelValues(s.Channel).Set(float64(s.MaxDurationNS) / 1e9)
	}
	return nil
}
