// Package metrics provides Prometheus metrics for channel runs and the
// diagnostics server.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pinglue/pg-repo-sub000/domain/run"
	"github.com/pinglue/pg-repo-sub000/ports"
)

const namespace = "pinglue"

// Collector holds all Prometheus metrics. It is a ports.RunObserver.
type Collector struct {
	// Run metrics
	RunsTotal        *prometheus.CounterVec
	RunDuration      *prometheus.HistogramVec
	HandlerFailures  *prometheus.CounterVec
	DetachedHandlers *prometheus.CounterVec
	MergeConflicts   *prometheus.CounterVec

	// Registry metrics
	ChannelHandlers *prometheus.GaugeVec

	// Diagnostics server metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge
}

// New creates a collector registered with the default Prometheus registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of channel runs by outcome",
			},
			[]string{"channel", "mode", "outcome"},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Channel run duration in seconds",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"channel", "mode"},
		),
		HandlerFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handler_failures_total",
				Help:      "Total number of failed handler invocations",
			},
			[]string{"channel", "controller", "panicked"},
		),
		DetachedHandlers: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "detached_handlers_total",
				Help:      "Asynchronous handlers left running by synchronous runs",
			},
			[]string{"channel"},
		),
		MergeConflicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "merge_conflicts_total",
				Help:      "Runs whose object-merge reduction hit a conflict",
			},
			[]string{"channel"},
		),
		ChannelHandlers: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "channel_handlers",
				Help:      "Number of handlers registered per channel",
			},
			[]string{"channel"},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of diagnostics requests processed",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Diagnostics request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method", "route"},
		),
		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reload_errors_total",
				Help:      "Total number of config reload errors",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful config reload",
			},
		),
	}
}

// ObserveRun records one completed run.
func (c *Collector) ObserveRun(rec run.Record) {
	mode := string(rec.Mode)
	c.RunsTotal.WithLabelValues(rec.Channel, mode, rec.Outcome()).Inc()
	if rec.Err != "" {
		return
	}
	c.RunDuration.WithLabelValues(rec.Channel, mode).Observe(rec.Duration.Seconds())
	for _, f := range rec.Failures {
		c.HandlerFailures.WithLabelValues(rec.Channel, f.ControllerID, strconv.FormatBool(f.Panicked)).Inc()
	}
	if rec.Detached > 0 {
		c.DetachedHandlers.WithLabelValues(rec.Channel).Add(float64(rec.Detached))
	}
	if rec.Conflict {
		c.MergeConflicts.WithLabelValues(rec.Channel).Inc()
	}
}

// SetChannelHandlers publishes the handler count of every channel.
// Channels missing from counts are removed from the gauge.
func (c *Collector) SetChannelHandlers(counts map[string]int) {
	c.ChannelHandlers.Reset()
	for name, n := range counts {
		c.ChannelHandlers.WithLabelValues(name).Set(float64(n))
	}
}

// ConfigReloaded records a configuration reload attempt.
func (c *Collector) ConfigReloaded(err error) {
	if err != nil {
		c.ConfigReloadErrors.Inc()
		return
	}
	c.ConfigReloads.Inc()
	c.ConfigLastReload.SetToCurrentTime()
}

var _ ports.RunObserver = (*Collector)(nil)
