// Package http serves the read-only diagnostics API: channel reports,
// recorded runs, health and Prometheus metrics.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/pinglue/pg-repo-sub000/adapters/metrics"
	"github.com/pinglue/pg-repo-sub000/core/analytics"
	"github.com/pinglue/pg-repo-sub000/core/channel"
	"github.com/pinglue/pg-repo-sub000/core/formatter"
)

// Reporter produces channel reports. *channel.Manager implements it.
type Reporter interface {
	Report() map[string]channel.Report
}

// VersionResponse represents the version endpoint response.
type VersionResponse struct {
	Version string `json:"version"`
	Service string `json:"service"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RouterConfig holds the router's collaborators. Only Reporter is required.
type RouterConfig struct {
	Reporter Reporter
	Logger   zerolog.Logger
	Version  string

	// Metrics enables request metrics and the metrics endpoint.
	Metrics     *metrics.Collector
	Gatherer    prometheus.Gatherer // default: prometheus.DefaultGatherer
	MetricsPath string              // default: /metrics

	// Analytics enables /runs and /runs/summary.
	Analytics analytics.Store
}

// NewRouter creates the diagnostics router.
func NewRouter(cfg RouterConfig) chi.Router {
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	h := &handlers{cfg: cfg}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(NewLoggingMiddleware(cfg.Logger, cfg.MetricsPath))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	if cfg.Metrics != nil {
		r.Use(NewMetricsMiddleware(cfg.Metrics, cfg.MetricsPath))
	}

	r.Get("/healthz", h.health)
	r.Get("/version", h.version)

	r.Get("/channels", h.listChannels)
	r.Get("/channels/{name}", h.getChannel)

	if cfg.Analytics != nil {
		r.Get("/runs", h.listRuns)
		r.Get("/runs/summary", h.summarizeRuns)
	}

	if cfg.Metrics != nil {
		r.Handle(cfg.MetricsPath, h.metricsHandler())
	}

	return r
}

type handlers struct {
	cfg RouterConfig
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, VersionResponse{Version: h.cfg.Version, Service: "pinglue"})
}

// listChannels returns every channel report keyed by name. With ?format=
// the reports are rendered by the named formatter instead.
func (h *handlers) listChannels(w http.ResponseWriter, r *http.Request) {
	reports := h.cfg.Reporter.Report()

	name := r.URL.Query().Get("format")
	if name == "" {
		writeJSON(w, http.StatusOK, reports)
		return
	}
	f, ok := lookupFormatter(w, name)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", contentType(name))
	if err := f.FormatReports(w, formatter.SortedReports(reports), formatter.FormatOptions{}); err != nil {
		h.cfg.Logger.Error().Err(err).Msg("format channel reports")
	}
}

func (h *handlers) getChannel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	report, ok := h.cfg.Reporter.Report()[name]
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "channel not found: " + name})
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		writeJSON(w, http.StatusOK, report)
		return
	}
	f, ok := lookupFormatter(w, format)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", contentType(format))
	if err := f.FormatReport(w, report, formatter.FormatOptions{}); err != nil {
		h.cfg.Logger.Error().Err(err).Msg("format channel report")
	}
}

// listRuns serves recorded runs, newest first.
//
//	GET /runs?channel=orders&outcome=partial&since=1h&limit=50&offset=0
func (h *handlers) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := analytics.QueryOptions{
		Channel:   q.Get("channel"),
		Caller:    q.Get("caller"),
		Outcome:   q.Get("outcome"),
		OrderBy:   "timestamp",
		OrderDesc: true,
	}
	var err error
	if opts.Start, err = parseSince(q.Get("since")); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if opts.Limit, err = parseInt(q.Get("limit")); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "limit: " + err.Error()})
		return
	}
	if opts.Offset, err = parseInt(q.Get("offset")); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "offset: " + err.Error()})
		return
	}

	events, total, err := h.cfg.Analytics.Query(r.Context(), opts)
	if err != nil {
		h.cfg.Logger.Error().Err(err).Msg("query runs")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "query runs failed"})
		return
	}
	if events == nil {
		events = []analytics.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": total, "runs": events})
}

// summarizeRuns aggregates recorded runs.
//
//	GET /runs/summary?group_by=channel,mode&period=hour&since=24h
func (h *handlers) summarizeRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := analytics.AggregateOptions{
		Channel: q.Get("channel"),
		Period:  q.Get("period"),
	}
	if g := q.Get("group_by"); g != "" {
		opts.GroupBy = strings.Split(g, ",")
	}
	switch opts.Period {
	case "", "minute", "hour", "day":
	default:
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "period must be minute, hour or day"})
		return
	}
	var err error
	if opts.Start, err = parseSince(q.Get("since")); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	summaries, err := h.cfg.Analytics.Aggregate(r.Context(), opts)
	if err != nil {
		h.cfg.Logger.Error().Err(err).Msg("aggregate runs")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "aggregate runs failed"})
		return
	}
	if summaries == nil {
		summaries = []analytics.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(summaries), "summaries": summaries})
}

// metricsHandler refreshes the per-channel handler gauge before every scrape.
func (h *handlers) metricsHandler() http.Handler {
	prom := promhttp.HandlerFor(h.cfg.Gatherer, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reports := h.cfg.Reporter.Report()
		counts := make(map[string]int, len(reports))
		for name, rep := range reports {
			counts[name] = len(rep.Handlers)
		}
		h.cfg.Metrics.SetChannelHandlers(counts)
		prom.ServeHTTP(w, r)
	})
}

func lookupFormatter(w http.ResponseWriter, name string) (formatter.Formatter, bool) {
	f, ok := formatter.Get(name)
	if !ok {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: "unknown format " + strconv.Quote(name) + ", want one of " + strings.Join(formatter.List(), ", "),
		})
	}
	return f, ok
}

func contentType(format string) string {
	switch format {
	case "json":
		return "application/json"
	case "yaml":
		return "application/yaml"
	}
	return "text/plain; charset=utf-8"
}

// parseSince turns a duration such as "15m" into a start time.
func parseSince(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return time.Time{}, errors.New("since must be a positive duration such as 15m")
	}
	return time.Now().Add(-d), nil
}

func parseInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("must be a non-negative integer")
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// NewLoggingMiddleware logs every request at debug level.
func NewLoggingMiddleware(logger zerolog.Logger, metricsPath string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			// Skip logging for health checks and metrics
			if r.URL.Path == "/healthz" || r.URL.Path == metricsPath {
				return
			}

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}

// NewMetricsMiddleware creates middleware that records request metrics,
// labelled by route pattern rather than raw path.
func NewMetricsMiddleware(m *metrics.Collector, metricsPath string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" || r.URL.Path == metricsPath {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			m.RequestsTotal.WithLabelValues(r.Method, route, statusLabel(status)).Inc()
			m.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// statusLabel returns a string label for the status code.
func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "other"
	}
}
