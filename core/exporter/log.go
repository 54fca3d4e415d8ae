package exporter

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/pinglue/pg-repo-sub000/core/analytics"
)

// LogExporter writes one log line per summary.
// Useful for debugging and development.
type LogExporter struct {
	logger zerolog.Logger
	level  zerolog.Level
}

// NewLogExporter creates a log exporter writing at info level.
func NewLogExporter(logger zerolog.Logger) *LogExporter {
	return &LogExporter{logger: logger, level: zerolog.InfoLevel}
}

// WithLevel sets the level summaries are logged at.
func (e *LogExporter) WithLevel(level zerolog.Level) *LogExporter {
	e.level = level
	return e
}

// Name returns the exporter name.
func (e *LogExporter) Name() string {
	return "log"
}

// Push logs the summaries. Channels without runs in the window are skipped.
func (e *LogExporter) Push(_ context.Context, summaries []analytics.Summary) error {
	for _, s := range summaries {
		if s.TotalRuns == 0 {
			continue
		}
		e.logger.WithLevel(e.level).
			Str("channel", s.Channel).
			Int64("total_runs", s.TotalRuns).
			Int64("ok_runs", s.OKRuns).
			Int64("partial_runs", s.PartialRuns).
			Int64("conflict_runs", s.ConflictRuns).
			Int64("rejected_runs", s.RejectedRuns).
			Int64("handler_failures", s.HandlerFailures).
			Int64("avg_duration_ns", s.AvgDurationNS).
			Msg("channel runs")
	}
	return nil
}

// NoopExporter discards all summaries.
type NoopExporter struct{}

// NewNoopExporter creates a new noop exporter.
func NewNoopExporter() *NoopExporter {
	return &NoopExporter{}
}

// Name returns the exporter name.
func (e *NoopExporter) Name() string {
	return "noop"
}

// Push discards the summaries.
func (e *NoopExporter) Push(context.Context, []analytics.Summary) error {
	return nil
}
