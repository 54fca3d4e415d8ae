package formatter

import (
	"encoding/json"
	"io"

	"github.com/pinglue/pg-repo-sub000/core/analytics"
	"github.com/pinglue/pg-repo-sub000/core/channel"
)

// JSONFormatter formats output as JSON.
type JSONFormatter struct{}

// NewJSONFormatter creates a new JSON formatter.
func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{}
}

// Name returns the formatter name.
func (f *JSONFormatter) Name() string {
	return "json"
}

// Description returns the formatter description.
func (f *JSONFormatter) Description() string {
	return "JSON output format"
}

// FormatReports formats channel reports as {"count": n, "channels": [...]}.
func (f *JSONFormatter) FormatReports(w io.Writer, reports []channel.Report, opts FormatOptions) error {
	if reports == nil {
		reports = []channel.Report{}
	}
	return f.encode(w, map[string]any{
		"count":    len(reports),
		"channels": reports,
	}, opts.Compact)
}

// FormatReport formats a single channel report.
func (f *JSONFormatter) FormatReport(w io.Writer, report channel.Report, opts FormatOptions) error {
	return f.encode(w, report, opts.Compact)
}

// FormatSummaries formats run summaries as {"count": n, "summaries": [...]}.
func (f *JSONFormatter) FormatSummaries(w io.Writer, summaries []analytics.Summary, opts FormatOptions) error {
	if summaries == nil {
		summaries = []analytics.Summary{}
	}
	return f.encode(w, map[string]any{
		"count":     len(summaries),
		"summaries": summaries,
	}, opts.Compact)
}

// FormatError formats an error as JSON.
func (f *JSONFormatter) FormatError(w io.Writer, err error) error {
	return f.encode(w, map[string]any{
		"error": err.Error(),
	}, false)
}

func (f *JSONFormatter) encode(w io.Writer, v any, compact bool) error {
	enc := json.NewEncoder(w)
	if !compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

func init() {
	Register(NewJSONFormatter())
}
