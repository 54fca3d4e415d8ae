package formatter

import (
	"io"

	"gopkg.in/yaml.v3"

	"github.com/pinglue/pg-repo-sub000/core/analytics"
	"github.com/pinglue/pg-repo-sub000/core/channel"
)

// YAMLFormatter formats output as YAML.
type YAMLFormatter struct{}

// NewYAMLFormatter creates a new YAML formatter.
func NewYAMLFormatter() *YAMLFormatter {
	return &YAMLFormatter{}
}

// Name returns the formatter name.
func (f *YAMLFormatter) Name() string {
	return "yaml"
}

// Description returns the formatter description.
func (f *YAMLFormatter) Description() string {
	return "YAML output format"
}

// FormatReports formats channel reports as a YAML document.
func (f *YAMLFormatter) FormatReports(w io.Writer, reports []channel.Report, _ FormatOptions) error {
	if reports == nil {
		reports = []channel.Report{}
	}
	return f.encode(w, map[string]any{
		"count":    len(reports),
		"channels": reports,
	})
}

// FormatReport formats a single channel report.
func (f *YAMLFormatter) FormatReport(w io.Writer, report channel.Report, _ FormatOptions) error {
	return f.encode(w, report)
}

// FormatSummaries formats run summaries.
func (f *YAMLFormatter) FormatSummaries(w io.Writer, summaries []analytics.Summary, _ FormatOptions) error {
	if summaries == nil {
		summaries = []analytics.Summary{}
	}
	return f.encode(w, map[string]any{
		"count":     len(summaries),
		"summaries": summaries,
	})
}

// FormatError formats an error as YAML.
func (f *YAMLFormatter) FormatError(w io.Writer, err error) error {
	return f.encode(w, map[string]any{
		"error": err.Error(),
	})
}

func (f *YAMLFormatter) encode(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func init() {
	Register(NewYAMLFormatter())
}
