package formatter

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pinglue/pg-repo-sub000/core/analytics"
	"github.com/pinglue/pg-repo-sub000/core/channel"
)

// TableFormatter formats output as aligned text tables.
type TableFormatter struct{}

// NewTableFormatter creates a new table formatter.
func NewTableFormatter() *TableFormatter {
	return &TableFormatter{}
}

// Name returns the formatter name.
func (f *TableFormatter) Name() string {
	return "table"
}

// Description returns the formatter description.
func (f *TableFormatter) Description() string {
	return "Aligned text table output"
}

// FormatReports prints one row per channel.
func (f *TableFormatter) FormatReports(w io.Writer, reports []channel.Report, opts FormatOptions) error {
	if len(reports) == 0 {
		fmt.Fprintln(w, "No channels found.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if !opts.NoHeader {
		fmt.Fprintln(tw, "CHANNEL\tOWNER\tRUN MODE\tSYNC\tREDUCER\tHANDLERS\tFLAGS")
	}
	for _, r := range reports {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			truncate(r.Name, opts.MaxWidth),
			dash(r.Owner),
			r.Settings.RunMode,
			r.Settings.SyncType,
			dash(r.Reducer),
			len(r.Handlers),
			dash(strings.Join(flags(r.Settings), ",")),
		)
	}
	return tw.Flush()
}

// FormatReport prints a channel as key-value pairs followed by its handlers.
func (f *TableFormatter) FormatReport(w io.Writer, r channel.Report, opts FormatOptions) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "Channel:\t%s\n", r.Name)
	fmt.Fprintf(tw, "Owner:\t%s\n", dash(r.Owner))
	if r.Settings.Description != "" {
		fmt.Fprintf(tw, "Description:\t%s\n", r.Settings.Description)
	}
	fmt.Fprintf(tw, "Run Mode:\t%s\n", r.Settings.RunMode)
	fmt.Fprintf(tw, "Sync Type:\t%s\n", r.Settings.SyncType)
	fmt.Fprintf(tw, "Reducer:\t%s\n", dash(r.Reducer))
	fmt.Fprintf(tw, "Flags:\t%s\n", dash(strings.Join(flags(r.Settings), ", ")))
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(r.Handlers) == 0 {
		fmt.Fprintln(w, "\nNo handlers registered.")
		return nil
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if !opts.NoHeader {
		fmt.Fprintln(tw, "CONTROLLER\tHANDLER")
	}
	for _, h := range r.Handlers {
		fmt.Fprintf(tw, "%s\t%s\n", h.ControllerID, truncate(h.Handler, opts.MaxWidth))
	}
	return tw.Flush()
}

// FormatSummaries prints one row per summary.
func (f *TableFormatter) FormatSummaries(w io.Writer, summaries []analytics.Summary, opts FormatOptions) error {
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if !opts.NoHeader {
		fmt.Fprintln(tw, "CHANNEL\tPERIOD\tRUNS\tOK\tPARTIAL\tCONFLICT\tREJECTED\tFAILURES\tAVG")
	}
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			dash(s.Channel), dash(s.Period),
			s.TotalRuns, s.OKRuns, s.PartialRuns, s.ConflictRuns, s.RejectedRuns,
			s.HandlerFailures, time.Duration(s.AvgDurationNS),
		)
	}
	return tw.Flush()
}

// FormatError formats an error message.
func (f *TableFormatter) FormatError(w io.Writer, err error) error {
	fmt.Fprintf(w, "Error: %s\n", err.Error())
	return nil
}

// flags lists the boolean settings that are set.
func flags(s channel.Settings) []string {
	var out []string
	add := func(on bool, name string) {
		if on {
			out = append(out, name)
		}
	}
	add(s.SingleHandler, "single-handler")
	add(s.NoEmpty, "no-empty")
	add(s.ExternallyHandled, "externally-handled")
	add(s.ExternallyRun, "externally-run")
	add(s.NoCloneParams, "no-clone-params")
	add(s.NoCloneValue, "no-clone-value")
	return out
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, maxWidth int) string {
	if maxWidth > 3 && len(s) > maxWidth {
		return s[:maxWidth-3] + "..."
	}
	return s
}

func init() {
	Register(NewTableFormatter())
}
