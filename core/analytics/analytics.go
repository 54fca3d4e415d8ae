// Package analytics records every channel run and answers questions about
// them: which channels run most, which controllers fail, how long runs take.
package analytics

import (
	"context"
	"time"

	"github.com/pinglue/pg-repo-sub000/domain/run"
	"github.com/pinglue/pg-repo-sub000/ports"
)

// Event is one stored channel run.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	Channel string `json:"channel"`
	Caller  string `json:"caller,omitempty"`
	Mode    string `json:"mode"`
	Outcome string `json:"outcome"` // ok, partial, conflict, rejected

	DurationNS int64 `json:"duration_ns"`
	Handlers   int   `json:"handlers"`
	Outputs    int   `json:"outputs"`
	Detached   int   `json:"detached"`
	Conflict   bool  `json:"conflict,omitempty"`

	Failures []run.Failure `json:"failures,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// EventFromRecord converts a run record into a storable event.
func EventFromRecord(rec run.Record) Event {
	return Event{
		ID:         rec.ID,
		Timestamp:  rec.Started,
		Channel:    rec.Channel,
		Caller:     rec.Caller,
		Mode:       string(rec.Mode),
		Outcome:    rec.Outcome(),
		DurationNS: rec.Duration.Nanoseconds(),
		Handlers:   rec.Handlers,
		Outputs:    rec.Outputs,
		Detached:   rec.Detached,
		Conflict:   rec.Conflict,
		Failures:   append([]run.Failure(nil), rec.Failures...),
		Error:      rec.Err,
	}
}

// Summary aggregates runs for one group and period.
type Summary struct {
	Channel string `json:"channel,omitempty"`
	Mode    string `json:"mode,omitempty"`
	Caller  string `json:"caller,omitempty"`
	Period  string `json:"period,omitempty"` // bucket label when grouped by minute, hour or day

	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	TotalRuns    int64 `json:"total_runs"`
	OKRuns       int64 `json:"ok_runs"`
	PartialRuns  int64 `json:"partial_runs"`
	ConflictRuns int64 `json:"conflict_runs"`
	RejectedRuns int64 `json:"rejected_runs"`

	HandlerFailures  int64 `json:"handler_failures"`
	DetachedHandlers int64 `json:"detached_handlers"`

	AvgDurationNS int64 `json:"avg_duration_ns"`
	MinDurationNS int64 `json:"min_duration_ns"`
	MaxDurationNS int64 `json:"max_duration_ns"`
}

// QueryOptions configures event queries.
type QueryOptions struct {
	Start time.Time
	End   time.Time

	Channel string
	Caller  string
	Outcome string

	Limit  int
	Offset int

	OrderBy   string // timestamp, duration_ns, channel
	OrderDesc bool
}

// AggregateOptions configures aggregation queries.
type AggregateOptions struct {
	Start time.Time
	End   time.Time

	GroupBy []string // channel, mode, caller
	Period  string   // minute, hour, day

	Channel string
}

// Collector accepts events.
type Collector interface {
	// Record stores an event. It must not block the caller for long.
	Record(event Event)

	// Flush forces pending events to be written.
	Flush(ctx context.Context) error

	// Close shuts down the collector, flushing what is pending.
	Close() error
}

// Store provides event storage and querying.
type Store interface {
	Write(ctx context.Context, events []Event) error
	Query(ctx context.Context, opts QueryOptions) ([]Event, int64, error)
	Aggregate(ctx context.Context, opts AggregateOptions) ([]Summary, error)
	// Delete removes events older than before.
	Delete(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

// Analytics combines collection and querying.
type Analytics interface {
	Collector
	Store
}

// RunObserver feeds channel runs into a Collector.
type RunObserver struct {
	collector Collector
}

// NewRunObserver creates an observer recording into c.
func NewRunObserver(c Collector) *RunObserver {
	return &RunObserver{collector: c}
}

// ObserveRun implements ports.RunObserver.
func (o *RunObserver) ObserveRun(rec run.Record) {
	o.collector.Record(EventFromRecord(rec))
}

var _ ports.RunObserver = (*RunObserver)(nil)

// accumulate folds e into s.
func (s *Summary) accumulate(e Event) {
	if s.TotalRuns == 0 || e.Timestamp.Before(s.Start) {
		s.Start = e.Timestamp
	}
	if s.TotalRuns == 0 || e.Timestamp.After(s.End) {
		s.End = e.Timestamp
	}
	if s.TotalRuns == 0 || e.DurationNS < s.MinDurationNS {
		s.MinDurationNS = e.DurationNS
	}
	if e.DurationNS > s.MaxDurationNS {
		s.MaxDurationNS = e.DurationNS
	}
	s.AvgDurationNS = (s.AvgDurationNS*s.TotalRuns + e.DurationNS) / (s.TotalRuns + 1)
	s.TotalRuns++

	switch e.Outcome {
	case "ok":
		s.OKRuns++
	case "partial":
		s.PartialRuns++
	case "conflict":
		s.ConflictRuns++
	case "rejected":
		s.RejectedRuns++
	}
	s.HandlerFailures += int64(len(e.Failures))
	s.DetachedHandlers += int64(e.Detached)
}

// periodLabel buckets t the same way SQLite's strftime does in SQLiteStore.
func periodLabel(t time.Time, period string) string {
	t = t.UTC()
	switch period {
	case "minute":
		return t.Format("2006-01-02 15:04")
	case "hour":
		return t.Format("2006-01-02 15")
	case "day":
		return t.Format("2006-01-02")
	}
	return ""
}
