package analytics

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxEvents bounds a MemoryStore created with a non-positive limit.
const DefaultMaxEvents = 10000

// MemoryStore keeps the most recent events in memory. It implements
// Analytics and is the default when no database is configured.
type MemoryStore struct {
	mu        sync.RWMutex
	events    []Event
	maxEvents int
}

// NewMemoryStore creates a store that keeps at most maxEvents events,
// dropping the oldest first.
func NewMemoryStore(maxEvents int) *MemoryStore {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	return &MemoryStore{maxEvents: maxEvents}
}

// Record stores an event synchronously.
func (s *MemoryStore) Record(event Event) {
	_ = s.Write(context.Background(), []Event{event})
}

// Flush is a no-op; events are stored as they are recorded.
func (s *MemoryStore) Flush(context.Context) error { return nil }

// Write stores events.
func (s *MemoryStore) Write(_ context.Context, events []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.Timestamp.IsZero() {
			e.Timestamp = time.Now()
		}
		s.events = append(s.events, e)
	}
	if over := len(s.events) - s.maxEvents; over > 0 {
		s.events = append([]Event(nil), s.events[over:]...)
	}
	return nil
}

// Query retrieves events matching the options. The total ignores paging.
func (s *MemoryStore) Query(_ context.Context, opts QueryOptions) ([]Event, int64, error) {
	s.mu.RLock()
	var matched []Event
	for _, e := range s.events {
		if opts.matches(e) {
			matched = append(matched, e)
		}
	}
	s.mu.RUnlock()

	less := func(a, b Event) bool { return a.Timestamp.Before(b.Timestamp) }
	switch opts.OrderBy {
	case "duration_ns":
		less = func(a, b Event) bool { return a.DurationNS < b.DurationNS }
	case "channel":
		less = func(a, b Event) bool { return a.Channel < b.Channel }
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if opts.OrderDesc {
			return less(matched[j], matched[i])
		}
		return less(matched[i], matched[j])
	})

	total := int64(len(matched))
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	if opts.Offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[opts.Offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total, nil
}

func (o QueryOptions) matches(e Event) bool {
	if !o.Start.IsZero() && e.Timestamp.Before(o.Start) {
		return false
	}
	if !o.End.IsZero() && e.Timestamp.After(o.End) {
		return false
	}
	if o.Channel != "" && e.Channel != o.Channel {
		return false
	}
	if o.Caller != "" && e.Caller != o.Caller {
		return false
	}
	if o.Outcome != "" && e.Outcome != o.Outcome {
		return false
	}
	return true
}

// Aggregate summarizes events per group, newest group first.
func (s *MemoryStore) Aggregate(_ context.Context, opts AggregateOptions) ([]Summary, error) {
	filter := QueryOptions{Start: opts.Start, End: opts.End, Channel: opts.Channel}

	groups := make(map[string]*Summary)
	var order []string

	s.mu.RLock()
	for _, e := range s.events {
		if !filter.matches(e) {
			continue
		}
		sum := Summary{Period: periodLabel(e.Timestamp, opts.Period)}
		for _, g := range opts.GroupBy {
			switch g {
			case "channel":
				sum.Channel = e.Channel
			case "mode":
				sum.Mode = e.Mode
			case "caller":
				sum.Caller = e.Caller
			}
		}
		key := strings.Join([]string{sum.Channel, sum.Mode, sum.Caller, sum.Period}, "\x00")
		g, ok := groups[key]
		if !ok {
			g = &sum
			groups[key] = g
			order = append(order, key)
		}
		g.accumulate(e)
	}
	s.mu.RUnlock()

	out := make([]Summary, 0, len(order))
	for _, key := range order {
		out = append(out, *groups[key])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.After(out[j].Start) })
	return out, nil
}

// Delete removes events older than before.
func (s *MemoryStore) Delete(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.events[:0]
	for _, e := range s.events {
		if !e.Timestamp.Before(before) {
			kept = append(kept, e)
		}
	}
	removed := int64(len(s.events) - len(kept))
	s.events = kept
	return removed, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

var _ Analytics = (*MemoryStore)(nil)
