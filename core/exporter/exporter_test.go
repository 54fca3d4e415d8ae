package exporter

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pinglue/pg-repo-sub000/adapters/clock"
	"github.com/pinglue/pg-repo-sub000/core/analytics"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// recorder is an Exporter that keeps every push.
type recorder struct {
	name   string
	pushes [][]analytics.Summary
	err    error
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) Push(_ context.Context, s []analytics.Summary) error {
	r.pushes = append(r.pushes, s)
	return r.err
}

func seededStore(t *testing.T) *analytics.MemoryStore {
	t.Helper()
	store := analytics.NewMemoryStore(0)
	events := []analytics.Event{
		{ID: "old", Timestamp: base.Add(-48 * time.Hour), Channel: "orders", Outcome: "ok"},
		{ID: "stale", Timestamp: base.Add(-time.Hour), Channel: "orders", Outcome: "ok"},
		{ID: "a", Timestamp: base.Add(-2 * time.Minute), Channel: "orders", Outcome: "ok", DurationNS: 1000},
		{ID: "b", Timestamp: base.Add(-time.Minute), Channel: "orders", Outcome: "partial", DurationNS: 3000},
		{ID: "c", Timestamp: base.Add(-30 * time.Second), Channel: "users", Outcome: "conflict"},
	}
	if err := store.Write(context.Background(), events); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	return store
}

func TestNewScheduler_Validation(t *testing.T) {
	store := analytics.NewMemoryStore(0)

	if _, err := NewScheduler(nil, DefaultConfig(), zerolog.Nop()); err == nil {
		t.Error("expected error for nil store")
	}
	if _, err := NewScheduler(store, Config{Schedule: "every minute"}, zerolog.Nop()); err == nil {
		t.Error("expected error for invalid schedule")
	}

	s, err := NewScheduler(store, Config{}, zerolog.Nop(), NewNoopExporter())
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	if s.cfg.Schedule != "@every 1m" || s.cfg.Window != 5*time.Minute {
		t.Errorf("defaults not applied: %+v", s.cfg)
	}
	if s.cfg.Retention != 0 {
		t.Errorf("Retention = %v, want 0 when unset", s.cfg.Retention)
	}
	if got := strings.Join(s.Exporters(), ","); got != "noop" {
		t.Errorf("Exporters() = %q", got)
	}
}

func TestScheduler_RunOnce(t *testing.T) {
	store := seededStore(t)
	rec := &recorder{name: "rec"}

	s, err := NewScheduler(store, Config{Window: 5 * time.Minute, Retention: 24 * time.Hour}, zerolog.Nop(), rec)
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	s.SetClock(clock.NewFake(base))

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if len(rec.pushes) != 1 {
		t.Fatalf("got %d pushes, want 1", len(rec.pushes))
	}
	byChannel := map[string]analytics.Summary{}
	for _, sum := range rec.pushes[0] {
		byChannel[sum.Channel] = sum
	}
	orders := byChannel["orders"]
	if orders.TotalRuns != 2 || orders.OKRuns != 1 || orders.PartialRuns != 1 {
		t.Errorf("orders summary = %+v", orders)
	}
	if orders.AvgDurationNS != 2000 {
		t.Errorf("AvgDurationNS = %d, want 2000", orders.AvgDurationNS)
	}
	if byChannel["users"].ConflictRuns != 1 {
		t.Errorf("users summary = %+v", byChannel["users"])
	}

	_, total, _ := store.Query(context.Background(), analytics.QueryOptions{})
	if total != 4 {
		t.Errorf("events after prune = %d, want 4", total)
	}
}

func TestScheduler_RunOnceExporterError(t *testing.T) {
	store := seededStore(t)
	failing := &recorder{name: "failing", err: errors.New("sink down")}
	ok := &recorder{name: "ok"}

	s, _ := NewScheduler(store, Config{}, zerolog.Nop(), failing, ok)
	s.SetClock(clock.NewFake(base))

	err := s.RunOnce(context.Background())
	if err == nil || !strings.Contains(err.Error(), "failing: sink down") {
		t.Errorf("RunOnce() error = %v", err)
	}
	if len(ok.pushes) != 1 {
		t.Error("second exporter should still receive the push")
	}
}

func TestScheduler_StartStop(t *testing.T) {
	s, _ := NewScheduler(analytics.NewMemoryStore(0), Config{Schedule: "@every 1h"}, zerolog.Nop())

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
}

func TestLogExporter(t *testing.T) {
	var buf bytes.Buffer
	exp := NewLogExporter(zerolog.New(&buf))

	if exp.Name() != "log" {
		t.Errorf("Name() = %q", exp.Name())
	}

	err := exp.Push(context.Background(), []analytics.Summary{
		{Channel: "orders", TotalRuns: 3, OKRuns: 3},
		{Channel: "idle"},
	})
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, `"channel":"orders"`) || !strings.Contains(out, `"total_runs":3`) {
		t.Errorf("log output = %s", out)
	}
	if strings.Contains(out, "idle") {
		t.Error("summaries without runs should be skipped")
	}
}

func TestLogExporter_WithLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.InfoLevel)

	exp := NewLogExporter(logger).WithLevel(zerolog.DebugLevel)
	_ = exp.Push(context.Background(), []analytics.Summary{{Channel: "orders", TotalRuns: 1}})

	if buf.Len() != 0 {
		t.Errorf("debug summaries should be filtered, got %s", buf.String())
	}
}
