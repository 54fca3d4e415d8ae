package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pinglue/pg-repo-sub000/domain/run"
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Analytics on the run_events and run_failures
// tables. Recorded events are buffered and written in batches by a
// background flusher.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
	buffer chan Event
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	batchSize     int
	flushInterval time.Duration
}

// SQLiteConfig configures the SQLite analytics store.
type SQLiteConfig struct {
	// BatchSize is the number of events to batch before writing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// BufferSize is the size of the in-memory event buffer. Events recorded
	// while the buffer is full are dropped.
	BufferSize int

	Logger zerolog.Logger
}

// DefaultSQLiteConfig returns sensible defaults.
func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{
		BatchSize:     100,
		FlushInterval: time.Second,
		BufferSize:    10000,
		Logger:        zerolog.Nop(),
	}
}

// NewSQLiteStore creates a SQLite-backed store. The schema must already be
// migrated (see adapters/sqlite).
func NewSQLiteStore(db *sql.DB, cfg SQLiteConfig) *SQLiteStore {
	def := DefaultSQLiteConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}

	s := &SQLiteStore{
		db:            db,
		logger:        cfg.Logger,
		buffer:        make(chan Event, cfg.BufferSize),
		done:          make(chan struct{}),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
	}

	s.wg.Add(1)
	go s.flusher()

	return s
}

// Record queues an event (non-blocking).
func (s *SQLiteStore) Record(event Event) {
	select {
	case s.buffer <- event:
	default:
		s.logger.Warn().Str("channel", event.Channel).Msg("analytics buffer full, dropping run event")
	}
}

// Flush writes every queued event now.
func (s *SQLiteStore) Flush(ctx context.Context) error {
	return s.Write(ctx, s.drain())
}

func (s *SQLiteStore) drain() []Event {
	var events []Event
	for {
		select {
		case e := <-s.buffer:
			events = append(events, e)
		default:
			return events
		}
	}
}

func (s *SQLiteStore) flusher() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	var batch []Event
	write := func(events []Event) {
		if err := s.Write(context.Background(), events); err != nil {
			s.logger.Error().Err(err).Int("events", len(events)).Msg("failed to write run events")
		}
	}

	for {
		select {
		case <-s.done:
			write(append(batch, s.drain()...))
			return

		case e := <-s.buffer:
			batch = append(batch, e)
			if len(batch) >= s.batchSize {
				write(batch)
				batch = nil
			}

		case <-ticker.C:
			if len(batch) > 0 {
				write(batch)
				batch = nil
			}
		}
	}
}

// Write stores events in one transaction.
func (s *SQLiteStore) Write(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	eventStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_events (
			id, timestamp, channel, caller, mode, outcome,
			duration_ns, handlers, outputs, detached, failures, conflict, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer eventStmt.Close()

	failureStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_failures (run_id, controller_id, handler, error, panicked)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer failureStmt.Close()

	for _, e := range events {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.Timestamp.IsZero() {
			e.Timestamp = time.Now()
		}

		_, err := eventStmt.ExecContext(ctx,
			e.ID, e.Timestamp.UTC().Format(timeLayout),
			e.Channel, e.Caller, e.Mode, e.Outcome,
			e.DurationNS, e.Handlers, e.Outputs, e.Detached, len(e.Failures),
			boolInt(e.Conflict), nullString(e.Error),
		)
		if err != nil {
			return fmt.Errorf("insert run event %s: %w", e.ID, err)
		}
		for _, f := range e.Failures {
			if _, err := failureStmt.ExecContext(ctx,
				e.ID, f.ControllerID, f.Handler, f.Error, boolInt(f.Panicked),
			); err != nil {
				return fmt.Errorf("insert run failure %s: %w", e.ID, err)
			}
		}
	}

	return tx.Commit()
}

func where(start, end time.Time, filters map[string]string) (string, []any) {
	var conditions []string
	var args []any

	if !start.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, start.UTC().Format(timeLayout))
	}
	if !end.IsZero() {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, end.UTC().Format(timeLayout))
	}
	for _, col := range []string{"channel", "caller", "outcome"} {
		if v := filters[col]; v != "" {
			conditions = append(conditions, col+" = ?")
			args = append(args, v)
		}
	}

	if len(conditions) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

// Query retrieves events matching the options, failures included.
func (s *SQLiteStore) Query(ctx context.Context, opts QueryOptions) ([]Event, int64, error) {
	whereClause, args := where(opts.Start, opts.End, map[string]string{
		"channel": opts.Channel,
		"caller":  opts.Caller,
		"outcome": opts.Outcome,
	})

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM run_events "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	// Order - whitelist allowed columns to prevent SQL injection
	allowedOrderCols := map[string]bool{
		"timestamp":   true,
		"duration_ns": true,
		"channel":     true,
	}
	orderBy := "timestamp"
	if allowedOrderCols[opts.OrderBy] {
		orderBy = opts.OrderBy
	}
	order := "ASC"
	if opts.OrderDesc {
		order = "DESC"
	}

	limit := 100
	if opts.Limit > 0 {
		limit = opts.Limit
	}

	query := fmt.Sprintf(`
		SELECT id, timestamp, channel, caller, mode, outcome,
			duration_ns, handlers, outputs, detached, conflict, error
		FROM run_events %s
		ORDER BY %s %s
		LIMIT ? OFFSET ?
	`, whereClause, orderBy, order)

	rows, err := s.db.QueryContext(ctx, query, append(args, limit, opts.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []Event
	index := make(map[string]int)
	for rows.Next() {
		var e Event
		var ts string
		var conflict int
		var errMsg sql.NullString

		if err := rows.Scan(
			&e.ID, &ts, &e.Channel, &e.Caller, &e.Mode, &e.Outcome,
			&e.DurationNS, &e.Handlers, &e.Outputs, &e.Detached, &conflict, &errMsg,
		); err != nil {
			return nil, 0, err
		}
		e.Timestamp, _ = time.Parse(timeLayout, ts)
		e.Conflict = conflict == 1
		e.Error = errMsg.String

		index[e.ID] = len(events)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	if err := s.loadFailures(ctx, events, index); err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

func (s *SQLiteStore) loadFailures(ctx context.Context, events []Event, index map[string]int) error {
	if len(events) == 0 {
		return nil
	}
	placeholders := make([]string, 0, len(events))
	args := make([]any, 0, len(events))
	for _, e := range events {
		placeholders = append(placeholders, "?")
		args = append(args, e.ID)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, controller_id, handler, error, panicked
		FROM run_failures
		WHERE run_id IN (`+strings.Join(placeholders, ", ")+`)
		ORDER BY rowid
	`, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var runID string
		var f run.Failure
		var panicked int
		if err := rows.Scan(&runID, &f.ControllerID, &f.Handler, &f.Error, &panicked); err != nil {
			return err
		}
		f.Panicked = panicked == 1
		if i, ok := index[runID]; ok {
			events[i].Failures = append(events[i].Failures, f)
		}
	}
	return rows.Err()
}

// Aggregate summarizes runs per group, newest group first.
func (s *SQLiteStore) Aggregate(ctx context.Context, opts AggregateOptions) ([]Summary, error) {
	whereClause, args := where(opts.Start, opts.End, map[string]string{"channel": opts.Channel})

	var groupCols []string
	for _, g := range opts.GroupBy {
		switch g {
		case "channel", "mode", "caller":
			groupCols = append(groupCols, g)
		}
	}
	selectCols := append([]string(nil), groupCols...)

	switch opts.Period {
	case "minute":
		groupCols = append(groupCols, "strftime('%Y-%m-%d %H:%M', timestamp)")
	case "hour":
		groupCols = append(groupCols, "strftime('%Y-%m-%d %H', timestamp)")
	case "day":
		groupCols = append(groupCols, "strftime('%Y-%m-%d', timestamp)")
	}
	hasPeriod := len(groupCols) > len(selectCols)
	if hasPeriod {
		selectCols = append(selectCols, groupCols[len(groupCols)-1]+" AS period")
	}

	groupBy := ""
	if len(groupCols) > 0 {
		groupBy = "GROUP BY " + strings.Join(groupCols, ", ")
	}
	selectPart := strings.Join(selectCols, ", ")
	if selectPart != "" {
		selectPart += ","
	}

	query := fmt.Sprintf(`
		SELECT %s
			COUNT(*) AS total_runs,
			COALESCE(SUM(CASE WHEN outcome = 'ok' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = 'partial' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = 'conflict' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = 'rejected' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(failures), 0),
			COALESCE(SUM(detached), 0),
			CAST(COALESCE(AVG(duration_ns), 0) AS INTEGER),
			COALESCE(MIN(duration_ns), 0),
			COALESCE(MAX(duration_ns), 0),
			MIN(timestamp) AS start_time,
			MAX(timestamp) AS end_time
		FROM run_events %s %s
		ORDER BY start_time DESC
	`, selectPart, whereClause, groupBy)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var sum Summary
		var start, end sql.NullString
		var channel, mode, caller, period sql.NullString

		targets := make([]any, 0, 16)
		for _, g := range groupCols[:len(groupCols)-boolInt(hasPeriod)] {
			switch g {
			case "channel":
				targets = append(targets, &channel)
			case "mode":
				targets = append(targets, &mode)
			case "caller":
				targets = append(targets, &caller)
			}
		}
		if hasPeriod {
			targets = append(targets, &period)
		}
		targets = append(targets,
			&sum.TotalRuns, &sum.OKRuns, &sum.PartialRuns, &sum.ConflictRuns, &sum.RejectedRuns,
			&sum.HandlerFailures, &sum.DetachedHandlers,
			&sum.AvgDurationNS, &sum.MinDurationNS, &sum.MaxDurationNS,
			&start, &end,
		)
		if err := rows.Scan(targets...); err != nil {
			return nil, err
		}
		if sum.TotalRuns == 0 {
			continue
		}

		sum.Channel = channel.String
		sum.Mode = mode.String
		sum.Caller = caller.String
		sum.Period = period.String
		sum.Start, _ = time.Parse(timeLayout, start.String)
		sum.End, _ = time.Parse(timeLayout, end.String)
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// Delete removes events older than before; their failures cascade.
func (s *SQLiteStore) Delete(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM run_events WHERE timestamp < ?",
		before.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Close stops the flusher after writing what is queued. The database is
// owned by the caller and stays open.
func (s *SQLiteStore) Close() error {
	s.once.Do(func() { close(s.done) })
	s.wg.Wait()
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ Analytics = (*SQLiteStore)(nil)
