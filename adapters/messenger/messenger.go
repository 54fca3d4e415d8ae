// Package messenger provides ports.Messenger implementations.
package messenger

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/pinglue/pg-repo-sub000/ports"
)

// Logger writes channel diagnostics to a zerolog logger. Every entry carries
// the message kind in the "kind" field.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a messenger that logs through logger.
func NewLogger(logger zerolog.Logger) *Logger {
	return &Logger{logger: logger.With().Str("component", "channels").Logger()}
}

// Warn logs at warn level.
func (l *Logger) Warn(kind string, data map[string]any) {
	l.log(l.logger.Warn(), kind, data)
}

// Error logs at error level. An "error" entry in data is logged with Err.
func (l *Logger) Error(kind string, data map[string]any) {
	l.log(l.logger.Error(), kind, data)
}

func (l *Logger) log(ev *zerolog.Event, kind string, data map[string]any) {
	if err, ok := data["error"].(error); ok {
		rest := make(map[string]any, len(data)-1)
		for k, v := range data {
			if k != "error" {
				rest[k] = v
			}
		}
		ev = ev.Err(err)
		data = rest
	}
	ev.Fields(data).Str("kind", kind).Msg(kind)
}

// Level of a recorded message.
type Level string

const (
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Message is one recorded diagnostic.
type Message struct {
	Level Level
	Kind  string
	Data  map[string]any
}

// Recorder keeps every message in memory. It is used by tests and by the
// diagnostics server to show recent problems.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	next     ports.Messenger
}

// NewRecorder creates a recorder. When next is non-nil every message is
// forwarded to it after being recorded.
func NewRecorder(next ports.Messenger) *Recorder {
	return &Recorder{next: next}
}

// Warn records a warning.
func (r *Recorder) Warn(kind string, data map[string]any) {
	r.record(LevelWarn, kind, data)
	if r.next != nil {
		r.next.Warn(kind, data)
	}
}

// Error records an error.
func (r *Recorder) Error(kind string, data map[string]any) {
	r.record(LevelError, kind, data)
	if r.next != nil {
		r.next.Error(kind, data)
	}
}

func (r *Recorder) record(level Level, kind string, data map[string]any) {
	cp := make(map[string]any, len(data))
	for k, v := range data {
		cp[k] = v
	}
	r.mu.Lock()
	r.messages = append(r.messages, Message{Level: level, Kind: kind, Data: cp})
	r.mu.Unlock()
}

// Messages returns a copy of everything recorded so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Warnings returns the recorded warnings.
func (r *Recorder) Warnings() []Message {
	return r.filter(func(m Message) bool { return m.Level == LevelWarn })
}

// Errors returns the recorded errors.
func (r *Recorder) Errors() []Message {
	return r.filter(func(m Message) bool { return m.Level == LevelError })
}

// Kind returns the messages of the given kind.
func (r *Recorder) Kind(kind string) []Message {
	return r.filter(func(m Message) bool { return m.Kind == kind })
}

// Count returns how many messages of the given kind were recorded.
func (r *Recorder) Count(kind string) int {
	return len(r.Kind(kind))
}

// Reset drops every recorded message.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.messages = nil
	r.mu.Unlock()
}

func (r *Recorder) filter(keep func(Message) bool) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Message
	for _, m := range r.messages {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}

var (
	_ ports.Messenger = (*Logger)(nil)
	_ ports.Messenger = (*Recorder)(nil)
)
