// Package run defines the record produced for every channel run.
// It is shared by the dispatch engine and its observers.
package run

import "time"

// Mode is the entry point a run was started through.
type Mode string

const (
	// Sync is a blocking run that never waits on asynchronous handlers.
	Sync Mode = "sync"
	// Async is a run that awaits every selected handler.
	Async Mode = "async"
)

// Failure records one handler that failed during a run.
type Failure struct {
	ControllerID string `json:"controller_id"`
	Handler      string `json:"handler"`
	Error        string `json:"error"`
	Panicked     bool   `json:"panicked,omitempty"`
}

// Record describes a completed run.
type Record struct {
	ID       string        `json:"id"`
	Channel  string        `json:"channel"`
	Caller   string        `json:"caller"`
	Mode     Mode          `json:"mode"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`

	// Handlers is the number of handlers selected after filtering.
	Handlers int `json:"handlers"`
	// Outputs is the number of handler results fed to the reducer.
	Outputs int `json:"outputs"`
	// Detached counts asynchronous handlers left running by a sync run.
	Detached int `json:"detached"`

	Failures []Failure `json:"failures,omitempty"`

	// Conflict is set when the object-merge reducer hit a conflict.
	Conflict bool `json:"conflict,omitempty"`

	// Err holds a contract violation that stopped the run before dispatch.
	Err string `json:"error,omitempty"`
}

// Succeeded reports whether the run dispatched without any failure.
func (r Record) Succeeded() bool {
	return r.Err == "" && len(r.Failures) == 0 && !r.Conflict
}

// Outcome returns a short label used by metrics and analytics.
func (r Record) Outcome() string {
	switch {
	case r.Err != "":
		return "rejected"
	case r.Conflict:
		return "conflict"
	case len(r.Failures) > 0:
		return "partial"
	default:
		return "ok"
	}
}
