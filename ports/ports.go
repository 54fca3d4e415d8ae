// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"time"

	"github.com/pinglue/pg-repo-sub000/domain/run"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Diagnostics Ports
// -----------------------------------------------------------------------------

// Messenger receives the diagnostics emitted by the channel engine.
// kind is a stable, kebab-case message identifier; data carries the
// structured context (channel, controller_id, error, ...).
//
// Implementations must be safe for concurrent use: detached asynchronous
// handlers report their failures from other goroutines.
type Messenger interface {
	Warn(kind string, data map[string]any)
	Error(kind string, data map[string]any)
}

// RunObserver is notified after every channel run.
// Implementations must not block; they are called on the run's goroutine.
type RunObserver interface {
	ObserveRun(rec run.Record)
}
