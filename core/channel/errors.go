package channel

import (
	"errors"
	"fmt"
)

// Contract violations. These are the only errors returned across the
// Channel and Manager API; handler failures are logged, never returned.
var (
	// ErrSyncTypeMismatch is returned when RunS is used on an async-only
	// channel or RunA on a sync-only one.
	ErrSyncTypeMismatch = errors.New("sync type mismatch")

	// ErrSingleHandler is returned when a second handler is registered on a
	// single-handler channel.
	ErrSingleHandler = errors.New("channel accepts a single handler")

	// ErrOwnershipConflict is returned when a channel owned by one
	// controller is claimed by another.
	ErrOwnershipConflict = errors.New("channel owned by another controller")

	// ErrAlreadyRegistered is returned when a controller claims a channel
	// it already owns.
	ErrAlreadyRegistered = errors.New("channel already registered by this controller")

	// ErrChannelNotFound is returned when settings are changed on a
	// channel that does not exist.
	ErrChannelNotFound = errors.New("channel not found")

	// ErrNotOwned is returned when settings are changed on a channel that
	// no controller has claimed.
	ErrNotOwned = errors.New("channel has no owner")

	// ErrForbidden is returned when a controller acts on a channel it is
	// not allowed to: changing another owner's settings or failing
	// authorization.
	ErrForbidden = errors.New("forbidden")

	// ErrIncomparableHandler is returned when a handler's dynamic type
	// cannot be used as a registration key (e.g. a bare func).
	ErrIncomparableHandler = errors.New("handler type is not comparable")

	// ErrNilHandler is returned when a nil handler is registered.
	ErrNilHandler = errors.New("handler is nil")

	// ErrInvalidSettings is returned for unknown run modes or sync types.
	ErrInvalidSettings = errors.New("invalid channel settings")

	// ErrInvalidName is returned for an empty channel name.
	ErrInvalidName = errors.New("invalid channel name")
)

// HandlerPanicError wraps a value recovered from a panicking handler,
// future or reducer.
type HandlerPanicError struct {
	Value any
	Stack []byte
}

func (e *HandlerPanicError) Error() string {
	return fmt.Sprintf("handler panicked: %v", e.Value)
}
