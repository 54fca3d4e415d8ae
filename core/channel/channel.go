// Package channel implements named many-producer/many-consumer broadcast
// points ("channels") through which independently loaded controllers talk
// without holding references to each other.
//
// Controllers register handlers on a channel; a run invokes every handler
// with shared input and folds their outputs into one result according to
// the channel's run mode and reducer. Handler failures are isolated and
// reported through a ports.Messenger; only contract violations are returned
// to callers.
package channel

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pinglue/pg-repo-sub000/ports"
)

// Channel owns the handler set and settings of one named broadcast point.
// It is safe for concurrent use. Handlers are invoked without holding the
// channel lock, so a handler may register or unregister handlers.
type Channel struct {
	name string
	deps options

	mu       sync.RWMutex
	settings Settings
	entries  []entry
}

// New creates an unowned channel with default settings.
func New(name string, opts ...Option) *Channel {
	return newChannel(name, buildOptions(opts))
}

func newChannel(name string, o options) *Channel {
	return &Channel{
		name:     name,
		deps:     o,
		settings: DefaultSettings(),
	}
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return c.name
}

// Settings returns a copy of the current settings.
func (c *Channel) Settings() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

// MergeSettings applies p on top of the current settings.
func (c *Channel) MergeSettings(p *SettingsPatch) error {
	if err := p.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.settings = c.settings.Apply(p)
	c.mu.Unlock()
	return nil
}

// claim sets the owning controller once. It reports whether the channel was
// unowned before the call, and the current owner otherwise.
func (c *Channel) claim(controllerID string) (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.settings.ControllerID != "" {
		return false, c.settings.ControllerID
	}
	c.settings.ControllerID = controllerID
	return true, controllerID
}

// Owner returns the owning controller id, or "" when unowned.
func (c *Channel) Owner() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings.ControllerID
}

// Len returns the number of registered handlers.
func (c *Channel) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Register adds the (controllerID, h) pair. Registering an existing pair is a
// no-op that emits a warning and returns false. On a single-handler channel
// that already has a handler, Register fails with ErrSingleHandler.
func (c *Channel) Register(controllerID string, h Handler) (bool, error) {
	if h == nil {
		return false, ErrNilHandler
	}
	if !isComparable(h) {
		return false, fmt.Errorf("%w: %T", ErrIncomparableHandler, h)
	}

	c.mu.Lock()
	for _, e := range c.entries {
		if e.matches(controllerID, h) {
			c.mu.Unlock()
			c.deps.messenger.Warn(MsgDuplicateRegistration, c.fields(controllerID, h))
			return false, nil
		}
	}
	if c.settings.SingleHandler && len(c.entries) > 0 {
		existing := c.entries[0].controllerID
		c.mu.Unlock()
		data := c.fields(controllerID, h)
		data["existing_controller_id"] = existing
		c.deps.messenger.Error(MsgSingleHandlerViolation, data)
		return false, fmt.Errorf("%w: %q", ErrSingleHandler, c.name)
	}
	c.entries = append(c.entries, entry{controllerID: controllerID, handler: h})
	c.mu.Unlock()
	return true, nil
}

// Deregister removes the (controllerID, h) pair. It warns and returns false
// when the pair is not registered.
func (c *Channel) Deregister(controllerID string, h Handler) bool {
	c.mu.Lock()
	idx := -1
	for i, e := range c.entries {
		if e.matches(controllerID, h) {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		c.deps.messenger.Warn(MsgHandlerNotRegistered, c.fields(controllerID, h))
		return false
	}
	c.entries = append(c.entries[:idx:idx], c.entries[idx+1:]...)
	emptied := len(c.entries) == 0 && c.settings.NoEmpty
	c.mu.Unlock()

	if emptied {
		c.warnEmpty()
	}
	return true
}

// RemoveAllFor removes every handler registered by controllerID without
// emitting per-handler warnings. It returns the number of handlers removed.
func (c *Channel) RemoveAllFor(controllerID string) int {
	c.mu.Lock()
	kept := make([]entry, 0, len(c.entries))
	for _, e := range c.entries {
		if e.controllerID != controllerID {
			kept = append(kept, e)
		}
	}
	removed := len(c.entries) - len(kept)
	c.entries = kept
	emptied := removed > 0 && len(kept) == 0 && c.settings.NoEmpty
	c.mu.Unlock()

	if emptied {
		c.warnEmpty()
	}
	return removed
}

// Clear drops every handler. Settings and ownership are kept.
func (c *Channel) Clear() {
	c.mu.Lock()
	emptied := len(c.entries) > 0 && c.settings.NoEmpty
	c.entries = nil
	c.mu.Unlock()

	if emptied {
		c.warnEmpty()
	}
}

func (c *Channel) warnEmpty() {
	c.deps.messenger.Warn(MsgEmptyChannel, map[string]any{"channel": c.name})
}

func (c *Channel) fields(controllerID string, h Handler) map[string]any {
	return map[string]any{
		"channel":       c.name,
		"controller_id": controllerID,
		"handler":       HandlerName(h),
	}
}

// Option configures a Channel or a Manager.
type Option func(*options)

type options struct {
	messenger  ports.Messenger
	observers  []ports.RunObserver
	clock      ports.Clock
	ids        ports.IDGenerator
	authorizer Authorizer
}

func buildOptions(opts []Option) options {
	o := options{
		messenger:  nopMessenger{},
		clock:      systemClock{},
		ids:        uuidGenerator{},
		authorizer: AllowAll{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithMessenger sets the diagnostics sink.
func WithMessenger(m ports.Messenger) Option {
	return func(o *options) {
		if m != nil {
			o.messenger = m
		}
	}
}

// WithObservers adds run observers (metrics, analytics).
func WithObservers(obs ...ports.RunObserver) Option {
	return func(o *options) {
		for _, ob := range obs {
			if ob != nil {
				o.observers = append(o.observers, ob)
			}
		}
	}
}

// WithClock sets the clock used to time runs.
func WithClock(c ports.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithIDGenerator sets the run id generator.
func WithIDGenerator(g ports.IDGenerator) Option {
	return func(o *options) {
		if g != nil {
			o.ids = g
		}
	}
}

// WithAuthorizer sets the access-control policy. Only the Manager consults it.
func WithAuthorizer(a Authorizer) Option {
	return func(o *options) {
		if a != nil {
			o.authorizer = a
		}
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type uuidGenerator struct{}

func (uuidGenerator) New() string { return uuid.NewString() }
