package channel

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Manager is a keyed collection of channels. It enforces single ownership,
// forwards operations to the right channel and removes a controller's
// handlers in bulk when the controller goes away.
//
// Channels are created on first reference, by either RegChannel or Glue,
// and live until ClearAll.
type Manager struct {
	opts options

	mu       sync.RWMutex
	channels map[string]*Channel
}

// NewManager creates an empty manager. Options are shared with every
// channel it creates.
func NewManager(opts ...Option) *Manager {
	return &Manager{
		opts:     buildOptions(opts),
		channels: make(map[string]*Channel),
	}
}

// Channel returns the named channel.
func (m *Manager) Channel(name string) (*Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// Names returns the sorted channel names.
func (m *Manager) Names() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)
	return names
}

func (m *Manager) getOrCreate(name string) *Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[name]
	if !ok {
		ch = newChannel(name, m.opts)
		m.channels[name] = ch
	}
	return ch
}

// authorize consults the access-control policy for every public operation.
func (m *Manager) authorize(ctx context.Context, name, controllerID string, op Operation) error {
	if err := m.opts.authorizer.Authorize(ctx, name, controllerID, op); err != nil {
		m.opts.messenger.Error(MsgAuthorizationDenied, map[string]any{
			"channel":       name,
			"controller_id": controllerID,
			"operation":     string(op),
			"error":         err,
		})
		return fmt.Errorf("%w: %s on %q by %q: %w", ErrForbidden, op, name, controllerID, err)
	}
	return nil
}

// RegChannel claims the named channel for controllerID and merges patch into
// its settings. A channel that only has glued handlers is still unowned and
// can be claimed. Claiming a channel owned by another controller fails with
// ErrOwnershipConflict; claiming it twice fails with ErrAlreadyRegistered.
func (m *Manager) RegChannel(ctx context.Context, name, controllerID string, patch *SettingsPatch) error {
	if name == "" {
		return ErrInvalidName
	}
	if err := m.authorize(ctx, name, controllerID, OpRegister); err != nil {
		return err
	}
	if err := patch.Validate(); err != nil {
		m.opts.messenger.Error(MsgSettingsRejected, map[string]any{
			"channel":       name,
			"controller_id": controllerID,
			"error":         err,
		})
		return err
	}

	ch := m.getOrCreate(name)
	claimed, owner := ch.claim(controllerID)
	if !claimed {
		data := map[string]any{
			"channel":       name,
			"controller_id": controllerID,
			"owner":         owner,
		}
		if owner == controllerID {
			m.opts.messenger.Error(MsgAlreadyRegistered, data)
			return fmt.Errorf("%w: %q", ErrAlreadyRegistered, name)
		}
		m.opts.messenger.Error(MsgOwnershipConflict, data)
		return fmt.Errorf("%w: %q is owned by %q", ErrOwnershipConflict, name, owner)
	}
	return ch.MergeSettings(patch)
}

// ChanSettings merges patch into the settings of a channel owned by
// controllerID.
func (m *Manager) ChanSettings(ctx context.Context, name, controllerID string, patch *SettingsPatch) error {
	if err := m.authorize(ctx, name, controllerID, OpMergeSettings); err != nil {
		return err
	}
	ch, ok := m.Channel(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrChannelNotFound, name)
	}
	switch owner := ch.Owner(); owner {
	case "":
		return fmt.Errorf("%w: %q", ErrNotOwned, name)
	case controllerID:
	default:
		m.opts.messenger.Error(MsgSettingsForbidden, map[string]any{
			"channel":       name,
			"controller_id": controllerID,
			"owner":         owner,
		})
		return fmt.Errorf("%w: %q may not change settings of %q owned by %q", ErrForbidden, controllerID, name, owner)
	}
	if err := ch.MergeSettings(patch); err != nil {
		m.opts.messenger.Error(MsgSettingsRejected, map[string]any{
			"channel":       name,
			"controller_id": controllerID,
			"error":         err,
		})
		return err
	}
	return nil
}

// Glue registers h for controllerID on the named channel, creating the
// channel unowned when it does not exist yet.
func (m *Manager) Glue(ctx context.Context, name, controllerID string, h Handler) (bool, error) {
	if name == "" {
		return false, ErrInvalidName
	}
	if err := m.authorize(ctx, name, controllerID, OpGlue); err != nil {
		return false, err
	}
	if h == nil {
		return false, ErrNilHandler
	}
	if !isComparable(h) {
		return false, fmt.Errorf("%w: %T", ErrIncomparableHandler, h)
	}
	return m.getOrCreate(name).Register(controllerID, h)
}

// Unglue removes h for controllerID from the named channel. It returns false
// when the channel does not exist or the pair is not registered.
func (m *Manager) Unglue(ctx context.Context, name, controllerID string, h Handler) (bool, error) {
	if err := m.authorize(ctx, name, controllerID, OpUnglue); err != nil {
		return false, err
	}
	ch, ok := m.Channel(name)
	if !ok {
		return false, nil
	}
	return ch.Deregister(controllerID, h), nil
}

// RunS runs the named channel synchronously. Running a channel that does not
// exist returns value unchanged.
func (m *Manager) RunS(ctx context.Context, name, caller string, params, value any, opts ...RunOption) (any, error) {
	if err := m.authorize(ctx, name, caller, OpRunS); err != nil {
		return nil, err
	}
	ch, ok := m.Channel(name)
	if !ok {
		return value, nil
	}
	return ch.RunS(ctx, caller, params, value, opts...)
}

// RunA runs the named channel and waits for every handler. Running a channel
// that does not exist returns value unchanged.
func (m *Manager) RunA(ctx context.Context, name, caller string, params, value any, opts ...RunOption) (any, error) {
	if err := m.authorize(ctx, name, caller, OpRunA); err != nil {
		return nil, err
	}
	ch, ok := m.Channel(name)
	if !ok {
		return value, nil
	}
	return ch.RunA(ctx, caller, params, value, opts...)
}

// RemoveController removes every handler registered by controllerID on every
// channel. Ownership is kept. It returns the number of handlers removed.
func (m *Manager) RemoveController(controllerID string) int {
	m.mu.RLock()
	channels := make([]*Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		channels = append(channels, ch)
	}
	m.mu.RUnlock()

	removed := 0
	for _, ch := range channels {
		removed += ch.RemoveAllFor(controllerID)
	}
	return removed
}

// Clear empties the named channel's handler set, keeping its settings and
// owner. An empty name drops every channel, settings included.
func (m *Manager) Clear(name string) {
	if name == "" {
		m.ClearAll()
		return
	}
	if ch, ok := m.Channel(name); ok {
		ch.Clear()
	}
}

// ClearAll drops every channel.
func (m *Manager) ClearAll() {
	m.mu.Lock()
	m.channels = make(map[string]*Channel)
	m.mu.Unlock()
}

// Report returns a snapshot of every channel keyed by name.
func (m *Manager) Report() map[string]Report {
	m.mu.RLock()
	channels := make([]*Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		channels = append(channels, ch)
	}
	m.mu.RUnlock()

	out := make(map[string]Report, len(channels))
	for _, ch := range channels {
		out[ch.Name()] = ch.Report()
	}
	return out
}
