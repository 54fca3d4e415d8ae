// Package host loads controllers into a channel manager. Each controller
// gets a Hub bound to its id, and unloading a controller removes every
// handler it glued.
package host

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/pinglue/pg-repo-sub000/core/channel"
)

var (
	ErrControllerLoaded   = errors.New("controller already loaded")
	ErrControllerNotFound = errors.New("controller not loaded")
	ErrInvalidController  = errors.New("controller id is required")
)

// Controller is a unit of functionality that owns channels and glues
// handlers to others.
type Controller interface {
	ID() string

	// Init declares the controller's channels and handlers.
	Init(ctx context.Context, hub *Hub) error

	// Stop releases the controller's resources. Its handlers are removed
	// by the container afterwards.
	Stop(ctx context.Context) error
}

// Container manages loaded controllers.
type Container struct {
	manager *channel.Manager
	logger  zerolog.Logger

	mu     sync.Mutex
	loaded map[string]Controller
	order  []string
}

// NewContainer creates a container backed by manager.
func NewContainer(manager *channel.Manager, logger zerolog.Logger) *Container {
	return &Container{
		manager: manager,
		logger:  logger.With().Str("component", "host").Logger(),
		loaded:  make(map[string]Controller),
	}
}

// Manager returns the channel manager.
func (c *Container) Manager() *channel.Manager {
	return c.manager
}

// Load initializes ctrl. If Init fails, the handlers it managed to glue are
// removed and the controller is not loaded.
func (c *Container) Load(ctx context.Context, ctrl Controller) error {
	id := ctrl.ID()
	if id == "" {
		return ErrInvalidController
	}

	c.mu.Lock()
	if _, exists := c.loaded[id]; exists {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrControllerLoaded, id)
	}
	// Reserve the id so a concurrent Load of the same controller fails.
	c.loaded[id] = ctrl
	c.mu.Unlock()

	if err := ctrl.Init(ctx, newHub(c.manager, id)); err != nil {
		removed := c.manager.RemoveController(id)
		c.mu.Lock()
		delete(c.loaded, id)
		c.mu.Unlock()
		c.logger.Error().Err(err).Str("controller_id", id).Int("handlers_removed", removed).Msg("controller init failed")
		return fmt.Errorf("init controller %q: %w", id, err)
	}

	c.mu.Lock()
	c.order = append(c.order, id)
	c.mu.Unlock()

	c.logger.Debug().Str("controller_id", id).Msg("controller loaded")
	return nil
}

// Unload stops the controller and removes its handlers from every channel.
// The handlers are removed even when Stop fails.
func (c *Container) Unload(ctx context.Context, id string) error {
	c.mu.Lock()
	ctrl, ok := c.loaded[id]
	if ok {
		delete(c.loaded, id)
		for i, loadedID := range c.order {
			if loadedID == id {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	}
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrControllerNotFound, id)
	}

	stopErr := ctrl.Stop(ctx)
	removed := c.manager.RemoveController(id)

	c.logger.Debug().Str("controller_id", id).Int("handlers_removed", removed).Msg("controller unloaded")
	if stopErr != nil {
		return fmt.Errorf("stop controller %q: %w", id, stopErr)
	}
	return nil
}

// Close unloads every controller in reverse load order.
func (c *Container) Close(ctx context.Context) error {
	c.mu.Lock()
	ids := append([]string(nil), c.order...)
	c.mu.Unlock()

	var errs []error
	for i := len(ids) - 1; i >= 0; i-- {
		if err := c.Unload(ctx, ids[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Loaded returns the ids of loaded controllers in load order.
func (c *Container) Loaded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}
