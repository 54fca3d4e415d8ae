package host

import (
	"context"

	"github.com/pinglue/pg-repo-sub000/core/channel"
)

// Hub is a controller's view of the channel manager with its id bound to
// every call.
type Hub struct {
	manager      *channel.Manager
	controllerID string
}

func newHub(m *channel.Manager, controllerID string) *Hub {
	return &Hub{manager: m, controllerID: controllerID}
}

// ControllerID returns the id bound to the hub.
func (h *Hub) ControllerID() string {
	return h.controllerID
}

func (h *Hub) RegChannel(ctx context.Context, name string, patch *channel.SettingsPatch) error {
	return h.manager.RegChannel(ctx, name, h.controllerID, patch)
}

func (h *Hub) ChanSettings(ctx context.Context, name string, patch *channel.SettingsPatch) error {
	return h.manager.ChanSettings(ctx, name, h.controllerID, patch)
}

func (h *Hub) Glue(ctx context.Context, name string, handler channel.Handler) (bool, error) {
	return h.manager.Glue(ctx, name, h.controllerID, handler)
}

func (h *Hub) Unglue(ctx context.Context, name string, handler channel.Handler) (bool, error) {
	return h.manager.Unglue(ctx, name, h.controllerID, handler)
}

// RunS runs a channel synchronously with the controller as the caller.
func (h *Hub) RunS(ctx context.Context, name string, params, value any, opts ...channel.RunOption) (any, error) {
	return h.manager.RunS(ctx, name, h.controllerID, params, value, opts...)
}

// RunA runs a channel and waits for every handler, with the controller as
// the caller.
func (h *Hub) RunA(ctx context.Context, name string, params, value any, opts ...channel.RunOption) (any, error) {
	return h.manager.RunA(ctx, name, h.controllerID, params, value, opts...)
}
