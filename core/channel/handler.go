package channel

import (
	"context"
	"fmt"
	"reflect"
)

// Meta is passed to every handler invocation.
type Meta struct {
	// Runner is the controller id of the caller that started the run.
	Runner string
	// RunID identifies the run.
	RunID string
	// Channel is the channel name.
	Channel string
}

// Handler is a callback registered on a channel by a controller.
//
// A handler is synchronous when it returns its result directly. It is
// asynchronous when the returned value implements Awaitable; the run then
// awaits it (RunA) or detaches it (RunS). Returning an error or panicking
// marks the handler as failed for this run only.
type Handler interface {
	Handle(ctx context.Context, params, value any, meta Meta) (any, error)
}

// HandlerFunc is the function form of a handler. Wrap it with Func to
// register it, since function values have no identity of their own.
type HandlerFunc func(ctx context.Context, params, value any, meta Meta) (any, error)

type funcHandler struct {
	name string
	fn   HandlerFunc
}

// Func wraps fn into a named handler. Each call returns a distinct handler;
// keep the returned value to unregister it later.
func Func(name string, fn HandlerFunc) Handler {
	return &funcHandler{name: name, fn: fn}
}

func (h *funcHandler) Handle(ctx context.Context, params, value any, meta Meta) (any, error) {
	return h.fn(ctx, params, value, meta)
}

func (h *funcHandler) Name() string { return h.name }

// Output is one handler's contribution to a run.
type Output struct {
	ControllerID string
	Value        any
}

// HandlerName returns the display name of h: its Name() when it has one,
// otherwise its dynamic type.
func HandlerName(h Handler) string {
	if n, ok := h.(interface{ Name() string }); ok && n.Name() != "" {
		return n.Name()
	}
	return fmt.Sprintf("%T", h)
}

// isComparable reports whether h can serve as a registration key.
func isComparable(h Handler) bool {
	return h != nil && reflect.TypeOf(h).Comparable()
}

// entry is one registered (controller, handler) pair.
type entry struct {
	controllerID string
	handler      Handler
}

func (e entry) matches(controllerID string, h Handler) bool {
	return e.controllerID == controllerID && e.handler == h
}
