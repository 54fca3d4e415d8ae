package channel

import "context"

// Operation identifies what a controller is attempting on a channel.
type Operation string

const (
	OpRegister      Operation = "register"
	OpMergeSettings Operation = "merge-settings"
	OpGlue          Operation = "glue"
	OpUnglue        Operation = "unglue"
	OpRunS          Operation = "run-s"
	OpRunA          Operation = "run-a"
)

// Authorizer decides whether a controller may perform an operation on a
// channel. Returning an error denies the operation.
type Authorizer interface {
	Authorize(ctx context.Context, channel, controllerID string, op Operation) error
}

// AuthorizerFunc adapts a function to the Authorizer interface.
type AuthorizerFunc func(ctx context.Context, channel, controllerID string, op Operation) error

// Authorize calls f.
func (f AuthorizerFunc) Authorize(ctx context.Context, channel, controllerID string, op Operation) error {
	return f(ctx, channel, controllerID, op)
}

// AllowAll permits every operation. It is the default policy.
type AllowAll struct{}

// Authorize always returns nil.
func (AllowAll) Authorize(context.Context, string, string, Operation) error {
	return nil
}
