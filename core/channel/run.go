package channel

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pinglue/pg-repo-sub000/domain/run"
	"github.com/pinglue/pg-repo-sub000/domain/snapshot"
)

// RunOption configures a single run.
type RunOption func(*runOptions)

type runOptions struct {
	filter []string
}

// Filter restricts a run to handlers registered by the given controllers.
// Empty ids are ignored; no ids means every handler runs.
func Filter(controllerIDs ...string) RunOption {
	return func(o *runOptions) {
		for _, id := range controllerIDs {
			if id != "" {
				o.filter = append(o.filter, id)
			}
		}
	}
}

// runState carries one run from dispatch to reduction.
type runState struct {
	settings Settings
	entries  []entry
	meta     Meta
	started  time.Time

	mu  sync.Mutex
	rec run.Record
}

// slot holds one handler's result, indexed by registration order.
type slot struct {
	ok    bool
	value any
}

// RunS runs every selected handler synchronously and returns the reduced
// result. Asynchronous handlers are started but not awaited: their results
// are excluded and their failures are only logged.
func (c *Channel) RunS(ctx context.Context, caller string, params, value any, opts ...RunOption) (any, error) {
	rs, err := c.begin(run.Sync, caller, opts)
	if err != nil {
		return nil, err
	}

	slots := make([]slot, len(rs.entries))
	for i, e := range rs.entries {
		res, err := c.invoke(ctx, rs, e, params, value)
		if err != nil {
			c.handlerFailed(rs, e, err)
			continue
		}
		if aw, ok := res.(Awaitable); ok {
			c.detach(ctx, rs, e, aw)
			continue
		}
		slots[i] = slot{ok: true, value: res}
	}

	return c.finish(rs, slots, value), nil
}

// RunA runs every selected handler and waits for all of them. Handlers are
// started in registration order; asynchronous results are awaited
// concurrently and reduced in registration order.
func (c *Channel) RunA(ctx context.Context, caller string, params, value any, opts ...RunOption) (any, error) {
	rs, err := c.begin(run.Async, caller, opts)
	if err != nil {
		return nil, err
	}

	slots := make([]slot, len(rs.entries))
	var g errgroup.Group
	for i, e := range rs.entries {
		i, e := i, e
		res, err := c.invoke(ctx, rs, e, params, value)
		if err != nil {
			c.handlerFailed(rs, e, err)
			continue
		}
		aw, ok := res.(Awaitable)
		if !ok {
			slots[i] = slot{ok: true, value: res}
			continue
		}
		g.Go(func() error {
			v, err := await(ctx, aw)
			if err != nil {
				c.handlerFailed(rs, e, err)
				return nil
			}
			slots[i] = slot{ok: true, value: v}
			return nil
		})
	}
	_ = g.Wait()

	return c.finish(rs, slots, value), nil
}

// begin validates the entry point and selects the handlers for a run.
func (c *Channel) begin(mode run.Mode, caller string, opts []RunOption) (*runState, error) {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}

	c.mu.RLock()
	settings := c.settings
	entries := selectEntries(c.entries, o.filter)
	c.mu.RUnlock()

	now := c.deps.clock.Now()
	rs := &runState{
		settings: settings,
		entries:  entries,
		started:  now,
		rec: run.Record{
			ID:       c.deps.ids.New(),
			Channel:  c.name,
			Caller:   caller,
			Mode:     mode,
			Started:  now,
			Handlers: len(entries),
		},
	}
	rs.meta = Meta{Runner: caller, RunID: rs.rec.ID, Channel: c.name}

	if (mode == run.Sync && settings.SyncType == AsyncOnly) ||
		(mode == run.Async && settings.SyncType == SyncOnly) {
		err := fmt.Errorf("%w: %s run on %s channel %q", ErrSyncTypeMismatch, mode, settings.SyncType, c.name)
		c.deps.messenger.Error(MsgSyncTypeMismatch, map[string]any{
			"channel":   c.name,
			"caller":    caller,
			"mode":      string(mode),
			"sync_type": string(settings.SyncType),
		})
		rs.rec.Err = err.Error()
		c.observe(rs)
		return nil, err
	}

	if len(entries) == 0 && settings.NoEmpty && !settings.ExternallyHandled {
		c.deps.messenger.Warn(MsgEmptyChannel, map[string]any{
			"channel": c.name,
			"caller":  caller,
		})
	}
	return rs, nil
}

// selectEntries copies the registered entries, keeping only those owned by
// a filtered controller when a filter is given.
func selectEntries(all []entry, filter []string) []entry {
	if len(filter) == 0 {
		return append([]entry(nil), all...)
	}
	allowed := make(map[string]struct{}, len(filter))
	for _, id := range filter {
		allowed[id] = struct{}{}
	}
	out := make([]entry, 0, len(all))
	for _, e := range all {
		if _, ok := allowed[e.controllerID]; ok {
			out = append(out, e)
		}
	}
	return out
}

// invoke calls one handler with its own copies of the inputs.
// Panics are converted into *HandlerPanicError.
func (c *Channel) invoke(ctx context.Context, rs *runState, e entry, params, value any) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, &HandlerPanicError{Value: r, Stack: debug.Stack()}
		}
	}()

	p := params
	if !rs.settings.NoCloneParams {
		p = snapshot.Clone(params)
	}
	var v any
	if rs.settings.RunMode != RunNoValue {
		v = value
		if !rs.settings.NoCloneValue {
			v = snapshot.Clone(value)
		}
	}
	return e.handler.Handle(ctx, p, v, rs.meta)
}

// await waits for an asynchronous result, converting panics into errors.
func await(ctx context.Context, aw Awaitable) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, &HandlerPanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return aw.Await(ctx)
}

// detach lets an asynchronous handler finish outside a sync run. Its result
// is dropped; a failure is reported when it happens.
func (c *Channel) detach(ctx context.Context, rs *runState, e entry, aw Awaitable) {
	data := c.fields(e.controllerID, e.handler)
	data["run_id"] = rs.meta.RunID
	c.deps.messenger.Warn(MsgAsyncInSyncRun, data)

	rs.mu.Lock()
	rs.rec.Detached++
	rs.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	go func() {
		if _, err := await(detached, aw); err != nil {
			fail := c.fields(e.controllerID, e.handler)
			fail["run_id"] = rs.meta.RunID
			fail["error"] = err
			c.deps.messenger.Error(MsgDetachedHandlerFailed, fail)
		}
	}()
}

func (c *Channel) handlerFailed(rs *runState, e entry, err error) {
	data := c.fields(e.controllerID, e.handler)
	data["run_id"] = rs.meta.RunID
	data["error"] = err
	c.deps.messenger.Error(MsgHandlerFailed, data)

	var pe *HandlerPanicError
	panicked := errors.As(err, &pe)
	rs.mu.Lock()
	rs.rec.Failures = append(rs.rec.Failures, run.Failure{
		ControllerID: e.controllerID,
		Handler:      HandlerName(e.handler),
		Error:        err.Error(),
		Panicked:     panicked,
	})
	rs.mu.Unlock()
}

// finish reduces the collected outputs and notifies observers.
func (c *Channel) finish(rs *runState, slots []slot, init any) any {
	outputs := make([]Output, 0, len(slots))
	for i, s := range slots {
		if s.ok {
			outputs = append(outputs, Output{ControllerID: rs.entries[i].controllerID, Value: s.value})
		}
	}

	result := c.reduce(rs, outputs, init)

	rs.mu.Lock()
	rs.rec.Outputs = len(outputs)
	rs.mu.Unlock()
	c.observe(rs)
	return result
}

func (c *Channel) observe(rs *runState) {
	rs.mu.Lock()
	rs.rec.Duration = c.deps.clock.Now().Sub(rs.started)
	rec := rs.rec
	rec.Failures = append([]run.Failure(nil), rs.rec.Failures...)
	rs.mu.Unlock()

	for _, ob := range c.deps.observers {
		ob.ObserveRun(rec)
	}
}
