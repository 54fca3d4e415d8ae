package channel

import (
	"errors"
	"runtime/debug"

	"github.com/pinglue/pg-repo-sub000/domain/merge"
	"github.com/pinglue/pg-repo-sub000/domain/snapshot"
)

// reduce folds outputs into the run's result.
//
//	no-value          -> nil, whatever the reducer
//	object-merge      -> strict merge onto init, nil on the first conflict
//	chain             -> reducer(outputs, init), or a lenient deep merge
//	chain-breakable   -> first non-nil output, passed alone to the reducer
func (c *Channel) reduce(rs *runState, outputs []Output, init any) any {
	s := rs.settings
	if s.RunMode == RunNoValue {
		return nil
	}
	if s.Reducer.IsObjectMerge() {
		return c.objectMerge(rs, outputs, init)
	}

	fn := s.Reducer.Func()
	if s.RunMode == RunChainBreakable {
		for _, o := range outputs {
			if o.Value == nil {
				continue
			}
			if fn != nil {
				return c.callReducer(rs, fn, []Output{o}, init)
			}
			return o.Value
		}
		return init
	}

	if fn != nil {
		return c.callReducer(rs, fn, outputs, init)
	}
	return chainMerge(outputs, init)
}

// chainMerge is the default chain reduction. Neither init nor the outputs
// are mutated.
func chainMerge(outputs []Output, init any) any {
	if len(outputs) == 0 {
		return init
	}
	var acc any = map[string]any{}
	if merge.IsMergeable(init) {
		acc = snapshot.Clone(init)
	}
	for _, o := range outputs {
		acc = merge.Deep(acc, snapshot.Clone(o.Value))
	}
	return acc
}

// objectMerge applies outputs onto init with the strict merge. Outputs are
// copied first so handler-owned values never become part of the result. The first
// conflict, or an output that is neither object nor array, aborts the
// reduction and makes the result nil.
func (c *Channel) objectMerge(rs *runState, outputs []Output, init any) any {
	acc := init
	if !merge.IsMergeable(init) {
		acc = map[string]any{}
	}
	for _, o := range outputs {
		if o.Value == nil {
			continue
		}
		next, err := merge.Strict(acc, snapshot.Clone(o.Value))
		if err != nil {
			data := map[string]any{
				"channel":       c.name,
				"controller_id": o.ControllerID,
				"run_id":        rs.meta.RunID,
				"error":         err,
			}
			var conflict *merge.ConflictError
			if errors.As(err, &conflict) {
				data["conflict"] = conflict.Kind.String()
				data["path"] = conflict.Path
			}
			c.deps.messenger.Error(MsgMergeConflict, data)

			rs.mu.Lock()
			rs.rec.Conflict = true
			rs.mu.Unlock()
			return nil
		}
		acc = next
	}
	return acc
}

// callReducer runs a custom reducer; a panic makes the result nil.
func (c *Channel) callReducer(rs *runState, fn ReduceFunc, outputs []Output, init any) (result any) {
	defer func() {
		if r := recover(); r != nil {
			c.deps.messenger.Error(MsgReducerFailed, map[string]any{
				"channel": c.name,
				"run_id":  rs.meta.RunID,
				"error":   &HandlerPanicError{Value: r, Stack: debug.Stack()},
			})
			result = nil
		}
	}()
	return fn(outputs, init)
}
