package channel_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinglue/pg-repo-sub000/core/channel"
	"github.com/pinglue/pg-repo-sub000/domain/run"
)

var ctx = context.Background()

func TestRun_ChainKeepsRegistrationOrder(t *testing.T) {
	f := newFixture()
	ch := f.channel("numbers", nil)

	handlers := make([]channel.Handler, 5)
	for i := range handlers {
		handlers[i] = sliceOf("h", i+1)
		_, err := ch.Register("ctrl", handlers[i])
		require.NoError(t, err)
	}

	got, err := ch.RunS(ctx, "caller", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2, 3, 4, 5}, got)

	require.True(t, ch.Deregister("ctrl", handlers[1]))
	require.True(t, ch.Deregister("ctrl", handlers[3]))

	got, err = ch.RunA(ctx, "caller", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{1, 3, 5}, got)
}

func TestRun_ChainMergesObjects(t *testing.T) {
	f := newFixture()
	ch := f.channel("profile", nil)
	_, _ = ch.Register("a", returning("name", map[string]any{"name": "x", "tags": []any{"a"}}))
	_, _ = ch.Register("b", returning("age", map[string]any{"age": 3, "tags": []any{"b"}}))

	init := map[string]any{"id": 7}
	got, err := ch.RunS(ctx, "caller", nil, init)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"id": 7, "name": "x", "age": 3, "tags": []any{"a", "b"}}, got)
	assert.Equal(t, map[string]any{"id": 7}, init, "default chain must not mutate init")
}

// keptMap is a handler returning the same map on every call.
func keptMap(name string, m map[string]any) channel.Handler {
	return channel.Func(name, func(context.Context, any, any, channel.Meta) (any, error) {
		return m, nil
	})
}

func TestRun_ReductionLeavesHandlerOutputsAlone(t *testing.T) {
	tests := []struct {
		name  string
		patch *channel.SettingsPatch
	}{
		{"chain", nil},
		{"object merge", &channel.SettingsPatch{Reducer: channel.Ptr(channel.ObjectMerge())}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			ch := f.channel("state", tt.patch)

			state := map[string]any{"x": map[string]any{"a": 1}}
			other := map[string]any{"x": map[string]any{"b": 2}}
			_, _ = ch.Register("a", keptMap("state", state))
			hb := keptMap("other", other)
			_, _ = ch.Register("b", hb)

			want := map[string]any{"x": map[string]any{"a": 1, "b": 2}}
			for i := 0; i < 2; i++ {
				got, err := ch.RunS(ctx, "caller", nil, nil)
				require.NoError(t, err)
				assert.Equal(t, want, got, "run %d", i+1)
			}
			assert.Equal(t, 0, f.msgs.Count(channel.MsgMergeConflict))
			assert.Equal(t, map[string]any{"x": map[string]any{"a": 1}}, state)
			assert.Equal(t, map[string]any{"x": map[string]any{"b": 2}}, other)

			require.True(t, ch.Deregister("b", hb))
			got, err := ch.RunA(ctx, "caller", nil, nil)
			require.NoError(t, err)
			assert.Equal(t, map[string]any{"x": map[string]any{"a": 1}}, got)
		})
	}
}

func TestRun_ChainWithoutOutputsReturnsInit(t *testing.T) {
	f := newFixture()
	ch := f.channel("idle", nil)

	got, err := ch.RunS(ctx, "caller", nil, 42)
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestRun_ChainCustomReducer(t *testing.T) {
	f := newFixture()
	ch := f.channel("sum", &channel.SettingsPatch{Reducer: channel.Ptr(channel.ReduceWith(sumReducer))})
	for i := 1; i <= 3; i++ {
		_, _ = ch.Register("ctrl", returning("n", i))
	}

	got, err := ch.RunA(ctx, "caller", nil, 10)
	require.NoError(t, err)
	assert.Equal(t, 16, got)
}

func TestRun_ChainBreakable(t *testing.T) {
	setup := func(f *fixture, values []any) *channel.Channel {
		ch := f.channel("first", &channel.SettingsPatch{
			RunMode: channel.Ptr(channel.RunChainBreakable),
			Reducer: channel.Ptr(channel.ReduceWith(sumReducer)),
		})
		for i, v := range values {
			_, err := ch.Register("ctrl-"+string(rune('1'+i)), returning("h", v))
			require.NoError(t, err)
		}
		return ch
	}

	t.Run("reducer gets the first output", func(t *testing.T) {
		ch := setup(newFixture(), []any{nil, 1, nil, 3, nil})
		got, err := ch.RunS(ctx, "caller", nil, 4)
		require.NoError(t, err)
		assert.Equal(t, 5, got)
	})

	t.Run("no reducer returns the raw first output", func(t *testing.T) {
		ch := setup(newFixture(), []any{nil, 1, nil, 3, nil})
		require.NoError(t, ch.MergeSettings(&channel.SettingsPatch{Reducer: channel.Ptr(channel.NoReducer())}))
		got, err := ch.RunS(ctx, "caller", nil, 4)
		require.NoError(t, err)
		assert.Equal(t, 1, got)
	})

	t.Run("all nil returns init", func(t *testing.T) {
		ch := setup(newFixture(), []any{nil, nil, nil})
		got, err := ch.RunA(ctx, "caller", nil, 4)
		require.NoError(t, err)
		assert.Equal(t, 4, got)

		got, err = ch.RunA(ctx, "caller", nil, nil)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestRun_ObjectMergeConflict(t *testing.T) {
	f := newFixture()
	ch := f.channel("merge", &channel.SettingsPatch{Reducer: channel.Ptr(channel.ObjectMerge())})
	_, _ = ch.Register("c1", returning("first", map[string]any{"a": true}))
	_, _ = ch.Register("c2", returning("second", map[string]any{"a": true}))
	_, _ = ch.Register("c3", returning("third", map[string]any{"b": 1}))

	init := map[string]any{}
	got, err := ch.RunS(ctx, "caller", nil, init)
	require.NoError(t, err)
	assert.Nil(t, got)

	conflicts := f.msgs.Kind(channel.MsgMergeConflict)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "scalar-overwrite", conflicts[0].Data["conflict"])
	assert.Equal(t, ".a", conflicts[0].Data["path"])
	assert.Equal(t, "c2", conflicts[0].Data["controller_id"])
	assert.Len(t, f.msgs.Errors(), 1)

	assert.NotContains(t, init, "b")
	assert.True(t, f.obs.last().Conflict)
	assert.Equal(t, "conflict", f.obs.last().Outcome())
}

func TestRun_ObjectMergeArrays(t *testing.T) {
	f := newFixture()
	ch := f.channel("merge", &channel.SettingsPatch{Reducer: channel.Ptr(channel.ObjectMerge())})
	_, _ = ch.Register("c1", channel.Func("a", func(context.Context, any, any, channel.Meta) (any, error) {
		return []any{1, 2, 3}, nil
	}))
	_, _ = ch.Register("c2", channel.Func("b", func(context.Context, any, any, channel.Meta) (any, error) {
		return channel.Async(func() (any, error) { return []any{4, 5}, nil }), nil
	}))
	_, _ = ch.Register("c3", sliceOf("c", 6))

	got, err := ch.RunA(ctx, "caller", nil, []any{0})
	require.NoError(t, err)
	assert.Equal(t, []any{0, 1, 2, 3, 4, 5, 6}, got)
}

func TestRun_ObjectMergeObjects(t *testing.T) {
	f := newFixture()
	ch := f.channel("merge", &channel.SettingsPatch{Reducer: channel.Ptr(channel.ObjectMerge())})
	_, _ = ch.Register("c1", returning("a", map[string]any{"user": map[string]any{"name": "x"}}))
	_, _ = ch.Register("c2", returning("b", map[string]any{"user": map[string]any{"age": 3}}))

	got, err := ch.RunS(ctx, "caller", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"user": map[string]any{"name": "x", "age": 3}}, got)
}

func TestRun_ObjectMergeKeepsNoValue(t *testing.T) {
	f := newFixture()
	ch := f.channel("merge", &channel.SettingsPatch{
		RunMode: channel.Ptr(channel.RunNoValue),
		Reducer: channel.Ptr(channel.ObjectMerge()),
	})
	_, _ = ch.Register("c1", returning("a", map[string]any{"a": 1}))

	got, err := ch.RunS(ctx, "caller", nil, map[string]any{"x": 1})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRun_AsyncInSyncRunIsDetached(t *testing.T) {
	f := newFixture()
	ch := f.channel("mixed", nil)

	var prefixes atomic.Int32
	done := make(chan struct{}, 2)
	for i := 0; i < 5; i++ {
		key := string(rune('a' + i))
		if i == 1 || i == 3 {
			_, _ = ch.Register("ctrl", channel.Func("async-"+key, func(context.Context, any, any, channel.Meta) (any, error) {
				prefixes.Add(1)
				return channel.Async(func() (any, error) {
					defer func() { done <- struct{}{} }()
					return map[string]any{key: "async"}, nil
				}), nil
			}))
			continue
		}
		_, _ = ch.Register("ctrl", returning("sync-"+key, map[string]any{key: "sync"}))
	}

	got, err := ch.RunS(ctx, "caller", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": "sync", "c": "sync", "e": "sync"}, got)
	assert.Equal(t, 2, f.msgs.Count(channel.MsgAsyncInSyncRun))
	assert.EqualValues(t, 2, prefixes.Load())

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("detached handler did not complete")
		}
	}

	rec := f.obs.last()
	assert.Equal(t, 2, rec.Detached)
	assert.Equal(t, 3, rec.Outputs)
}

func TestRun_DetachedFailureIsLogged(t *testing.T) {
	f := newFixture()
	ch := f.channel("mixed", nil)
	release := make(chan struct{})
	_, _ = ch.Register("slow", channel.Func("later", func(context.Context, any, any, channel.Meta) (any, error) {
		return channel.Async(func() (any, error) {
			<-release
			return nil, errors.New("late failure")
		}), nil
	}))

	_, err := ch.RunS(ctx, "caller", nil, nil)
	require.NoError(t, err)
	close(release)

	assert.Eventually(t, func() bool {
		return f.msgs.Count(channel.MsgDetachedHandlerFailed) == 1
	}, time.Second, 5*time.Millisecond)
	msg := f.msgs.Kind(channel.MsgDetachedHandlerFailed)[0]
	assert.Equal(t, "slow", msg.Data["controller_id"])
}

func TestRun_FaultIsolation(t *testing.T) {
	f := newFixture()
	ch := f.channel("faulty", nil)
	_, _ = ch.Register("ok-1", sliceOf("one", 1))
	_, _ = ch.Register("thrower", channel.Func("throw", func(context.Context, any, any, channel.Meta) (any, error) {
		return nil, errors.New("sync failure")
	}))
	_, _ = ch.Register("rejecter", channel.Func("reject", func(context.Context, any, any, channel.Meta) (any, error) {
		return channel.Rejected(errors.New("async failure")), nil
	}))
	_, _ = ch.Register("panicker", channel.Func("panic", func(context.Context, any, any, channel.Meta) (any, error) {
		panic("boom")
	}))
	_, _ = ch.Register("ok-2", channel.Func("two", func(context.Context, any, any, channel.Meta) (any, error) {
		return channel.Async(func() (any, error) { return []any{2}, nil }), nil
	}))

	got, err := ch.RunA(ctx, "caller", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2}, got)

	failed := f.msgs.Kind(channel.MsgHandlerFailed)
	require.Len(t, failed, 3)
	ids := map[any]bool{}
	for _, m := range failed {
		ids[m.Data["controller_id"]] = true
	}
	assert.Equal(t, map[any]bool{"thrower": true, "rejecter": true, "panicker": true}, ids)

	rec := f.obs.last()
	assert.Len(t, rec.Failures, 3)
	assert.Equal(t, "partial", rec.Outcome())
	var panicked int
	for _, fl := range rec.Failures {
		if fl.Panicked {
			panicked++
		}
	}
	assert.Equal(t, 1, panicked)
}

func TestRun_FutureReturningNothingIsAnOutput(t *testing.T) {
	f := newFixture()
	ch := f.channel("first", &channel.SettingsPatch{RunMode: channel.Ptr(channel.RunChainBreakable)})
	_, _ = ch.Register("a", channel.Func("nothing", func(context.Context, any, any, channel.Meta) (any, error) {
		return channel.Resolved(nil), nil
	}))
	_, _ = ch.Register("b", channel.Func("something", func(context.Context, any, any, channel.Meta) (any, error) {
		return channel.Resolved("b"), nil
	}))

	got, err := ch.RunA(ctx, "caller", nil, "init")
	require.NoError(t, err)
	assert.Equal(t, "b", got)
}

func TestRun_DuplicateRegistrationRunsOnce(t *testing.T) {
	f := newFixture()
	ch := f.channel("dup", nil)

	var calls atomic.Int32
	h := channel.Func("counter", func(context.Context, any, any, channel.Meta) (any, error) {
		calls.Add(1)
		return nil, nil
	})

	ok, err := ch.Register("ctrl", h)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = ch.Register("ctrl", h)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 1, f.msgs.Count(channel.MsgDuplicateRegistration))
	assert.Equal(t, 1, ch.Len())

	_, err = ch.RunS(ctx, "caller", nil, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestRun_HandlersCannotMutateInputs(t *testing.T) {
	f := newFixture()
	ch := f.channel("immutable", nil)

	params := map[string]any{"user": map[string]any{"name": "ann"}}
	value := map[string]any{"items": []any{1, 2}}

	_, _ = ch.Register("vandal", channel.Func("mutate", func(_ context.Context, p, v any, _ channel.Meta) (any, error) {
		p.(map[string]any)["user"].(map[string]any)["name"] = "mallory"
		v.(map[string]any)["items"].([]any)[0] = 99
		v.(map[string]any)["extra"] = true
		return nil, nil
	}))

	var seenParams, seenValue map[string]any
	_, _ = ch.Register("witness", channel.Func("observe", func(_ context.Context, p, v any, _ channel.Meta) (any, error) {
		seenParams = p.(map[string]any)
		seenValue = v.(map[string]any)
		return nil, nil
	}))

	_, err := ch.RunS(ctx, "caller", params, value)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"user": map[string]any{"name": "ann"}}, params)
	assert.Equal(t, map[string]any{"items": []any{1, 2}}, value)
	assert.Equal(t, map[string]any{"user": map[string]any{"name": "ann"}}, seenParams)
	assert.Equal(t, map[string]any{"items": []any{1, 2}}, seenValue)
}

func TestRun_NoCloneSharesInputs(t *testing.T) {
	f := newFixture()
	ch := f.channel("shared", &channel.SettingsPatch{
		NoCloneParams: channel.Ptr(true),
		RunMode:       channel.Ptr(channel.RunNoValue),
	})
	params := map[string]any{"n": 1}
	_, _ = ch.Register("ctrl", channel.Func("mutate", func(_ context.Context, p, _ any, _ channel.Meta) (any, error) {
		p.(map[string]any)["n"] = 2
		return nil, nil
	}))

	_, err := ch.RunS(ctx, "caller", params, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, params["n"])
}

func TestRun_Filter(t *testing.T) {
	f := newFixture()
	ch := f.channel("filtered", nil)
	for i := 1; i <= 5; i++ {
		id := "ctrl-" + string(rune('0'+i))
		_, _ = ch.Register(id, sliceOf("h", id))
	}

	got, err := ch.RunS(ctx, "caller", nil, nil, channel.Filter("ctrl-2", "ctrl-3"))
	require.NoError(t, err)
	assert.Equal(t, []any{"ctrl-2", "ctrl-3"}, got)

	all := []any{"ctrl-1", "ctrl-2", "ctrl-3", "ctrl-4", "ctrl-5"}
	for name, opts := range map[string][]channel.RunOption{
		"no filter":    nil,
		"empty filter": {channel.Filter()},
		"blank id":     {channel.Filter("")},
	} {
		t.Run(name, func(t *testing.T) {
			got, err := ch.RunA(ctx, "caller", nil, nil, opts...)
			require.NoError(t, err)
			assert.Equal(t, all, got)
		})
	}
}

func TestRun_NoValue(t *testing.T) {
	f := newFixture()
	ch := f.channel("events", &channel.SettingsPatch{RunMode: channel.Ptr(channel.RunNoValue)})

	var received atomic.Value
	_, _ = ch.Register("ctrl", channel.Func("h", func(_ context.Context, _, v any, _ channel.Meta) (any, error) {
		received.Store(v == nil)
		return "ignored", nil
	}))

	got, err := ch.RunS(ctx, "caller", nil, "value")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, true, received.Load())
}

func TestRun_SyncTypeMismatch(t *testing.T) {
	tests := []struct {
		name     string
		syncType channel.SyncType
		async    bool
		wantErr  bool
	}{
		{"sync on sync", channel.SyncOnly, false, false},
		{"async on sync", channel.SyncOnly, true, true},
		{"sync on async", channel.AsyncOnly, false, true},
		{"async on async", channel.AsyncOnly, true, false},
		{"sync on both", channel.SyncBoth, false, false},
		{"async on both", channel.SyncBoth, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			ch := f.channel("typed", &channel.SettingsPatch{SyncType: channel.Ptr(tt.syncType)})

			var calls atomic.Int32
			_, _ = ch.Register("ctrl", channel.Func("h", func(context.Context, any, any, channel.Meta) (any, error) {
				calls.Add(1)
				return nil, nil
			}))

			var err error
			if tt.async {
				_, err = ch.RunA(ctx, "caller", nil, nil)
			} else {
				_, err = ch.RunS(ctx, "caller", nil, nil)
			}

			if !tt.wantErr {
				assert.NoError(t, err)
				assert.EqualValues(t, 1, calls.Load())
				return
			}
			assert.ErrorIs(t, err, channel.ErrSyncTypeMismatch)
			assert.EqualValues(t, 0, calls.Load())
			assert.Equal(t, 1, f.msgs.Count(channel.MsgSyncTypeMismatch))
			assert.Equal(t, "rejected", f.obs.last().Outcome())
		})
	}
}

func TestRun_EmptyChannelWarning(t *testing.T) {
	tests := []struct {
		name  string
		patch *channel.SettingsPatch
		want  int
	}{
		{"default", nil, 0},
		{"no empty", &channel.SettingsPatch{NoEmpty: channel.Ptr(true)}, 1},
		{"externally handled", &channel.SettingsPatch{NoEmpty: channel.Ptr(true), ExternallyHandled: channel.Ptr(true)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			ch := f.channel("empty", tt.patch)

			_, err := ch.RunS(ctx, "caller", nil, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.msgs.Count(channel.MsgEmptyChannel))
		})
	}
}

func TestRun_ReducerPanicYieldsNil(t *testing.T) {
	f := newFixture()
	ch := f.channel("broken", &channel.SettingsPatch{Reducer: channel.Ptr(channel.ReduceWith(func([]channel.Output, any) any {
		panic("bad reducer")
	}))})
	_, _ = ch.Register("ctrl", returning("h", 1))

	got, err := ch.RunS(ctx, "caller", nil, 1)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 1, f.msgs.Count(channel.MsgReducerFailed))
}

func TestRun_AsyncResultsReducedInRegistrationOrder(t *testing.T) {
	f := newFixture()
	ch := f.channel("ordered", nil)

	slowDone := make(chan struct{})
	_, _ = ch.Register("slow", channel.Func("slow", func(context.Context, any, any, channel.Meta) (any, error) {
		return channel.Async(func() (any, error) {
			<-slowDone
			return []any{"slow"}, nil
		}), nil
	}))
	_, _ = ch.Register("fast", channel.Func("fast", func(context.Context, any, any, channel.Meta) (any, error) {
		return channel.Async(func() (any, error) {
			defer close(slowDone)
			return []any{"fast"}, nil
		}), nil
	}))

	got, err := ch.RunA(ctx, "caller", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"slow", "fast"}, got)
}

func TestRun_CancelledContextFailsPendingHandlers(t *testing.T) {
	f := newFixture()
	ch := f.channel("cancel", nil)
	block := make(chan struct{})
	defer close(block)
	_, _ = ch.Register("stuck", channel.Func("stuck", func(context.Context, any, any, channel.Meta) (any, error) {
		return channel.Async(func() (any, error) {
			<-block
			return nil, nil
		}), nil
	}))
	_, _ = ch.Register("ok", sliceOf("ok", 1))

	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()

	got, err := ch.RunA(cctx, "caller", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{1}, got)

	failed := f.msgs.Kind(channel.MsgHandlerFailed)
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0].Data["error"].(error), context.DeadlineExceeded)
}

func TestRun_MetaAndRecord(t *testing.T) {
	f := newFixture()
	ch := f.channel("meta", nil)

	var meta channel.Meta
	_, _ = ch.Register("ctrl", channel.Func("h", func(_ context.Context, _, _ any, m channel.Meta) (any, error) {
		meta = m
		return nil, nil
	}))

	_, err := ch.RunS(ctx, "runner", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, channel.Meta{Runner: "runner", RunID: "run-1", Channel: "meta"}, meta)

	rec := f.obs.last()
	assert.Equal(t, "run-1", rec.ID)
	assert.Equal(t, "meta", rec.Channel)
	assert.Equal(t, "runner", rec.Caller)
	assert.Equal(t, run.Sync, rec.Mode)
	assert.Equal(t, 1, rec.Handlers)
	assert.Equal(t, 1, rec.Outputs)
	assert.True(t, rec.Succeeded())
}

func TestRun_HandlerMayRegisterDuringRun(t *testing.T) {
	f := newFixture()
	ch := f.channel("reentrant", nil)

	late := sliceOf("late", "late")
	_, _ = ch.Register("ctrl", channel.Func("registrar", func(context.Context, any, any, channel.Meta) (any, error) {
		_, err := ch.Register("ctrl", late)
		return []any{"first"}, err
	}))

	got, err := ch.RunS(ctx, "caller", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"first"}, got, "handlers added mid-run join the next run")
	assert.Equal(t, 2, ch.Len())
}
