package channel_test

import (
	"context"
	"sync"

	"github.com/pinglue/pg-repo-sub000/adapters/idgen"
	"github.com/pinglue/pg-repo-sub000/adapters/messenger"
	"github.com/pinglue/pg-repo-sub000/core/channel"
	"github.com/pinglue/pg-repo-sub000/domain/run"
)

// recordingObserver collects run records.
type recordingObserver struct {
	mu      sync.Mutex
	records []run.Record
}

func (o *recordingObserver) ObserveRun(rec run.Record) {
	o.mu.Lock()
	o.records = append(o.records, rec)
	o.mu.Unlock()
}

func (o *recordingObserver) all() []run.Record {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]run.Record(nil), o.records...)
}

func (o *recordingObserver) last() run.Record {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.records[len(o.records)-1]
}

type fixture struct {
	msgs *messenger.Recorder
	obs  *recordingObserver
}

func newFixture() *fixture {
	return &fixture{
		msgs: messenger.NewRecorder(nil),
		obs:  &recordingObserver{},
	}
}

func (f *fixture) options() []channel.Option {
	return []channel.Option{
		channel.WithMessenger(f.msgs),
		channel.WithObservers(f.obs),
		channel.WithIDGenerator(idgen.NewSequential("run-")),
	}
}

func (f *fixture) channel(name string, patch *channel.SettingsPatch) *channel.Channel {
	ch := channel.New(name, f.options()...)
	if patch != nil {
		if err := ch.MergeSettings(patch); err != nil {
			panic(err)
		}
	}
	return ch
}

// returning is a handler that always returns v.
func returning(name string, v any) channel.Handler {
	return channel.Func(name, func(context.Context, any, any, channel.Meta) (any, error) {
		return v, nil
	})
}

// sliceOf is a handler returning a fresh []any{v} on every call.
func sliceOf(name string, v any) channel.Handler {
	return channel.Func(name, func(context.Context, any, any, channel.Meta) (any, error) {
		return []any{v}, nil
	})
}

// sumReducer adds every output to an int init.
func sumReducer(outputs []channel.Output, init any) any {
	total, _ := init.(int)
	for _, o := range outputs {
		n, _ := o.Value.(int)
		total += n
	}
	return total
}

// namedHandler is a comparable struct handler.
type namedHandler struct {
	id string
}

func (h namedHandler) Handle(context.Context, any, any, channel.Meta) (any, error) {
	return h.id, nil
}
