package channel

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// RunMode governs how handler outputs become a run's result.
type RunMode string

const (
	// RunChain folds every output into the result.
	RunChain RunMode = "chain"
	// RunChainBreakable uses the first output that is not nil.
	RunChainBreakable RunMode = "chain-breakable"
	// RunNoValue runs handlers for their side effects only; the result is nil.
	RunNoValue RunMode = "no-value"
)

// Valid reports whether m is a known run mode.
func (m RunMode) Valid() bool {
	switch m {
	case RunChain, RunChainBreakable, RunNoValue:
		return true
	}
	return false
}

// SyncType declares which run entry points a channel supports.
type SyncType string

const (
	SyncOnly  SyncType = "sync"
	AsyncOnly SyncType = "async"
	SyncBoth  SyncType = "both"
)

// Valid reports whether s is a known sync type.
func (s SyncType) Valid() bool {
	switch s {
	case SyncOnly, AsyncOnly, SyncBoth:
		return true
	}
	return false
}

// ObjectMergeName is the name of the built-in strict merge reducer.
const ObjectMergeName = "object-merge"

// ReduceFunc folds handler outputs and the run's initial value into a result.
type ReduceFunc func(outputs []Output, init any) any

// Reducer selects a reduction strategy. The zero value means "no reducer":
// the run mode's default combination applies.
type Reducer struct {
	name string
	fn   ReduceFunc
}

// ObjectMerge returns the built-in "object-merge" reducer.
func ObjectMerge() Reducer {
	return Reducer{name: ObjectMergeName}
}

// ReduceWith returns a reducer backed by fn. A nil fn yields no reducer.
func ReduceWith(fn ReduceFunc) Reducer {
	if fn == nil {
		return Reducer{}
	}
	return Reducer{name: "custom", fn: fn}
}

// NoReducer returns the zero reducer. Use it in a SettingsPatch to remove a
// previously configured reducer.
func NoReducer() Reducer {
	return Reducer{}
}

// IsZero reports whether no reducer is configured.
func (r Reducer) IsZero() bool { return r.name == "" }

// IsObjectMerge reports whether r is the built-in object-merge reducer.
func (r Reducer) IsObjectMerge() bool { return r.name == ObjectMergeName }

// Func returns the custom reduce function, or nil.
func (r Reducer) Func() ReduceFunc { return r.fn }

// String returns "", "object-merge" or "custom".
func (r Reducer) String() string { return r.name }

// UnmarshalYAML accepts the names of built-in reducers. An empty string or
// null removes the reducer.
func (r *Reducer) UnmarshalYAML(node *yaml.Node) error {
	var name string
	if err := node.Decode(&name); err != nil {
		return err
	}
	switch name {
	case "", "none":
		*r = Reducer{}
	case ObjectMergeName:
		*r = ObjectMerge()
	default:
		return fmt.Errorf("unknown reducer %q", name)
	}
	return nil
}

// Settings is the resolved configuration of one channel.
type Settings struct {
	RunMode  RunMode  `json:"run_mode" yaml:"run_mode"`
	SyncType SyncType `json:"sync_type" yaml:"sync_type"`
	Reducer  Reducer  `json:"-" yaml:"-"`

	SingleHandler     bool `json:"single_handler" yaml:"single_handler"`
	NoEmpty           bool `json:"no_empty" yaml:"no_empty"`
	ExternallyHandled bool `json:"externally_handled" yaml:"externally_handled"`
	ExternallyRun     bool `json:"externally_run" yaml:"externally_run"`
	NoCloneParams     bool `json:"no_clone_params" yaml:"no_clone_params"`
	NoCloneValue      bool `json:"no_clone_value" yaml:"no_clone_value"`

	// ControllerID is the owning controller. It is set once, when the
	// channel is claimed.
	ControllerID string `json:"controller_id,omitempty" yaml:"controller_id,omitempty"`

	// Descriptive metadata, used for reporting only.
	Description  string `json:"description,omitempty" yaml:"description,omitempty"`
	ParamsSchema any    `json:"params,omitempty" yaml:"params,omitempty"`
	ValueSchema  any    `json:"value,omitempty" yaml:"value,omitempty"`
	ReturnSchema any    `json:"return,omitempty" yaml:"return,omitempty"`
}

// DefaultSettings returns the settings of a freshly created channel.
func DefaultSettings() Settings {
	return Settings{
		RunMode:  RunChain,
		SyncType: SyncBoth,
	}
}

// SettingsPatch is a partial settings update. Nil fields are left unchanged.
type SettingsPatch struct {
	RunMode  *RunMode  `yaml:"run_mode,omitempty"`
	SyncType *SyncType `yaml:"sync_type,omitempty"`
	Reducer  *Reducer  `yaml:"reducer,omitempty"`

	SingleHandler     *bool `yaml:"single_handler,omitempty"`
	NoEmpty           *bool `yaml:"no_empty,omitempty"`
	ExternallyHandled *bool `yaml:"externally_handled,omitempty"`
	ExternallyRun     *bool `yaml:"externally_run,omitempty"`
	NoCloneParams     *bool `yaml:"no_clone_params,omitempty"`
	NoCloneValue      *bool `yaml:"no_clone_value,omitempty"`

	Description  *string `yaml:"description,omitempty"`
	ParamsSchema any     `yaml:"params,omitempty"`
	ValueSchema  any     `yaml:"value,omitempty"`
	ReturnSchema any     `yaml:"return,omitempty"`
}

// Validate checks enumerated fields.
func (p *SettingsPatch) Validate() error {
	if p == nil {
		return nil
	}
	if p.RunMode != nil && !p.RunMode.Valid() {
		return fmt.Errorf("%w: run mode %q", ErrInvalidSettings, *p.RunMode)
	}
	if p.SyncType != nil && !p.SyncType.Valid() {
		return fmt.Errorf("%w: sync type %q", ErrInvalidSettings, *p.SyncType)
	}
	return nil
}

// Apply returns s with every non-nil field of p applied.
func (s Settings) Apply(p *SettingsPatch) Settings {
	if p == nil {
		return s
	}
	if p.RunMode != nil {
		s.RunMode = *p.RunMode
	}
	if p.SyncType != nil {
		s.SyncType = *p.SyncType
	}
	if p.Reducer != nil {
		s.Reducer = *p.Reducer
	}
	setBool(&s.SingleHandler, p.SingleHandler)
	setBool(&s.NoEmpty, p.NoEmpty)
	setBool(&s.ExternallyHandled, p.ExternallyHandled)
	setBool(&s.ExternallyRun, p.ExternallyRun)
	setBool(&s.NoCloneParams, p.NoCloneParams)
	setBool(&s.NoCloneValue, p.NoCloneValue)
	if p.Description != nil {
		s.Description = *p.Description
	}
	if p.ParamsSchema != nil {
		s.ParamsSchema = p.ParamsSchema
	}
	if p.ValueSchema != nil {
		s.ValueSchema = p.ValueSchema
	}
	if p.ReturnSchema != nil {
		s.ReturnSchema = p.ReturnSchema
	}
	return s
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

// Ptr returns a pointer to v. It keeps SettingsPatch literals short:
//
//	channel.SettingsPatch{RunMode: channel.Ptr(channel.RunNoValue)}
func Ptr[T any](v T) *T {
	return &v
}
