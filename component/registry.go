package component

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/mitchellh/mapstructure"

	"github.com/mbocsi/scryer/errs"
)

// Descriptor is the immutable description of one named component.
type Descriptor struct {
	ID        string   `json:"id" yaml:"id"`
	Kind      Kind     `json:"-" yaml:"-"`
	KindName  string   `json:"kind" yaml:"kind"`
	Aliases   []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	StateTag  string   `json:"state_tag" yaml:"state_tag"`
	ParamsTag string   `json:"params_tag" yaml:"params_tag"`
	State     Schema   `json:"state" yaml:"state"`
	Params    Schema   `json:"params" yaml:"params"`

	defaultState  func() Payload
	defaultParams func() Payload
}

// Tag returns the canonical type tag for meta.
func (d Descriptor) Tag(meta Meta) string {
	if meta == Params {
		return d.ParamsTag
	}
	return d.StateTag
}

// Schema returns the schema for meta.
func (d Descriptor) Schema(meta Meta) Schema {
	if meta == Params {
		return d.Params
	}
	return d.State
}

// New returns a zero payload of the schema for meta, the target for decoding.
func (d Descriptor) New(meta Meta) Payload {
	return reflect.New(d.Schema(meta).typ).Interface().(Payload)
}

// Default returns a default-filled payload of the schema for meta.
func (d Descriptor) Default(meta Meta) Payload {
	if meta == Params {
		return d.defaultParams()
	}
	return d.defaultState()
}

// Accepts reports whether p has the Go type of the schema for meta.
func (d Descriptor) Accepts(meta Meta, p Payload) bool {
	return p != nil && reflect.TypeOf(p) == reflect.PointerTo(d.Schema(meta).typ)
}

type kindSpec struct {
	stateTag, paramsTag string
	state, params       func() Payload
}

var kinds = map[Kind]kindSpec{
	HouseLight: {
		stateTag: "hl_state", paramsTag: "hl_params",
		state:  func() Payload { return &HouseLightState{} },
		params: func() Payload { return &HouseLightParams{} },
	},
	PeckLed: {
		stateTag: "led_state", paramsTag: "led_params",
		state:  func() Payload { return &LedState{LedState: "off"} },
		params: func() Payload { return &LedParams{} },
	},
	StepperMotor: {
		stateTag: "sm_state", paramsTag: "sm_params",
		state:  func() Payload { return &StepperMotorState{} },
		params: func() Payload { return &StepperMotorParams{} },
	},
	PeckKeys: {
		stateTag: "key_state", paramsTag: "key_params",
		state:  func() Payload { return &PeckKeysState{} },
		params: func() Payload { return &PeckKeysParams{} },
	},
	SoundAlsa: {
		stateTag: "sa_state", paramsTag: "sa_params",
		state:  func() Payload { return &SoundAlsaState{} },
		params: func() Payload { return &SoundAlsaParams{} },
	},
}

// deployment is the component table of a standard operant box.
var deployment = []struct {
	id      string
	kind    Kind
	aliases []string
}{
	{"house-light", HouseLight, nil},
	{"peck-leds-left", PeckLed, nil},
	{"peck-leds-center", PeckLed, nil},
	{"peck-leds-right", PeckLed, nil},
	{"stepper-motor", StepperMotor, []string{"feeder"}},
	{"peck-keys", PeckKeys, nil},
	{"sound-alsa", SoundAlsa, []string{"audio-playback"}},
}

// Registry resolves component names to descriptors. It is built once and is
// safe for concurrent use.
type Registry struct {
	byID   map[string]*Descriptor
	byName map[string]*Descriptor
	ids    []string
}

// NewRegistry builds the registry for the standard deployment. With ids it is
// restricted to those components.
func NewRegistry(ids ...string) (*Registry, error) {
	r := &Registry{
		byID:   make(map[string]*Descriptor),
		byName: make(map[string]*Descriptor),
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	for _, row := range deployment {
		if len(ids) > 0 && !want[row.id] {
			continue
		}
		delete(want, row.id)
		spec := kinds[row.kind]
		state, err := schemaOf(spec.state())
		if err != nil {
			return nil, err
		}
		params, err := schemaOf(spec.params())
		if err != nil {
			return nil, err
		}
		d := &Descriptor{
			ID:            row.id,
			Kind:          row.kind,
			KindName:      row.kind.String(),
			Aliases:       row.aliases,
			StateTag:      spec.stateTag,
			ParamsTag:     spec.paramsTag,
			State:         state,
			Params:        params,
			defaultState:  spec.state,
			defaultParams: spec.params,
		}
		r.byID[d.ID] = d
		r.byName[d.ID] = d
		for _, alias := range d.Aliases {
			r.byName[alias] = d
		}
		r.ids = append(r.ids, d.ID)
	}
	for id := range want {
		return nil, errs.Invalid(errs.ErrUnknownComponent, id, "registry", "")
	}
	sort.Strings(r.ids)
	return r, nil
}

// MustRegistry is NewRegistry for package-level tables and tests.
func MustRegistry(ids ...string) *Registry {
	r, err := NewRegistry(ids...)
	if err != nil {
		panic(err)
	}
	return r
}

// Describe resolves a component name or alias.
func (r *Registry) Describe(name string) (Descriptor, error) {
	d, ok := r.byName[name]
	if !ok {
		return Descriptor{}, errs.Invalid(errs.ErrUnknownComponent, name, "describe", "")
	}
	return *d, nil
}

// Instantiate returns a default-filled payload with overrides applied by wire
// field name. Unknown override keys and out-of-range values are rejected.
func (r *Registry) Instantiate(name string, meta Meta, overrides map[string]any) (Payload, error) {
	d, err := r.Describe(name)
	if err != nil {
		return nil, err
	}
	p := d.Default(meta)
	if len(overrides) > 0 {
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			TagName:          "json",
			ErrorUnused:      true,
			WeaklyTypedInput: true,
			DecodeHook:       mapstructure.TextUnmarshallerHookFunc(),
			Result:           p,
		})
		if err != nil {
			return nil, err
		}
		if err := dec.Decode(overrides); err != nil {
			return nil, errs.Invalid(errs.ErrTypeMismatch, d.ID, "instantiate", "%s: %v", meta, err)
		}
	}
	if err := d.Schema(meta).Check(p); err != nil {
		return nil, errs.Invalid(errs.ErrTypeMismatch, d.ID, "instantiate", "%s: %v", meta, err)
	}
	return p, nil
}

// IDs lists the canonical component ids in sorted order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.ids...)
}

// Names lists the id and every alias of a component.
func (d Descriptor) Names() []string {
	return append([]string{d.ID}, d.Aliases...)
}

// Descriptors lists every descriptor in id order.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, *r.byID[id])
	}
	return out
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s(%s)", d.ID, d.KindName)
}
