// Package component holds the closed set of component kinds the decide server
// exposes, their typed state and parameter payloads, and the Registry that
// resolves a component name to its schemas.
package component

import "fmt"

// Kind enumerates the hardware-like units a decide server drives. Adding a
// kind means adding a constant, its payload structs and a table row in
// registry.go.
type Kind int

const (
	HouseLight Kind = iota
	PeckLed
	StepperMotor
	PeckKeys
	SoundAlsa
)

var kindNames = map[Kind]string{
	HouseLight:   "house-light",
	PeckLed:      "peck-led",
	StepperMotor: "stepper-motor",
	PeckKeys:     "peck-keys",
	SoundAlsa:    "sound-alsa",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Meta selects which of a component's two schemas a payload belongs to.
type Meta int

const (
	State Meta = iota
	Params
)

func (m Meta) String() string {
	switch m {
	case State:
		return "state"
	case Params:
		return "params"
	default:
		return fmt.Sprintf("meta(%d)", int(m))
	}
}

// ParseMeta accepts "state", "params" and the older "param".
func ParseMeta(s string) (Meta, error) {
	switch s {
	case "state":
		return State, nil
	case "params", "param":
		return Params, nil
	}
	return 0, fmt.Errorf("unknown meta type %q", s)
}
