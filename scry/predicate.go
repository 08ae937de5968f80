package scry

import "github.com/mbocsi/scryer/component"

// Predicate decides whether an event's state resolves a wait. Payloads are
// shared between waiters and must not be modified.
type Predicate func(component.Payload) bool

// Always matches the first event for any component in the filter.
func Always(component.Payload) bool { return true }

// When adapts a predicate over one concrete payload type. Payloads of any
// other type do not match.
//
//	scry.When(func(s *component.StepperMotorState) bool { return !s.Running })
func When[T component.Payload](fn func(T) bool) Predicate {
	return func(p component.Payload) bool {
		t, ok := p.(T)
		return ok && fn(t)
	}
}

// FieldsMatch matches payloads whose named fields equal those of want.
func FieldsMatch(want component.Payload, names ...string) Predicate {
	return func(p component.Payload) bool {
		return component.FieldsEqual(p, want, names)
	}
}
