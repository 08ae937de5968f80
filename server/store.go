package server

import (
	"sort"
	"sync"

	"github.com/juju/clock"

	"github.com/mbocsi/scryer/component"
)

// device is the simulated state of one component.
type device struct {
	desc   component.Descriptor
	state  component.Payload
	params component.Payload
	down   bool
	timer  clock.Timer
}

func (d *device) stopTimer() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Store holds every simulated device, keyed by canonical id.
type Store struct {
	mu      sync.RWMutex
	devices map[string]*device
}

func NewStore(reg *component.Registry) *Store {
	s := &Store{devices: make(map[string]*device)}
	for _, d := range reg.Descriptors() {
		s.devices[d.ID] = &device{
			desc:   d,
			state:  d.Default(component.State),
			params: d.Default(component.Params),
		}
	}
	return s
}

// with runs fn on the device under the store lock.
func (s *Store) with(id string, fn func(*device)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return false
	}
	fn(d)
	return true
}

// State returns the current state of a component.
func (s *Store) State(id string) (component.Payload, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[id]
	if !ok {
		return nil, false
	}
	return d.state, true
}

// Params returns the current params of a component.
func (s *Store) Params(id string) (component.Payload, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[id]
	if !ok {
		return nil, false
	}
	return d.params, true
}

// Snapshot is the state of every component, by id.
func (s *Store) Snapshot() map[string]map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]map[string]any, len(s.devices))
	for id, d := range s.devices {
		out[id] = component.Values(d.state)
	}
	return out
}

func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.devices))
	for id := range s.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Store) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.devices {
		d.stopTimer()
	}
}
