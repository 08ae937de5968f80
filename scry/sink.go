package scry

import (
	"log/slog"
	"sync"

	"github.com/mbocsi/scryer/component"
)

// Sink receives every decoded event in arrival order, from the reader
// goroutine. Implementations must return quickly.
type Sink interface {
	Observe(Event)
}

type SinkFunc func(Event)

func (f SinkFunc) Observe(ev Event) { f(ev) }

// Latest remembers the newest state of each component, for callers that want
// to know where a component is now rather than wait for it to change.
type Latest struct {
	mu     sync.RWMutex
	events map[string]Event
}

func NewLatest() *Latest {
	return &Latest{events: make(map[string]Event)}
}

func (l *Latest) Observe(ev Event) {
	l.mu.Lock()
	l.events[ev.Component] = ev
	l.mu.Unlock()
}

// Get returns the newest event for a canonical component id.
func (l *Latest) Get(id string) (Event, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ev, ok := l.events[id]
	return ev, ok
}

func (l *Latest) Snapshot() map[string]Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]Event, len(l.events))
	for k, v := range l.events {
		out[k] = v
	}
	return out
}

// LogSink writes every event as a structured audit record.
func LogSink(logger *slog.Logger) Sink {
	return SinkFunc(func(ev Event) {
		logger.Info("State update",
			"component", ev.Component,
			"published", ev.Time,
			"state", component.Values(ev.State),
		)
	})
}
