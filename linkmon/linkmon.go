// Package linkmon watches the lifecycle events of the command and telemetry
// channels and turns any disconnect into a fatal fault. Transports reconnect
// quietly on their own; a control loop that kept running across such a gap
// would act on stale state, so the monitor stops everything instead.
package linkmon

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/juju/clock"
	"gopkg.in/tomb.v2"

	"github.com/mbocsi/scryer/errs"
	"github.com/mbocsi/scryer/metrics"
	"github.com/mbocsi/scryer/transport"
)

const DefaultInterval = time.Second

// Config sets the poll interval and the clock it runs on.
type Config struct {
	Interval time.Duration
	Clock    clock.Clock
}

// Source is a named channel whose lifecycle events are monitored.
type Source struct {
	Name     string
	Notifier transport.Notifier
}

type State int

const (
	Unknown State = iota
	Up
	Down
)

func (s State) String() string {
	switch s {
	case Up:
		return "up"
	case Down:
		return "down"
	}
	return "unknown"
}

// Monitor tracks the state of every source and dies on the first lost link.
type Monitor struct {
	tomb     tomb.Tomb
	interval time.Duration
	clock    clock.Clock
	sources  []Source

	mu     sync.RWMutex
	status map[string]State

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures a Monitor.
type Option func(*Monitor)

func WithMetrics(m *metrics.Metrics) Option {
	return func(mon *Monitor) { mon.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(mon *Monitor) { mon.logger = l }
}

// New returns a Monitor over sources; polling begins with Start.
func New(cfg Config, sources []Source, opts ...Option) *Monitor {
	m := &Monitor{
		interval: cfg.Interval,
		clock:    cfg.Clock,
		sources:  sources,
		status:   make(map[string]State, len(sources)),
		logger:   slog.Default(),
	}
	if m.interval <= 0 {
		m.interval = DefaultInterval
	}
	if m.clock == nil {
		m.clock = clock.WallClock
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, s := range sources {
		m.status[s.Name] = Unknown
	}
	return m
}

// Start launches the poll loop. It must be called once.
func (m *Monitor) Start() {
	m.tomb.Go(m.loop)
}

// Stop asks the loop to exit and waits for it. A fault that already killed
// the monitor is returned.
func (m *Monitor) Stop() error {
	m.tomb.Kill(nil)
	return m.tomb.Wait()
}

// Dead is closed once the monitor has stopped, by Stop or by a fault.
func (m *Monitor) Dead() <-chan struct{} {
	return m.tomb.Dead()
}

func (m *Monitor) Wait() error {
	return m.tomb.Wait()
}

// Err is the fault that stopped the monitor, tomb.ErrStillAlive while it
// runs, or nil after a clean Stop.
func (m *Monitor) Err() error {
	return m.tomb.Err()
}

// Drain handles every lifecycle event still pending, returning the fault a
// lost link causes, or the fault that already stopped the monitor. It lets a
// caller that saw a channel fail learn why before the next poll.
func (m *Monitor) Drain() error {
	if err := m.poll(); err != nil {
		return err
	}
	if err := m.tomb.Err(); err != nil && err != tomb.ErrStillAlive {
		return err
	}
	return nil
}

// Status reports the last known state of every channel.
func (m *Monitor) Status() map[string]State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]State, len(m.status))
	for k, v := range m.status {
		out[k] = v
	}
	return out
}

// Channels lists the monitored channel names.
func (m *Monitor) Channels() []string {
	names := make([]string, 0, len(m.sources))
	for _, s := range m.sources {
		names = append(names, s.Name)
	}
	sort.Strings(names)
	return names
}

func (m *Monitor) loop() error {
	m.logger.Info("Link monitor started", "interval", m.interval, "channels", m.Channels())
	for {
		select {
		case <-m.tomb.Dying():
			m.logger.Info("Link monitor stopped")
			return tomb.ErrDying
		case <-m.clock.After(m.interval):
			if err := m.poll(); err != nil {
				m.logger.Error("Link lost", "error", err)
				return err
			}
		}
	}
}

// poll drains every pending lifecycle event without blocking.
func (m *Monitor) poll() error {
	for _, s := range m.sources {
		events := s.Notifier.Events()
	drain:
		for {
			select {
			case ev := <-events:
				if err := m.handle(s.Name, ev); err != nil {
					return err
				}
			default:
				break drain
			}
		}
	}
	return nil
}

func (m *Monitor) handle(name string, ev transport.Event) error {
	switch ev.Kind {
	case transport.EventConnected:
		m.set(name, Up)
		m.logger.Debug("Link up", "channel", name, "endpoint", ev.Endpoint)
		return nil
	case transport.EventDisconnected, transport.EventClosed:
		m.set(name, Down)
		if ev.Err != nil {
			return errs.Fatal(errs.ErrFatalLink, name, "monitor", "%s %s: %v", ev.Kind, ev.Endpoint, ev.Err)
		}
		return errs.Fatal(errs.ErrFatalLink, name, "monitor", "%s %s", ev.Kind, ev.Endpoint)
	}
	return nil
}

func (m *Monitor) set(name string, st State) {
	m.mu.Lock()
	m.status[name] = st
	m.mu.Unlock()
	m.metrics.SetLinkUp(name, st == Up)
}
