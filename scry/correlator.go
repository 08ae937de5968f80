// Package scry correlates telemetry with the callers waiting for it.
//
// One reader goroutine (Run) decodes every state publication and appends it
// to a single shared queue. Any number of callers may Await concurrently,
// each with a component filter and a predicate:
//
//   - the first queued event for a filtered component that satisfies the
//     predicate is removed and returned to that caller alone;
//   - an event for a filtered component that fails the predicate is dropped;
//   - events for other components stay queued for other callers.
//
// Matching is first come, first served. When two concurrent waiters could
// both accept an event, whichever scans it first consumes it; no ordering
// between waiters is promised.
package scry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mbocsi/scryer/component"
	"github.com/mbocsi/scryer/errs"
	"github.com/mbocsi/scryer/metrics"
	"github.com/mbocsi/scryer/proto"
	"github.com/mbocsi/scryer/transport"
)

// Event is one decoded state publication.
type Event struct {
	Component string
	Time      time.Time
	Received  time.Time
	State     component.Payload
}

// Result is the outcome of one Await. Event and Seq are zero unless Matched.
type Result struct {
	Matched bool
	Event   Event
	Elapsed time.Duration
	// Seq is the queue position of Event, usable as a Mark.
	Seq uint64
}

// Config sizes the shared queue.
type Config struct {
	// QueueSize bounds the shared queue; the oldest event is evicted when it
	// is full. Zero means DefaultQueueSize.
	QueueSize int
}

const DefaultQueueSize = 4096

// Correlator owns the telemetry subscriber and the queue its waiters share.
type Correlator struct {
	codec *proto.Codec
	sub   transport.Subscriber
	queue *queue

	mu         sync.RWMutex
	subscribed map[string]bool
	all        bool

	sinks   []Sink
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures a Correlator.
type Option func(*Correlator)

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Correlator) { c.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Correlator) { c.logger = l }
}

// WithSink registers a sink that sees every event before any waiter does.
func WithSink(s Sink) Option {
	return func(c *Correlator) { c.sinks = append(c.sinks, s) }
}

// New returns a Correlator reading sub. Nothing is received until Subscribe
// or SubscribeAll, and nothing is queued until Run.
func New(cfg Config, codec *proto.Codec, sub transport.Subscriber, opts ...Option) *Correlator {
	size := cfg.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	c := &Correlator{
		codec:      codec,
		sub:        sub,
		queue:      newQueue(size),
		subscribed: make(map[string]bool),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe starts receiving state publications of the named components,
// under their ids and every alias.
func (c *Correlator) Subscribe(names ...string) error {
	for _, name := range names {
		d, err := c.codec.Registry().Describe(name)
		if err != nil {
			return err
		}
		for _, n := range d.Names() {
			if err := c.sub.Subscribe(proto.StateTopic(n)); err != nil {
				return errs.Wrap(err, errs.ClassTransient, d.ID, "subscribe")
			}
		}
		c.mu.Lock()
		c.subscribed[d.ID] = true
		c.mu.Unlock()
		c.logger.Debug("Subscribed", "component", d.ID)
	}
	return nil
}

// SubscribeAll receives every state publication.
func (c *Correlator) SubscribeAll() error {
	if err := c.sub.Subscribe(proto.StatePrefix); err != nil {
		return errs.Wrap(err, errs.ClassTransient, "", "subscribe")
	}
	c.mu.Lock()
	c.all = true
	c.mu.Unlock()
	return nil
}

// Subscribed lists the component ids with an active subscription.
func (c *Correlator) Subscribed() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.all {
		return c.codec.Registry().IDs()
	}
	var out []string
	for _, id := range c.codec.Registry().IDs() {
		if c.subscribed[id] {
			out = append(out, id)
		}
	}
	return out
}

func (c *Correlator) isSubscribed(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.all || c.subscribed[id]
}

// Run reads the telemetry channel until ctx is done or the channel fails.
// Undecodable publications are logged and skipped.
func (c *Correlator) Run(ctx context.Context) error {
	c.logger.Info("Telemetry reader started")
	defer c.logger.Info("Telemetry reader stopped")
	for {
		msg, err := c.sub.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errs.Wrap(err, errs.ClassTransient, "", "receive")
		}
		c.ingest(msg)
	}
}

func (c *Correlator) ingest(msg transport.Message) {
	id, at, state, err := c.codec.DecodePublication(msg.Topic, msg.Payload)
	if err != nil {
		reason := "decode"
		switch {
		case errors.Is(err, errs.ErrBadTopic):
			reason = "bad_topic"
		case errors.Is(err, errs.ErrUnknownComponent):
			reason = "unknown_component"
		case errors.Is(err, errs.ErrTypeMismatch):
			reason = "type_mismatch"
		}
		c.metrics.RejectEvent(reason)
		c.logger.Warn("Dropping publication", "topic", msg.Topic, "size", len(msg.Payload), "error", err)
		return
	}
	ev := Event{Component: id, Time: at, Received: time.Now(), State: state}
	for _, s := range c.sinks {
		s.Observe(ev)
	}
	if old, evicted := c.queue.push(ev); evicted {
		c.metrics.RejectEvent("evicted")
		c.logger.Warn("Event queue full, evicted oldest", "component", old.Component, "received", old.Received)
	}
	c.metrics.ObserveEvent(id)
	c.metrics.SetQueueDepth(c.queue.len())
}

type awaitConfig struct {
	timeout   time.Duration
	onTimeout func(filter []string)
	after     uint64
}

type AwaitOption func(*awaitConfig)

// Timeout bounds the wait. Without it Await waits on ctx alone.
func Timeout(d time.Duration) AwaitOption {
	return func(ac *awaitConfig) { ac.timeout = d }
}

// OnTimeout is called with the filter when the timeout elapses unmatched.
func OnTimeout(fn func(filter []string)) AwaitOption {
	return func(ac *awaitConfig) { ac.onTimeout = fn }
}

// After restricts the wait to events queued later than mark. Older events
// are neither matched nor dropped.
func After(mark uint64) AwaitOption {
	return func(ac *awaitConfig) { ac.after = mark }
}

// Mark returns the position of the newest event seen so far. An Await with
// After(mark) ignores everything received up to now.
func (c *Correlator) Mark() uint64 {
	return c.queue.mark()
}

// Await blocks until an event for a component in filter satisfies pred, the
// timeout elapses, or ctx is done. A timeout is not an error: it returns
// Matched false with Elapsed equal to the timeout. A nil pred is Always.
func (c *Correlator) Await(ctx context.Context, filter []string, pred Predicate, opts ...AwaitOption) (Result, error) {
	var ac awaitConfig
	for _, opt := range opts {
		opt(&ac)
	}
	if pred == nil {
		pred = Always
	}
	if len(filter) == 0 {
		return Result{}, errs.Invalid(errs.ErrUnknownComponent, "", "await", "empty filter")
	}
	want := make(map[string]bool, len(filter))
	for _, name := range filter {
		d, err := c.codec.Registry().Describe(name)
		if err != nil {
			return Result{}, err
		}
		if !c.isSubscribed(d.ID) {
			return Result{}, errs.Invalid(errs.ErrUnsubscribedComponent, d.ID, "await", "")
		}
		want[d.ID] = true
	}

	waiterID := uuid.NewString()
	start := time.Now()
	var expired <-chan time.Time
	if ac.timeout > 0 {
		timer := time.NewTimer(ac.timeout)
		defer timer.Stop()
		expired = timer.C
	}
	c.logger.Debug("Awaiting", "waiter", waiterID, "filter", filter, "timeout", ac.timeout)

	cursor := ac.after
	for {
		entries, changed := c.queue.since(cursor)
		for _, e := range entries {
			cursor = e.seq
			if !want[e.ev.Component] {
				continue
			}
			if !pred(e.ev.State) {
				c.queue.take(e.seq)
				continue
			}
			if !c.queue.take(e.seq) {
				continue
			}
			elapsed := time.Since(start)
			c.metrics.ObserveAwait("matched")
			c.metrics.SetQueueDepth(c.queue.len())
			c.logger.Debug("Await matched", "waiter", waiterID, "component", e.ev.Component, "elapsed", elapsed)
			return Result{Matched: true, Event: e.ev, Elapsed: elapsed, Seq: e.seq}, nil
		}
		c.metrics.SetQueueDepth(c.queue.len())

		select {
		case <-changed:
		case <-expired:
			c.metrics.ObserveAwait("timeout")
			c.logger.Info("Await timed out", "waiter", waiterID, "filter", filter, "timeout", ac.timeout)
			if ac.onTimeout != nil {
				ac.onTimeout(filter)
			}
			return Result{Elapsed: ac.timeout}, nil
		case <-ctx.Done():
			c.metrics.ObserveAwait("cancelled")
			return Result{Elapsed: time.Since(start)}, errs.Wrap(ctx.Err(), errs.ClassTransient, "", "await")
		}
	}
}

// Purge discards every queued event and returns how many there were.
func (c *Correlator) Purge() int {
	n := c.queue.purge()
	c.metrics.SetQueueDepth(0)
	if n > 0 {
		c.logger.Debug("Purged event queue", "events", n)
	}
	return n
}

// Len reports the number of queued events.
func (c *Correlator) Len() int {
	return c.queue.len()
}

func (c *Correlator) Close() error {
	return c.sub.Close()
}
