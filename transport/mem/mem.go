// Package mem is an in-process transport: a Requester that calls a handler
// function directly and a Bus that fans publications out to subscribers.
// The simulator and the package tests run on it.
package mem

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/mbocsi/scryer/errs"
	"github.com/mbocsi/scryer/transport"
)

const endpoint = "mem://"

type Handler = transport.Handler

// Requester runs each request through a Handler.
type Requester struct {
	*transport.Lifecycle
	handler Handler

	mu     sync.Mutex
	closed bool
	err    error
}

func NewRequester(h Handler) *Requester {
	r := &Requester{Lifecycle: transport.NewLifecycle("command"), handler: h}
	r.Emit(transport.EventConnected, endpoint, nil)
	return r
}

// Request calls the handler in its own goroutine so that ctx expiry returns
// immediately; a reply produced after that is discarded.
func (r *Requester) Request(ctx context.Context, frames [][]byte) ([][]byte, error) {
	r.mu.Lock()
	if r.closed {
		err := r.err
		r.mu.Unlock()
		return nil, err
	}
	r.mu.Unlock()

	type result struct {
		frames [][]byte
		err    error
	}
	done := make(chan result, 1)
	go func() {
		out, err := r.handler(ctx, frames)
		done <- result{out, err}
	}()
	select {
	case res := <-done:
		return res.frames, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Drop simulates the peer going away.
func (r *Requester) Drop(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.err = errs.Transient(errs.ErrClosed, "", "request", "%v", err)
	r.Emit(transport.EventDisconnected, endpoint, err)
}

func (r *Requester) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.err = errs.ErrClosed
	r.Emit(transport.EventClosed, endpoint, nil)
	return nil
}

// Bus delivers every publication to the subscribers whose prefixes match.
type Bus struct {
	mu   sync.RWMutex
	subs map[*Subscriber]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscriber]struct{})}
}

// Publish never blocks; a subscriber whose buffer is full loses the message,
// as a ZeroMQ SUB socket past its high water mark would.
func (b *Bus) Publish(topic string, payload []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if !s.matches(topic) {
			continue
		}
		select {
		case s.ch <- transport.Message{Topic: topic, Payload: payload}:
		default:
			slog.Warn("Dropped publication for slow subscriber", "topic", topic)
		}
	}
}

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 1024

// Subscriber returns a new subscriber with no subscriptions.
func (b *Bus) Subscriber() *Subscriber {
	s := &Subscriber{
		Lifecycle: transport.NewLifecycle("telemetry"),
		bus:       b,
		prefixes:  make(map[string]struct{}),
		ch:        make(chan transport.Message, DefaultBuffer),
		done:      make(chan struct{}),
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	s.Emit(transport.EventConnected, endpoint, nil)
	return s
}

// DropAll simulates the publisher going away.
func (b *Bus) DropAll(err error) {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[*Subscriber]struct{})
	b.mu.Unlock()
	for s := range subs {
		s.shutdown(transport.EventDisconnected, err)
	}
}

type Subscriber struct {
	*transport.Lifecycle
	bus *Bus

	mu       sync.RWMutex
	prefixes map[string]struct{}
	ch       chan transport.Message
	done     chan struct{}
	once     sync.Once
}

func (s *Subscriber) matches(topic string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for p := range s.prefixes {
		if strings.HasPrefix(topic, p) {
			return true
		}
	}
	return false
}

func (s *Subscriber) Subscribe(prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefixes[prefix] = struct{}{}
	return nil
}

func (s *Subscriber) Unsubscribe(prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.prefixes, prefix)
	return nil
}

// Receive returns buffered messages before reporting closure.
func (s *Subscriber) Receive(ctx context.Context) (transport.Message, error) {
	select {
	case m := <-s.ch:
		return m, nil
	default:
	}
	select {
	case m := <-s.ch:
		return m, nil
	case <-s.done:
		return transport.Message{}, errs.ErrClosed
	case <-ctx.Done():
		return transport.Message{}, ctx.Err()
	}
}

func (s *Subscriber) Close() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
	s.shutdown(transport.EventClosed, nil)
	return nil
}

// shutdown records the lifecycle event before Receive starts failing.
func (s *Subscriber) shutdown(kind transport.EventKind, err error) {
	s.once.Do(func() {
		s.Emit(kind, endpoint, err)
		close(s.done)
	})
}
