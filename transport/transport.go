// Package transport declares the two channels a decide client talks over and
// the lifecycle notifications they emit. Implementations live in the
// subpackages (zmq, ws, natsbus, mem).
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Message is one telemetry publication as it comes off the wire.
type Message struct {
	Topic   string
	Payload []byte
}

// Requester is the command channel: a request/reply exchange of multipart
// frames. Implementations must leave themselves usable for the next request
// after ctx expires mid-exchange, by draining or discarding the late reply.
type Requester interface {
	Request(ctx context.Context, frames [][]byte) ([][]byte, error)
	Close() error
}

// Handler answers one request on the serving side of a command channel.
type Handler func(ctx context.Context, frames [][]byte) ([][]byte, error)

// Subscriber is the telemetry channel, filtered by topic prefix.
type Subscriber interface {
	Subscribe(prefix string) error
	Unsubscribe(prefix string) error
	Receive(ctx context.Context) (Message, error)
	Close() error
}

// Notifier exposes connection lifecycle events.
type Notifier interface {
	Events() <-chan Event
}

type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventClosed:
		return "closed"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is one connection lifecycle change of a channel.
type Event struct {
	Channel  string
	Kind     EventKind
	Endpoint string
	Err      error
	At       time.Time
}

// Lifecycle is a bounded event queue embedded by channel implementations.
// When full, the oldest event is discarded so the newest state always
// reaches the monitor.
type Lifecycle struct {
	channel string
	ch      chan Event
}

const lifecycleBuffer = 16

func NewLifecycle(channel string) *Lifecycle {
	return &Lifecycle{channel: channel, ch: make(chan Event, lifecycleBuffer)}
}

func (l *Lifecycle) Events() <-chan Event { return l.ch }

// Emit records an event without blocking.
func (l *Lifecycle) Emit(kind EventKind, endpoint string, err error) {
	ev := Event{Channel: l.channel, Kind: kind, Endpoint: endpoint, Err: err, At: time.Now()}
	slog.Debug("Channel lifecycle", "channel", l.channel, "event", kind, "endpoint", endpoint, "error", err)
	for {
		select {
		case l.ch <- ev:
			return
		default:
		}
		select {
		case <-l.ch:
		default:
		}
	}
}
