package server

import (
	"log/slog"
	"sync"
)

// Publisher is one outbound telemetry transport: the in-memory bus, the
// WebSocket hub or a NATS connection.
type Publisher interface {
	Publish(topic string, payload []byte)
}

// Broker fans every state publication out to the attached publishers.
type Broker struct {
	mu   sync.RWMutex
	pubs []Publisher
}

func NewBroker() *Broker {
	return &Broker{}
}

func (b *Broker) Attach(p Publisher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pubs = append(b.pubs, p)
}

func (b *Broker) Publish(topic string, payload []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, p := range b.pubs {
		p.Publish(topic, payload)
	}
	slog.Debug("State published", "topic", topic, "publishers", len(b.pubs), "size", len(payload))
}
