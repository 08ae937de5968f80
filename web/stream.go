package web

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/mbocsi/scryer/component"
	"github.com/mbocsi/scryer/scry"
	"github.com/mbocsi/scryer/services"
)

const streamBuffer = 64

// Stream is a scry.Sink that forwards every event to connected Server-Sent
// Events clients. A client that falls behind loses events rather than
// stalling the reader.
type Stream struct {
	mu      sync.RWMutex
	clients map[*sseClient]struct{}
	logger  *slog.Logger
}

type sseClient struct {
	events chan *services.EventInfo
	filter string
}

func NewStream(logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{clients: make(map[*sseClient]struct{}), logger: logger}
}

// Observe implements scry.Sink.
func (s *Stream) Observe(ev scry.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.clients) == 0 {
		return
	}
	info := &services.EventInfo{
		Component: ev.Component,
		Time:      ev.Time,
		Received:  ev.Received,
		State:     component.Values(ev.State),
	}
	for c := range s.clients {
		if c.filter != "" && c.filter != ev.Component {
			continue
		}
		select {
		case c.events <- info:
		default:
			s.logger.Warn("SSE client behind, dropping event", "component", ev.Component)
		}
	}
}

func (s *Stream) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Stream) add(c *sseClient) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Stream) remove(c *sseClient) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

// ServeHTTP streams events until the client goes away. The component query
// parameter restricts the stream to one canonical component id.
func (s *Stream) ServeHTTP(wr http.ResponseWriter, r *http.Request) {
	flusher, ok := wr.(http.Flusher)
	if !ok {
		http.Error(wr, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	wr.Header().Set("Content-Type", "text/event-stream")
	wr.Header().Set("Cache-Control", "no-cache")
	wr.Header().Set("Connection", "keep-alive")

	c := &sseClient{events: make(chan *services.EventInfo, streamBuffer), filter: r.URL.Query().Get("component")}
	s.add(c)
	defer s.remove(c)

	fmt.Fprint(wr, "event: connected\ndata: {}\n\n")
	flusher.Flush()

	for {
		select {
		case info := <-c.events:
			data, err := json.Marshal(info)
			if err != nil {
				s.logger.Error("Failed to encode event", "component", info.Component, "error", err)
				continue
			}
			if _, err := fmt.Fprintf(wr, "event: state\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
