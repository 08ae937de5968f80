package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/mbocsi/scryer/transport"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

const defaultMaxClients = 16

// CommandHandler serves the command channel. Requests on one connection are
// answered one at a time, in order.
func CommandHandler(h transport.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("Failed to upgrade connection", "error", err)
			return
		}
		defer conn.Close()
		slog.Info("Command client connected", "addr", r.RemoteAddr)

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
					slog.Warn("WebSocket connection error", "addr", r.RemoteAddr, "error", err)
				}
				break
			}
			frames, err := transport.DecodeMultipart(data)
			if err != nil {
				slog.Warn("Malformed request", "addr", r.RemoteAddr, "error", err)
				continue
			}
			reply, err := h(r.Context(), frames)
			if err != nil {
				slog.Warn("Request not answered", "addr", r.RemoteAddr, "error", err)
				continue
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, transport.EncodeMultipart(reply)); err != nil {
				slog.Warn("Failed to write reply", "addr", r.RemoteAddr, "error", err)
				break
			}
		}
		slog.Info("Command client disconnected", "addr", r.RemoteAddr)
	})
}

type peer struct {
	conn *websocket.Conn
	addr string

	mu       sync.Mutex
	prefixes map[string]struct{}
}

func (p *peer) matches(topic string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for prefix := range p.prefixes {
		if strings.HasPrefix(topic, prefix) {
			return true
		}
	}
	return false
}

// Hub serves the telemetry channel and fans publications out to the
// connected subscribers whose prefixes match.
type Hub struct {
	mu         sync.RWMutex
	peers      map[*peer]struct{}
	maxClients int
	wmu        sync.Mutex
}

func NewHub() *Hub {
	return &Hub{peers: make(map[*peer]struct{}), maxClients: defaultMaxClients}
}

func (h *Hub) SetMaxClients(n int) {
	h.mu.Lock()
	h.maxClients = n
	h.mu.Unlock()
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection", "error", err)
		return
	}

	p := &peer{conn: conn, addr: r.RemoteAddr, prefixes: make(map[string]struct{})}
	h.mu.Lock()
	if len(h.peers) >= h.maxClients {
		h.mu.Unlock()
		slog.Warn("Max clients reached, rejecting connection", "remote_addr", r.RemoteAddr)
		conn.Close()
		return
	}
	h.peers[p] = struct{}{}
	h.mu.Unlock()
	slog.Info("Telemetry client connected", "addr", r.RemoteAddr)

	defer func() {
		h.mu.Lock()
		delete(h.peers, p)
		h.mu.Unlock()
		conn.Close()
		slog.Info("Telemetry client disconnected", "addr", r.RemoteAddr)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var c Control
		if err := json.Unmarshal(data, &c); err != nil {
			slog.Warn("Invalid JSON message received", "error", err, "data", string(data))
			continue
		}
		p.mu.Lock()
		switch c.Op {
		case OpSubscribe:
			p.prefixes[c.Prefix] = struct{}{}
		case OpUnsubscribe:
			delete(p.prefixes, c.Prefix)
		default:
			slog.Warn("Unknown control op", "op", c.Op)
		}
		p.mu.Unlock()
		slog.Debug("Telemetry filter changed", "addr", r.RemoteAddr, "op", c.Op, "prefix", c.Prefix)
	}
}

// Publish sends one publication to every matching subscriber.
func (h *Hub) Publish(topic string, payload []byte) {
	data := transport.EncodeMultipart([][]byte{[]byte(topic), payload})
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.wmu.Lock()
	defer h.wmu.Unlock()
	for p := range h.peers {
		if !p.matches(topic) {
			continue
		}
		if err := p.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			slog.Warn("Failed to publish", "addr", p.addr, "topic", topic, "error", err)
		}
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for p := range h.peers {
		p.conn.Close()
	}
}
