// Package ws carries both decide channels over WebSocket connections: one
// connection per channel, binary messages holding multipart frames. The
// simulator serves it, and bridges that cannot reach a ZeroMQ socket use it.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/mbocsi/scryer/errs"
	"github.com/mbocsi/scryer/transport"
)

const (
	CommandPath   = "/command"
	TelemetryPath = "/telemetry"
)

// Control is the text message a subscriber sends to change its topic
// filter.
type Control struct {
	Op     string `json:"op"`
	Prefix string `json:"prefix"`
}

const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
)

// Endpoint turns addr into the WebSocket URL of one channel. A bare host,
// tcp:// and http:// addresses are accepted.
func Endpoint(addr, path string) (string, error) {
	if !strings.Contains(addr, "://") {
		addr = "ws://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("invalid WebSocket URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "tcp", "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = path
	}
	return u.String(), nil
}

func dial(ctx context.Context, addr, path string) (*websocket.Conn, string, error) {
	endpoint, err := Endpoint(addr, path)
	if err != nil {
		return nil, "", errs.Invalid(errs.ErrInvalidConfig, "", "dial", "%v", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, "", errs.Transient(errs.ErrClosed, "", "dial", "%s: %v", endpoint, err)
	}
	return conn, endpoint, nil
}

// Requester is the command connection. Replies arrive in request order, so a
// reply to a request the caller abandoned is recognised by counting and
// discarded.
type Requester struct {
	*transport.Lifecycle
	conn     *websocket.Conn
	endpoint string
	logger   *slog.Logger

	mu      sync.Mutex
	wmu     sync.Mutex
	stale   int
	replies chan []byte
	done    chan struct{}
	once    sync.Once
	err     error
	closing atomic.Bool
}

func DialRequester(ctx context.Context, addr string) (*Requester, error) {
	conn, endpoint, err := dial(ctx, addr, CommandPath)
	if err != nil {
		return nil, err
	}
	r := &Requester{
		Lifecycle: transport.NewLifecycle("command"),
		conn:      conn,
		endpoint:  endpoint,
		logger:    slog.Default(),
		replies:   make(chan []byte, 1),
		done:      make(chan struct{}),
	}
	r.Emit(transport.EventConnected, endpoint, nil)
	slog.Info("Command connection open", "endpoint", endpoint)
	go r.read()
	return r, nil
}

func (r *Requester) read() {
	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			r.shutdown(err)
			return
		}
		select {
		case r.replies <- data:
		case <-r.done:
			return
		}
	}
}

func (r *Requester) shutdown(err error) {
	r.once.Do(func() {
		r.err = err
		defer close(r.done)
		if r.closing.Load() {
			r.Emit(transport.EventClosed, r.endpoint, nil)
			return
		}
		if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure) {
			r.logger.Warn("WebSocket connection error", "endpoint", r.endpoint, "error", err)
		}
		r.Emit(transport.EventDisconnected, r.endpoint, err)
	})
}

func (r *Requester) Request(ctx context.Context, frames [][]byte) ([][]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.done:
		return nil, errs.Transient(errs.ErrClosed, "", "request", "%v", r.err)
	default:
	}

	r.wmu.Lock()
	err := r.conn.WriteMessage(websocket.BinaryMessage, transport.EncodeMultipart(frames))
	r.wmu.Unlock()
	if err != nil {
		return nil, errs.Transient(errs.ErrClosed, "", "send", "%v", err)
	}
	for {
		select {
		case data := <-r.replies:
			if r.stale > 0 {
				r.stale--
				r.logger.Debug("Discarded late reply", "endpoint", r.endpoint, "pending", r.stale)
				continue
			}
			out, err := transport.DecodeMultipart(data)
			if err != nil {
				return nil, errs.Wrap(err, errs.ClassInvalid, "", "receive")
			}
			return out, nil
		case <-r.done:
			return nil, errs.Transient(errs.ErrClosed, "", "receive", "%v", r.err)
		case <-ctx.Done():
			r.stale++
			return nil, ctx.Err()
		}
	}
}

func (r *Requester) Close() error {
	if !r.closing.CompareAndSwap(false, true) {
		return nil
	}
	r.wmu.Lock()
	err := r.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	r.wmu.Unlock()
	if err != nil {
		r.logger.Warn("Failed to send close message", "error", err)
	}
	err = r.conn.Close()
	r.shutdown(errs.ErrClosed)
	return err
}

// Subscriber is the telemetry connection.
type Subscriber struct {
	*transport.Lifecycle
	conn     *websocket.Conn
	endpoint string
	logger   *slog.Logger

	wmu     sync.Mutex
	msgs    chan transport.Message
	done    chan struct{}
	once    sync.Once
	closing atomic.Bool
}

func DialSubscriber(ctx context.Context, addr string) (*Subscriber, error) {
	conn, endpoint, err := dial(ctx, addr, TelemetryPath)
	if err != nil {
		return nil, err
	}
	s := &Subscriber{
		Lifecycle: transport.NewLifecycle("telemetry"),
		conn:      conn,
		endpoint:  endpoint,
		logger:    slog.Default(),
		msgs:      make(chan transport.Message, 1024),
		done:      make(chan struct{}),
	}
	s.Emit(transport.EventConnected, endpoint, nil)
	slog.Info("Telemetry connection open", "endpoint", endpoint)
	go s.read()
	return s, nil
}

func (s *Subscriber) read() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.shutdown(err)
			return
		}
		frames, err := transport.DecodeMultipart(data)
		if err != nil || len(frames) < 2 {
			s.logger.Warn("Malformed publication", "size", len(data), "error", err)
			continue
		}
		m := transport.Message{Topic: string(frames[0]), Payload: frames[len(frames)-1]}
		select {
		case s.msgs <- m:
		case <-s.done:
			return
		}
	}
}

func (s *Subscriber) shutdown(err error) {
	s.once.Do(func() {
		defer close(s.done)
		if s.closing.Load() {
			s.Emit(transport.EventClosed, s.endpoint, nil)
			return
		}
		s.logger.Warn("Telemetry connection lost", "endpoint", s.endpoint, "error", err)
		s.Emit(transport.EventDisconnected, s.endpoint, err)
	})
}

func (s *Subscriber) control(op, prefix string) error {
	data, err := json.Marshal(Control{Op: op, Prefix: prefix})
	if err != nil {
		return err
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errs.Transient(errs.ErrClosed, "", op, "%v", err)
	}
	return nil
}

func (s *Subscriber) Subscribe(prefix string) error   { return s.control(OpSubscribe, prefix) }
func (s *Subscriber) Unsubscribe(prefix string) error { return s.control(OpUnsubscribe, prefix) }

func (s *Subscriber) Receive(ctx context.Context) (transport.Message, error) {
	select {
	case m := <-s.msgs:
		return m, nil
	default:
	}
	select {
	case m := <-s.msgs:
		return m, nil
	case <-s.done:
		return transport.Message{}, errs.ErrClosed
	case <-ctx.Done():
		return transport.Message{}, ctx.Err()
	}
}

func (s *Subscriber) Close() error {
	if !s.closing.CompareAndSwap(false, true) {
		return nil
	}
	s.wmu.Lock()
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.wmu.Unlock()
	err := s.conn.Close()
	s.shutdown(errs.ErrClosed)
	return err
}

var (
	_ transport.Requester  = (*Requester)(nil)
	_ transport.Subscriber = (*Subscriber)(nil)
)
