// Package natsbus carries the decide channels over NATS for deployments where
// a bridge relays the server's sockets onto a message bus. Commands are NATS
// requests on <prefix>.command; a publication on topic state/<id> travels on
// subject <prefix>.state.<id>.
package natsbus

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mbocsi/scryer/errs"
	"github.com/mbocsi/scryer/transport"
)

const DefaultPrefix = "decide"

type Config struct {
	URL           string
	Name          string
	Prefix        string
	Token         string
	User          string
	Password      string
	MaxReconnects int
	ReconnectWait time.Duration
	// Buffer is the number of publications held for Receive.
	Buffer int
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 2 * time.Second
	}
	if c.Buffer <= 0 {
		c.Buffer = 1024
	}
	return c
}

// Subject maps a topic, or a topic prefix ending in '/', onto a subject.
// A prefix maps to a wildcard subscription.
func Subject(prefix, topic string) string {
	if topic == "" {
		return prefix + ".>"
	}
	s := prefix + "." + strings.ReplaceAll(strings.TrimSuffix(topic, "/"), "/", ".")
	if strings.HasSuffix(topic, "/") {
		s += ".>"
	}
	return s
}

// Topic is the inverse of Subject for concrete subjects.
func Topic(prefix, subject string) (string, bool) {
	rest, ok := strings.CutPrefix(subject, prefix+".")
	if !ok || rest == "" {
		return "", false
	}
	return strings.ReplaceAll(rest, ".", "/"), true
}

// Conn is one NATS connection shared by both channels.
type Conn struct {
	conn   *nats.Conn
	cfg    Config
	cmd    *transport.Lifecycle
	tel    *transport.Lifecycle
	logger *slog.Logger

	closed    chan struct{}
	closeOnce sync.Once
}

func Connect(ctx context.Context, cfg Config) (*Conn, error) {
	cfg = cfg.withDefaults()
	c := &Conn{
		cfg:    cfg,
		cmd:    transport.NewLifecycle("command"),
		tel:    transport.NewLifecycle("telemetry"),
		logger: slog.Default().With("component", "natsbus"),
		closed: make(chan struct{}),
	}

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
	}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}
	if cfg.User != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	done := make(chan error, 1)
	go func() {
		conn, err := nats.Connect(cfg.URL, opts...)
		if err == nil {
			c.conn = conn
		}
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			return nil, errs.Transient(errs.ErrClosed, "", "connect", "%s: %v", cfg.URL, err)
		}
	case <-ctx.Done():
		return nil, errs.Wrap(ctx.Err(), errs.ClassTransient, "", "connect")
	}

	c.logger.Info("Connected to NATS", "url", c.conn.ConnectedUrl())
	c.emit(transport.EventConnected, nil)
	return c, nil
}

func (c *Conn) emit(kind transport.EventKind, err error) {
	c.cmd.Emit(kind, c.cfg.URL, err)
	c.tel.Emit(kind, c.cfg.URL, err)
}

func (c *Conn) handleDisconnect(_ *nats.Conn, err error) {
	c.logger.Warn("NATS disconnected", "error", err)
	c.emit(transport.EventDisconnected, err)
}

func (c *Conn) handleReconnect(nc *nats.Conn) {
	c.logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
	c.emit(transport.EventConnected, nil)
}

func (c *Conn) handleClosed(_ *nats.Conn) {
	c.logger.Info("NATS connection closed")
	c.closeOnce.Do(func() { close(c.closed) })
	c.emit(transport.EventClosed, nil)
}

func (c *Conn) Close() error {
	if c.conn.IsClosed() {
		return nil
	}
	return c.conn.Drain()
}

// Requester returns the command channel of the connection.
func (c *Conn) Requester() *Requester {
	return &Requester{c: c}
}

// Subscriber returns the telemetry channel of the connection.
func (c *Conn) Subscriber() *Subscriber {
	return &Subscriber{
		c:    c,
		subs: make(map[string]*nats.Subscription),
		msgs: make(chan transport.Message, c.cfg.Buffer),
	}
}

// Serve answers command requests with h. It is the bridge side of Requester.
func (c *Conn) Serve(h transport.Handler) (*nats.Subscription, error) {
	return c.conn.Subscribe(Subject(c.cfg.Prefix, "command"), func(m *nats.Msg) {
		frames, err := transport.DecodeMultipart(m.Data)
		if err != nil {
			c.logger.Warn("Malformed request", "error", err)
			return
		}
		reply, err := h(context.Background(), frames)
		if err != nil {
			c.logger.Warn("Request not answered", "error", err)
			return
		}
		if err := m.Respond(transport.EncodeMultipart(reply)); err != nil {
			c.logger.Warn("Failed to respond", "error", err)
		}
	})
}

// Publish sends one publication. It is the bridge side of Subscriber.
func (c *Conn) Publish(topic string, payload []byte) {
	if err := c.conn.Publish(Subject(c.cfg.Prefix, topic), payload); err != nil {
		c.logger.Warn("Failed to publish", "topic", topic, "error", err)
	}
}

type Requester struct {
	c *Conn
}

func (r *Requester) Events() <-chan transport.Event { return r.c.cmd.Events() }

func (r *Requester) Request(ctx context.Context, frames [][]byte) ([][]byte, error) {
	msg, err := r.c.conn.RequestWithContext(ctx, Subject(r.c.cfg.Prefix, "command"), transport.EncodeMultipart(frames))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, nats.ErrConnectionClosed) {
			return nil, errs.ErrClosed
		}
		return nil, errs.Transient(errs.ErrClosed, "", "request", "%v", err)
	}
	out, err := transport.DecodeMultipart(msg.Data)
	if err != nil {
		return nil, errs.Wrap(err, errs.ClassInvalid, "", "receive")
	}
	return out, nil
}

// Close leaves the shared connection open; close the Conn instead.
func (r *Requester) Close() error { return nil }

type Subscriber struct {
	c *Conn

	mu   sync.Mutex
	subs map[string]*nats.Subscription
	msgs chan transport.Message
}

func (s *Subscriber) Events() <-chan transport.Event { return s.c.tel.Events() }

func (s *Subscriber) Subscribe(prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[prefix]; ok {
		return nil
	}
	sub, err := s.c.conn.Subscribe(Subject(s.c.cfg.Prefix, prefix), s.deliver)
	if err != nil {
		return errs.Transient(errs.ErrClosed, "", "subscribe", "%v", err)
	}
	s.subs[prefix] = sub
	return nil
}

func (s *Subscriber) deliver(m *nats.Msg) {
	topic, ok := Topic(s.c.cfg.Prefix, m.Subject)
	if !ok {
		return
	}
	select {
	case s.msgs <- transport.Message{Topic: topic, Payload: m.Data}:
	default:
		s.c.logger.Warn("Dropped publication for slow subscriber", "topic", topic)
	}
}

func (s *Subscriber) Unsubscribe(prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[prefix]
	if !ok {
		return nil
	}
	delete(s.subs, prefix)
	return sub.Unsubscribe()
}

func (s *Subscriber) Receive(ctx context.Context) (transport.Message, error) {
	select {
	case m := <-s.msgs:
		return m, nil
	default:
	}
	select {
	case m := <-s.msgs:
		return m, nil
	case <-s.c.closed:
		return transport.Message{}, errs.ErrClosed
	case <-ctx.Done():
		return transport.Message{}, ctx.Err()
	}
}

func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for prefix, sub := range s.subs {
		_ = sub.Unsubscribe()
		delete(s.subs, prefix)
	}
	return nil
}

var (
	_ transport.Requester  = (*Requester)(nil)
	_ transport.Subscriber = (*Subscriber)(nil)
	_ transport.Notifier   = (*Requester)(nil)
	_ transport.Notifier   = (*Subscriber)(nil)
)
