// Package zmq carries the command channel over a ZeroMQ REQ socket and the
// telemetry channel over a SUB socket, the native wire of a decide server.
package zmq

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-zeromq/zmq4"

	"github.com/mbocsi/scryer/errs"
	"github.com/mbocsi/scryer/transport"
)

const defaultRetry = 250 * time.Millisecond

type options struct {
	retry  time.Duration
	buffer int
	logger *slog.Logger
}

type Option func(*options)

// WithRetry sets the interval between dial attempts.
func WithRetry(d time.Duration) Option {
	return func(o *options) { o.retry = d }
}

// WithBuffer sets the number of publications held for Receive.
func WithBuffer(n int) Option {
	return func(o *options) { o.buffer = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{retry: defaultRetry, buffer: 1024, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Requester is a REQ socket. A REQ socket refuses to send until the previous
// reply arrives, so after a timed-out request the socket is closed and
// redialed before the next one.
type Requester struct {
	*transport.Lifecycle
	endpoint string
	opts     options
	ctx      context.Context

	mu     sync.Mutex
	sock   zmq4.Socket
	closed bool
}

// DialRequester connects a REQ socket to endpoint. ctx bounds the lifetime
// of the socket, not just the dial.
func DialRequester(ctx context.Context, endpoint string, opts ...Option) (*Requester, error) {
	r := &Requester{
		Lifecycle: transport.NewLifecycle("command"),
		endpoint:  endpoint,
		opts:      buildOptions(opts),
		ctx:       ctx,
	}
	sock, err := r.dial()
	if err != nil {
		return nil, err
	}
	r.sock = sock
	r.Emit(transport.EventConnected, endpoint, nil)
	r.opts.logger.Info("Command socket connected", "endpoint", endpoint)
	return r, nil
}

func (r *Requester) dial() (zmq4.Socket, error) {
	sock := zmq4.NewReq(r.ctx, zmq4.WithDialerRetry(r.opts.retry))
	if err := sock.Dial(r.endpoint); err != nil {
		sock.Close()
		return nil, errs.Transient(errs.ErrClosed, "", "dial", "%s: %v", r.endpoint, err)
	}
	return sock, nil
}

type recvResult struct {
	msg zmq4.Msg
	err error
}

func (r *Requester) Request(ctx context.Context, frames [][]byte) ([][]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errs.ErrClosed
	}

	if err := r.sock.SendMulti(zmq4.NewMsgFrom(frames...)); err != nil {
		r.fail(err)
		return nil, errs.Transient(errs.ErrClosed, "", "send", "%v", err)
	}

	done := make(chan recvResult, 1)
	sock := r.sock
	go func() {
		msg, err := sock.Recv()
		done <- recvResult{msg, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			r.fail(res.err)
			return nil, errs.Transient(errs.ErrClosed, "", "receive", "%v", res.err)
		}
		return res.msg.Frames, nil
	case <-ctx.Done():
		r.opts.logger.Warn("No reply, resetting command socket", "endpoint", r.endpoint, "error", ctx.Err())
		if err := r.reset(); err != nil {
			r.fail(err)
		}
		return nil, ctx.Err()
	}
}

// reset replaces the socket; the pending Recv on the old one fails and its
// late reply, if any, is lost with it.
func (r *Requester) reset() error {
	r.sock.Close()
	sock, err := r.dial()
	if err != nil {
		return err
	}
	r.sock = sock
	return nil
}

func (r *Requester) fail(err error) {
	r.opts.logger.Error("Command socket failed", "endpoint", r.endpoint, "error", err)
	r.Emit(transport.EventDisconnected, r.endpoint, err)
}

func (r *Requester) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.sock.Close()
	r.Emit(transport.EventClosed, r.endpoint, nil)
	return err
}

// Subscriber is a SUB socket. Publications are multipart with the topic in
// the first frame and the payload in the last.
type Subscriber struct {
	*transport.Lifecycle
	endpoint string
	sock     zmq4.Socket
	logger   *slog.Logger

	msgs    chan transport.Message
	done    chan struct{}
	once    sync.Once
	closing atomic.Bool
}

func DialSubscriber(ctx context.Context, endpoint string, opts ...Option) (*Subscriber, error) {
	o := buildOptions(opts)
	sock := zmq4.NewSub(ctx, zmq4.WithDialerRetry(o.retry))
	if err := sock.Dial(endpoint); err != nil {
		sock.Close()
		return nil, errs.Transient(errs.ErrClosed, "", "dial", "%s: %v", endpoint, err)
	}
	s := &Subscriber{
		Lifecycle: transport.NewLifecycle("telemetry"),
		endpoint:  endpoint,
		sock:      sock,
		logger:    o.logger,
		msgs:      make(chan transport.Message, o.buffer),
		done:      make(chan struct{}),
	}
	s.Emit(transport.EventConnected, endpoint, nil)
	s.logger.Info("Telemetry socket connected", "endpoint", endpoint)
	go s.read()
	return s, nil
}

func (s *Subscriber) read() {
	for {
		msg, err := s.sock.Recv()
		if err != nil {
			if s.closing.Load() {
				s.shutdown(transport.EventClosed, nil)
			} else {
				s.logger.Error("Telemetry socket failed", "endpoint", s.endpoint, "error", err)
				s.shutdown(transport.EventDisconnected, err)
			}
			return
		}
		if len(msg.Frames) < 2 {
			s.logger.Warn("Short publication", "frames", len(msg.Frames))
			continue
		}
		m := transport.Message{
			Topic:   string(msg.Frames[0]),
			Payload: msg.Frames[len(msg.Frames)-1],
		}
		select {
		case s.msgs <- m:
		case <-s.done:
			return
		}
	}
}

func (s *Subscriber) shutdown(kind transport.EventKind, err error) {
	s.once.Do(func() {
		s.Emit(kind, s.endpoint, err)
		close(s.done)
	})
}

func (s *Subscriber) Subscribe(prefix string) error {
	return s.sock.SetOption(zmq4.OptionSubscribe, prefix)
}

func (s *Subscriber) Unsubscribe(prefix string) error {
	return s.sock.SetOption(zmq4.OptionUnsubscribe, prefix)
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
	err := s.sock.Close()
	s.shutdown(transport.EventClosed, nil)
	return err
}

var (
	_ transport.Requester  = (*Requester)(nil)
	_ transport.Subscriber = (*Subscriber)(nil)
	_ transport.Notifier   = (*Requester)(nil)
	_ transport.Notifier   = (*Subscriber)(nil)
)
