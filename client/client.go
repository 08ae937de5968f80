// Package client is the command side of a decide connection: one request
// in flight at a time, typed replies.
package client

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mbocsi/scryer/component"
	"github.com/mbocsi/scryer/errs"
	"github.com/mbocsi/scryer/metrics"
	"github.com/mbocsi/scryer/proto"
	"github.com/mbocsi/scryer/transport"
)

// Config holds the client settings read from configuration.
type Config struct {
	// Timeout bounds each exchange unless overridden per call. Zero waits
	// for as long as the caller's context allows.
	Timeout time.Duration
}

// Client sends commands over a Requester. Concurrent calls queue for the
// single slot and go on the wire one at a time.
type Client struct {
	codec   *proto.Codec
	cmd     transport.Requester
	timeout time.Duration
	slot    chan struct{}

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option customizes a Client built by New.
type Option func(*Client)

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New returns a client that encodes with codec and sends on cmd. It logs to
// slog.Default unless WithLogger says otherwise.
func New(cfg Config, codec *proto.Codec, cmd transport.Requester, opts ...Option) *Client {
	c := &Client{
		codec:   codec,
		cmd:     cmd,
		timeout: cfg.Timeout,
		slot:    make(chan struct{}, 1),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type callConfig struct {
	timeout time.Duration
}

type CallOption func(*callConfig)

// WithTimeout overrides the configured timeout for one call; zero disables it.
func WithTimeout(d time.Duration) CallOption {
	return func(cc *callConfig) { cc.timeout = d }
}

// Command sends one request and decodes its reply. An ok reply returns a nil
// payload; an error reply returns an *errs.ServerError; params and state
// replies return the typed payload. No reply within the timeout is
// errs.ErrTimedOut.
func (c *Client) Command(ctx context.Context, op proto.Opcode, name string, body component.Payload, opts ...CallOption) (component.Payload, error) {
	cc := callConfig{timeout: c.timeout}
	for _, opt := range opts {
		opt(&cc)
	}

	req := proto.Request{Opcode: op}
	if op.Scoped() {
		d, err := c.codec.Registry().Describe(name)
		if err != nil {
			return nil, err
		}
		req.Component = d.ID
		if body != nil {
			env, err := c.codec.Encode(d.ID, op.Meta(), body)
			if err != nil {
				return nil, err
			}
			req.Body = &env
		}
	} else if name != "" || body != nil {
		return nil, errs.Invalid(errs.ErrMalformedFrame, name, op.String(), "takes neither component nor body")
	}
	frames, err := c.codec.EncodeRequest(req)
	if err != nil {
		return nil, err
	}

	select {
	case c.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, errs.Wrap(ctx.Err(), errs.ClassTransient, req.Component, op.String())
	}
	defer func() { <-c.slot }()

	callCtx := ctx
	if cc.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, cc.timeout)
		defer cancel()
	}

	requestID := uuid.NewString()
	start := time.Now()
	c.logger.Debug("Sending command", "request_id", requestID, "opcode", op, "component", req.Component)

	raw, err := c.cmd.Request(callCtx, frames)
	elapsed := time.Since(start)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			c.observe(op, "cancelled", elapsed)
			return nil, errs.Wrap(ctx.Err(), errs.ClassTransient, req.Component, op.String())
		case errors.Is(err, context.DeadlineExceeded):
			c.observe(op, "timed_out", elapsed)
			c.logger.Warn("Command timed out", "request_id", requestID, "opcode", op, "component", req.Component, "timeout", cc.timeout)
			return nil, errs.Transient(errs.ErrTimedOut, req.Component, op.String(), "no reply within %s", cc.timeout)
		default:
			c.observe(op, "failed", elapsed)
			return nil, errs.Wrap(err, errs.ClassTransient, req.Component, op.String())
		}
	}

	reply, err := c.codec.DecodeReply(raw)
	if err != nil {
		c.observe(op, "failed", elapsed)
		return nil, err
	}
	c.logger.Debug("Reply received", "request_id", requestID, "result", reply.Kind, "elapsed", elapsed)

	switch reply.Kind {
	case proto.ReplyOK:
		c.observe(op, "ok", elapsed)
		return nil, nil
	case proto.ReplyError:
		c.observe(op, "server_error", elapsed)
		return nil, &errs.ServerError{Component: req.Component, Message: reply.Error}
	}

	meta := component.State
	if reply.Kind == proto.ReplyParams {
		meta = component.Params
	}
	if req.Component == "" {
		c.observe(op, "failed", elapsed)
		return nil, errs.Invalid(errs.ErrMalformedFrame, "", op.String(), "%s reply to a global request", reply.Kind)
	}
	p, err := c.codec.Decode(req.Component, meta, reply.Envelope)
	if err != nil {
		c.observe(op, "failed", elapsed)
		return nil, err
	}
	c.observe(op, "ok", elapsed)
	return p, nil
}

func (c *Client) observe(op proto.Opcode, result string, d time.Duration) {
	c.metrics.ObserveCommand(op.String(), result, d)
}

// ChangeState asks the component to enter state.
func (c *Client) ChangeState(ctx context.Context, name string, state component.Payload, opts ...CallOption) error {
	_, err := c.Command(ctx, proto.ChangeState, name, state, opts...)
	return err
}

func (c *Client) ResetState(ctx context.Context, name string, opts ...CallOption) error {
	_, err := c.Command(ctx, proto.ResetState, name, nil, opts...)
	return err
}

func (c *Client) SetParameters(ctx context.Context, name string, params component.Payload, opts ...CallOption) error {
	_, err := c.Command(ctx, proto.SetParameters, name, params, opts...)
	return err
}

// GetParameters returns the component's current parameters. The request
// carries a default params body, which current servers expect.
func (c *Client) GetParameters(ctx context.Context, name string, opts ...CallOption) (component.Payload, error) {
	d, err := c.codec.Registry().Describe(name)
	if err != nil {
		return nil, err
	}
	p, err := c.Command(ctx, proto.GetParameters, d.ID, d.Default(component.Params), opts...)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errs.Invalid(errs.ErrMalformedFrame, d.ID, proto.GetParameters.String(), "reply carried no parameters")
	}
	return p, nil
}

func (c *Client) ComponentShutdown(ctx context.Context, name string, opts ...CallOption) error {
	_, err := c.Command(ctx, proto.ComponentShutdown, name, nil, opts...)
	return err
}

func (c *Client) RequestLock(ctx context.Context, opts ...CallOption) error {
	_, err := c.Command(ctx, proto.RequestLock, "", nil, opts...)
	return err
}

func (c *Client) ReleaseLock(ctx context.Context, opts ...CallOption) error {
	_, err := c.Command(ctx, proto.ReleaseLock, "", nil, opts...)
	return err
}

func (c *Client) Shutdown(ctx context.Context, opts ...CallOption) error {
	_, err := c.Command(ctx, proto.Shutdown, "", nil, opts...)
	return err
}

// Registry exposes the component table the client encodes against.
func (c *Client) Registry() *component.Registry {
	return c.codec.Registry()
}

func (c *Client) Close() error {
	return c.cmd.Close()
}
