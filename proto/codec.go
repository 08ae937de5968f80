// Package proto implements the decide wire format: typed payloads wrapped in
// protobuf Any envelopes, the multipart request frame, the Reply union and
// telemetry publications.
package proto

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/mbocsi/scryer/component"
	"github.com/mbocsi/scryer/errs"
)

// Request is one command before framing.
type Request struct {
	Opcode    Opcode
	Component string
	Body      *Envelope
}

// Codec encodes and decodes every message exchanged with a decide server.
// It is immutable after construction.
type Codec struct {
	registry *component.Registry
	payloads PayloadCodec
	version  string
	opcodes  OpcodeTable
	logger   *slog.Logger
}

type CodecOption func(*Codec)

// WithOpcodes replaces the default opcode numbering.
func WithOpcodes(t OpcodeTable) CodecOption {
	return func(c *Codec) { c.opcodes = t }
}

// WithPayloadCodec replaces the protobuf payload serialization.
func WithPayloadCodec(pc PayloadCodec) CodecOption {
	return func(c *Codec) { c.payloads = pc }
}

func WithLogger(l *slog.Logger) CodecOption {
	return func(c *Codec) { c.logger = l }
}

// NewCodec returns a codec speaking the given protocol version tag.
func NewCodec(registry *component.Registry, version string, opts ...CodecOption) *Codec {
	c := &Codec{
		registry: registry,
		payloads: Protobuf(),
		version:  version,
		opcodes:  DefaultOpcodes(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Codec) Registry() *component.Registry { return c.registry }
func (c *Codec) Version() string                { return c.version }

// Encode serializes p against the schema of name/meta.
func (c *Codec) Encode(name string, meta component.Meta, p component.Payload) (Envelope, error) {
	d, err := c.registry.Describe(name)
	if err != nil {
		return Envelope{}, err
	}
	if !d.Accepts(meta, p) {
		return Envelope{}, errs.Invalid(errs.ErrTypeMismatch, d.ID, "encode", "%s wants %s, got %T", meta, d.Tag(meta), p)
	}
	b, err := c.payloads.Marshal(p)
	if err != nil {
		return Envelope{}, errs.Invalid(errs.ErrTypeMismatch, d.ID, "encode", "%v", err)
	}
	return Envelope{TypeTag: d.Tag(meta), Payload: b}, nil
}

// Decode parses env into the schema of name/meta. The envelope's tag must be
// exactly the schema's tag.
func (c *Codec) Decode(name string, meta component.Meta, env Envelope) (component.Payload, error) {
	d, err := c.registry.Describe(name)
	if err != nil {
		return nil, err
	}
	if env.TypeTag != d.Tag(meta) {
		return nil, errs.Invalid(errs.ErrTypeMismatch, d.ID, "decode", "want %s, got %s", d.Tag(meta), env.TypeTag)
	}
	p := d.New(meta)
	if err := c.payloads.Unmarshal(env.Payload, p); err != nil {
		return nil, errs.Invalid(errs.ErrTypeMismatch, d.ID, "decode", "%s: %v", env.TypeTag, err)
	}
	return p, nil
}

// EncodeRequest frames req as
// [version][opcode][body][component name, component-scoped opcodes only].
func (c *Codec) EncodeRequest(req Request) ([][]byte, error) {
	op, err := c.opcodes.encode(req.Opcode)
	if err != nil {
		return nil, errs.Invalid(errs.ErrMalformedFrame, req.Component, "encode request", "%v", err)
	}
	var body []byte
	if req.Body != nil {
		if !req.Opcode.hasBody() {
			return nil, errs.Invalid(errs.ErrMalformedFrame, req.Component, "encode request", "%s takes no body", req.Opcode)
		}
		if body, err = wrapBody(*req.Body); err != nil {
			return nil, err
		}
	}
	frames := [][]byte{[]byte(c.version), op, body}
	if req.Opcode.Scoped() {
		if req.Component == "" {
			return nil, errs.Invalid(errs.ErrUnknownComponent, "", "encode request", "%s needs a component", req.Opcode)
		}
		frames = append(frames, []byte(req.Component))
	}
	return frames, nil
}

// DecodeRequest is the inverse of EncodeRequest. A version mismatch is
// reported through the returned version, not as an error.
func (c *Codec) DecodeRequest(frames [][]byte) (Request, string, error) {
	if len(frames) < 3 || len(frames) > 4 {
		return Request{}, "", errs.Invalid(errs.ErrMalformedFrame, "", "decode request", "%d frames", len(frames))
	}
	op, err := c.opcodes.decode(frames[1])
	if err != nil {
		return Request{}, "", errs.Invalid(errs.ErrMalformedFrame, "", "decode request", "%v", err)
	}
	req := Request{Opcode: op}
	if op.Scoped() {
		if len(frames) != 4 {
			return Request{}, "", errs.Invalid(errs.ErrMalformedFrame, "", "decode request", "%s without component", op)
		}
		req.Component = string(frames[3])
	}
	if len(frames[2]) > 0 {
		env, err := unwrapBody(frames[2])
		if err != nil {
			return Request{}, "", errs.Invalid(errs.ErrMalformedFrame, req.Component, "decode request", "body: %v", err)
		}
		req.Body = &env
	}
	return req, string(frames[0]), nil
}

// EncodeReply frames a reply as [version][Reply].
func (c *Codec) EncodeReply(r Reply) ([][]byte, error) {
	b, err := marshalReply(r)
	if err != nil {
		return nil, err
	}
	return [][]byte{[]byte(c.version), b}, nil
}

// DecodeReply strips the version token and parses the Reply union. A
// version other than ours is logged and otherwise ignored.
func (c *Codec) DecodeReply(frames [][]byte) (Reply, error) {
	if len(frames) < 2 {
		return Reply{}, errs.Invalid(errs.ErrMalformedFrame, "", "decode reply", "%d frames", len(frames))
	}
	version := string(frames[0])
	if version != c.version {
		c.logger.Warn("Reply version mismatch",
			"error", errs.ErrProtocolVersionMismatch,
			"want", c.version,
			"got", version,
		)
	}
	r, err := unmarshalReply(frames[len(frames)-1])
	if err != nil {
		return Reply{}, errs.Invalid(errs.ErrMalformedFrame, "", "decode reply", "%v", err)
	}
	r.Version = version
	return r, nil
}

// DecodePublication parses a telemetry message into the component id, the
// publication time and the typed state payload.
func (c *Codec) DecodePublication(topic string, payload []byte) (string, time.Time, component.Payload, error) {
	name, err := ParseTopic(topic)
	if err != nil {
		return "", time.Time{}, nil, err
	}
	d, err := c.registry.Describe(name)
	if err != nil {
		return "", time.Time{}, nil, err
	}
	pub, err := unmarshalPub(payload)
	if err != nil {
		return d.ID, time.Time{}, nil, errs.Invalid(errs.ErrMalformedFrame, d.ID, "decode pub", "%v", err)
	}
	state, err := c.Decode(d.ID, component.State, pub.Envelope)
	if err != nil {
		return d.ID, pub.Time, nil, err
	}
	return d.ID, pub.Time, state, nil
}

// EncodePublication builds the topic and payload of a state publication.
func (c *Codec) EncodePublication(name string, at time.Time, state component.Payload) (string, []byte, error) {
	d, err := c.registry.Describe(name)
	if err != nil {
		return "", nil, err
	}
	env, err := c.Encode(d.ID, component.State, state)
	if err != nil {
		return "", nil, err
	}
	b, err := marshalPub(Pub{Time: at, Envelope: env})
	if err != nil {
		return "", nil, fmt.Errorf("pub: %w", err)
	}
	return StateTopic(d.ID), b, nil
}
