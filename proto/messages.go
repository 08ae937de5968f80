package proto

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
	gproto "google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Field numbers of the decide.proto messages.
const (
	replyOK     protowire.Number = 1
	replyError  protowire.Number = 2
	replyParams protowire.Number = 3
	replyState  protowire.Number = 4

	pubTime  protowire.Number = 1
	pubState protowire.Number = 2

	// StateChange.state and ComponentParams.parameters
	bodyEnvelope protowire.Number = 1
)

// ReplyKind discriminates the Reply union.
type ReplyKind int

const (
	ReplyOK ReplyKind = iota
	ReplyError
	ReplyParams
	ReplyState
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyOK:
		return "ok"
	case ReplyError:
		return "error"
	case ReplyParams:
		return "params"
	case ReplyState:
		return "state"
	}
	return fmt.Sprintf("ReplyKind(%d)", int(k))
}

// Reply is the server's answer to one request.
type Reply struct {
	Version  string
	Kind     ReplyKind
	Error    string
	Envelope Envelope
}

func marshalReply(r Reply) ([]byte, error) {
	var b []byte
	switch r.Kind {
	case ReplyOK:
		b = protowire.AppendTag(b, replyOK, protowire.BytesType)
		b = protowire.AppendBytes(b, nil)
	case ReplyError:
		b = protowire.AppendTag(b, replyError, protowire.BytesType)
		b = protowire.AppendString(b, r.Error)
	case ReplyParams, ReplyState:
		env, err := r.Envelope.Marshal()
		if err != nil {
			return nil, err
		}
		num := replyParams
		if r.Kind == ReplyState {
			num = replyState
		}
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendBytes(b, env)
	default:
		return nil, fmt.Errorf("reply: unknown kind %d", r.Kind)
	}
	return b, nil
}

func unmarshalReply(b []byte) (Reply, error) {
	var (
		r   Reply
		set bool
	)
	err := eachField(b, func(num protowire.Number, v []byte) error {
		switch num {
		case replyOK:
			r = Reply{Kind: ReplyOK}
		case replyError:
			r = Reply{Kind: ReplyError, Error: string(v)}
		case replyParams, replyState:
			env, err := UnmarshalEnvelope(v)
			if err != nil {
				return err
			}
			r = Reply{Kind: ReplyParams, Envelope: env}
			if num == replyState {
				r.Kind = ReplyState
			}
		default:
			return nil
		}
		set = true
		return nil
	})
	if err != nil {
		return Reply{}, fmt.Errorf("reply: %w", err)
	}
	if !set {
		return Reply{}, fmt.Errorf("reply: no result set")
	}
	return r, nil
}

// Pub is one telemetry publication.
type Pub struct {
	Time     time.Time
	Envelope Envelope
}

func marshalPub(p Pub) ([]byte, error) {
	ts, err := gproto.Marshal(timestamppb.New(p.Time))
	if err != nil {
		return nil, err
	}
	env, err := p.Envelope.Marshal()
	if err != nil {
		return nil, err
	}
	var b []byte
	b = protowire.AppendTag(b, pubTime, protowire.BytesType)
	b = protowire.AppendBytes(b, ts)
	b = protowire.AppendTag(b, pubState, protowire.BytesType)
	b = protowire.AppendBytes(b, env)
	return b, nil
}

func unmarshalPub(b []byte) (Pub, error) {
	var p Pub
	err := eachField(b, func(num protowire.Number, v []byte) error {
		switch num {
		case pubTime:
			var ts timestamppb.Timestamp
			if err := gproto.Unmarshal(v, &ts); err != nil {
				return err
			}
			p.Time = ts.AsTime()
		case pubState:
			var a anypb.Any
			if err := gproto.Unmarshal(v, &a); err != nil {
				return err
			}
			p.Envelope = envelopeFrom(&a)
		}
		return nil
	})
	if err != nil {
		return Pub{}, fmt.Errorf("pub: %w", err)
	}
	return p, nil
}

// wrapBody builds StateChange{state} or ComponentParams{parameters}; both
// carry the envelope as field 1.
func wrapBody(env Envelope) ([]byte, error) {
	raw, err := env.Marshal()
	if err != nil {
		return nil, err
	}
	b := protowire.AppendTag(nil, bodyEnvelope, protowire.BytesType)
	return protowire.AppendBytes(b, raw), nil
}

func unwrapBody(b []byte) (Envelope, error) {
	var env Envelope
	err := eachField(b, func(num protowire.Number, v []byte) error {
		if num != bodyEnvelope {
			return nil
		}
		var err error
		env, err = UnmarshalEnvelope(v)
		return err
	})
	return env, err
}

// eachField walks the length-delimited fields of a message, skipping others.
func eachField(b []byte, fn func(protowire.Number, []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if err := fn(num, v); err != nil {
			return err
		}
	}
	return nil
}
