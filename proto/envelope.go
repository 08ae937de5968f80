package proto

import (
	"fmt"

	gproto "google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
)

// Envelope pairs a type tag with serialized payload bytes. On the wire it is
// a google.protobuf.Any whose type_url is the bare tag ("sm_state"), as the
// decide server writes it.
type Envelope struct {
	TypeTag string
	Payload []byte
}

func (e Envelope) any() *anypb.Any {
	return &anypb.Any{TypeUrl: e.TypeTag, Value: e.Payload}
}

// Marshal serializes the envelope as a protobuf Any.
func (e Envelope) Marshal() ([]byte, error) {
	return gproto.MarshalOptions{Deterministic: true}.Marshal(e.any())
}

// UnmarshalEnvelope parses a protobuf Any.
func UnmarshalEnvelope(b []byte) (Envelope, error) {
	var a anypb.Any
	if err := gproto.Unmarshal(b, &a); err != nil {
		return Envelope{}, fmt.Errorf("envelope: %w", err)
	}
	return envelopeFrom(&a), nil
}

func envelopeFrom(a *anypb.Any) Envelope {
	if a == nil {
		return Envelope{}
	}
	return Envelope{TypeTag: a.GetTypeUrl(), Payload: a.GetValue()}
}

func (e Envelope) String() string {
	return fmt.Sprintf("%s(%d bytes)", e.TypeTag, len(e.Payload))
}
