package proto

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/mbocsi/scryer/component"
	"github.com/mbocsi/scryer/errs"
)

// Opcode names a request type independently of its wire value.
type Opcode int

const (
	ChangeState Opcode = iota
	ResetState
	SetParameters
	GetParameters
	ComponentShutdown
	RequestLock
	ReleaseLock
	Shutdown
)

var opcodeNames = map[Opcode]string{
	ChangeState:       "ChangeState",
	ResetState:        "ResetState",
	SetParameters:     "SetParameters",
	GetParameters:     "GetParameters",
	ComponentShutdown: "ComponentShutdown",
	RequestLock:       "RequestLock",
	ReleaseLock:       "ReleaseLock",
	Shutdown:          "Shutdown",
}

func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("Opcode(%d)", int(op))
}

// ParseOpcode accepts the opcode name, case-insensitively.
func ParseOpcode(s string) (Opcode, error) {
	for op, name := range opcodeNames {
		if strings.EqualFold(name, s) {
			return op, nil
		}
	}
	return 0, fmt.Errorf("unknown opcode %q", s)
}

// Opcodes lists every opcode in declaration order.
func Opcodes() []Opcode {
	return []Opcode{ChangeState, ResetState, SetParameters, GetParameters,
		ComponentShutdown, RequestLock, ReleaseLock, Shutdown}
}

// Scoped reports whether the request names a component.
func (op Opcode) Scoped() bool {
	switch op {
	case ChangeState, ResetState, SetParameters, GetParameters, ComponentShutdown:
		return true
	}
	return false
}

// Meta is the schema a request body and its reply payload are encoded
// against. State requests use the state schema, parameter requests the
// params schema.
func (op Opcode) Meta() component.Meta {
	switch op {
	case SetParameters, GetParameters:
		return component.Params
	}
	return component.State
}

// hasBody reports whether the request carries an encoded envelope.
func (op Opcode) hasBody() bool {
	switch op {
	case ChangeState, SetParameters, GetParameters:
		return true
	}
	return false
}

// OpcodeTable maps opcodes to their 16-bit wire values.
type OpcodeTable struct {
	Values map[Opcode]uint16
	Order  binary.ByteOrder
}

// DefaultOpcodes is the numbering spoken by current decide-rs builds.
func DefaultOpcodes() OpcodeTable {
	return OpcodeTable{
		Values: map[Opcode]uint16{
			ChangeState:       0x00,
			ResetState:        0x01,
			SetParameters:     0x02,
			GetParameters:     0x12,
			ComponentShutdown: 0x13,
			RequestLock:       0x20,
			ReleaseLock:       0x21,
			Shutdown:          0x22,
		},
		Order: binary.LittleEndian,
	}
}

// WithOverrides returns a copy of t with the named opcodes renumbered.
func (t OpcodeTable) WithOverrides(values map[string]uint16, order string) (OpcodeTable, error) {
	out := OpcodeTable{Values: make(map[Opcode]uint16, len(t.Values)), Order: t.Order}
	for op, v := range t.Values {
		out.Values[op] = v
	}
	for name, v := range values {
		op, err := ParseOpcode(name)
		if err != nil {
			return OpcodeTable{}, errs.Invalid(errs.ErrInvalidConfig, "", "opcodes", "%v", err)
		}
		out.Values[op] = v
	}
	switch strings.ToLower(order) {
	case "":
	case "little", "little_endian", "le":
		out.Order = binary.LittleEndian
	case "big", "big_endian", "be":
		out.Order = binary.BigEndian
	default:
		return OpcodeTable{}, errs.Invalid(errs.ErrInvalidConfig, "", "opcodes", "unknown byte order %q", order)
	}
	seen := make(map[uint16]Opcode, len(out.Values))
	for op, v := range out.Values {
		if prev, dup := seen[v]; dup {
			return OpcodeTable{}, errs.Invalid(errs.ErrInvalidConfig, "", "opcodes", "%s and %s share value %#x", prev, op, v)
		}
		seen[v] = op
	}
	return out, nil
}

func (t OpcodeTable) encode(op Opcode) ([]byte, error) {
	v, ok := t.Values[op]
	if !ok {
		return nil, fmt.Errorf("no wire value for %s", op)
	}
	b := make([]byte, 2)
	t.Order.PutUint16(b, v)
	return b, nil
}

func (t OpcodeTable) decode(b []byte) (Opcode, error) {
	if len(b) != 2 {
		return 0, fmt.Errorf("opcode frame has %d bytes", len(b))
	}
	v := t.Order.Uint16(b)
	for op, want := range t.Values {
		if want == v {
			return op, nil
		}
	}
	return 0, fmt.Errorf("unknown opcode value %#x", v)
}
