package proto

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/mbocsi/scryer/errs"
)

// PayloadCodec serializes the typed component payloads carried inside an
// Envelope.
type PayloadCodec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// PayloadCodecByName returns "protobuf" (the default) or "cbor".
func PayloadCodecByName(name string) (PayloadCodec, error) {
	switch strings.ToLower(name) {
	case "", "protobuf", "proto":
		return Protobuf(), nil
	case "cbor":
		return CBOR()
	}
	return nil, errs.Invalid(errs.ErrInvalidConfig, "", "codec", "unknown payload codec %q", name)
}

type protobufCodec struct{}

// Protobuf encodes payload structs as protobuf messages, taking field numbers
// from the `pb` struct tag. Zero values are omitted as in proto3.
func Protobuf() PayloadCodec { return protobufCodec{} }

func (protobufCodec) Name() string { return "protobuf" }

func (protobufCodec) Marshal(v any) ([]byte, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("protobuf: want pointer to struct, got %T", v)
	}
	rv = rv.Elem()
	fields, err := wireFields(rv.Type())
	if err != nil {
		return nil, err
	}
	var b []byte
	for _, f := range fields {
		fv := rv.Field(f.index)
		if fv.IsZero() {
			continue
		}
		num := protowire.Number(f.num)
		switch fv.Kind() {
		case reflect.Bool:
			b = protowire.AppendTag(b, num, protowire.VarintType)
			b = protowire.AppendVarint(b, protowire.EncodeBool(fv.Bool()))
		case reflect.Int32, reflect.Int64:
			b = protowire.AppendTag(b, num, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(fv.Int()))
		case reflect.Uint32, reflect.Uint64:
			b = protowire.AppendTag(b, num, protowire.VarintType)
			b = protowire.AppendVarint(b, fv.Uint())
		case reflect.Float32:
			b = protowire.AppendTag(b, num, protowire.Fixed32Type)
			b = protowire.AppendFixed32(b, math.Float32bits(float32(fv.Float())))
		case reflect.Float64:
			b = protowire.AppendTag(b, num, protowire.Fixed64Type)
			b = protowire.AppendFixed64(b, math.Float64bits(fv.Float()))
		case reflect.String:
			b = protowire.AppendTag(b, num, protowire.BytesType)
			b = protowire.AppendString(b, fv.String())
		default:
			return nil, fmt.Errorf("protobuf: unsupported field kind %s", fv.Kind())
		}
	}
	return b, nil
}

func (protobufCodec) Unmarshal(data []byte, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("protobuf: want pointer to struct, got %T", v)
	}
	rv = rv.Elem()
	fields, err := wireFields(rv.Type())
	if err != nil {
		return err
	}
	byNum := make(map[protowire.Number]int, len(fields))
	for _, f := range fields {
		byNum[protowire.Number(f.num)] = f.index
	}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("protobuf: %w", protowire.ParseError(n))
		}
		data = data[n:]
		idx, known := byNum[num]
		if !known {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("protobuf: %w", protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}
		fv := rv.Field(idx)
		switch typ {
		case protowire.VarintType:
			x, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("protobuf: %w", protowire.ParseError(n))
			}
			data = data[n:]
			switch fv.Kind() {
			case reflect.Bool:
				fv.SetBool(protowire.DecodeBool(x))
			case reflect.Int32, reflect.Int64:
				fv.SetInt(int64(x))
			case reflect.Uint32, reflect.Uint64:
				fv.SetUint(x)
			default:
				return fmt.Errorf("protobuf: field %d: varint into %s", num, fv.Kind())
			}
		case protowire.Fixed32Type:
			x, n := protowire.ConsumeFixed32(data)
			if n < 0 {
				return fmt.Errorf("protobuf: %w", protowire.ParseError(n))
			}
			data = data[n:]
			if fv.Kind() != reflect.Float32 {
				return fmt.Errorf("protobuf: field %d: fixed32 into %s", num, fv.Kind())
			}
			fv.SetFloat(float64(math.Float32frombits(x)))
		case protowire.Fixed64Type:
			x, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return fmt.Errorf("protobuf: %w", protowire.ParseError(n))
			}
			data = data[n:]
			if fv.Kind() != reflect.Float64 {
				return fmt.Errorf("protobuf: field %d: fixed64 into %s", num, fv.Kind())
			}
			fv.SetFloat(math.Float64frombits(x))
		case protowire.BytesType:
			s, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("protobuf: %w", protowire.ParseError(n))
			}
			data = data[n:]
			if fv.Kind() != reflect.String {
				return fmt.Errorf("protobuf: field %d: bytes into %s", num, fv.Kind())
			}
			fv.SetString(s)
		default:
			return fmt.Errorf("protobuf: field %d: unsupported wire type %d", num, typ)
		}
	}
	return nil
}

type wireField struct {
	num   int
	index int
}

func wireFields(t reflect.Type) ([]wireField, error) {
	out := make([]wireField, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("pb")
		num, err := strconv.Atoi(tag)
		if err != nil || num <= 0 {
			return nil, fmt.Errorf("protobuf: %s.%s has no pb tag", t.Name(), t.Field(i).Name)
		}
		out = append(out, wireField{num: num, index: i})
	}
	return out, nil
}

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// CBOR encodes payload structs in canonical CBOR keyed by their json names.
func CBOR() (PayloadCodec, error) {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, err
	}
	return &cborCodec{enc: enc, dec: dec}, nil
}

func (c *cborCodec) Name() string { return "cbor" }

func (c *cborCodec) Marshal(v any) ([]byte, error) {
	return c.enc.Marshal(v)
}

func (c *cborCodec) Unmarshal(data []byte, v any) error {
	return c.dec.Unmarshal(data, v)
}
