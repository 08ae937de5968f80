package component

import (
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
)

// DataType describes one payload field for the outer surfaces (describe
// responses, MCP tool schemas) and bounds the values overrides may carry.
type DataType struct {
	Type  string    `json:"type" yaml:"type"`
	Unit  string    `json:"unit,omitempty" yaml:"unit,omitempty"`
	Range []float64 `json:"range,omitempty" yaml:"range,omitempty"`
	Enum  []string  `json:"enum,omitempty" yaml:"enum,omitempty"`
}

type Field struct {
	Name     string   `json:"name" yaml:"name"`
	Number   int      `json:"number" yaml:"number"`
	DataType DataType `json:"data_type" yaml:"data_type"`

	index int
}

// Schema is the ordered field list of one payload struct.
type Schema struct {
	Fields []Field `json:"fields" yaml:"fields"`

	typ reflect.Type
}

var validDataTypes = map[string]bool{
	"number": true,
	"string": true,
	"bool":   true,
	"enum":   true,
}

func schemaOf(p Payload) (Schema, error) {
	t := reflect.TypeOf(p).Elem()
	s := Schema{typ: t}
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		name := strings.Split(sf.Tag.Get("json"), ",")[0]
		num, err := strconv.Atoi(sf.Tag.Get("pb"))
		if err != nil || num <= 0 {
			return Schema{}, fmt.Errorf("%s.%s: bad pb tag %q", t.Name(), sf.Name, sf.Tag.Get("pb"))
		}
		dt := DataType{Unit: sf.Tag.Get("unit")}
		switch sf.Type.Kind() {
		case reflect.Bool:
			dt.Type = "bool"
		case reflect.String:
			dt.Type = "string"
		case reflect.Int32, reflect.Int64, reflect.Uint32, reflect.Uint64, reflect.Float32, reflect.Float64:
			dt.Type = "number"
		default:
			return Schema{}, fmt.Errorf("%s.%s: unsupported kind %s", t.Name(), sf.Name, sf.Type.Kind())
		}
		if enum := sf.Tag.Get("enum"); enum != "" {
			dt.Type = "enum"
			dt.Enum = strings.Split(enum, ",")
		}
		if r := sf.Tag.Get("range"); r != "" {
			for _, part := range strings.Split(r, ",") {
				v, err := strconv.ParseFloat(part, 64)
				if err != nil {
					return Schema{}, fmt.Errorf("%s.%s: bad range %q", t.Name(), sf.Name, r)
				}
				dt.Range = append(dt.Range, v)
			}
		}
		path := t.Name() + "." + name
		if err := validateDataType(path, dt); err != nil {
			return Schema{}, err
		}
		s.Fields = append(s.Fields, Field{Name: name, Number: num, DataType: dt, index: i})
	}
	return s, nil
}

func validateDataType(path string, dt DataType) error {
	if _, ok := validDataTypes[dt.Type]; !ok {
		return fmt.Errorf("invalid data type %q at %s", dt.Type, path)
	}
	if dt.Type == "enum" && len(dt.Enum) == 0 {
		return fmt.Errorf("enum type at %s must define non-empty Enum", path)
	}
	if dt.Type == "number" && len(dt.Range) > 0 && len(dt.Range) != 2 {
		return fmt.Errorf("range at %s must have exactly two values (min, max)", path)
	}
	return nil
}

// Field returns the named field.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Check verifies enum membership and numeric ranges of p.
func (s Schema) Check(p Payload) error {
	v := reflect.ValueOf(p).Elem()
	for _, f := range s.Fields {
		fv := v.Field(f.index)
		switch f.DataType.Type {
		case "enum":
			if !slices.Contains(f.DataType.Enum, fv.String()) {
				return fmt.Errorf("%s: %q not one of %v", f.Name, fv.String(), f.DataType.Enum)
			}
		case "number":
			if len(f.DataType.Range) != 2 {
				continue
			}
			n := number(fv)
			if n < f.DataType.Range[0] || n > f.DataType.Range[1] {
				return fmt.Errorf("%s: %v outside [%v, %v]", f.Name, n, f.DataType.Range[0], f.DataType.Range[1])
			}
		}
	}
	return nil
}

func number(v reflect.Value) float64 {
	switch v.Kind() {
	case reflect.Int32, reflect.Int64:
		return float64(v.Int())
	case reflect.Uint32, reflect.Uint64:
		return float64(v.Uint())
	case reflect.Float32, reflect.Float64:
		return v.Float()
	}
	return 0
}

// Values flattens p into a map keyed by wire field name.
func Values(p Payload) map[string]any {
	v := reflect.ValueOf(p).Elem()
	t := v.Type()
	out := make(map[string]any, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name := strings.Split(t.Field(i).Tag.Get("json"), ",")[0]
		out[name] = v.Field(i).Interface()
	}
	return out
}

// FieldsEqual reports whether got carries the same values as want for every
// named field. Both payloads must be of the same type.
func FieldsEqual(got, want Payload, names []string) bool {
	gv, wv := reflect.ValueOf(got), reflect.ValueOf(want)
	if gv.Type() != wv.Type() {
		return false
	}
	gv, wv = gv.Elem(), wv.Elem()
	t := gv.Type()
	for _, name := range names {
		found := false
		for i := 0; i < t.NumField(); i++ {
			if strings.Split(t.Field(i).Tag.Get("json"), ",")[0] != name {
				continue
			}
			found = true
			if !gv.Field(i).Equal(wv.Field(i)) {
				return false
			}
		}
		if !found {
			return false
		}
	}
	return true
}
