package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Kind identifies the type tag carried by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindList
	KindMap
)

// String returns the protocol tag for the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "NULL"
	case KindString:
		return "S"
	case KindNumber:
		return "N"
	case KindBool:
		return "BOOL"
	case KindList:
		return "L"
	case KindMap:
		return "M"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Value is a single type-tagged attribute value. The zero Value is NULL.
type Value struct {
	kind Kind
	str  string
	b    bool
	list []Value
	m    map[string]Value
}

// Item is a top-level attribute map, as stored in a table row or used as a key.
type Item map[string]Value

// Null returns a NULL value.
func Null() Value { return Value{kind: KindNull} }

// String returns an S value. Callers wanting the empty-string narrowing should
// go through Marshal instead.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number returns an N value from its decimal string form.
func Number(n string) Value { return Value{kind: KindNumber, str: n} }

// Bool returns a BOOL value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// List returns an L value.
func List(vs ...Value) Value {
	if vs == nil {
		vs = []Value{}
	}
	return Value{kind: KindList, list: vs}
}

// Map returns an M value.
func Map(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindMap, m: m}
}

// Kind returns the value's type tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is NULL.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsString returns the S payload.
func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

// AsNumber returns the N payload in its decimal string form.
func (v Value) AsNumber() (string, bool) {
	if v.kind != KindNumber {
		return "", false
	}
	return v.str, true
}

// AsBool returns the BOOL payload.
func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// AsList returns the L payload.
func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return v.list, true
}

// AsMap returns the M payload.
func (v Value) AsMap() (map[string]Value, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return v.m, true
}

// Equal reports deep equality.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString, KindNumber:
		return v.str == o.str
	case KindBool:
		return v.b == o.b
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, x := range v.m {
			y, ok := o.m[k]
			if !ok || !x.Equal(y) {
				return false
			}
		}
		return true
	}
	return false
}

// Equal reports whether two items hold the same attributes.
func (it Item) Equal(o Item) bool {
	return Map(it).Equal(Map(o))
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.writeJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) writeJSON(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString(`{"NULL":true}`)
	case KindString, KindNumber:
		s, err := json.Marshal(v.str)
		if err != nil {
			return err
		}
		buf.WriteString(`{"` + v.kind.String() + `":`)
		buf.Write(s)
		buf.WriteByte('}')
	case KindBool:
		if v.b {
			buf.WriteString(`{"BOOL":true}`)
		} else {
			buf.WriteString(`{"BOOL":false}`)
		}
	case KindList:
		buf.WriteString(`{"L":[`)
		for i, e := range v.list {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := e.writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteString(`]}`)
	case KindMap:
		buf.WriteString(`{"M":{`)
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			name, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(name)
			buf.WriteByte(':')
			if err := v.m[k].writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteString(`}}`)
	default:
		return fmt.Errorf("wire: cannot encode %s", v.kind)
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler. String and number sets are
// accepted and decoded as lists.
func (v *Value) UnmarshalJSON(data []byte) error {
	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("wire: decode attribute value: %w", err)
	}
	if len(tagged) != 1 {
		return fmt.Errorf("wire: attribute value must have exactly one type tag, got %d", len(tagged))
	}
	for tag, raw := range tagged {
		switch tag {
		case "NULL":
			*v = Null()
		case "S", "N":
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return fmt.Errorf("wire: decode %s: %w", tag, err)
			}
			if tag == "S" {
				*v = String(s)
			} else {
				*v = Number(s)
			}
		case "BOOL":
			var b bool
			if err := json.Unmarshal(raw, &b); err != nil {
				return fmt.Errorf("wire: decode BOOL: %w", err)
			}
			*v = Bool(b)
		case "L":
			var list []Value
			if err := json.Unmarshal(raw, &list); err != nil {
				return err
			}
			*v = List(list...)
		case "M":
			var m map[string]Value
			if err := json.Unmarshal(raw, &m); err != nil {
				return err
			}
			*v = Map(m)
		case "SS", "NS":
			var ss []string
			if err := json.Unmarshal(raw, &ss); err != nil {
				return fmt.Errorf("wire: decode %s: %w", tag, err)
			}
			list := make([]Value, len(ss))
			for i, s := range ss {
				if tag == "SS" {
					list[i] = String(s)
				} else {
					list[i] = Number(s)
				}
			}
			*v = List(list...)
		default:
			return fmt.Errorf("%w: type tag %q", ErrUnsupportedType, tag)
		}
	}
	return nil
}
