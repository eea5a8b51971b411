package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
)

var (
	// ErrUnsupportedType is returned when a native value has no wire form.
	ErrUnsupportedType = errors.New("wire: unsupported type")

	// ErrMalformedNumber is returned when an N value does not parse as a number.
	ErrMalformedNumber = errors.New("wire: malformed number")
)

// Marshal converts a native value into its wire form. ok is false when the
// value is omitted entirely (functions, channels); callers drop such values
// from the enclosing list or map.
func Marshal(v any) (val Value, ok bool, err error) {
	switch x := v.(type) {
	case nil:
		return Null(), true, nil
	case Value:
		return x, true, nil
	case string:
		return marshalString(x), true, nil
	case bool:
		return Bool(x), true, nil
	case float64:
		return marshalFloat(x)
	case float32:
		return marshalFloat(float64(x))
	case int:
		return Number(strconv.Itoa(x)), true, nil
	case int64:
		return Number(strconv.FormatInt(x, 10)), true, nil
	case json.Number:
		if _, err := strconv.ParseFloat(x.String(), 64); err != nil {
			return Value{}, false, fmt.Errorf("%w: %q", ErrMalformedNumber, x.String())
		}
		return Number(x.String()), true, nil
	case []any:
		return marshalList(len(x), func(i int) any { return x[i] })
	case map[string]any:
		m, err := MarshalMap(x)
		if err != nil {
			return Value{}, false, err
		}
		return Map(m), true, nil
	}
	return marshalReflect(reflect.ValueOf(v))
}

// MarshalMap converts a native map. Keys whose values are omitted are dropped.
func MarshalMap(m map[string]any) (map[string]Value, error) {
	out := make(map[string]Value, len(m))
	for k, v := range m {
		val, ok, err := Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		if ok {
			out[k] = val
		}
	}
	return out, nil
}

// Unmarshal converts a wire value back into its native form.
func Unmarshal(v Value) (any, error) {
	switch v.kind {
	case KindNull:
		return nil, nil
	case KindString:
		return v.str, nil
	case KindNumber:
		f, err := strconv.ParseFloat(v.str, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrMalformedNumber, v.str)
		}
		return f, nil
	case KindBool:
		return v.b, nil
	case KindList:
		out := make([]any, len(v.list))
		for i, e := range v.list {
			x, err := Unmarshal(e)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = x
		}
		return out, nil
	case KindMap:
		return UnmarshalMap(v.m)
	}
	return nil, fmt.Errorf("%w: kind %s", ErrUnsupportedType, v.kind)
}

// UnmarshalMap converts a wire map back into a native map.
func UnmarshalMap(m map[string]Value) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		x, err := Unmarshal(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = x
	}
	return out, nil
}

func marshalString(s string) Value {
	if s == "" {
		return Null()
	}
	return String(s)
}

func marshalFloat(f float64) (Value, bool, error) {
	if math.IsNaN(f) {
		return Null(), true, nil
	}
	if math.IsInf(f, 0) {
		return Value{}, false, fmt.Errorf("%w: infinite number", ErrUnsupportedType)
	}
	return Number(formatFloat(f)), true, nil
}

// formatFloat renders plain decimals in the usual range and exponent form
// outside of it, so very large or small magnitudes stay short.
func formatFloat(f float64) string {
	abs := math.Abs(f)
	if abs == 0 || (abs >= 1e-6 && abs < 1e21) {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'e', -1, 64)
}

func marshalList(n int, at func(int) any) (Value, bool, error) {
	out := make([]Value, 0, n)
	for i := 0; i < n; i++ {
		val, ok, err := Marshal(at(i))
		if err != nil {
			return Value{}, false, fmt.Errorf("[%d]: %w", i, err)
		}
		if ok {
			out = append(out, val)
		}
	}
	return List(out...), true, nil
}

func marshalReflect(rv reflect.Value) (Value, bool, error) {
	switch rv.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return Value{}, false, nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null(), true, nil
		}
		return Marshal(rv.Elem().Interface())
	case reflect.String:
		return marshalString(rv.String()), true, nil
	case reflect.Bool:
		return Bool(rv.Bool()), true, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Number(strconv.FormatInt(rv.Int(), 10)), true, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return Number(strconv.FormatUint(rv.Uint(), 10)), true, nil
	case reflect.Float32, reflect.Float64:
		return marshalFloat(rv.Float())
	case reflect.Slice, reflect.Array:
		return marshalList(rv.Len(), func(i int) any { return rv.Index(i).Interface() })
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Value{}, false, fmt.Errorf("%w: map key %s", ErrUnsupportedType, rv.Type().Key())
		}
		out := make(map[string]Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := iter.Key().String()
			val, ok, err := Marshal(iter.Value().Interface())
			if err != nil {
				return Value{}, false, fmt.Errorf("%s: %w", k, err)
			}
			if ok {
				out[k] = val
			}
		}
		return Map(out), true, nil
	case reflect.Invalid:
		return Null(), true, nil
	}
	return Value{}, false, fmt.Errorf("%w: %s", ErrUnsupportedType, rv.Type())
}
