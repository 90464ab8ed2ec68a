package mustache

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// ----------------------------- Stringify ------------------------------------

// Stringify converts a looked-up value into output text.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return formatFloat(x, 64)
	case float32:
		return formatFloat(float64(x), 32)
	case bool:
		if x {
			return "true"
		}
		return "false"
	case json.Number:
		return x.String()
	case fmt.Stringer:
		return x.String()
	case error:
		return x.Error()
	default:
		sb := stringBuilderPool.Get().(*strings.Builder)
		sb.Reset()
		defer stringBuilderPool.Put(sb)
		fmt.Fprintf(sb, "%v", x)
		return sb.String()
	}
}

// formatFloat prints integral values without an exponent, so numbers decoded
// from JSON as float64 render the way they were written.
func formatFloat(f float64, bits int) string {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return strconv.FormatFloat(f, 'g', -1, bits)
	}
	return strconv.FormatFloat(f, 'f', -1, bits)
}

// ----------------------------- Escaping --------------------------------------

// EscapeHTML escapes &, <, >, " and '. Strings without those bytes are
// returned as is.
func EscapeHTML(s string) string {
	i := strings.IndexAny(s, "&<>\"'")
	if i < 0 {
		return s
	}

	var sb strings.Builder
	sb.Grow(len(s) + len(s)/4)
	sb.WriteString(s[:i])
	for ; i < len(s); i++ {
		c := s[i]
		switch c {
		case '&':
			sb.WriteString("&amp;")
		case '<':
			sb.WriteString("&lt;")
		case '>':
			sb.WriteString("&gt;")
		case '"':
			sb.WriteString("&quot;")
		case '\'':
			sb.WriteString("&#39;")
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

// ----------------------------- Truthiness -----------------------------------

// falsy reports whether a section value suppresses a normal section: nil,
// false, numeric zero, NaN and empty sequences (slices, arrays, strings).
// Maps and structs are truthy even when empty.
func falsy(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case bool:
		return !x
	case string:
		return x == ""
	case int:
		return x == 0
	case int64:
		return x == 0
	case float64:
		return x == 0 || math.IsNaN(x)
	case []any:
		return len(x) == 0
	case []byte:
		return len(x) == 0
	case json.Number:
		f, err := x.Float64()
		return err == nil && (f == 0 || math.IsNaN(f))
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		return !rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint() == 0
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		return f == 0 || math.IsNaN(f)
	case reflect.Complex64, reflect.Complex128:
		return rv.Complex() == 0
	case reflect.String, reflect.Slice, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// ----------------------------- Iteration ------------------------------------

// siblings walks the elements of a sequence section value.
type siblings struct {
	fast []any
	rv   reflect.Value
	n    int
	i    int
}

// iterate returns an iterator positioned before the first element when v is
// a sequence that sections loop over. Strings, byte slices and maps are not.
func iterate(v any) (*siblings, bool) {
	switch x := v.(type) {
	case []any:
		return &siblings{fast: x, n: len(x)}, true
	case string, []byte:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return nil, false
		}
		return &siblings{rv: rv, n: rv.Len()}, true
	}
	return nil, false
}

// next returns the next element and false once exhausted.
func (s *siblings) next() (any, bool) {
	if s.i >= s.n {
		return nil, false
	}
	i := s.i
	s.i++
	if s.fast != nil {
		return s.fast[i], true
	}
	return s.rv.Index(i).Interface(), true
}

// ----------------------------- Lambdas --------------------------------------

// RenderFunc renders template text against the scope a lambda section was
// found in.
type RenderFunc func(text string) (string, error)

// Lambda is a section value that receives the raw, unrendered section body.
// Its result is stringified and written without escaping.
type Lambda func(text string, render RenderFunc) (any, error)

// asLambda returns v as a Lambda when it is callable as one.
func asLambda(v any) (Lambda, bool) {
	switch fn := v.(type) {
	case Lambda:
		return fn, fn != nil
	case func(string, RenderFunc) (any, error):
		return fn, fn != nil
	case func(string, RenderFunc) (string, error):
		if fn == nil {
			return nil, false
		}
		return func(text string, render RenderFunc) (any, error) { return fn(text, render) }, true
	}
	return nil, false
}
