package mustache

import (
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ----------------------------- Property lookup ------------------------------

// Getter resolves key for a variable or section tag. scope is the current
// context and scopes holds the enclosing ones, outermost first. The second
// result is false when the key does not resolve.
type Getter func(scope any, scopes []any, key string) (any, bool)

// lookupStrategy tries to read one path segment from in.
type lookupStrategy func(in any, key string) (any, bool)

// lookupStrategies run in order until one resolves the segment.
var lookupStrategies = [...]lookupStrategy{
	mapLookup,
	indexLookup,
	fieldLookup,
	virtualLookup,
}

// virtualProperties resolve when no real property matched.
var virtualProperties = map[string]func(any) (any, bool){
	"length": lengthOf,
}

// DefaultGetter implements mustache name resolution. "." is the current
// scope. Dotted names are resolved segment by segment, starting at scope and
// moving outwards; the first scope where every segment resolves wins.
func DefaultGetter(scope any, scopes []any, key string) (any, bool) {
	if key == "." {
		return scope, true
	}
	if key == "" {
		return nil, false
	}
	if strings.IndexByte(key, '.') < 0 {
		if v, ok := lookup(scope, key); ok {
			return v, true
		}
		for i := len(scopes) - 1; i >= 0; i-- {
			if v, ok := lookup(scopes[i], key); ok {
				return v, true
			}
		}
		return nil, false
	}

	path := strings.Split(key, ".")
	if v, ok := lookupPath(scope, path); ok {
		return v, true
	}
	for i := len(scopes) - 1; i >= 0; i-- {
		if v, ok := lookupPath(scopes[i], path); ok {
			return v, true
		}
	}
	return nil, false
}

func lookupPath(cur any, path []string) (any, bool) {
	for _, seg := range path {
		v, ok := lookup(cur, seg)
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func lookup(in any, key string) (any, bool) {
	if in == nil || key == "" {
		return nil, false
	}
	for _, s := range lookupStrategies {
		if v, ok := s(in, key); ok {
			return v, true
		}
	}
	return nil, false
}

// ----------------------------- Strategies -----------------------------------

func mapLookup(in any, key string) (any, bool) {
	// Fast paths for what encoding/json produces
	switch m := in.(type) {
	case map[string]any:
		v, ok := m[key]
		return v, ok
	case map[string]string:
		v, ok := m[key]
		return v, ok
	}

	rv := indirect(reflect.ValueOf(in))
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	mv := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
	if !mv.IsValid() {
		return nil, false
	}
	return mv.Interface(), true
}

func indexLookup(in any, key string) (any, bool) {
	if !isDigits(key) {
		return nil, false
	}
	idx, err := strconv.Atoi(key)
	if err != nil {
		return nil, false
	}
	if s, ok := in.([]any); ok {
		if idx >= len(s) {
			return nil, false
		}
		return s[idx], true
	}

	rv := indirect(reflect.ValueOf(in))
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if idx >= rv.Len() {
			return nil, false
		}
		return rv.Index(idx).Interface(), true
	case reflect.Map:
		kt := rv.Type().Key()
		var k reflect.Value
		switch kt.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			k = reflect.New(kt).Elem()
			if k.OverflowInt(int64(idx)) {
				return nil, false
			}
			k.SetInt(int64(idx))
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			k = reflect.New(kt).Elem()
			if k.OverflowUint(uint64(idx)) {
				return nil, false
			}
			k.SetUint(uint64(idx))
		default:
			return nil, false
		}
		if mv := rv.MapIndex(k); mv.IsValid() {
			return mv.Interface(), true
		}
	}
	return nil, false
}

// fieldLookup reads an exported struct field (by name, `mustache` tag, or
// case-insensitive name) and falls back to calling a zero-argument method.
func fieldLookup(in any, key string) (any, bool) {
	orig := reflect.ValueOf(in)
	rv := indirect(orig)
	if rv.Kind() == reflect.Struct {
		if info := globalFieldCache.lookup(rv.Type(), key); info.found {
			fv, err := rv.FieldByIndexErr(info.index)
			if err == nil && fv.CanInterface() {
				return fv.Interface(), true
			}
		}
	}
	return callMethod(orig, key)
}

func virtualLookup(in any, key string) (any, bool) {
	if fn, ok := virtualProperties[key]; ok {
		return fn(in)
	}
	return nil, false
}

// ----------------------------- Reflection helpers ---------------------------

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func resolveField(typ reflect.Type, name string) fieldInfo {
	if f, ok := typ.FieldByName(name); ok && f.IsExported() {
		return fieldInfo{index: f.Index, found: true}
	}
	fields := reflect.VisibleFields(typ)
	for _, f := range fields {
		if f.IsExported() && f.Tag.Get("mustache") == name {
			return fieldInfo{index: f.Index, found: true}
		}
	}
	for _, f := range fields {
		if f.IsExported() && !f.Anonymous && strings.EqualFold(f.Name, name) {
			return fieldInfo{index: f.Index, found: true}
		}
	}
	return fieldInfo{}
}

// callMethod calls a zero-argument exported method returning a value and
// optionally an error. A non-nil error means the name did not resolve.
func callMethod(rv reflect.Value, name string) (any, bool) {
	if !rv.IsValid() || name[0] < 'A' || name[0] > 'Z' {
		return nil, false
	}
	if rv.Kind() == reflect.Interface {
		rv = rv.Elem()
	}
	if (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) && rv.IsNil() {
		return nil, false
	}
	m := rv.MethodByName(name)
	if !m.IsValid() {
		return nil, false
	}
	mt := m.Type()
	if mt.NumIn() != 0 {
		return nil, false
	}
	switch {
	case mt.NumOut() == 1:
		return m.Call(nil)[0].Interface(), true
	case mt.NumOut() == 2 && mt.Out(1) == errorType:
		out := m.Call(nil)
		if !out[1].IsNil() {
			return nil, false
		}
		return out[0].Interface(), true
	}
	return nil, false
}

// indirect follows pointers and interfaces. Nil yields the zero Value.
func indirect(rv reflect.Value) reflect.Value {
	for rv.IsValid() && (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return reflect.Value{}
		}
		rv = rv.Elem()
	}
	return rv
}

func lengthOf(in any) (any, bool) {
	switch x := in.(type) {
	case string:
		return utf8.RuneCountInString(x), true
	case []any:
		return len(x), true
	}
	rv := indirect(reflect.ValueOf(in))
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return rv.Len(), true
	case reflect.String:
		return utf8.RuneCountInString(rv.String()), true
	}
	return nil, false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
