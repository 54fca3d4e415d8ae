// Package merge provides the structural deep merge used by channel reducers.
//
// Values are JSON-shaped: objects are map[string]any (other string-keyed maps
// are converted), arrays are any slice kind, everything else is a scalar.
//
// Two flavours exist:
//   - Strict mutates the target in place, concatenates arrays, recurses into
//     objects and fails with a *ConflictError when a scalar would be
//     overwritten or the two sides have different shapes.
//   - Deep never fails: later scalars win, arrays concatenate, objects recurse.
package merge

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
)

// ErrConflict is matched by every *ConflictError.
var ErrConflict = errors.New("merge conflict")

// ConflictKind identifies why a strict merge failed.
type ConflictKind int

const (
	// ScalarOverwrite means both sides hold a scalar at the same path.
	ScalarOverwrite ConflictKind = iota + 1
	// TypeMismatch means the two sides have different shapes
	// (object vs array, container vs scalar).
	TypeMismatch
)

// String returns the conflict kind name.
func (k ConflictKind) String() string {
	switch k {
	case ScalarOverwrite:
		return "scalar-overwrite"
	case TypeMismatch:
		return "type-mismatch"
	default:
		return "unknown"
	}
}

// ConflictError reports the first conflict found by Strict.
type ConflictError struct {
	Kind ConflictKind
	// Path is the dotted field path, e.g. ".a.b". Empty means the top level.
	Path string
}

func (e *ConflictError) Error() string {
	path := e.Path
	if path == "" {
		path = "<root>"
	}
	return fmt.Sprintf("merge conflict (%s) at %s", e.Kind, path)
}

// Is makes errors.Is(err, ErrConflict) true for conflict errors.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Strict merges source into target and returns the merged value.
//
// Object targets are mutated and returned as-is, whatever their string-keyed
// map type. A merged value that does not fit the element type of such a map
// is a TypeMismatch at its key. Array targets are returned as a new,
// concatenated slice. A nil source is a no-op. A source that is neither an
// object nor an array is a TypeMismatch at the root. On conflict target may
// already hold part of source.
func Strict(target, source any) (any, error) {
	if source == nil {
		return target, nil
	}
	if src, ok := AsObject(source); ok {
		dst, ok := AsObject(target)
		if !ok {
			return target, &ConflictError{Kind: TypeMismatch}
		}
		if _, plain := target.(map[string]any); plain {
			if err := strictObject(dst, src, ""); err != nil {
				return dst, err
			}
			return dst, nil
		}
		if err := strictObject(dst, src, ""); err != nil {
			return target, err
		}
		return target, writeBack(reflect.ValueOf(target), dst)
	}
	if IsArray(source) {
		if !IsArray(target) {
			return target, &ConflictError{Kind: TypeMismatch}
		}
		return Concat(target, source), nil
	}
	return target, &ConflictError{Kind: TypeMismatch}
}

func strictObject(dst, src map[string]any, path string) error {
	for _, k := range sortedKeys(src) {
		sv := src[k]
		if sv == nil {
			continue
		}
		p := path + "." + k
		dv, exists := dst[k]
		if !exists || dv == nil {
			dst[k] = sv
			continue
		}

		dObj, dIsObj := AsObject(dv)
		sObj, sIsObj := AsObject(sv)
		switch {
		case dIsObj && sIsObj:
			dst[k] = dObj
			if err := strictObject(dObj, sObj, p); err != nil {
				return err
			}
		case IsArray(dv) && IsArray(sv):
			dst[k] = Concat(dv, sv)
		case dIsObj || sIsObj || IsArray(dv) || IsArray(sv):
			return &ConflictError{Kind: TypeMismatch, Path: p}
		default:
			return &ConflictError{Kind: ScalarOverwrite, Path: p}
		}
	}
	return nil
}

// writeBack stores the merged entries of obj into the typed map m.
func writeBack(m reflect.Value, obj map[string]any) error {
	elem := m.Type().Elem()
	keys := sortedKeys(obj)
	vals := make([]reflect.Value, len(keys))
	for i, k := range keys {
		v := obj[k]
		if v == nil {
			vals[i] = reflect.Zero(elem)
			continue
		}
		rv := reflect.ValueOf(v)
		if !rv.Type().AssignableTo(elem) {
			if !rv.Type().ConvertibleTo(elem) || rv.Kind() != elem.Kind() {
				return &ConflictError{Kind: TypeMismatch, Path: "." + k}
			}
			rv = rv.Convert(elem)
		}
		vals[i] = rv
	}
	for i, k := range keys {
		m.SetMapIndex(reflect.ValueOf(k).Convert(m.Type().Key()), vals[i])
	}
	return nil
}

// Deep merges source into target without ever failing. Objects are merged
// key by key (target maps are mutated), arrays are concatenated and any
// other non-nil source value replaces the target.
func Deep(target, source any) any {
	if source == nil {
		return target
	}
	if src, ok := AsObject(source); ok {
		if dst, ok := AsObject(target); ok {
			for _, k := range sortedKeys(src) {
				if cur, exists := dst[k]; exists {
					dst[k] = Deep(cur, src[k])
				} else {
					dst[k] = src[k]
				}
			}
			return dst
		}
		return source
	}
	if IsArray(source) && IsArray(target) {
		return Concat(target, source)
	}
	return source
}

// AsObject reports whether v is an object. map[string]any values are returned
// unchanged; other maps with string keys are copied into a map[string]any,
// so writes to the result do not reach v. Strict writes merged entries back.
func AsObject(v any) (map[string]any, bool) {
	if v == nil {
		return nil, false
	}
	if m, ok := v.(map[string]any); ok {
		return m, m != nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String || rv.IsNil() {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

// IsArray reports whether v is a slice or an array.
func IsArray(v any) bool {
	if v == nil {
		return false
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Slice, reflect.Array:
		return true
	default:
		return false
	}
}

// IsMergeable reports whether v is an object or an array.
func IsMergeable(v any) bool {
	_, ok := AsObject(v)
	return ok || IsArray(v)
}

// Concat returns a new slice holding a's elements followed by b's. When both
// share a slice type the result keeps it; otherwise it is a []any.
func Concat(a, b any) any {
	av, bv := reflect.ValueOf(a), reflect.ValueOf(b)
	if av.Kind() == reflect.Slice && av.Type() == bv.Type() {
		out := reflect.MakeSlice(av.Type(), 0, av.Len()+bv.Len())
		out = reflect.AppendSlice(out, av)
		return reflect.AppendSlice(out, bv).Interface()
	}
	out := make([]any, 0, av.Len()+bv.Len())
	for i := 0; i < av.Len(); i++ {
		out = append(out, av.Index(i).Interface())
	}
	for i := 0; i < bv.Len(); i++ {
		out = append(out, bv.Index(i).Interface())
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
