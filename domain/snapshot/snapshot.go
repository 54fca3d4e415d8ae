// Package snapshot produces deep structural copies of arbitrary values.
//
// Channel runs hand every handler its own copy of the shared inputs so a
// handler that writes into a map, slice or pointed-to struct cannot affect
// the caller or any sibling handler.
package snapshot

import "reflect"

// Clone returns a deep copy of v. Maps, slices, arrays, pointers, interfaces
// and exported struct fields are copied recursively. Unexported struct fields
// are copied shallowly. Channels, functions and unsafe pointers are shared.
// Cyclic graphs through pointers, maps and slices are preserved.
func Clone(v any) any {
	if v == nil {
		return nil
	}
	if isImmutable(v) {
		return v
	}
	c := cloner{seen: make(map[visit]reflect.Value)}
	return c.clone(reflect.ValueOf(v)).Interface()
}

// isImmutable short-circuits the common scalar cases.
func isImmutable(v any) bool {
	switch v.(type) {
	case string, bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, uintptr,
		float32, float64, complex64, complex128:
		return true
	}
	return false
}

// visit identifies a container already being copied. len tells apart
// slices that share a backing array but not a length.
type visit struct {
	ptr uintptr
	len int
	typ reflect.Type
}

type cloner struct {
	seen map[visit]reflect.Value
}

func (c *cloner) clone(src reflect.Value) reflect.Value {
	switch src.Kind() {
	case reflect.Map:
		if src.IsNil() {
			return src
		}
		key := visit{ptr: src.Pointer(), typ: src.Type()}
		if dst, ok := c.seen[key]; ok {
			return dst
		}
		dst := reflect.MakeMapWithSize(src.Type(), src.Len())
		c.seen[key] = dst
		iter := src.MapRange()
		for iter.Next() {
			dst.SetMapIndex(c.clone(iter.Key()), c.clone(iter.Value()))
		}
		return dst

	case reflect.Slice:
		if src.IsNil() {
			return src
		}
		key := visit{ptr: src.Pointer(), len: src.Len(), typ: src.Type()}
		if dst, ok := c.seen[key]; ok {
			return dst
		}
		dst := reflect.MakeSlice(src.Type(), src.Len(), src.Len())
		if src.Len() > 0 {
			c.seen[key] = dst
		}
		for i := 0; i < src.Len(); i++ {
			dst.Index(i).Set(c.clone(src.Index(i)))
		}
		return dst

	case reflect.Array:
		dst := reflect.New(src.Type()).Elem()
		for i := 0; i < src.Len(); i++ {
			dst.Index(i).Set(c.clone(src.Index(i)))
		}
		return dst

	case reflect.Pointer:
		if src.IsNil() {
			return src
		}
		key := visit{ptr: src.Pointer(), typ: src.Type()}
		if dst, ok := c.seen[key]; ok {
			return dst
		}
		dst := reflect.New(src.Type().Elem())
		c.seen[key] = dst
		dst.Elem().Set(c.clone(src.Elem()))
		return dst

	case reflect.Interface:
		if src.IsNil() {
			return src
		}
		dst := reflect.New(src.Type()).Elem()
		dst.Set(c.clone(src.Elem()))
		return dst

	case reflect.Struct:
		dst := reflect.New(src.Type()).Elem()
		dst.Set(src)
		for i := 0; i < src.NumField(); i++ {
			if f := dst.Field(i); f.CanSet() {
				f.Set(c.clone(src.Field(i)))
			}
		}
		return dst

	default:
		return src
	}
}
