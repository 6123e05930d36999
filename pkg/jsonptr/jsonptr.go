// Package jsonptr implements JSON-pointer-based mutation of decoded JSON
// trees (map[string]interface{} / []interface{} / scalars), extended with a
// '*' wildcard segment meaning "apply to every element of the array at this
// point". It is used by sanitization to strip fields nested under array
// wildcards, such as volume mounts repeated across every container.
package jsonptr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrInvalidPointer is returned when a path segment does not resolve
	// against the document.
	ErrInvalidPointer = errors.New("jsonptr: invalid pointer")
	// ErrOutOfBounds is returned when an array insert index exceeds the
	// array's length.
	ErrOutOfBounds = errors.New("jsonptr: index out of bounds")
	// ErrUnexpectedType is returned when a resolved location is neither an
	// object nor an array.
	ErrUnexpectedType = errors.New("jsonptr: unexpected type")
)

// arraySlot lets callers replace the contents of a JSON array in place;
// Go's append may reallocate, so growing an array requires writing the new
// slice back into its parent container.
type arraySlot struct {
	get func() []interface{}
	set func([]interface{})
}

func (s *arraySlot) append(v interface{}) {
	s.set(append(s.get(), v))
}

func (s *arraySlot) insert(idx int, v interface{}) error {
	arr := s.get()
	if idx < 0 || idx > len(arr) {
		return fmt.Errorf("%w: index %d (len %d)", ErrOutOfBounds, idx, len(arr))
	}
	out := make([]interface{}, 0, len(arr)+1)
	out = append(out, arr[:idx]...)
	out = append(out, v)
	out = append(out, arr[idx:]...)
	s.set(out)
	return nil
}

type target struct {
	obj map[string]interface{}
	arr *arraySlot
}

// Add inserts value under key at every location matched by path. Each
// matched location must be a JSON object (key is inserted, honoring
// overwrite) or a JSON array (key "-" appends; a numeric key inserts at that
// index).
func Add(root interface{}, path, key string, value interface{}, overwrite bool) error {
	targets, err := resolveTargets(strings.Split(path, "*"), root)
	if err != nil {
		return fmt.Errorf("jsonptr: add %s/%s: %w", path, key, err)
	}
	for _, t := range targets {
		switch {
		case t.obj != nil:
			if overwrite {
				t.obj[key] = value
				continue
			}
			if _, exists := t.obj[key]; !exists {
				t.obj[key] = value
			}
		case t.arr != nil:
			if key == "-" {
				t.arr.append(value)
				continue
			}
			idx, convErr := strconv.Atoi(key)
			if convErr != nil {
				return fmt.Errorf("%w: non-numeric array key %q", ErrUnexpectedType, key)
			}
			if err := t.arr.insert(idx, value); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w at %s", ErrUnexpectedType, path)
		}
	}
	return nil
}

// Remove deletes key from every object matched by path. Every matched
// location must be a JSON object.
func Remove(root interface{}, path, key string) error {
	targets, err := resolveTargets(strings.Split(path, "*"), root)
	if err != nil {
		return fmt.Errorf("jsonptr: remove %s/%s: %w", path, key, err)
	}
	for _, t := range targets {
		if t.obj == nil {
			return fmt.Errorf("%w at %s", ErrUnexpectedType, path)
		}
		delete(t.obj, key)
	}
	return nil
}

// Get resolves a plain (wildcard-free) JSON pointer against root.
func Get(root interface{}, pointer string) (interface{}, bool) {
	v, _, ok := lookupMut(root, pointer)
	return v, ok
}

// Set replaces the value at a plain (wildcard-free) JSON pointer.
func Set(root interface{}, pointer string, value interface{}) bool {
	_, set, ok := lookupMut(root, pointer)
	if !ok {
		return false
	}
	set(value)
	return true
}

// resolveTargets mirrors the upstream patch_ext_helper recursion: split the
// path on '*', walk each non-wildcard segment directly, and fan out across
// every element of each wildcard array.
func resolveTargets(parts []string, value interface{}) ([]target, error) {
	if len(parts) == 1 {
		// A trailing "*/" leaves "/" here, which addresses the element itself.
		ptr := parts[0]
		if ptr == "/" {
			ptr = ""
		}
		v, set, ok := lookupMut(value, ptr)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPointer, ptr)
		}
		switch vv := v.(type) {
		case map[string]interface{}:
			return []target{{obj: vv}}, nil
		case []interface{}:
			arr := vv
			return []target{{arr: &arraySlot{
				get: func() []interface{} { return arr },
				set: func(nv []interface{}) { arr = nv; set(interface{}(nv)) },
			}}}, nil
		default:
			return nil, fmt.Errorf("%w at %s", ErrUnexpectedType, parts[0])
		}
	}

	// A path like "/foo/bar/*/baz" splits into "/foo/bar/" and "/baz"; strip
	// the trailing '/' left on the array-denoting segment.
	p := parts[0]
	if len(p) == 0 || p[len(p)-1] != '/' {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPointer, p)
	}
	arrPtr := p[:len(p)-1]
	v, _, ok := lookupMut(value, arrPtr)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPointer, arrPtr)
	}
	arr, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w at %s", ErrUnexpectedType, arrPtr)
	}
	var out []target
	for _, elem := range arr {
		sub, err := resolveTargets(parts[1:], elem)
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
	}
	return out, nil
}

// lookupMut resolves a plain JSON pointer, returning the value found and a
// setter that overwrites it in its parent container.
func lookupMut(root interface{}, pointer string) (value interface{}, set func(interface{}), ok bool) {
	if pointer == "" {
		return root, func(interface{}) {}, true
	}
	if pointer[0] != '/' {
		return nil, nil, false
	}
	segs := strings.Split(pointer[1:], "/")
	cur := root
	var parentSet func(interface{})
	for _, raw := range segs {
		seg := unescape(raw)
		switch c := cur.(type) {
		case map[string]interface{}:
			v, exists := c[seg]
			if !exists {
				return nil, nil, false
			}
			mp, key := c, seg
			parentSet = func(nv interface{}) { mp[key] = nv }
			cur = v
		case []interface{}:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(c) {
				return nil, nil, false
			}
			arr, i := c, idx
			parentSet = func(nv interface{}) { arr[i] = nv }
			cur = arr[idx]
		default:
			return nil, nil, false
		}
	}
	return cur, parentSet, true
}

func unescape(s string) string {
	s = strings.ReplaceAll(s, "~1", "/")
	s = strings.ReplaceAll(s, "~0", "~")
	return s
}
