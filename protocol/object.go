// Package protocol defines the objects exchanged with a TDLib-style JSON backend
// and the helpers used to move them between the client surface and the wire.
//
// On the client surface every object carries its type name under the "_" key.
// On the wire the backend expects the same name under "@type". ToWire and
// FromWire translate between the two representations.
package protocol

import (
	"encoding/json"
	"fmt"
)

const (
	// TypeKey is the key holding the object type on the client surface.
	TypeKey = "_"
	// WireTypeKey is the key holding the object type on the wire.
	WireTypeKey = "@type"
	// ExtraKey carries the request correlation value. It is echoed back by the
	// backend on the matching response.
	ExtraKey = "@extra"
	// ClientIDKey is set by backends that multiplex several sessions.
	ClientIDKey = "@client_id"
)

// Object is a decoded backend object: a request, a response or an update.
type Object map[string]interface{}

// NewObject creates an object of the given type with the given fields.
// fields may be nil.
func NewObject(typ string, fields map[string]interface{}) Object {
	o := make(Object, len(fields)+1)
	for k, v := range fields {
		o[k] = v
	}
	o[TypeKey] = typ
	return o
}

// Type returns the object's type name, or "" when it has none.
func (o Object) Type() string {
	if o == nil {
		return ""
	}
	s, _ := o[TypeKey].(string)
	return s
}

// Extra returns the correlation value attached to the object, formatted as a string.
func (o Object) Extra() (string, bool) {
	v, ok := o[ExtraKey]
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprintf("%v", v), true
}

// String returns the string field at key, or "".
func (o Object) String(key string) string {
	s, _ := o[key].(string)
	return s
}

// Object returns the nested object at key, or nil.
func (o Object) Object(key string) Object {
	switch v := o[key].(type) {
	case Object:
		return v
	case map[string]interface{}:
		return Object(v)
	default:
		return nil
	}
}

// Clone returns a deep copy of the object.
func (o Object) Clone() Object {
	if o == nil {
		return nil
	}
	return deepCopy(map[string]interface{}(o)).(map[string]interface{})
}

func deepCopy(v interface{}) interface{} {
	switch t := v.(type) {
	case Object:
		return Object(deepCopy(map[string]interface{}(t)).(map[string]interface{}))
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}

// RenameKeys renames every occurrence of the key from to the key to, walking
// nested objects and arrays. With inPlace the input maps are modified and
// returned; otherwise a renamed copy is built and the input is left untouched.
func RenameKeys(v interface{}, from, to string, inPlace bool) interface{} {
	switch t := v.(type) {
	case Object:
		return Object(RenameKeys(map[string]interface{}(t), from, to, inPlace).(map[string]interface{}))
	case map[string]interface{}:
		if inPlace {
			for k, val := range t {
				t[k] = RenameKeys(val, from, to, true)
			}
			if val, ok := t[from]; ok {
				delete(t, from)
				t[to] = val
			}
			return t
		}
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			if k == from {
				k = to
			}
			out[k] = RenameKeys(val, from, to, false)
		}
		return out
	case []interface{}:
		out := t
		if !inPlace {
			out = make([]interface{}, len(t))
		}
		for i, val := range t {
			out[i] = RenameKeys(val, from, to, inPlace)
		}
		return out
	default:
		return v
	}
}

// ToWire encodes a client-surface object into backend JSON.
func ToWire(o Object, inPlace bool) ([]byte, error) {
	if o == nil {
		return nil, fmt.Errorf("cannot encode nil object")
	}
	renamed := RenameKeys(map[string]interface{}(o), TypeKey, WireTypeKey, inPlace)
	data, err := json.Marshal(renamed)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %q: %w", o.Type(), err)
	}
	return data, nil
}

// FromWire decodes backend JSON into a client-surface object.
func FromWire(data []byte) (Object, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode backend message: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("backend message is not an object")
	}
	// The decoded tree is private to us, so renaming in place is safe.
	return Object(RenameKeys(raw, WireTypeKey, TypeKey, true).(map[string]interface{})), nil
}
