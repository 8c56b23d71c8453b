package database

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

// Set of well known object fields.
const (
	FieldID = "id"
)

// ErrSealed is returned when a sealed value is changed.
var ErrSealed = errors.New("value is sealed and can't be changed")

// Object is a generic typed record created by an operation. It's identified
// by a composite id where the first element is the object type.
type Object struct {
	fields map[string]any
	sealed bool
}

// NewObject constructs an object with the specified composite id.
func NewObject(id ...string) *Object {
	obj := Object{
		fields: make(map[string]any),
	}

	if len(id) > 0 {
		obj.fields[FieldID] = append([]string(nil), id...)
	}

	return &obj
}

// ID returns the composite id of the object or nil if it doesn't have one.
func (o *Object) ID() []string {
	return toStrings(o.fields[FieldID])
}

// Type returns the first element of the composite id.
func (o *Object) Type() string {
	id := o.ID()
	if len(id) == 0 {
		return ""
	}
	return id[0]
}

// Key returns the composite id without the type.
func (o *Object) Key() []string {
	id := o.ID()
	if len(id) < 2 {
		return nil
	}
	return id[1:]
}

// Value returns the raw value of the specified field.
func (o *Object) Value(key string) any {
	return o.fields[key]
}

// StringValue returns the value of the field if it's a string.
func (o *Object) StringValue(key string) string {
	s, _ := o.fields[key].(string)
	return s
}

// StringList returns the value of the field if it's a list of strings.
func (o *Object) StringList(key string) []string {
	return toStrings(o.fields[key])
}

// Set stores the value for the specified field.
func (o *Object) Set(key string, value any) error {
	if o.sealed {
		return ErrSealed
	}

	if o.fields == nil {
		o.fields = make(map[string]any)
	}
	o.fields[key] = value

	return nil
}

// Seal makes the object immutable.
func (o *Object) Seal() {
	o.sealed = true
}

// IsSealed reports if the object is immutable.
func (o *Object) IsSealed() bool {
	return o.sealed
}

// Equal reports whether the two objects hold the same fields.
func (o *Object) Equal(other *Object) bool {
	if o == other {
		return true
	}
	if o == nil || other == nil {
		return false
	}

	a, err1 := json.Marshal(o)
	b, err2 := json.Marshal(other)
	if err1 != nil || err2 != nil {
		return reflect.DeepEqual(o.fields, other.fields)
	}

	return bytes.Equal(a, b)
}

// String implements the Stringer interface for logging.
func (o *Object) String() string {
	return fmt.Sprintf("%v", o.ID())
}

// MarshalJSON implements the json.Marshaler interface. Map keys are written
// in sorted order which keeps the encoding canonical.
func (o *Object) MarshalJSON() ([]byte, error) {
	if o.fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(o.fields)
}

// UnmarshalJSON implements the json.Unmarshaler interface. Numbers are kept
// as json.Number so a decoded object encodes back to the same bytes.
func (o *Object) UnmarshalJSON(data []byte) error {
	if o.sealed {
		return ErrSealed
	}

	d := json.NewDecoder(bytes.NewReader(data))
	d.UseNumber()

	fields := make(map[string]any)
	if err := d.Decode(&fields); err != nil {
		return err
	}
	o.fields = fields

	return nil
}

// =============================================================================

func toStrings(v any) []string {
	switch list := v.(type) {
	case []string:
		return list

	case []any:
		out := make([]string, 0, len(list))
		for _, e := range list {
			s, ok := e.(string)
			if !ok {
				return nil
			}
			out = append(out, s)
		}
		return out
	}

	return nil
}
