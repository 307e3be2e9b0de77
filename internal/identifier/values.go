// Package identifier parses and converts resource identifiers: simple values,
// composite "name=value;name2=value2" strings and typed URI variables.
package identifier

import (
	"fmt"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Values is an ordered map of identifier or URI variable names to values.
// A nil *Values behaves as an empty map for reads.
type Values struct {
	m *orderedmap.OrderedMap[string, any]
}

// NewValues creates Values from alternating name, value arguments.
func NewValues(pairs ...any) *Values {
	v := &Values{m: orderedmap.New[string, any]()}
	for i := 0; i+1 < len(pairs); i += 2 {
		v.Set(fmt.Sprint(pairs[i]), pairs[i+1])
	}
	return v
}

// FromMap creates Values from a map, ordering names with order first.
func FromMap(m map[string]any, order ...string) *Values {
	v := NewValues()
	for _, name := range order {
		if value, ok := m[name]; ok {
			v.Set(name, value)
		}
	}
	for name, value := range m {
		if _, ok := v.Get(name); !ok {
			v.Set(name, value)
		}
	}
	return v
}

// Set adds or replaces a value, keeping the original position on replace.
func (v *Values) Set(name string, value any) {
	v.m.Set(name, value)
}

// Get returns a value by name.
func (v *Values) Get(name string) (any, bool) {
	if v == nil || v.m == nil {
		return nil, false
	}
	return v.m.Get(name)
}

// Len returns the number of values.
func (v *Values) Len() int {
	if v == nil || v.m == nil {
		return 0
	}
	return v.m.Len()
}

// Names returns the names in order.
func (v *Values) Names() []string {
	if v == nil || v.m == nil {
		return nil
	}
	names := make([]string, 0, v.m.Len())
	for pair := v.m.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// Map returns an unordered copy.
func (v *Values) Map() map[string]any {
	out := make(map[string]any, v.Len())
	for _, name := range v.Names() {
		out[name], _ = v.Get(name)
	}
	return out
}

// Clone returns an independent copy.
func (v *Values) Clone() *Values {
	c := NewValues()
	for _, name := range v.Names() {
		value, _ := v.Get(name)
		c.Set(name, value)
	}
	return c
}

// Take removes and returns the value stored under name.
func (v *Values) Take(name string) (any, bool) {
	if v == nil || v.m == nil {
		return nil, false
	}
	return v.m.Delete(name)
}

// TakeLast removes and returns the newest value.
func (v *Values) TakeLast() (string, any, bool) {
	if v == nil || v.m == nil {
		return "", nil, false
	}
	pair := v.m.Newest()
	if pair == nil {
		return "", nil, false
	}
	name, value := pair.Key, pair.Value
	v.m.Delete(name)
	return name, value, true
}

// String renders the values in composite form.
func (v *Values) String() string {
	parts := make([]string, 0, v.Len())
	for _, name := range v.Names() {
		value, _ := v.Get(name)
		parts = append(parts, fmt.Sprintf("%s=%v", name, value))
	}
	return strings.Join(parts, ";")
}
