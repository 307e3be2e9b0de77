package model

import (
	"reflect"
	"sort"
)

// FieldChange represents a change to a single attribute
type FieldChange struct {
	Field    string
	OldValue any
	NewValue any
}

// SyncOriginal records the current attributes as the stored state.
// Call after a successful save or refresh.
func (r *Record) SyncOriginal() {
	r.original = deepCopyMap(r.attributes)
}

// Original returns the stored value of an attribute.
func (r *Record) Original(field string) any { return r.original[field] }

// IsDirty returns true if the attribute differs from the stored state
func (r *Record) IsDirty(field string) bool {
	old, had := r.original[field]
	cur, has := r.attributes[field]
	if had != has {
		return true
	}
	return !deepEqual(old, cur)
}

// Dirty returns the attributes that differ from the stored state
func (r *Record) Dirty() map[string]any {
	result := make(map[string]any)
	for field, value := range r.attributes {
		if r.IsDirty(field) {
			result[field] = value
		}
	}
	return result
}

// Changes returns every changed attribute, including removed ones, sorted by field.
func (r *Record) Changes() []FieldChange {
	var changes []FieldChange
	for field, value := range r.attributes {
		if r.IsDirty(field) {
			changes = append(changes, FieldChange{Field: field, OldValue: r.original[field], NewValue: value})
		}
	}
	for field, old := range r.original {
		if _, ok := r.attributes[field]; !ok {
			changes = append(changes, FieldChange{Field: field, OldValue: old})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Field < changes[j].Field })
	return changes
}

// deepCopyMap creates a deep copy of a map
func deepCopyMap(m map[string]any) map[string]any {
	result := make(map[string]any, len(m))
	for k, v := range m {
		result[k] = deepCopyValue(v)
	}
	return result
}

// deepCopyValue copies slices and maps, other values are returned as is
func deepCopyValue(v any) any {
	switch val := v.(type) {
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	case map[string]any:
		return deepCopyMap(val)
	default:
		return v
	}
}

// deepEqual compares two values for equality, handling nil
func deepEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.DeepEqual(a, b)
}
