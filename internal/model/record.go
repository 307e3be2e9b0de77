// Package model provides the active-record style entity handled by the
// relational and document backends.
//
// A Record carries its attributes, loaded relations and an exists flag that
// decides between INSERT and UPDATE on persist. Records are request scoped
// and not safe for concurrent use.
package model

import (
	"encoding/json"
	"maps"
	"reflect"
	"sort"

	"github.com/conduit-lang/restkit/internal/metadata"
)

// Record is a resource instance backed by an attribute map
type Record struct {
	class      string
	attributes map[string]any
	original   map[string]any
	relations  map[string]any
	exists     bool
	loaded     bool
}

// New creates a record that does not exist in storage yet.
func New(class string, attributes map[string]any) *Record {
	return &Record{
		class:      class,
		attributes: deepCopyMap(attributes),
		original:   make(map[string]any),
		relations:  make(map[string]any),
		loaded:     true,
	}
}

// Hydrate creates a record from a storage row.
func Hydrate(class string, row map[string]any) *Record {
	r := New(class, row)
	r.exists = true
	r.SyncOriginal()
	return r
}

// Reference creates an existing record holding only its identifiers, used
// when data fetching is disabled.
func Reference(class string, identifiers map[string]any) *Record {
	r := Hydrate(class, identifiers)
	r.loaded = false
	return r
}

// ResourceClass returns the resource class of the record.
func (r *Record) ResourceClass() string { return r.class }

// Exists reports whether the record is stored.
func (r *Record) Exists() bool { return r.exists }

// SetExists marks the record as stored or new.
func (r *Record) SetExists(exists bool) { r.exists = exists }

// Loaded reports whether attributes were fetched, false for references.
func (r *Record) Loaded() bool { return r.loaded }

// Get returns an attribute value.
func (r *Record) Get(name string) any { return r.attributes[name] }

// Lookup returns an attribute value and whether it is set.
func (r *Record) Lookup(name string) (any, bool) {
	v, ok := r.attributes[name]
	return v, ok
}

// Set assigns an attribute.
func (r *Record) Set(name string, value any) { r.attributes[name] = value }

// Unset removes an attribute.
func (r *Record) Unset(name string) { delete(r.attributes, name) }

// Attributes returns a copy of the attributes.
func (r *Record) Attributes() map[string]any { return maps.Clone(r.attributes) }

// Relation returns a loaded relation: a *Record, a []*Record or nil.
func (r *Record) Relation(name string) (any, bool) {
	v, ok := r.relations[name]
	return v, ok
}

// SetRelation stores a loaded relation.
func (r *Record) SetRelation(name string, value any) { r.relations[name] = value }

// UnsetRelation removes a loaded relation.
func (r *Record) UnsetRelation(name string) { delete(r.relations, name) }

// RelationNames returns the loaded relation names, sorted.
func (r *Record) RelationNames() []string {
	names := make([]string, 0, len(r.relations))
	for name := range r.relations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Associate sets a belongs-to relation: the foreign key takes the related
// record's key and the relation is kept loaded.
func (r *Record) Associate(rel *metadata.Relation, related *Record, relatedKey string) {
	if related == nil {
		r.attributes[rel.ForeignKeyColumn(r.class)] = nil
		delete(r.relations, rel.Name)
		return
	}
	r.attributes[rel.ForeignKeyColumn(r.class)] = related.Get(relatedKey)
	r.relations[rel.Name] = related
}

// Clone returns a deep copy of the record state.
func (r *Record) Clone() *Record {
	return &Record{
		class:      r.class,
		attributes: deepCopyMap(r.attributes),
		original:   deepCopyMap(r.original),
		relations:  maps.Clone(r.relations),
		exists:     r.exists,
		loaded:     r.loaded,
	}
}

// MarshalJSON renders attributes with loaded relations nested.
func (r *Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.attributes)+len(r.relations))
	maps.Copy(out, r.attributes)
	maps.Copy(out, r.relations)
	return json.Marshal(out)
}

// Expose flattens the record into plain maps, related records included.
func (r *Record) Expose() map[string]any {
	out := make(map[string]any, len(r.attributes)+len(r.relations))
	maps.Copy(out, r.attributes)
	for name, rel := range r.relations {
		out[name] = expose(rel)
	}
	return out
}

func expose(v any) any {
	switch rel := v.(type) {
	case *Record:
		if rel == nil {
			return nil
		}
		return rel.Expose()
	case []*Record:
		list := make([]any, len(rel))
		for i, item := range rel {
			list[i] = item.Expose()
		}
		return list
	case []any:
		list := make([]any, len(rel))
		for i, item := range rel {
			list[i] = expose(item)
		}
		return list
	}
	return v
}

// ClassOf returns the resource class of a value: ResourceClass() when the
// value provides it, the dereferenced Go type name otherwise.
func ClassOf(v any) string {
	if v == nil {
		return ""
	}
	if c, ok := v.(interface{ ResourceClass() string }); ok {
		return c.ResourceClass()
	}
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}
