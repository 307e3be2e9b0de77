// Package serializer converts records to the maps rendered by the HTTP and
// GraphQL layers and payloads back to records. Relations are rendered as
// IRIs unless a nested selection asks for more, and accepted as IRIs or
// nested objects.
package serializer

import (
	"context"
	"sort"

	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/conduit-lang/restkit/internal/model"
	"github.com/conduit-lang/restkit/internal/state"
)

// IRIConverter converts items to IRIs and back.
type IRIConverter interface {
	IRI(item any) (string, error)
	Item(ctx context.Context, iri string, sc *state.Context) (any, error)
	Collection(class string) (string, error)
}

// Serializer normalizes and denormalizes records of registered resources.
type Serializer struct {
	registry state.ResourceRegistry
	iris     IRIConverter
}

// New creates a serializer
func New(registry state.ResourceRegistry, iris IRIConverter) *Serializer {
	return &Serializer{registry: registry, iris: iris}
}

// Normalize renders an item for HTTP responses and published updates:
// "@id" and "@type" followed by every field, with relations as IRIs.
func (s *Serializer) Normalize(ctx context.Context, item any, _ *metadata.Operation) (map[string]any, error) {
	switch v := item.(type) {
	case *model.Record:
		if v == nil {
			return nil, nil
		}
		return s.normalizeRecord(v), nil
	case map[string]any:
		return v, nil
	case interface{ Expose() map[string]any }:
		return v.Expose(), nil
	case nil:
		return nil, nil
	}
	return nil, state.UnexpectedValue("Unable to normalize a value of type %q.", model.ClassOf(item))
}

func (s *Serializer) normalizeRecord(rec *model.Record) map[string]any {
	res, ok := s.registry.Resource(rec.ResourceClass())
	if !ok {
		return rec.Expose()
	}

	out := make(map[string]any, len(res.Fields)+len(res.Relations)+2)
	if iri, err := s.iris.IRI(rec); err == nil {
		out["@id"] = iri
	}
	out["@type"] = res.ShortName
	for name := range res.Fields {
		if v, ok := rec.Lookup(name); ok {
			out[name] = v
		}
	}
	for name, rel := range res.Relations {
		if v, ok := s.relationIRIs(res, rel, rec); ok {
			out[name] = v
		}
	}
	return out
}

// relationIRIs renders a relation as an IRI, or a list of IRIs for to-many
// relations. Unloaded belongs-to relations use the foreign key.
func (s *Serializer) relationIRIs(res *metadata.Resource, rel *metadata.Relation, rec *model.Record) (any, bool) {
	if v, loaded := rec.Relation(rel.Name); loaded {
		switch related := v.(type) {
		case *model.Record:
			if related == nil {
				return nil, true
			}
			return s.iriOrNested(related), true
		case []*model.Record:
			list := make([]any, len(related))
			for i, r := range related {
				list[i] = s.iriOrNested(r)
			}
			return list, true
		case []any:
			list := make([]any, len(related))
			for i, r := range related {
				if r, ok := r.(*model.Record); ok {
					list[i] = s.iriOrNested(r)
				}
			}
			return list, true
		case nil:
			return nil, true
		}
		return nil, false
	}

	if !rel.IsOwningSide() {
		return nil, false
	}
	fk, ok := rec.Lookup(rel.ForeignKeyColumn(res.Class))
	if !ok {
		return nil, false
	}
	if fk == nil {
		return nil, true
	}
	iri, err := s.iris.IRI(s.reference(rel.Target, fk))
	if err != nil {
		return nil, false
	}
	return iri, true
}

func (s *Serializer) iriOrNested(rec *model.Record) any {
	if iri, err := s.iris.IRI(rec); err == nil {
		return iri
	}
	return s.normalizeRecord(rec)
}

func (s *Serializer) reference(class string, key any) *model.Record {
	name := "id"
	if res, ok := s.registry.Resource(class); ok && len(res.Identifiers) > 0 {
		name = res.Identifiers[0]
	}
	return model.Reference(class, map[string]any{name: key})
}

// NormalizeFields renders an item restricted to a GraphQL selection. "id"
// is the IRI, "_id" the identifier and "__typename" the short name. A nil
// selection renders every field.
func (s *Serializer) NormalizeFields(ctx context.Context, item any, fields map[string]any) (map[string]any, error) {
	rec, ok := item.(*model.Record)
	if !ok {
		normalized, err := s.Normalize(ctx, item, nil)
		if err != nil || fields == nil {
			return normalized, err
		}
		out := make(map[string]any, len(fields))
		for name := range fields {
			out[name] = normalized[name]
		}
		return out, nil
	}
	if rec == nil {
		return nil, nil
	}

	res, ok := s.registry.Resource(rec.ResourceClass())
	if !ok {
		return nil, state.Runtime("No resource registered for %s", rec.ResourceClass())
	}
	if fields == nil {
		fields = make(map[string]any, len(res.Fields)+1)
		fields["id"] = nil
		for name := range res.Fields {
			if name != "id" {
				fields[name] = nil
			}
		}
	}

	out := make(map[string]any, len(fields))
	for _, name := range sortedKeys(fields) {
		sub, _ := fields[name].(map[string]any)
		switch {
		case name == "id":
			iri, err := s.iris.IRI(rec)
			if err != nil {
				return nil, err
			}
			out[name] = iri
		case name == "_id":
			if len(res.Identifiers) > 0 {
				out[name] = rec.Get(res.Identifiers[0])
			}
		case name == "__typename":
			out[name] = res.ShortName
		case res.Relations[name] != nil:
			v, err := s.normalizeRelation(ctx, res, res.Relations[name], rec, sub)
			if err != nil {
				return nil, err
			}
			out[name] = v
		default:
			out[name] = rec.Get(name)
		}
	}
	return out, nil
}

func (s *Serializer) normalizeRelation(ctx context.Context, res *metadata.Resource, rel *metadata.Relation, rec *model.Record, sub map[string]any) (any, error) {
	v, loaded := rec.Relation(rel.Name)
	if !loaded {
		if !rel.IsOwningSide() {
			return nil, nil
		}
		fk := rec.Get(rel.ForeignKeyColumn(res.Class))
		if fk == nil {
			return nil, nil
		}
		v = s.reference(rel.Target, fk)
	}

	switch related := v.(type) {
	case *model.Record:
		if related == nil {
			return nil, nil
		}
		return s.NormalizeFields(ctx, related, sub)
	case []*model.Record:
		list := make([]any, len(related))
		for i, r := range related {
			n, err := s.NormalizeFields(ctx, r, sub)
			if err != nil {
				return nil, err
			}
			list[i] = n
		}
		return list, nil
	case []any:
		list := make([]any, len(related))
		for i, r := range related {
			n, err := s.NormalizeFields(ctx, r, sub)
			if err != nil {
				return nil, err
			}
			list[i] = n
		}
		return list, nil
	}
	return nil, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
