package serializer

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/conduit-lang/restkit/internal/model"
	"github.com/conduit-lang/restkit/internal/state"
)

// reserved payload keys that never map to a field
var reserved = map[string]bool{
	"@id":                  true,
	"@type":                true,
	"@context":             true,
	"clientMutationId":     true,
	"clientSubscriptionId": true,
}

// Denormalize populates into, or a new record of class when into is nil,
// with input. Relations are given as IRIs or nested objects; nested objects
// with an "@id" or "id" IRI update the referenced record. Immutable fields
// of stored records and unknown keys are ignored.
func (s *Serializer) Denormalize(ctx context.Context, input map[string]any, class string, into any, sc *state.Context) (any, error) {
	res, ok := s.registry.Resource(class)
	if !ok {
		return nil, state.Runtime("No resource registered for %s", class)
	}

	var rec *model.Record
	switch v := into.(type) {
	case nil:
		rec = model.New(class, nil)
	case *model.Record:
		if v == nil {
			rec = model.New(class, nil)
		} else {
			rec = v
		}
	default:
		return nil, state.UnexpectedValue("Unable to populate a value of type %q.", model.ClassOf(into))
	}

	for _, name := range sortedKeys(input) {
		value := input[name]
		if reserved[name] {
			continue
		}
		if rel, ok := res.Relation(name); ok {
			if err := s.denormalizeRelation(ctx, rec, rel, value, sc); err != nil {
				return nil, err
			}
			continue
		}
		field, ok := res.Field(name)
		if !ok {
			continue
		}
		if isIdentifier(res, name) && (rec.Exists() || isIRI(value)) {
			continue
		}
		if field.Immutable && rec.Exists() {
			continue
		}
		converted, err := convert(field, value)
		if err != nil {
			return nil, err
		}
		rec.Set(name, converted)
	}
	return rec, nil
}

func (s *Serializer) denormalizeRelation(ctx context.Context, rec *model.Record, rel *metadata.Relation, value any, sc *state.Context) error {
	if rel.IsToMany() {
		list, ok := value.([]any)
		if !ok && value != nil {
			return state.UnexpectedValue("The type of the %q attribute must be \"array\", %q given.", rel.Name, jsonType(value))
		}
		related := make([]*model.Record, 0, len(list))
		for _, v := range list {
			r, err := s.related(ctx, rel, v, sc)
			if err != nil {
				return err
			}
			related = append(related, r)
		}
		rec.SetRelation(rel.Name, related)
		return nil
	}

	if value == nil {
		if rel.IsOwningSide() {
			rec.Associate(rel, nil, "")
		} else {
			rec.SetRelation(rel.Name, nil)
		}
		return nil
	}
	related, err := s.related(ctx, rel, value, sc)
	if err != nil {
		return err
	}
	if rel.IsOwningSide() {
		rec.Associate(rel, related, s.keyOf(rel.Target))
	} else {
		rec.SetRelation(rel.Name, related)
	}
	return nil
}

// related resolves one relation value: an IRI, or a nested object.
func (s *Serializer) related(ctx context.Context, rel *metadata.Relation, value any, sc *state.Context) (*model.Record, error) {
	switch v := value.(type) {
	case string:
		return s.load(ctx, rel, v, sc)
	case map[string]any:
		var into any
		if iri := nestedIRI(v); iri != "" {
			loaded, err := s.load(ctx, rel, iri, sc)
			if err != nil {
				return nil, err
			}
			into = loaded
		}
		out, err := s.Denormalize(ctx, v, rel.Target, into, sc)
		if err != nil {
			return nil, err
		}
		return out.(*model.Record), nil
	}
	return nil, state.UnexpectedValue("Expected IRI or nested document for attribute %q, %q given.", rel.Name, jsonType(value))
}

func (s *Serializer) load(ctx context.Context, rel *metadata.Relation, iri string, sc *state.Context) (*model.Record, error) {
	item, err := s.iris.Item(ctx, iri, sc)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) || errors.Is(err, state.ErrInvalidArgument) {
			return nil, state.UnexpectedValue("Item not found for %q.", iri)
		}
		return nil, err
	}
	rec, ok := item.(*model.Record)
	if !ok || rec.ResourceClass() != rel.Target {
		return nil, state.UnexpectedValue("The IRI %q does not reference a %s.", iri, rel.Target)
	}
	return rec, nil
}

func (s *Serializer) keyOf(class string) string {
	if res, ok := s.registry.Resource(class); ok && len(res.Identifiers) > 0 {
		return res.Identifiers[0]
	}
	return "id"
}

func nestedIRI(v map[string]any) string {
	for _, key := range []string{"@id", "id"} {
		if iri, ok := v[key].(string); ok && isIRI(iri) {
			return iri
		}
	}
	return ""
}

func isIRI(v any) bool {
	s, ok := v.(string)
	return ok && len(s) > 0 && s[0] == '/'
}

func isIdentifier(res *metadata.Resource, name string) bool {
	for _, id := range res.Identifiers {
		if id == name {
			return true
		}
	}
	return false
}

// convert checks a decoded value against the field type. JSON numbers are
// turned into int64 for integer fields.
func convert(field *metadata.Field, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	mismatch := func(expected string) error {
		return state.UnexpectedValue("The type of the %q attribute must be %q, %q given.", field.Name, expected, jsonType(value))
	}

	switch field.Type {
	case metadata.TypeInt, metadata.TypeBigInt:
		switch n := value.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case float64:
			if n != math.Trunc(n) {
				return nil, mismatch("int")
			}
			return int64(n), nil
		case json.Number:
			i, err := n.Int64()
			if err != nil {
				return nil, mismatch("int")
			}
			return i, nil
		}
		return nil, mismatch("int")
	case metadata.TypeFloat, metadata.TypeDecimal:
		switch n := value.(type) {
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case float64:
			return n, nil
		case json.Number:
			f, err := n.Float64()
			if err != nil {
				return nil, mismatch("float")
			}
			return f, nil
		}
		return nil, mismatch("float")
	case metadata.TypeBool:
		if _, ok := value.(bool); !ok {
			return nil, mismatch("bool")
		}
		return value, nil
	case metadata.TypeTimestamp, metadata.TypeDate:
		str, ok := value.(string)
		if !ok {
			return nil, mismatch("string")
		}
		layout := time.RFC3339
		if field.Type == metadata.TypeDate {
			layout = time.DateOnly
		}
		t, err := time.Parse(layout, str)
		if err != nil {
			return nil, state.UnexpectedValue("The %q attribute must be a valid %s, %q given.", field.Name, field.Type, str)
		}
		return t, nil
	case metadata.TypeJSON:
		return value, nil
	}

	if _, ok := value.(string); !ok {
		return nil, mismatch("string")
	}
	return value, nil
}

func jsonType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "bool"
	case float64, float32, int, int64, int32, json.Number:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return "unknown"
}
