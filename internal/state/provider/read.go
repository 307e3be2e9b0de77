// Package provider holds the decorators assembled around the dispatching
// provider: reading, resolvers, access checks, linked reads,
// denormalization and the documentation short-circuit.
package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/conduit-lang/restkit/internal/identifier"
	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/conduit-lang/restkit/internal/model"
	"github.com/conduit-lang/restkit/internal/state"
)

// Keys set by the GraphQL item normalizer on nested sources.
const (
	SourceIdentifiersKey = "#itemIdentifiers"
	SourceClassKey       = "#itemResourceClass"
)

// DefaultNestingSeparator replaces "." in GraphQL filter argument names.
const DefaultNestingSeparator = "__"

// IRIResolver loads the item an IRI points to.
type IRIResolver interface {
	Item(ctx context.Context, iri string, sc *state.Context) (any, error)
}

// ReadProvider applies the read rules of HTTP and GraphQL operations around
// the inner provider.
type ReadProvider struct {
	inner            state.Provider
	iris             IRIResolver
	nestingSeparator string
}

// NewReadProvider creates a read provider. iris may be nil when no GraphQL
// operation is served.
func NewReadProvider(inner state.Provider, iris IRIResolver) *ReadProvider {
	return &ReadProvider{inner: inner, iris: iris, nestingSeparator: DefaultNestingSeparator}
}

// WithNestingSeparator returns a copy using another GraphQL nesting separator.
func (p *ReadProvider) WithNestingSeparator(separator string) *ReadProvider {
	clone := *p
	clone.nestingSeparator = separator
	return &clone
}

// Provide implements state.Provider
func (p *ReadProvider) Provide(ctx context.Context, op *metadata.Operation, uriVariables *identifier.Values, sc *state.Context) (any, error) {
	if op.IsGraphQL() {
		if op.IsCollection() {
			return p.provideCollection(ctx, op, uriVariables, sc)
		}
		return p.provideGraphQLItem(ctx, op, sc)
	}
	return p.provideHTTP(ctx, op, uriVariables, sc)
}

func (p *ReadProvider) provideHTTP(ctx context.Context, op *metadata.Operation, uriVariables *identifier.Values, sc *state.Context) (any, error) {
	if !op.CanRead() || (uriVariables.Len() == 0 && !isSafeMethod(op.Method())) {
		return nil, nil
	}

	data, err := p.inner.Provide(ctx, op, uriVariables, sc)
	if err != nil {
		return nil, err
	}
	if data == nil && op.Kind() != metadata.KindPost && !(op.Kind() == metadata.KindPut && allowCreate(op)) {
		return nil, state.NotFound("Not Found")
	}
	sc.PreviousData = cloneData(data)
	return data, nil
}

func (p *ReadProvider) provideGraphQLItem(ctx context.Context, op *metadata.Operation, sc *state.Context) (any, error) {
	if !op.CanRead() {
		return nil, nil
	}
	iri, ok := graphQLIdentifier(sc)
	if !ok {
		return nil, nil
	}
	if p.iris == nil {
		return nil, state.Runtime("No IRI resolver configured to read %q.", iri)
	}

	item, err := p.iris.Item(ctx, iri, sc)
	if err != nil {
		if !errors.Is(err, state.ErrNotFound) {
			return nil, err
		}
		item = nil
	}

	if op.Kind() == metadata.KindMutation || op.Kind() == metadata.KindSubscription {
		if item == nil {
			return nil, state.NotFound("Item %q not found.", iri)
		}
		if model.ClassOf(item) != op.Class() {
			return nil, state.UnexpectedValue("Item %q did not match expected type %q.", iri, op.ShortName())
		}
		sc.PreviousData = cloneData(item)
	}
	return item, nil
}

func (p *ReadProvider) provideCollection(ctx context.Context, op *metadata.Operation, uriVariables *identifier.Values, sc *state.Context) (any, error) {
	if !op.CanRead() || sc.RootClass == "" {
		return state.EmptyCollection(), nil
	}

	sc.Filters = NormalizeFilters(sc.Args, p.nestingSeparator)

	if sc.Source != nil && sc.Info != nil {
		_, hasField := sc.Source[sc.Info.FieldName]
		ids, hasIDs := sc.Source[SourceIdentifiersKey].(map[string]any)
		class, hasClass := sc.Source[SourceClassKey].(string)
		if hasField && hasIDs && hasClass {
			uriVariables = identifier.FromMap(ids)
			sc.LinkClass = class
			sc.LinkProperty = sc.Info.FieldName
		}
	}
	return p.inner.Provide(ctx, op, uriVariables, sc)
}

// graphQLIdentifier returns args.id, or args.input.id for mutations.
func graphQLIdentifier(sc *state.Context) (string, bool) {
	if id, ok := sc.Arg("id"); ok {
		s, ok := id.(string)
		return s, ok && s != ""
	}
	if id, ok := sc.InputArg("id"); ok {
		s, ok := id.(string)
		return s, ok && s != ""
	}
	return "", false
}

func isSafeMethod(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
}

func allowCreate(op *metadata.Operation) bool {
	v, _ := op.Extra("allow_create")
	b, _ := v.(bool)
	return b
}

func cloneData(data any) any {
	if r, ok := data.(*model.Record); ok {
		return r.Clone()
	}
	return data
}

// NormalizeFilters turns GraphQL arguments into collection filters. Names
// ending in "_list" are also exposed without the suffix, names holding the
// nesting separator are also exposed with dots, and lists of objects are
// merged into one ordered object.
func NormalizeFilters(args map[string]any, separator string) *state.Filters {
	filters := state.NewFilters()
	if len(args) == 0 {
		return filters
	}
	for _, name := range sortedKeys(args) {
		normalizeInto(filters, name, args[name], separator)
	}
	return filters
}

func normalizeInto(filters *state.Filters, name string, value any, separator string) {
	value = normalizeValue(value, separator)
	filters.Set(name, value)

	if strings.HasSuffix(name, "_list") && isList(value) {
		name = strings.TrimSuffix(name, "_list")
		filters.Set(name, value)
	}
	if separator != "" && strings.Contains(name, separator) {
		filters.Set(strings.ReplaceAll(name, separator, "."), value)
	}
}

func normalizeValue(value any, separator string) any {
	switch v := value.(type) {
	case map[string]any:
		nested := state.NewFilters()
		for _, name := range sortedKeys(v) {
			normalizeInto(nested, name, v[name], separator)
		}
		return nested
	case []any:
		if merged, ok := mergeObjects(v, separator); ok {
			return merged
		}
		list := make([]any, len(v))
		for i, item := range v {
			list[i] = normalizeValue(item, separator)
		}
		return list
	}
	return value
}

// mergeObjects merges [{a: 1}, {b: 2}] into {a: 1, b: 2}, keeping the list
// order.
func mergeObjects(list []any, separator string) (*state.Filters, bool) {
	if len(list) == 0 {
		return nil, false
	}
	merged := state.NewFilters()
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		for _, name := range sortedKeys(m) {
			normalizeInto(merged, name, m[name], separator)
		}
	}
	return merged, true
}

func isList(v any) bool {
	switch v.(type) {
	case []any, *state.Filters:
		return true
	}
	return false
}
