// Package iri converts items to their IRI and IRIs back to items.
package iri

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/conduit-lang/restkit/internal/identifier"
	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/conduit-lang/restkit/internal/model"
	"github.com/conduit-lang/restkit/internal/state"
)

// Converter resolves IRIs through the item operations of the registry.
type Converter struct {
	registry    *metadata.Registry
	provider    state.Provider
	identifiers *identifier.Converter
	mux         *chi.Mux
	operations  map[string]*metadata.Operation
}

// NewConverter mounts every HTTP GET item operation on a private router used
// to match IRIs.
func NewConverter(registry *metadata.Registry, provider state.Provider, identifiers *identifier.Converter) *Converter {
	c := &Converter{
		registry:    registry,
		provider:    provider,
		identifiers: identifiers,
		mux:         chi.NewRouter(),
		operations:  make(map[string]*metadata.Operation),
	}
	noop := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	for _, op := range registry.HTTPOperations() {
		if op.Kind() != metadata.KindGet {
			continue
		}
		if _, taken := c.operations[op.URITemplate()]; taken {
			continue
		}
		c.operations[op.URITemplate()] = op
		c.mux.Method(http.MethodGet, op.URITemplate(), noop)
	}
	return c
}

// Item loads the item an IRI points to. The provider runs with a copy of sc
// whose operation is the matched item operation.
func (c *Converter) Item(ctx context.Context, iri string, sc *state.Context) (any, error) {
	op, vars, err := c.match(iri)
	if err != nil {
		return nil, err
	}

	ids, err := c.identifiers.ConvertURIVariables(vars, op)
	if err != nil {
		return nil, err
	}

	itemContext := sc.Clone()
	itemContext.Operation = op
	item, err := c.provider.Provide(ctx, op, ids, itemContext)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, state.NotFound("Item not found for %q.", iri)
	}
	return item, nil
}

// Operation returns the item operation and raw URI variables matching an IRI.
func (c *Converter) Operation(iri string) (*metadata.Operation, map[string]string, error) {
	return c.match(iri)
}

func (c *Converter) match(iri string) (*metadata.Operation, map[string]string, error) {
	u, err := url.Parse(iri)
	if err != nil || u.Path == "" {
		return nil, nil, state.InvalidArgument("Invalid IRI %q.", iri)
	}

	rctx := chi.NewRouteContext()
	if !c.mux.Match(rctx, http.MethodGet, u.Path) {
		return nil, nil, state.InvalidArgument("No route matches %q.", iri)
	}
	op, ok := c.operations[rctx.RoutePattern()]
	if !ok {
		return nil, nil, state.InvalidArgument("No resource associated to %q.", iri)
	}

	vars := make(map[string]string, len(rctx.URLParams.Keys))
	for i, key := range rctx.URLParams.Keys {
		vars[key] = rctx.URLParams.Values[i]
	}
	return op, vars, nil
}

// IRI returns the IRI of an item through the item operation of its class.
func (c *Converter) IRI(item any) (string, error) {
	class := model.ClassOf(item)
	op, err := c.registry.ItemOperation(class)
	if err != nil {
		return "", state.Runtime("Unable to generate an IRI for the item of type %q", class)
	}
	return c.Generate(op, item)
}

// Generate expands the URI template of an item operation with the values of
// the item. Parent links are read from the foreign key of the relation named
// by the link.
func (c *Converter) Generate(op *metadata.Operation, item any) (string, error) {
	res, ok := c.registry.Resource(op.Class())
	if !ok {
		return "", state.Runtime("Unable to generate an IRI for the item of type %q", op.Class())
	}

	replacements := make([]string, 0, 2*len(op.URIVariables()))
	for _, link := range op.URIVariables() {
		value, err := c.linkValue(res, link, item)
		if err != nil {
			return "", err
		}
		replacements = append(replacements, "{"+link.ParameterName+"}", value)
	}
	return strings.NewReplacer(replacements...).Replace(op.URITemplate()), nil
}

// Collection returns the IRI of the first collection operation of a class.
func (c *Converter) Collection(class string) (string, error) {
	res, ok := c.registry.Resource(class)
	if !ok {
		return "", state.Runtime("Unable to generate an IRI for the collection of type %q", class)
	}
	for _, op := range res.Operations {
		if op.Kind() == metadata.KindGetCollection && len(op.URIVariables()) == 0 {
			return op.URITemplate(), nil
		}
	}
	return "", state.Runtime("Unable to generate an IRI for the collection of type %q", class)
}

func (c *Converter) linkValue(res *metadata.Resource, link metadata.Link, item any) (string, error) {
	if link.FromClass == "" || link.FromClass == res.Class {
		identifiers := link.Identifiers
		if len(identifiers) == 0 {
			identifiers = res.IdentifierFields()
		}
		values := identifier.NewValues()
		for _, name := range identifiers {
			v, ok := lookup(item, name)
			if !ok || v == nil {
				return "", state.Runtime("Unable to generate an IRI for the item of type %q", res.Class)
			}
			values.Set(name, v)
		}
		if values.Len() == 1 && !link.CompositeIdentifier {
			return fmt.Sprint(values.Map()[identifiers[0]]), nil
		}
		return identifier.Stringify(values), nil
	}

	for _, rel := range res.Relations {
		if rel.Target != link.FromClass || !rel.IsOwningSide() {
			continue
		}
		if v, ok := lookup(item, rel.ForeignKeyColumn(res.Class)); ok && v != nil {
			return fmt.Sprint(v), nil
		}
	}
	return "", state.Runtime("Unable to generate an IRI for the item of type %q", res.Class)
}

func lookup(item any, name string) (any, bool) {
	switch v := item.(type) {
	case *model.Record:
		return v.Lookup(name)
	case map[string]any:
		value, ok := v[name]
		return value, ok
	}
	return nil, false
}
