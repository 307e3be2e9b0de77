package state

import (
	"github.com/conduit-lang/restkit/internal/identifier"
	"github.com/conduit-lang/restkit/internal/metadata"
)

// ResolveLinks returns the links a backend applies for an operation.
//
// Without a link class these are the operation links. For a nested GraphQL
// collection, the operation links whose FromClass is the link class are
// tried first; otherwise the link class's own GraphQL links pointing at
// resourceClass are flipped. The first match wins in both searches.
func ResolveLinks(registry ResourceRegistry, resourceClass string, op *metadata.Operation, sc *Context) ([]metadata.Link, error) {
	links := op.OperationLinks()
	if sc == nil || sc.LinkClass == "" {
		return links, nil
	}

	for _, l := range links {
		if l.FromClass == sc.LinkClass && (sc.LinkProperty == "" || l.FromProperty == sc.LinkProperty) {
			return []metadata.Link{l}, nil
		}
	}

	linked, err := registry.Operation(sc.LinkClass, op.Name())
	if err != nil {
		linked, err = registry.FirstGraphQLOperation(sc.LinkClass, metadata.KindQuery)
	}
	if err == nil {
		for _, l := range linked.OperationLinks() {
			if l.FromClass != resourceClass {
				continue
			}
			if sc.LinkProperty != "" && l.ToProperty != sc.LinkProperty && l.FromProperty != sc.LinkProperty {
				continue
			}
			return []metadata.Link{l.Flip(sc.LinkClass)}, nil
		}
	}

	return nil, Runtime("The class %q cannot be retrieved from %q.", resourceClass, sc.LinkClass)
}

// IdentifierValue takes the value bound to one identifier of a link: by
// identifier name for composite links, by parameter name otherwise, falling
// back to the most recent remaining value. Taken values are removed.
func IdentifierValue(values *identifier.Values, link metadata.Link, identifierName string) (any, bool) {
	if len(link.Identifiers) > 1 || link.CompositeIdentifier {
		if v, ok := values.Take(identifierName); ok {
			return v, true
		}
	} else {
		if v, ok := values.Take(link.ParameterName); ok {
			return v, true
		}
		if v, ok := values.Take(identifierName); ok {
			return v, true
		}
	}
	_, v, ok := values.TakeLast()
	return v, ok
}
