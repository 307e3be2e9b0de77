package identifier

import (
	"errors"
	"fmt"

	"github.com/conduit-lang/restkit/internal/metadata"
)

// ResourceLookup resolves resource metadata by class.
type ResourceLookup interface {
	Resource(class string) (*metadata.Resource, bool)
}

// Converter turns wire identifiers into typed identifier values
type Converter struct {
	resources    ResourceLookup
	transformers []Transformer
}

// NewConverter creates a converter. With no transformers the defaults are used.
func NewConverter(resources ResourceLookup, transformers ...Transformer) *Converter {
	if len(transformers) == 0 {
		transformers = DefaultTransformers()
	}
	return &Converter{resources: resources, transformers: transformers}
}

// Convert parses a wire identifier of a resource into typed values ordered
// like the declared identifiers.
func (c *Converter) Convert(wire string, class string) (*Values, error) {
	res, ok := c.resources.Resource(class)
	if !ok {
		return nil, fmt.Errorf("%w: %s", metadata.ErrResourceNotFound, class)
	}
	raw, err := c.decompose(wire, class, res.Identifiers)
	if err != nil {
		return nil, err
	}
	return c.Denormalize(raw, class)
}

func (c *Converter) decompose(wire, class string, identifiers []string) (*Values, error) {
	switch len(identifiers) {
	case 0:
		return nil, invalid("", "Resource %q has no identifiers.", class)
	case 1:
		return NewValues(identifiers[0], wire), nil
	}

	raw, err := Parse(wire)
	if errors.Is(err, ErrNotComposite) {
		raw = NewValues(identifiers[0], wire)
	}
	for _, name := range identifiers {
		if _, ok := raw.Get(name); !ok {
			return nil, invalid(name, "Invalid identifier %q, %q was not found.", wire, name)
		}
	}
	return raw, nil
}

// Denormalize runs each raw value through the transformer matching the
// declared field type. Values that are not strings are kept as is.
func (c *Converter) Denormalize(raw *Values, class string) (*Values, error) {
	res, ok := c.resources.Resource(class)
	if !ok {
		return nil, fmt.Errorf("%w: %s", metadata.ErrResourceNotFound, class)
	}

	out := NewValues()
	for _, name := range res.Identifiers {
		value, ok := raw.Get(name)
		if !ok {
			continue
		}
		typed, err := c.transform(name, value, res.IdentifierType(name))
		if err != nil {
			return nil, err
		}
		out.Set(name, typed)
	}
	return out, nil
}

func (c *Converter) transform(property string, value any, typ metadata.FieldType) (any, error) {
	s, ok := value.(string)
	if !ok {
		return value, nil
	}
	for _, t := range c.transformers {
		if !t.Supports(typ) {
			continue
		}
		typed, err := t.Transform(s, typ)
		if err != nil {
			return nil, &InvalidIdentifierError{
				Property: property,
				Message:  fmt.Sprintf("Identifier %q could not be transformed.", property),
				Err:      err,
			}
		}
		return typed, nil
	}
	return s, nil
}

// ConvertURIVariables converts raw URI variables of an operation. Composite
// links are flattened into one value per identifier.
func (c *Converter) ConvertURIVariables(vars map[string]string, op *metadata.Operation) (*Values, error) {
	out := NewValues()
	for _, link := range op.URIVariables() {
		raw, ok := vars[link.ParameterName]
		if !ok {
			continue
		}
		class := link.FromClass
		if class == "" {
			class = op.Class()
		}
		res, ok := c.resources.Resource(class)
		if !ok {
			return nil, fmt.Errorf("%w: %s", metadata.ErrResourceNotFound, class)
		}

		identifiers := link.Identifiers
		if len(identifiers) == 0 {
			identifiers = []string{link.ParameterName}
		}

		if link.CompositeIdentifier || len(identifiers) > 1 {
			parts, err := Parse(raw)
			if err != nil {
				return nil, invalid(link.ParameterName, "Invalid composite identifier %q for %q.", raw, link.ParameterName)
			}
			if parts.Len() != len(identifiers) {
				return nil, invalid(link.ParameterName, "We expected %d identifiers and got %d.", len(identifiers), parts.Len())
			}
			for _, name := range identifiers {
				value, ok := parts.Get(name)
				if !ok {
					return nil, invalid(name, "Expected identifier %q was not found in %q.", name, link.ParameterName)
				}
				typed, err := c.transform(name, value, res.IdentifierType(name))
				if err != nil {
					return nil, err
				}
				out.Set(name, typed)
			}
			continue
		}

		typed, err := c.transform(identifiers[0], raw, res.IdentifierType(identifiers[0]))
		if err != nil {
			return nil, err
		}
		out.Set(link.ParameterName, typed)
	}
	return out, nil
}
