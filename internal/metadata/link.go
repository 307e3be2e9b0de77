package metadata

import "slices"

// Link describes how a URI variable or a GraphQL parent maps onto a query
// constraint against the operation's resource.
//
// Exactly one join strategy applies: FromProperty (the related resource owns
// the relation), ToProperty (the current resource owns it) or neither, in which
// case the identifiers constrain the resource directly. FromProperty wins when
// both are set.
type Link struct {
	ParameterName       string
	FromClass           string
	FromProperty        string
	ToClass             string
	ToProperty          string
	Identifiers         []string
	CompositeIdentifier bool
	ExpandedValue       string

	Security           string
	SecurityMessage    string
	SecurityObjectName string
}

// LinkStrategy is the join strategy selected by a link.
type LinkStrategy int

const (
	// LinkDirect constrains the current alias identifiers.
	LinkDirect LinkStrategy = iota
	// LinkFromProperty joins the owning side through FromProperty.
	LinkFromProperty
	// LinkToProperty joins the current alias ToProperty relation.
	LinkToProperty
)

func (s LinkStrategy) String() string {
	switch s {
	case LinkFromProperty:
		return "from_property"
	case LinkToProperty:
		return "to_property"
	default:
		return "direct"
	}
}

// Strategy returns the join strategy for the link.
func (l Link) Strategy() LinkStrategy {
	switch {
	case l.FromProperty != "":
		return LinkFromProperty
	case l.ToProperty != "":
		return LinkToProperty
	default:
		return LinkDirect
	}
}

// SecurityObject returns the name under which the related object is exposed
// to the link security expression.
func (l Link) SecurityObject() string {
	if l.SecurityObjectName != "" {
		return l.SecurityObjectName
	}
	if l.ToProperty != "" {
		return l.ToProperty
	}
	return l.FromProperty
}

// TargetClass returns the class the link security is evaluated against.
func (l Link) TargetClass() string {
	if l.FromClass != "" {
		return l.FromClass
	}
	return l.ToClass
}

// Flip returns the link seen from the other side of the relation.
func (l Link) Flip(fromClass string) Link {
	flipped := l.Clone()
	flipped.FromClass = fromClass
	flipped.FromProperty, flipped.ToProperty = l.ToProperty, l.FromProperty
	return flipped
}

// Clone returns a deep copy of the link.
func (l Link) Clone() Link {
	l.Identifiers = slices.Clone(l.Identifiers)
	return l
}

func cloneLinks(links []Link) []Link {
	if links == nil {
		return nil
	}
	out := make([]Link, len(links))
	for i, l := range links {
		out[i] = l.Clone()
	}
	return out
}
