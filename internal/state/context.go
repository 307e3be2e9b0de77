package state

import (
	"maps"
	"net/http"

	"github.com/conduit-lang/restkit/internal/metadata"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Filters holds collection filters in argument order.
type Filters = orderedmap.OrderedMap[string, any]

// NewFilters creates an empty filter map.
func NewFilters() *Filters { return orderedmap.New[string, any]() }

// ResolveInfo is the part of the GraphQL resolve info used by the pipeline.
type ResolveInfo struct {
	FieldName string
	// Fields is the selection set below the field, nested maps of field name to
	// sub selection (nil for leaves).
	Fields map[string]any
}

// Context is the request scoped bag threaded through providers and
// processors. Recognized keys:
//
//   - Request: the HTTP request, nil for GraphQL resolvers without one
//   - Operation: the operation being rendered; providers may switch it
//   - PreviousData: the stored object before a write (previous_object)
//   - Filters: normalized collection filters
//   - Args, Source, Info, RootClass: GraphQL resolver state; a non-nil
//     Source means a nested field
//   - LinkClass, LinkProperty: the parent resource of a nested collection
//   - FetchData: false to return references instead of loaded items
//   - LinkedObjects: related objects exposed to link security expressions
//   - Extra: anything else
type Context struct {
	Request      *http.Request
	Operation    *metadata.Operation
	PreviousData any
	Filters      *Filters

	Args      map[string]any
	Source    map[string]any
	Info      *ResolveInfo
	RootClass string

	LinkClass    string
	LinkProperty string

	FetchData *bool

	LinkedObjects map[string]any
	Extra         map[string]any
}

// ShouldFetchData reports whether items must be loaded, true unless disabled.
func (c *Context) ShouldFetchData() bool {
	return c == nil || c.FetchData == nil || *c.FetchData
}

// IsNested reports whether a GraphQL parent source is present.
func (c *Context) IsNested() bool {
	return c != nil && c.Source != nil
}

// Arg returns a GraphQL argument.
func (c *Context) Arg(name string) (any, bool) {
	if c == nil || c.Args == nil {
		return nil, false
	}
	v, ok := c.Args[name]
	return v, ok
}

// InputArg returns a field of the GraphQL "input" argument.
func (c *Context) InputArg(name string) (any, bool) {
	input, ok := c.Arg("input")
	if !ok {
		return nil, false
	}
	m, ok := input.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := m[name]
	return v, ok
}

// Clone returns a shallow copy with independent maps.
func (c *Context) Clone() *Context {
	if c == nil {
		return &Context{}
	}
	clone := *c
	clone.LinkedObjects = maps.Clone(c.LinkedObjects)
	clone.Extra = maps.Clone(c.Extra)
	return &clone
}

// SetLinkedObject exposes a related object to security expressions.
func (c *Context) SetLinkedObject(name string, object any) {
	if c.LinkedObjects == nil {
		c.LinkedObjects = make(map[string]any)
	}
	c.LinkedObjects[name] = object
}
