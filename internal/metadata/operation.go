package metadata

import (
	"errors"
	"maps"
	"net/http"
	"slices"
	"strings"
)

// Kind identifies the HTTP verb or GraphQL kind of an operation.
type Kind int

const (
	KindGet Kind = iota
	KindGetCollection
	KindPost
	KindPut
	KindPatch
	KindDelete

	// GraphQL kinds
	KindQuery
	KindQueryCollection
	KindMutation
	KindSubscription
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindGet:
		return "get"
	case KindGetCollection:
		return "get_collection"
	case KindPost:
		return "post"
	case KindPut:
		return "put"
	case KindPatch:
		return "patch"
	case KindDelete:
		return "delete"
	case KindQuery:
		return "query"
	case KindQueryCollection:
		return "query_collection"
	case KindMutation:
		return "mutation"
	case KindSubscription:
		return "subscription"
	default:
		return "unknown"
	}
}

// ParseKind converts a string to a Kind
func ParseKind(s string) (Kind, error) {
	for k := KindGet; k <= KindSubscription; k++ {
		if k.String() == strings.ToLower(s) {
			return k, nil
		}
	}
	return 0, errors.New("unknown operation kind: " + s)
}

// IsGraphQL reports whether the kind is a GraphQL operation.
func (k Kind) IsGraphQL() bool { return k >= KindQuery }

// IsCollection reports whether the kind operates on a collection.
func (k Kind) IsCollection() bool { return k == KindGetCollection || k == KindQueryCollection }

// Method returns the HTTP method for HTTP kinds and an empty string otherwise.
func (k Kind) Method() string {
	switch k {
	case KindGet, KindGetCollection:
		return http.MethodGet
	case KindPost:
		return http.MethodPost
	case KindPut:
		return http.MethodPut
	case KindPatch:
		return http.MethodPatch
	case KindDelete:
		return http.MethodDelete
	default:
		return ""
	}
}

// PaginationType selects page based or cursor based pagination.
type PaginationType string

const (
	PaginationPage   PaginationType = "page"
	PaginationCursor PaginationType = "cursor"
)

// Pagination holds per operation pagination settings. Nil pointers fall back
// to the global pagination options.
type Pagination struct {
	Enabled             *bool
	ClientEnabled       *bool
	ItemsPerPage        *int
	ClientItemsPerPage  *bool
	MaximumItemsPerPage *int
	Partial             *bool
	Type                PaginationType
}

// SecurityEvent names the stage at which a security expression is evaluated.
type SecurityEvent string

const (
	SecurityPreRead         SecurityEvent = "security"
	SecurityPostDenormalize SecurityEvent = "post_denormalize"
	SecurityPostValidation  SecurityEvent = "post_validate"
	SecurityAfterResolver   SecurityEvent = "after_resolver"
)

// Security is an access control expression and the message used on denial.
type Security struct {
	Expression string
	Message    string
}

// IsGrantedRule is an attribute checked against a subject expression.
type IsGrantedRule struct {
	Attribute  string
	Subject    string
	Message    string
	StatusCode int
}

// ExceptionStatus maps errors matching Err (via errors.Is) to an HTTP status.
type ExceptionStatus struct {
	Err    error
	Status int
}

// OrderBy is a default ordering clause.
type OrderBy struct {
	Property  string
	Direction string
}

// Mercure configures live updates for an operation.
type Mercure struct {
	Enabled bool
	Hub     string
	Topics  []string
	Private bool
}

// Operation is an immutable descriptor of one API endpoint. Values are shared
// across requests; With* methods return a modified copy.
type Operation struct {
	kind        Kind
	class       string
	shortName   string
	name        string
	description string
	uriTemplate string

	uriVariables []Link
	links        []Link

	pagination Pagination
	security   map[SecurityEvent]Security
	isGranted  []IsGrantedRule

	provider  string
	processor string
	resolver  string
	input     string
	output    string

	normalizationGroups   []string
	denormalizationGroups []string

	status            int
	exceptionToStatus []ExceptionStatus

	read        bool
	write       bool
	deserialize bool
	validate    bool

	filters []string
	order   []OrderBy
	mercure *Mercure
	extra   map[string]any
}

// NewOperation creates an operation of the given kind for a resource class.
func NewOperation(kind Kind, class string) *Operation {
	return &Operation{
		kind:        kind,
		class:       class,
		shortName:   class,
		read:        true,
		write:       true,
		deserialize: true,
		validate:    true,
	}
}

func (o *Operation) clone() *Operation {
	c := *o
	return &c
}

func (o *Operation) Kind() Kind { return o.kind }
func (o *Operation) Class() string { return o.class }
func (o *Operation) ShortName() string { return o.shortName }
func (o *Operation) Name() string { return o.name }
func (o *Operation) Description() string { return o.description }
func (o *Operation) URITemplate() string { return o.uriTemplate }
func (o *Operation) Method() string { return o.kind.Method() }
func (o *Operation) IsGraphQL() bool { return o.kind.IsGraphQL() }
func (o *Operation) IsCollection() bool { return o.kind.IsCollection() }
func (o *Operation) Provider() string { return o.provider }
func (o *Operation) Processor() string { return o.processor }
func (o *Operation) Resolver() string { return o.resolver }
func (o *Operation) Status() int { return o.status }
func (o *Operation) CanRead() bool { return o.read }
func (o *Operation) CanWrite() bool { return o.write }
func (o *Operation) CanDeserialize() bool { return o.deserialize }
func (o *Operation) CanValidate() bool { return o.validate }
func (o *Operation) Pagination() Pagination { return o.pagination }
func (o *Operation) Filters() []string { return slices.Clone(o.filters) }
func (o *Operation) Order() []OrderBy { return slices.Clone(o.order) }
func (o *Operation) URIVariables() []Link { return cloneLinks(o.uriVariables) }
func (o *Operation) Links() []Link { return cloneLinks(o.links) }
func (o *Operation) IsGranted() []IsGrantedRule { return slices.Clone(o.isGranted) }

// Input returns the input class, defaulting to the resource class.
func (o *Operation) Input() string {
	if o.input != "" {
		return o.input
	}
	return o.class
}

// Output returns the output class, defaulting to the resource class.
func (o *Operation) Output() string {
	if o.output != "" {
		return o.output
	}
	return o.class
}

func (o *Operation) NormalizationGroups() []string { return slices.Clone(o.normalizationGroups) }
func (o *Operation) DenormalizationGroups() []string { return slices.Clone(o.denormalizationGroups) }

// ExceptionToStatus returns the operation error status table.
func (o *Operation) ExceptionToStatus() []ExceptionStatus { return slices.Clone(o.exceptionToStatus) }

// Mercure returns the live update settings, nil when disabled.
func (o *Operation) Mercure() *Mercure {
	if o.mercure == nil || !o.mercure.Enabled {
		return nil
	}
	m := *o.mercure
	m.Topics = slices.Clone(m.Topics)
	return &m
}

// Security returns the expression declared for an event.
func (o *Operation) Security(event SecurityEvent) (Security, bool) {
	s, ok := o.security[event]
	if !ok || s.Expression == "" {
		return Security{}, false
	}
	return s, true
}

// URIVariable returns the link registered for a URI variable.
func (o *Operation) URIVariable(name string) (Link, bool) {
	for _, l := range o.uriVariables {
		if l.ParameterName == name {
			return l.Clone(), true
		}
	}
	return Link{}, false
}

// OperationLinks returns the links relevant to the operation kind: GraphQL
// links for GraphQL operations, URI variables otherwise.
func (o *Operation) OperationLinks() []Link {
	if o.IsGraphQL() {
		return o.Links()
	}
	return o.URIVariables()
}

// IsDeleteMutation reports whether the operation is a GraphQL mutation named
// "delete".
func (o *Operation) IsDeleteMutation() bool {
	return o.kind == KindMutation && o.name == "delete"
}

// Extra returns an extra property.
func (o *Operation) Extra(key string) (any, bool) {
	v, ok := o.extra[key]
	return v, ok
}

// Documented reports whether the operation is part of the API
// documentation (default true).
func (o *Operation) Documented() bool {
	if v, ok := o.extra["openapi"].(bool); ok {
		return v
	}
	return true
}

// StandardPut reports whether PUT replaces the resource (default true).
func (o *Operation) StandardPut() bool {
	if v, ok := o.extra["standard_put"].(bool); ok {
		return v
	}
	return true
}

func (o *Operation) WithName(name string) *Operation {
	c := o.clone()
	c.name = name
	return c
}

func (o *Operation) WithClass(class string) *Operation {
	c := o.clone()
	c.class = class
	return c
}

func (o *Operation) WithShortName(shortName string) *Operation {
	c := o.clone()
	c.shortName = shortName
	return c
}

func (o *Operation) WithDescription(description string) *Operation {
	c := o.clone()
	c.description = description
	return c
}

func (o *Operation) WithURITemplate(template string) *Operation {
	c := o.clone()
	c.uriTemplate = template
	return c
}

func (o *Operation) WithURIVariables(links ...Link) *Operation {
	c := o.clone()
	c.uriVariables = cloneLinks(links)
	return c
}

func (o *Operation) WithLinks(links ...Link) *Operation {
	c := o.clone()
	c.links = cloneLinks(links)
	return c
}

func (o *Operation) WithPagination(p Pagination) *Operation {
	c := o.clone()
	c.pagination = p
	return c
}

// WithSecurity sets the expression evaluated for an event.
func (o *Operation) WithSecurity(event SecurityEvent, expression, message string) *Operation {
	c := o.clone()
	c.security = maps.Clone(o.security)
	if c.security == nil {
		c.security = make(map[SecurityEvent]Security)
	}
	c.security[event] = Security{Expression: expression, Message: message}
	return c
}

func (o *Operation) WithIsGranted(rules ...IsGrantedRule) *Operation {
	c := o.clone()
	c.isGranted = slices.Clone(rules)
	return c
}

func (o *Operation) WithProvider(name string) *Operation {
	c := o.clone()
	c.provider = name
	return c
}

func (o *Operation) WithProcessor(name string) *Operation {
	c := o.clone()
	c.processor = name
	return c
}

func (o *Operation) WithResolver(name string) *Operation {
	c := o.clone()
	c.resolver = name
	return c
}

func (o *Operation) WithInput(class string) *Operation {
	c := o.clone()
	c.input = class
	return c
}

func (o *Operation) WithOutput(class string) *Operation {
	c := o.clone()
	c.output = class
	return c
}

func (o *Operation) WithNormalizationGroups(groups ...string) *Operation {
	c := o.clone()
	c.normalizationGroups = slices.Clone(groups)
	return c
}

func (o *Operation) WithDenormalizationGroups(groups ...string) *Operation {
	c := o.clone()
	c.denormalizationGroups = slices.Clone(groups)
	return c
}

func (o *Operation) WithStatus(status int) *Operation {
	c := o.clone()
	c.status = status
	return c
}

// WithExceptionToStatus appends entries to the error status table.
func (o *Operation) WithExceptionToStatus(entries ...ExceptionStatus) *Operation {
	c := o.clone()
	c.exceptionToStatus = append(slices.Clone(o.exceptionToStatus), entries...)
	return c
}

func (o *Operation) WithRead(read bool) *Operation {
	c := o.clone()
	c.read = read
	return c
}

func (o *Operation) WithWrite(write bool) *Operation {
	c := o.clone()
	c.write = write
	return c
}

func (o *Operation) WithDeserialize(deserialize bool) *Operation {
	c := o.clone()
	c.deserialize = deserialize
	return c
}

func (o *Operation) WithValidate(validate bool) *Operation {
	c := o.clone()
	c.validate = validate
	return c
}

func (o *Operation) WithFilters(names ...string) *Operation {
	c := o.clone()
	c.filters = slices.Clone(names)
	return c
}

func (o *Operation) WithOrder(order ...OrderBy) *Operation {
	c := o.clone()
	c.order = slices.Clone(order)
	return c
}

func (o *Operation) WithMercure(m Mercure) *Operation {
	c := o.clone()
	m.Topics = slices.Clone(m.Topics)
	c.mercure = &m
	return c
}

func (o *Operation) WithExtra(key string, value any) *Operation {
	c := o.clone()
	c.extra = maps.Clone(o.extra)
	if c.extra == nil {
		c.extra = make(map[string]any)
	}
	c.extra[key] = value
	return c
}

// Bool returns a pointer to b, for Pagination fields.
func Bool(b bool) *bool { return &b }

// Int returns a pointer to i, for Pagination fields.
func Int(i int) *int { return &i }
