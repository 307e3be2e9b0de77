package metadata

import (
	"errors"
	"fmt"
	"regexp"
	"sync"
)

var (
	// ErrResourceNotFound is returned when a class has no registered resource
	ErrResourceNotFound = errors.New("resource not found")

	// ErrOperationNotFound is returned when a resource has no operation with the requested name
	ErrOperationNotFound = errors.New("operation not found")
)

var uriVariablePattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)(?::[^}]*)?\}`)

// Registry manages all resources and their operations
type Registry struct {
	resources map[string]*Resource
	order     []string
	mu        sync.RWMutex
}

// NewRegistry creates a new resource registry
func NewRegistry() *Registry {
	return &Registry{
		resources: make(map[string]*Resource),
	}
}

// Register registers a resource and resolves operation defaults: class,
// short name, generated names and URI variables derived from templates.
func (r *Registry) Register(res *Resource) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if res.Class == "" {
		return errors.New("resource class is required")
	}
	if _, exists := r.resources[res.Class]; exists {
		return fmt.Errorf("resource %s is already registered", res.Class)
	}
	if res.ShortName == "" {
		res.ShortName = res.Class
	}
	if len(res.Identifiers) == 0 {
		res.Identifiers = []string{"id"}
	}

	for i, op := range res.Operations {
		if op.IsGraphQL() {
			return fmt.Errorf("resource %s: operation %q is a GraphQL operation", res.Class, op.Name())
		}
		res.Operations[i] = resolveHTTPOperation(res, op)
	}
	for i, op := range res.GraphQLOperations {
		if !op.IsGraphQL() {
			return fmt.Errorf("resource %s: operation %q is not a GraphQL operation", res.Class, op.Name())
		}
		res.GraphQLOperations[i] = resolveGraphQLOperation(res, op)
	}

	r.resources[res.Class] = res
	r.order = append(r.order, res.Class)
	return nil
}

func resolveHTTPOperation(res *Resource, op *Operation) *Operation {
	op = op.WithClass(res.Class).WithShortName(res.ShortName)
	if op.URITemplate() == "" {
		template := "/" + Pluralize(ToSnakeCase(res.ShortName))
		if !op.IsCollection() && op.Kind() != KindPost {
			template += "/{id}"
		}
		op = op.WithURITemplate(template)
	}
	if op.Name() == "" {
		op = op.WithName(fmt.Sprintf("_api_%s_%s", op.URITemplate(), op.Kind()))
	}

	names := URIVariableNames(op.URITemplate())
	if len(names) == 0 {
		return op
	}
	links := op.URIVariables()
	declared := make(map[string]bool, len(links))
	for _, l := range links {
		declared[l.ParameterName] = true
	}
	last := names[len(names)-1]
	if !declared[last] && !op.IsCollection() && op.Kind() != KindPost {
		links = append(links, Link{
			ParameterName:       last,
			FromClass:           res.Class,
			Identifiers:         res.IdentifierFields(),
			CompositeIdentifier: len(res.Identifiers) > 1,
		})
	}
	return op.WithURIVariables(links...)
}

func resolveGraphQLOperation(res *Resource, op *Operation) *Operation {
	op = op.WithClass(res.Class).WithShortName(res.ShortName)
	if op.Name() == "" {
		switch op.Kind() {
		case KindQuery:
			op = op.WithName("item_query")
		case KindQueryCollection:
			op = op.WithName("collection_query")
		case KindSubscription:
			op = op.WithName("update_subscription")
		default:
			op = op.WithName("mutation")
		}
	}
	return op
}

// URIVariableNames returns the placeholder names of a URI template in order.
func URIVariableNames(template string) []string {
	matches := uriVariablePattern.FindAllStringSubmatch(template, -1)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1])
	}
	return names
}

// Resource retrieves a resource by class
func (r *Registry) Resource(class string) (*Resource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res, exists := r.resources[class]
	return res, exists
}

// Resources returns all resources in registration order
func (r *Registry) Resources() []*Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Resource, 0, len(r.order))
	for _, class := range r.order {
		result = append(result, r.resources[class])
	}
	return result
}

// Count returns the number of registered resources
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.resources)
}

// Operation finds an HTTP or GraphQL operation of a resource by name.
func (r *Registry) Operation(class, name string) (*Operation, error) {
	res, ok := r.Resource(class)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, class)
	}
	for _, op := range res.Operations {
		if op.Name() == name {
			return op, nil
		}
	}
	for _, op := range res.GraphQLOperations {
		if op.Name() == name {
			return op, nil
		}
	}
	return nil, fmt.Errorf("%w: %s on %s", ErrOperationNotFound, name, class)
}

// ItemOperation returns the first HTTP GET item operation of a resource.
func (r *Registry) ItemOperation(class string) (*Operation, error) {
	res, ok := r.Resource(class)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, class)
	}
	for _, op := range res.Operations {
		if op.Kind() == KindGet {
			return op, nil
		}
	}
	return nil, fmt.Errorf("%w: no item operation on %s", ErrOperationNotFound, class)
}

// FirstGraphQLOperation returns the first GraphQL operation of the given kind.
func (r *Registry) FirstGraphQLOperation(class string, kind Kind) (*Operation, error) {
	res, ok := r.Resource(class)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, class)
	}
	for _, op := range res.GraphQLOperations {
		if op.Kind() == kind {
			return op, nil
		}
	}
	return nil, fmt.Errorf("%w: no %s operation on %s", ErrOperationNotFound, kind, class)
}

// HTTPOperations returns every HTTP operation in registration order.
func (r *Registry) HTTPOperations() []*Operation {
	var ops []*Operation
	for _, res := range r.Resources() {
		ops = append(ops, res.Operations...)
	}
	return ops
}

// ValidateAll checks cross-resource references: relation targets, link
// classes, identifiers and URI variables without a link.
func (r *Registry) ValidateAll() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	for _, class := range r.order {
		res := r.resources[class]
		for _, rel := range res.Relations {
			if _, ok := r.resources[rel.Target]; !ok {
				errs = append(errs, fmt.Errorf("%s.%s: unknown relation target %s", class, rel.Name, rel.Target))
			}
		}
		for _, op := range append(append([]*Operation{}, res.Operations...), res.GraphQLOperations...) {
			errs = append(errs, r.validateLinks(res, op)...)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) validateLinks(res *Resource, op *Operation) []error {
	var errs []error
	for _, l := range op.OperationLinks() {
		for _, class := range []string{l.FromClass, l.ToClass} {
			if class == "" {
				continue
			}
			if _, ok := r.resources[class]; !ok {
				errs = append(errs, fmt.Errorf("%s %s: link %q references unknown class %s", res.Class, op.Name(), l.ParameterName, class))
			}
		}
		if len(l.Identifiers) == 0 && l.ExpandedValue == "" {
			errs = append(errs, fmt.Errorf("%s %s: link %q has no identifiers", res.Class, op.Name(), l.ParameterName))
		}
	}
	for _, id := range op.Filters() {
		if _, ok := res.Filter(id); !ok {
			errs = append(errs, fmt.Errorf("%s %s: unknown filter %q", res.Class, op.Name(), id))
		}
	}
	if op.IsGraphQL() {
		return errs
	}
	for _, name := range URIVariableNames(op.URITemplate()) {
		if _, ok := op.URIVariable(name); !ok {
			errs = append(errs, fmt.Errorf("%s %s: uri variable %q has no link", res.Class, op.Name(), name))
		}
	}
	return errs
}
