// Package router mounts resource operations on a chi router and runs each
// request through the provider and processor chains.
package router

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/conduit-lang/restkit/internal/identifier"
	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/conduit-lang/restkit/internal/serializer"
	"github.com/conduit-lang/restkit/internal/state"
	"github.com/conduit-lang/restkit/internal/web/middleware"
)

// Renderer normalizes operation results.
type Renderer interface {
	Normalize(ctx context.Context, item any, op *metadata.Operation) (map[string]any, error)
	NormalizeCollection(ctx context.Context, data any, op *metadata.Operation, requestURL *url.URL, opts serializer.CollectionOptions) (map[string]any, error)
}

// IRIGenerator generates the IRI of written items for the Location header.
type IRIGenerator interface {
	IRI(item any) (string, error)
}

// URIVariableConverter turns matched path parameters into identifiers.
type URIVariableConverter interface {
	ConvertURIVariables(vars map[string]string, op *metadata.Operation) (*identifier.Values, error)
}

// Options configures a Router. Provider, Processor, ErrorProvider,
// Renderer and Identifiers are required.
type Options struct {
	Provider      state.Provider
	Processor     state.Processor
	ErrorProvider state.Provider
	Renderer      Renderer
	Identifiers   URIVariableConverter
	IRIs          IRIGenerator
	Logger        *zap.Logger

	Debug         bool
	PageParameter string
	DocsPath      string
	// MercureHub is advertised in the Link header of operations with
	// Mercure enabled.
	MercureHub string
}

// Router serves the HTTP operations of the registry.
type Router struct {
	mux    chi.Router
	opts   Options
	logger *zap.Logger
	routes []RouteInfo
}

// RouteInfo describes a mounted route
type RouteInfo struct {
	Method    string
	Pattern   string
	Name      string
	Class     string
	Operation string
}

// New creates an empty router
func New(opts Options) (*Router, error) {
	if opts.Provider == nil || opts.Processor == nil || opts.ErrorProvider == nil || opts.Renderer == nil || opts.Identifiers == nil {
		return nil, fmt.Errorf("router: provider, processor, error provider, renderer and identifiers are required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	r := &Router{mux: chi.NewRouter(), opts: opts, logger: opts.Logger}
	r.mux.NotFound(func(w http.ResponseWriter, req *http.Request) {
		r.fail(w, req, nil, state.NotFound("No route found for \"%s %s\".", req.Method, req.URL.Path))
	})
	r.mux.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		r.fail(w, req, nil, &methodNotAllowedError{method: req.Method, path: req.URL.Path})
	})
	return r, nil
}

// Use appends middlewares. It must be called before any route is mounted.
func (r *Router) Use(middlewares ...middleware.Middleware) {
	for _, m := range middlewares {
		r.mux.Use(m)
	}
}

// Mount registers the HTTP operations of registry in order. Operations
// sharing a method and template are served by the first one.
func (r *Router) Mount(registry *metadata.Registry) {
	seen := make(map[string]bool)
	for _, op := range registry.HTTPOperations() {
		key := op.Method() + " " + op.URITemplate()
		if seen[key] {
			r.logger.Warn("duplicate route ignored", zap.String("route", key), zap.String("operation", op.Name()))
			continue
		}
		seen[key] = true
		r.MountOperation(op)
	}
}

// MountOperation registers a single HTTP operation
func (r *Router) MountOperation(op *metadata.Operation) {
	r.mux.Method(op.Method(), op.URITemplate(), r.handler(op))
	r.routes = append(r.routes, RouteInfo{
		Method:    op.Method(),
		Pattern:   op.URITemplate(),
		Name:      op.Name(),
		Class:     op.Class(),
		Operation: op.Kind().String(),
	})
}

// Handle mounts a plain handler, such as the documentation or metrics
// endpoint.
func (r *Router) Handle(method, pattern string, h http.Handler) {
	r.mux.Method(method, pattern, h)
	r.routes = append(r.routes, RouteInfo{Method: method, Pattern: pattern})
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Routes lists mounted routes in registration order
func (r *Router) Routes() []RouteInfo {
	out := make([]RouteInfo, len(r.routes))
	copy(out, r.routes)
	return out
}

type methodNotAllowedError struct {
	method, path string
}

func (e *methodNotAllowedError) Error() string {
	return fmt.Sprintf("No route found for \"%s %s\": Method Not Allowed.", e.method, e.path)
}

func (e *methodNotAllowedError) StatusCode() int { return http.StatusMethodNotAllowed }

type notAcceptableError struct{ accept string }

func (e *notAcceptableError) Error() string {
	return fmt.Sprintf("Requested format %q is not supported.", e.accept)
}

func (e *notAcceptableError) StatusCode() int { return http.StatusNotAcceptable }
