package router

import (
	"encoding/json"
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/conduit-lang/restkit/internal/apierror"
	"github.com/conduit-lang/restkit/internal/identifier"
	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/conduit-lang/restkit/internal/serializer"
	"github.com/conduit-lang/restkit/internal/state"
	"github.com/conduit-lang/restkit/internal/state/provider"
	"github.com/conduit-lang/restkit/internal/web/query"
	"github.com/conduit-lang/restkit/internal/web/response"
)

func (r *Router) handler(op *metadata.Operation) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		mediaType, ok := response.Negotiate(req)
		if !ok {
			r.fail(w, req, op, &notAcceptableError{accept: req.Header.Get("Accept")})
			return
		}

		ids, err := r.uriVariables(req, op)
		if err != nil {
			r.fail(w, req, op, err)
			return
		}
		filters, err := query.ParseFilters(req)
		if err != nil {
			r.fail(w, req, op, err)
			return
		}

		ctx := req.Context()
		sc := &state.Context{Request: req, Operation: op, Filters: filters}

		data, err := r.opts.Provider.Provide(ctx, op, ids, sc)
		if err != nil {
			r.fail(w, req, op, err)
			return
		}
		if sc.Operation != nil && sc.Operation.Class() == provider.DocumentationClass {
			r.renderDocumentation(w, req, data)
			return
		}

		if op.CanWrite() && op.Method() != http.MethodGet {
			data, err = r.opts.Processor.Process(ctx, data, op, ids, sc)
			if err != nil {
				r.fail(w, req, op, err)
				return
			}
		}

		status := successStatus(op)
		if r.opts.DocsPath != "" {
			response.AddLink(w.Header(), r.opts.DocsPath, "describedby")
		}
		if m := op.Mercure(); m != nil {
			hub := m.Hub
			if hub == "" {
				hub = r.opts.MercureHub
			}
			if hub != "" {
				response.AddLink(w.Header(), hub, "mercure")
			}
		}
		if status == http.StatusNoContent || (data == nil && op.Kind() == metadata.KindDelete) {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		body, err := r.render(req, op, data)
		if err != nil {
			r.fail(w, req, op, err)
			return
		}
		if op.Kind() == metadata.KindPost && r.opts.IRIs != nil {
			if iri, err := r.opts.IRIs.IRI(data); err == nil {
				w.Header().Set("Location", iri)
				w.Header().Set("Content-Location", iri)
			}
		}
		if mediaType == response.MediaHTML {
			mediaType = response.MediaJSONLD
		}
		if err := response.JSON(w, status, mediaType, body); err != nil {
			r.logger.Error("write response", zap.Error(err), zap.String("operation", op.Name()))
		}
	}
}

func (r *Router) uriVariables(req *http.Request, op *metadata.Operation) (*identifier.Values, error) {
	vars := make(map[string]string)
	if rctx := chi.RouteContext(req.Context()); rctx != nil {
		for i, key := range rctx.URLParams.Keys {
			if key == "*" {
				continue
			}
			vars[key] = rctx.URLParams.Values[i]
		}
	}
	if len(vars) == 0 {
		return identifier.NewValues(), nil
	}
	ids, err := r.opts.Identifiers.ConvertURIVariables(vars, op)
	if err != nil {
		// an identifier that cannot be converted cannot match any item
		return nil, state.NotFound("Invalid identifier value or configuration.")
	}
	return ids, nil
}

func (r *Router) render(req *http.Request, op *metadata.Operation, data any) (any, error) {
	if op.IsCollection() {
		return r.opts.Renderer.NormalizeCollection(req.Context(), data, op, req.URL, serializer.CollectionOptions{PageParameter: r.opts.PageParameter})
	}
	return r.opts.Renderer.Normalize(req.Context(), data, op)
}

func successStatus(op *metadata.Operation) int {
	if s := op.Status(); s > 0 {
		return s
	}
	switch op.Kind() {
	case metadata.KindPost:
		return http.StatusCreated
	case metadata.KindDelete:
		return http.StatusNoContent
	}
	return http.StatusOK
}

// fail renders err through the error operation. The error resource is
// provided by the provider chain with the failing error and operation in the
// context extras, then by the error provider alone.
func (r *Router) fail(w http.ResponseWriter, req *http.Request, op *metadata.Operation, err error) {
	ctx := req.Context()
	errorOp := apierror.Operation()
	sc := &state.Context{
		Request:   req,
		Operation: errorOp,
		Extra: map[string]any{
			apierror.ErrorKey:     err,
			apierror.OperationKey: op,
		},
	}

	var resource *apierror.Error
	for _, p := range []state.Provider{r.opts.Provider, r.opts.ErrorProvider} {
		data, perr := p.Provide(ctx, errorOp, nil, sc.Clone())
		if perr != nil {
			r.logger.Warn("provide error resource", zap.Error(perr), zap.NamedError("original", err))
			continue
		}
		if e, ok := data.(*apierror.Error); ok {
			resource = e
			break
		}
	}
	if resource == nil {
		resource = apierror.New(err, apierror.Status(err, op, nil), r.opts.Debug)
	}

	body, rerr := r.opts.Renderer.Normalize(ctx, resource, errorOp)
	if rerr != nil || body == nil {
		response.Problem(w, resource)
		return
	}
	if werr := response.JSON(w, resource.Status, response.MediaProblem, body); werr != nil {
		r.logger.Error("write error response", zap.Error(werr))
	}
}

var swaggerUI = template.Must(template.New("swagger").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>API documentation</title>
<link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
<div id="swagger-ui"></div>
<script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
<script>
window.ui = SwaggerUIBundle({spec: {{.}}, dom_id: "#swagger-ui"});
</script>
</body>
</html>
`))

func (r *Router) renderDocumentation(w http.ResponseWriter, req *http.Request, doc any) {
	raw, err := json.Marshal(doc)
	if err != nil {
		r.fail(w, req, nil, err)
		return
	}
	var spec any
	_ = json.Unmarshal(raw, &spec)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := swaggerUI.Execute(w, spec); err != nil {
		r.logger.Error("render documentation", zap.Error(err))
	}
}
