package provider

import (
	"context"
	"mime"
	"net/http"
	"strings"

	"github.com/conduit-lang/restkit/internal/identifier"
	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/conduit-lang/restkit/internal/state"
)

// DocumentationClass is the class of the documentation operation.
const DocumentationClass = "OpenApi"

// DocumentFactory builds the API documentation.
type DocumentFactory interface {
	Document(ctx context.Context) (any, error)
}

// SwaggerUIProvider serves the documentation to browsers requesting an
// operation as HTML. The inner provider still runs so that its errors, such
// as a missing item, are reported.
type SwaggerUIProvider struct {
	inner   state.Provider
	docs    DocumentFactory
	enabled bool
}

// NewSwaggerUIProvider creates a documentation provider
func NewSwaggerUIProvider(inner state.Provider, docs DocumentFactory, enabled bool) *SwaggerUIProvider {
	return &SwaggerUIProvider{inner: inner, docs: docs, enabled: enabled}
}

// DocumentationOperation is the operation rendering the documentation.
func DocumentationOperation() *metadata.Operation {
	return metadata.NewOperation(metadata.KindGet, DocumentationClass).
		WithName("api_doc").
		WithProcessor("api.swagger_ui.processor").
		WithRead(false).
		WithValidate(false)
}

// Provide implements state.Provider
func (p *SwaggerUIProvider) Provide(ctx context.Context, op *metadata.Operation, uriVariables *identifier.Values, sc *state.Context) (any, error) {
	if !p.enabled || op.IsGraphQL() || !op.Documented() || sc.Request == nil || !WantsHTML(sc.Request) {
		return p.inner.Provide(ctx, op, uriVariables, sc)
	}

	if _, err := p.inner.Provide(ctx, op, uriVariables, sc); err != nil {
		return nil, err
	}
	sc.Operation = DocumentationOperation()
	return p.docs.Document(ctx)
}

// WantsHTML reports whether the preferred media type of the request is
// text/html, or its _format query parameter is "html".
func WantsHTML(r *http.Request) bool {
	if format := r.URL.Query().Get("_format"); format != "" {
		return format == "html"
	}
	accept := r.Header.Get("Accept")
	if accept == "" {
		return false
	}
	first, _, _ := strings.Cut(accept, ",")
	mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(first))
	return err == nil && mediaType == "text/html"
}
