// Package openapi builds the Swagger 2.0 document describing the HTTP
// operations of the registry.
package openapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-openapi/spec"

	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/conduit-lang/restkit/internal/pagination"
	"github.com/conduit-lang/restkit/internal/state"
)

// Info is the document header
type Info struct {
	Title       string `mapstructure:"title"`
	Version     string `mapstructure:"version"`
	Description string `mapstructure:"description"`
}

// DescriberFunc builds the documentation of a declared filter.
type DescriberFunc func(def *metadata.FilterDefinition) (state.FilterDescriber, error)

// Factory builds the document. It implements the documentation factory of
// the Swagger UI provider.
type Factory struct {
	registry   *metadata.Registry
	info       Info
	describe   DescriberFunc
	pagination pagination.Options
}

// NewFactory creates a document factory. describe may be nil when no
// operation declares filters.
func NewFactory(registry *metadata.Registry, info Info, describe DescriberFunc, opts pagination.Options) *Factory {
	if info.Title == "" {
		info.Title = "API"
	}
	if info.Version == "" {
		info.Version = "1.0.0"
	}
	return &Factory{registry: registry, info: info, describe: describe, pagination: opts}
}

// Document implements the documentation factory
func (f *Factory) Document(context.Context) (any, error) {
	return f.Build()
}

// ServeHTTP serves the document as JSON
func (f *Factory) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	doc, err := f.Build()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	data, err := json.Marshal(doc)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_, _ = w.Write(data)
}

// Build assembles the document
func (f *Factory) Build() (*spec.Swagger, error) {
	swagger := &spec.Swagger{
		SwaggerProps: spec.SwaggerProps{
			Swagger:  "2.0",
			Consumes: []string{"application/ld+json", "application/json"},
			Produces: []string{"application/ld+json", "application/json"},
			Info: &spec.Info{InfoProps: spec.InfoProps{
				Title:       f.info.Title,
				Version:     f.info.Version,
				Description: f.info.Description,
			}},
			Paths:       &spec.Paths{Paths: make(map[string]spec.PathItem)},
			Definitions: make(spec.Definitions),
		},
	}

	for _, res := range f.registry.Resources() {
		swagger.Definitions[res.ShortName] = resourceSchema(res)
	}
	swagger.Definitions["Error"] = errorSchema()

	for _, op := range f.registry.HTTPOperations() {
		res, ok := f.registry.Resource(op.Class())
		if !ok {
			continue
		}
		item := swagger.Paths.Paths[op.URITemplate()]
		slot := methodSlot(&item, op.Method())
		if slot == nil || *slot != nil {
			continue
		}
		specOp, err := f.operation(res, op)
		if err != nil {
			return nil, err
		}
		*slot = specOp
		swagger.Paths.Paths[op.URITemplate()] = item
	}
	return swagger, nil
}

func (f *Factory) operation(res *metadata.Resource, op *metadata.Operation) (*spec.Operation, error) {
	specOp := spec.NewOperation(op.Name()).
		WithTags(res.ShortName).
		WithSummary(summary(res, op))
	if op.Description() != "" {
		specOp.WithDescription(op.Description())
	}

	for _, name := range metadata.URIVariableNames(op.URITemplate()) {
		param := spec.PathParam(name).Typed(paramType(res.IdentifierType(name)))
		param.Description = res.ShortName + " identifier"
		specOp.AddParam(param)
	}

	ref := spec.RefSchema("#/definitions/" + res.ShortName)
	switch op.Kind() {
	case metadata.KindGetCollection:
		if err := f.collectionParams(specOp, res, op); err != nil {
			return nil, err
		}
		specOp.RespondsWith(http.StatusOK, spec.NewResponse().
			WithDescription(res.ShortName+" collection").
			WithSchema(collectionSchema(ref)))
	case metadata.KindGet:
		specOp.RespondsWith(http.StatusOK, spec.NewResponse().WithDescription(res.ShortName+" resource").WithSchema(ref))
		specOp.RespondsWith(http.StatusNotFound, errorResponse("Resource not found"))
	case metadata.KindPost, metadata.KindPut, metadata.KindPatch:
		body := spec.BodyParam(lowerFirst(res.ShortName), ref)
		body.Required = true
		specOp.AddParam(body)
		status := http.StatusOK
		if op.Kind() == metadata.KindPost {
			status = http.StatusCreated
		}
		specOp.RespondsWith(status, spec.NewResponse().WithDescription(res.ShortName+" resource").WithSchema(ref))
		specOp.RespondsWith(http.StatusBadRequest, errorResponse("Invalid input"))
		specOp.RespondsWith(http.StatusUnprocessableEntity, errorResponse("Unprocessable entity"))
		if op.Kind() != metadata.KindPost {
			specOp.RespondsWith(http.StatusNotFound, errorResponse("Resource not found"))
		}
	case metadata.KindDelete:
		specOp.RespondsWith(http.StatusNoContent, spec.NewResponse().WithDescription(res.ShortName+" resource deleted"))
		specOp.RespondsWith(http.StatusNotFound, errorResponse("Resource not found"))
	}
	if sec, ok := op.Security(metadata.SecurityPreRead); ok && sec.Expression != "" {
		specOp.RespondsWith(http.StatusForbidden, errorResponse("Access denied"))
	}
	if s := op.Status(); s > 0 && s != http.StatusNoContent && specOp.Responses != nil {
		if _, ok := specOp.Responses.StatusCodeResponses[s]; !ok {
			specOp.RespondsWith(s, spec.NewResponse().WithDescription(http.StatusText(s)).WithSchema(ref))
		}
	}
	return specOp, nil
}

func (f *Factory) collectionParams(specOp *spec.Operation, res *metadata.Resource, op *metadata.Operation) error {
	pg := op.Pagination()
	if boolOr(pg.Enabled, f.pagination.Enabled) {
		page := spec.QueryParam(f.pagination.PageParameterName).Typed("integer", "")
		page.Description = "The collection page number"
		page.WithDefault(1)
		specOp.AddParam(page)
		if boolOr(pg.ClientItemsPerPage, f.pagination.ClientItemsPerPage) {
			perPage := spec.QueryParam(f.pagination.ItemsPerPageParameterName).Typed("integer", "")
			perPage.Description = "The number of items per page"
			specOp.AddParam(perPage)
		}
		if boolOr(pg.ClientEnabled, f.pagination.ClientEnabled) {
			enabled := spec.QueryParam(f.pagination.EnabledParameterName).Typed("boolean", "")
			enabled.Description = "Enable or disable pagination"
			specOp.AddParam(enabled)
		}
	}

	if f.describe == nil {
		return nil
	}
	for _, id := range op.Filters() {
		def, ok := res.Filter(id)
		if !ok {
			return state.Runtime("The filter %q is not declared on %q.", id, res.Class)
		}
		describer, err := f.describe(def)
		if err != nil {
			return err
		}
		for _, p := range describer.Describe(res) {
			param := spec.QueryParam(p.Name)
			if p.Multiple {
				param.Typed("array", "").CollectionOf(spec.NewItems().Typed(paramType(p.Type)), "multi")
			} else {
				param.Typed(paramType(p.Type))
			}
			if p.Strategy != "" {
				param.Description = p.Property + " (" + p.Strategy + ")"
			}
			specOp.AddParam(param)
		}
	}
	return nil
}

func methodSlot(item *spec.PathItem, method string) **spec.Operation {
	switch method {
	case http.MethodGet:
		return &item.Get
	case http.MethodPost:
		return &item.Post
	case http.MethodPut:
		return &item.Put
	case http.MethodPatch:
		return &item.Patch
	case http.MethodDelete:
		return &item.Delete
	}
	return nil
}

func summary(res *metadata.Resource, op *metadata.Operation) string {
	switch op.Kind() {
	case metadata.KindGetCollection:
		return "Retrieves the collection of " + res.ShortName + " resources."
	case metadata.KindGet:
		return "Retrieves a " + res.ShortName + " resource."
	case metadata.KindPost:
		return "Creates a " + res.ShortName + " resource."
	case metadata.KindPut:
		return "Replaces the " + res.ShortName + " resource."
	case metadata.KindPatch:
		return "Updates the " + res.ShortName + " resource."
	case metadata.KindDelete:
		return "Removes the " + res.ShortName + " resource."
	}
	return ""
}

func resourceSchema(res *metadata.Resource) spec.Schema {
	schema := spec.Schema{SchemaProps: spec.SchemaProps{
		Type:       spec.StringOrArray{"object"},
		Properties: make(spec.SchemaProperties),
	}}
	schema.Properties["@id"] = *spec.StringProperty().AsReadOnly()
	schema.Properties["@type"] = *spec.StringProperty().AsReadOnly()

	names := make([]string, 0, len(res.Fields))
	for name := range res.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		field := res.Fields[name]
		prop := fieldSchema(field)
		if field.Immutable {
			prop.WithDescription("Immutable once created")
		}
		schema.Properties[name] = *prop
		for _, c := range field.Constraints {
			if c.Type == metadata.ConstraintRequired {
				schema.Required = append(schema.Required, name)
			}
		}
	}

	relations := make([]string, 0, len(res.Relations))
	for name := range res.Relations {
		relations = append(relations, name)
	}
	sort.Strings(relations)
	for _, name := range relations {
		iri := spec.StrFmtProperty("iri-reference")
		if res.Relations[name].IsToMany() {
			schema.Properties[name] = *spec.ArrayProperty(iri)
			continue
		}
		schema.Properties[name] = *iri
	}
	return schema
}

func fieldSchema(field *metadata.Field) *spec.Schema {
	var s *spec.Schema
	switch field.Type {
	case metadata.TypeInt:
		s = spec.Int32Property()
	case metadata.TypeBigInt:
		s = spec.Int64Property()
	case metadata.TypeFloat, metadata.TypeDecimal:
		s = spec.Float64Property()
	case metadata.TypeBool:
		s = spec.BoolProperty()
	case metadata.TypeTimestamp:
		s = spec.DateTimeProperty()
	case metadata.TypeDate:
		s = spec.DateProperty()
	case metadata.TypeUUID:
		s = spec.StrFmtProperty("uuid")
	case metadata.TypeEmail:
		s = spec.StrFmtProperty("email")
	case metadata.TypeURL:
		s = spec.StrFmtProperty("uri")
	case metadata.TypeJSON:
		s = &spec.Schema{SchemaProps: spec.SchemaProps{Type: spec.StringOrArray{"object"}}}
	default:
		s = spec.StringProperty()
	}
	if field.Nullable {
		s.AddExtension("x-nullable", true)
	}

	for _, c := range field.Constraints {
		switch c.Type {
		case metadata.ConstraintMin:
			if n, ok := number(c.Value); ok {
				if field.Type.IsText() {
					s.WithMinLength(int64(n))
				} else {
					s.WithMinimum(n, false)
				}
			}
		case metadata.ConstraintMax:
			if n, ok := number(c.Value); ok {
				if field.Type.IsText() {
					s.WithMaxLength(int64(n))
				} else {
					s.WithMaximum(n, false)
				}
			}
		case metadata.ConstraintPattern:
			if p, ok := c.Value.(string); ok {
				s.WithPattern(p)
			}
		case metadata.ConstraintOneOf:
			if values, ok := c.Value.([]any); ok {
				s.WithEnum(values...)
			}
		}
	}
	return s
}

func collectionSchema(member *spec.Schema) *spec.Schema {
	schema := &spec.Schema{SchemaProps: spec.SchemaProps{
		Type: spec.StringOrArray{"object"},
		Properties: spec.SchemaProperties{
			"@id":        *spec.StringProperty(),
			"@type":      *spec.StringProperty(),
			"member":     *spec.ArrayProperty(member),
			"totalItems": *spec.Int64Property().WithMinimum(0, false),
			"view": {SchemaProps: spec.SchemaProps{
				Type: spec.StringOrArray{"object"},
				Properties: spec.SchemaProperties{
					"@id":      *spec.StrFmtProperty("iri-reference"),
					"first":    *spec.StrFmtProperty("iri-reference"),
					"last":     *spec.StrFmtProperty("iri-reference"),
					"previous": *spec.StrFmtProperty("iri-reference"),
					"next":     *spec.StrFmtProperty("iri-reference"),
				},
			}},
		},
		Required: []string{"member"},
	}}
	return schema
}

func errorSchema() spec.Schema {
	violation := &spec.Schema{SchemaProps: spec.SchemaProps{
		Type: spec.StringOrArray{"object"},
		Properties: spec.SchemaProperties{
			"propertyPath": *spec.StringProperty(),
			"message":      *spec.StringProperty(),
			"code":         *spec.StringProperty(),
		},
	}}
	return spec.Schema{SchemaProps: spec.SchemaProps{
		Type: spec.StringOrArray{"object"},
		Properties: spec.SchemaProperties{
			"type":       *spec.StringProperty(),
			"title":      *spec.StringProperty(),
			"status":     *spec.Int32Property(),
			"detail":     *spec.StringProperty(),
			"violations": *spec.ArrayProperty(violation),
		},
	}}
}

func errorResponse(description string) *spec.Response {
	return spec.NewResponse().WithDescription(description).WithSchema(spec.RefSchema("#/definitions/Error"))
}

// paramType maps a field type to a Swagger type and format.
func paramType(t metadata.FieldType) (string, string) {
	switch t {
	case metadata.TypeInt:
		return "integer", "int32"
	case metadata.TypeBigInt:
		return "integer", "int64"
	case metadata.TypeFloat, metadata.TypeDecimal:
		return "number", "double"
	case metadata.TypeBool:
		return "boolean", ""
	case metadata.TypeTimestamp:
		return "string", "date-time"
	case metadata.TypeDate:
		return "string", "date"
	case metadata.TypeUUID:
		return "string", "uuid"
	}
	return "string", ""
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
