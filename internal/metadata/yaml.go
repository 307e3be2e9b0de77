package metadata

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"sigs.k8s.io/yaml"
)

type resourcesDocument struct {
	Resources []resourceDocument `json:"resources"`
}

type resourceDocument struct {
	Class       string                      `json:"class"`
	ShortName   string                      `json:"shortName"`
	Table       string                      `json:"table"`
	Collection  string                      `json:"collection"`
	Index       string                      `json:"index"`
	Identifiers []string                    `json:"identifiers"`
	Fields      map[string]fieldDocument    `json:"fields"`
	Relations   map[string]relationDocument `json:"relations"`
	Filters     map[string]filterDocument   `json:"filters"`
	Operations  []operationDocument         `json:"operations"`
	GraphQL     []operationDocument         `json:"graphql"`
}

type fieldDocument struct {
	Type        string               `json:"type"`
	Column      string               `json:"column"`
	Nullable    bool                 `json:"nullable"`
	Immutable   bool                 `json:"immutable"`
	Constraints []constraintDocument `json:"constraints"`
}

type constraintDocument struct {
	Type    string `json:"type"`
	Value   any    `json:"value"`
	Message string `json:"message"`
}

type relationDocument struct {
	Type       string `json:"type"`
	Target     string `json:"target"`
	ForeignKey string `json:"foreignKey"`
	MappedBy   string `json:"mappedBy"`
}

type filterDocument struct {
	Type       string            `json:"type"`
	Properties map[string]string `json:"properties"`
}

type linkDocument struct {
	ParameterName      string   `json:"parameterName"`
	FromClass          string   `json:"fromClass"`
	FromProperty       string   `json:"fromProperty"`
	ToClass            string   `json:"toClass"`
	ToProperty         string   `json:"toProperty"`
	Identifiers        []string `json:"identifiers"`
	Composite          bool     `json:"compositeIdentifier"`
	ExpandedValue      string   `json:"expandedValue"`
	Security           string   `json:"security"`
	SecurityMessage    string   `json:"securityMessage"`
	SecurityObjectName string   `json:"securityObjectName"`
}

type paginationDocument struct {
	Enabled             *bool  `json:"enabled"`
	ClientEnabled       *bool  `json:"clientEnabled"`
	ItemsPerPage        *int   `json:"itemsPerPage"`
	ClientItemsPerPage  *bool  `json:"clientItemsPerPage"`
	MaximumItemsPerPage *int   `json:"maximumItemsPerPage"`
	Partial             *bool  `json:"partial"`
	Type                string `json:"type"`
}

type securityDocument struct {
	Expression string `json:"expression"`
	Message    string `json:"message"`
}

type operationDocument struct {
	Kind                  string                      `json:"kind"`
	Name                  string                      `json:"name"`
	Description           string                      `json:"description"`
	URITemplate           string                      `json:"uriTemplate"`
	URIVariables          []linkDocument              `json:"uriVariables"`
	Links                 []linkDocument              `json:"links"`
	Pagination            *paginationDocument         `json:"pagination"`
	Security              map[string]securityDocument `json:"security"`
	IsGranted             []IsGrantedRule             `json:"isGranted"`
	Provider              string                      `json:"provider"`
	Processor             string                      `json:"processor"`
	Resolver              string                      `json:"resolver"`
	Input                 string                      `json:"input"`
	Output                string                      `json:"output"`
	NormalizationGroups   []string                    `json:"normalizationGroups"`
	DenormalizationGroups []string                    `json:"denormalizationGroups"`
	Status                int                         `json:"status"`
	ExceptionToStatus     map[string]int              `json:"exceptionToStatus"`
	Read                  *bool                       `json:"read"`
	Write                 *bool                       `json:"write"`
	Deserialize           *bool                       `json:"deserialize"`
	Validate              *bool                       `json:"validate"`
	Filters               []string                    `json:"filters"`
	Order                 map[string]string           `json:"order"`
	Mercure               *Mercure                    `json:"mercure"`
	Extra                 map[string]any              `json:"extraProperties"`
}

// LoadYAMLFile reads resource declarations from a YAML file.
func LoadYAMLFile(path string, errorKinds map[string]error) ([]*Resource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read resource file: %w", err)
	}
	return LoadYAML(data, errorKinds)
}

// LoadYAML decodes resource declarations. errorKinds resolves the keys of
// exceptionToStatus tables to sentinel errors.
func LoadYAML(data []byte, errorKinds map[string]error) ([]*Resource, error) {
	var doc resourcesDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse resource file: %w", err)
	}

	resources := make([]*Resource, 0, len(doc.Resources))
	for _, rd := range doc.Resources {
		res, err := rd.build(errorKinds)
		if err != nil {
			return nil, fmt.Errorf("resource %s: %w", rd.Class, err)
		}
		resources = append(resources, res)
	}
	return resources, nil
}

func (rd resourceDocument) build(errorKinds map[string]error) (*Resource, error) {
	res := NewResource(rd.Class)
	if rd.ShortName != "" {
		res.ShortName = rd.ShortName
	}
	if len(rd.Identifiers) > 0 {
		res.Identifiers = rd.Identifiers
	}
	res.Table, res.Collection, res.Index = rd.Table, rd.Collection, rd.Index

	for name, fd := range rd.Fields {
		typ, err := ParseFieldType(fd.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		f := &Field{Name: name, Type: typ, Column: fd.Column, Nullable: fd.Nullable, Immutable: fd.Immutable}
		for _, c := range fd.Constraints {
			f.Constraints = append(f.Constraints, Constraint{Type: ConstraintType(c.Type), Value: c.Value, Message: c.Message})
		}
		res.AddField(f)
	}
	for name, rel := range rd.Relations {
		typ, err := ParseRelationType(rel.Type)
		if err != nil {
			return nil, fmt.Errorf("relation %s: %w", name, err)
		}
		res.AddRelation(&Relation{Name: name, Type: typ, Target: rel.Target, ForeignKey: rel.ForeignKey, MappedBy: rel.MappedBy})
	}
	for id, fd := range rd.Filters {
		switch FilterType(fd.Type) {
		case FilterSearch, FilterOrder, FilterRange, FilterExists:
		default:
			return nil, fmt.Errorf("filter %s: unknown type %q", id, fd.Type)
		}
		res.AddFilter(&FilterDefinition{ID: id, Type: FilterType(fd.Type), Properties: fd.Properties})
	}
	for _, od := range append(slices.Clone(rd.Operations), rd.GraphQL...) {
		op, err := od.build(rd.Class, errorKinds)
		if err != nil {
			return nil, err
		}
		res.AddOperation(op)
	}
	return res, nil
}

func (od operationDocument) build(class string, errorKinds map[string]error) (*Operation, error) {
	kind, err := ParseKind(od.Kind)
	if err != nil {
		return nil, err
	}
	op := NewOperation(kind, class).
		WithName(od.Name).
		WithDescription(od.Description).
		WithURITemplate(od.URITemplate).
		WithProvider(od.Provider).
		WithProcessor(od.Processor).
		WithResolver(od.Resolver).
		WithInput(od.Input).
		WithOutput(od.Output).
		WithStatus(od.Status)

	if len(od.URIVariables) > 0 {
		op = op.WithURIVariables(buildLinks(od.URIVariables)...)
	}
	if len(od.Links) > 0 {
		op = op.WithLinks(buildLinks(od.Links)...)
	}
	if p := od.Pagination; p != nil {
		op = op.WithPagination(Pagination{
			Enabled:             p.Enabled,
			ClientEnabled:       p.ClientEnabled,
			ItemsPerPage:        p.ItemsPerPage,
			ClientItemsPerPage:  p.ClientItemsPerPage,
			MaximumItemsPerPage: p.MaximumItemsPerPage,
			Partial:             p.Partial,
			Type:                PaginationType(p.Type),
		})
	}
	for event, s := range od.Security {
		op = op.WithSecurity(SecurityEvent(event), s.Expression, s.Message)
	}
	if len(od.IsGranted) > 0 {
		op = op.WithIsGranted(od.IsGranted...)
	}
	if len(od.NormalizationGroups) > 0 {
		op = op.WithNormalizationGroups(od.NormalizationGroups...)
	}
	if len(od.DenormalizationGroups) > 0 {
		op = op.WithDenormalizationGroups(od.DenormalizationGroups...)
	}

	kinds := make([]string, 0, len(od.ExceptionToStatus))
	for k := range od.ExceptionToStatus {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	for _, k := range kinds {
		sentinel, ok := errorKinds[k]
		if !ok {
			return nil, fmt.Errorf("operation %s: unknown error kind %q", od.Name, k)
		}
		op = op.WithExceptionToStatus(ExceptionStatus{Err: sentinel, Status: od.ExceptionToStatus[k]})
	}

	if od.Read != nil {
		op = op.WithRead(*od.Read)
	}
	if od.Write != nil {
		op = op.WithWrite(*od.Write)
	}
	if od.Deserialize != nil {
		op = op.WithDeserialize(*od.Deserialize)
	}
	if od.Validate != nil {
		op = op.WithValidate(*od.Validate)
	}

	if len(od.Filters) > 0 {
		op = op.WithFilters(od.Filters...)
	}
	if len(od.Order) > 0 {
		props := make([]string, 0, len(od.Order))
		for p := range od.Order {
			props = append(props, p)
		}
		slices.Sort(props)
		order := make([]OrderBy, 0, len(props))
		for _, p := range props {
			order = append(order, OrderBy{Property: p, Direction: strings.ToUpper(od.Order[p])})
		}
		op = op.WithOrder(order...)
	}
	if od.Mercure != nil {
		op = op.WithMercure(*od.Mercure)
	}
	for k, v := range od.Extra {
		op = op.WithExtra(k, v)
	}
	return op, nil
}

func buildLinks(docs []linkDocument) []Link {
	links := make([]Link, 0, len(docs))
	for _, d := range docs {
		links = append(links, Link{
			ParameterName:       d.ParameterName,
			FromClass:           d.FromClass,
			FromProperty:        d.FromProperty,
			ToClass:             d.ToClass,
			ToProperty:          d.ToProperty,
			Identifiers:         d.Identifiers,
			CompositeIdentifier: d.Composite || len(d.Identifiers) > 1,
			ExpandedValue:       d.ExpandedValue,
			Security:            d.Security,
			SecurityMessage:     d.SecurityMessage,
			SecurityObjectName:  d.SecurityObjectName,
		})
	}
	return links
}
