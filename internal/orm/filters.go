package orm

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/conduit-lang/restkit/internal/identifier"
	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/conduit-lang/restkit/internal/orm/query"
	"github.com/conduit-lang/restkit/internal/state"
)

// Filter constrains a collection query with request filter values
type Filter interface {
	state.FilterDescriber
	Apply(qb *query.Builder, res *metadata.Resource, values *state.Filters) error
}

// NewFilter builds the filter declared by def
func NewFilter(def *metadata.FilterDefinition, registry state.ResourceRegistry) (Filter, error) {
	base := propertyFilter{registry: registry, properties: def.Properties}
	switch def.Type {
	case metadata.FilterSearch:
		return &SearchFilter{base}, nil
	case metadata.FilterOrder:
		return &OrderFilter{propertyFilter: base, Parameter: "order"}, nil
	case metadata.FilterRange:
		return &RangeFilter{base}, nil
	case metadata.FilterExists:
		return &ExistsFilter{propertyFilter: base, Parameter: "exists"}, nil
	}
	return nil, fmt.Errorf("unknown filter type %q", def.Type)
}

type propertyFilter struct {
	registry   state.ResourceRegistry
	properties map[string]string
}

func (f propertyFilter) sortedProperties() []string {
	names := make([]string, 0, len(f.properties))
	for name := range f.properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// resolve joins the relations of a dotted property path and returns the
// qualified column and field
func (f propertyFilter) resolve(qb *query.Builder, res *metadata.Resource, path string) (string, *metadata.Field, error) {
	parts := strings.Split(path, ".")
	alias := qb.RootAlias()
	current := res

	for _, part := range parts[:len(parts)-1] {
		rel, ok := current.Relation(part)
		if !ok {
			return "", nil, fmt.Errorf("%s.%s is not a relation", current.Class, part)
		}
		target, ok := f.registry.Resource(rel.Target)
		if !ok {
			return "", nil, fmt.Errorf("unknown relation target %s", rel.Target)
		}
		alias = joinRelation(qb, alias, current, target, rel)
		current = target
	}

	name := parts[len(parts)-1]
	field, ok := current.Field(name)
	if !ok {
		return "", nil, fmt.Errorf("%s.%s is not a field", current.Class, name)
	}
	return alias + "." + current.Column(name), field, nil
}

// joinRelation left joins rel once per query and returns the joined alias
func joinRelation(qb *query.Builder, alias string, owner, target *metadata.Resource, rel *metadata.Relation) string {
	for _, j := range qb.Joins() {
		if j.Table == target.TableName() && j.Condition == joinCondition(alias, owner, j.Alias, target, rel) {
			return j.Alias
		}
	}
	joinAlias := qb.Names().JoinAlias(rel.Name)
	qb.LeftJoin(target.TableName(), joinAlias, joinCondition(alias, owner, joinAlias, target, rel))
	if rel.IsToMany() {
		qb.Distinct(true)
	}
	return joinAlias
}

// SearchFilter matches properties with the strategies exact, partial, start,
// end and word_start. An "i" prefix makes the match case insensitive.
type SearchFilter struct {
	propertyFilter
}

// Apply implements Filter
func (f *SearchFilter) Apply(qb *query.Builder, res *metadata.Resource, values *state.Filters) error {
	for _, property := range f.sortedProperties() {
		raw, ok := values.Get(property)
		if !ok {
			continue
		}
		terms := stringValues(raw)
		if len(terms) == 0 {
			continue
		}
		column, field, err := f.resolve(qb, res, property)
		if err != nil {
			return err
		}

		strategy := f.properties[property]
		if strategy == "" {
			strategy = "exact"
		}
		if !field.Type.IsText() || strategy == "exact" {
			converted := make([]any, 0, len(terms))
			for _, term := range terms {
				v, err := convertValue(field.Type, term)
				if err != nil {
					// invalid values are ignored
					continue
				}
				converted = append(converted, v)
			}
			switch len(converted) {
			case 0:
			case 1:
				qb.Where(column, query.OpEqual, converted[0])
			default:
				qb.Where(column, query.OpIn, converted)
			}
			continue
		}

		group := query.NewPredicateGroup(true)
		insensitive := strings.HasPrefix(strategy, "i")
		op := query.OpLike
		if insensitive {
			op = query.OpILike
		}
		for _, term := range terms {
			for _, pattern := range likePatterns(strings.TrimPrefix(strategy, "i"), escapeLike(term)) {
				group.AddCondition(&query.Condition{Field: column, Operator: op, Value: pattern})
			}
		}
		if err := qb.WhereGroup(group); err != nil {
			return err
		}
	}
	return nil
}

// Describe implements state.FilterDescriber
func (f *SearchFilter) Describe(res *metadata.Resource) []state.FilterParameter {
	var params []state.FilterParameter
	for _, property := range f.sortedProperties() {
		strategy := f.properties[property]
		if strategy == "" {
			strategy = "exact"
		}
		typ := propertyType(f.registry, res, property)
		params = append(params, state.FilterParameter{Name: property, Property: property, Type: typ, Strategy: strategy})
		if strategy == "exact" {
			params = append(params, state.FilterParameter{Name: property + "[]", Property: property, Type: typ, Strategy: strategy, Multiple: true})
		}
	}
	return params
}

func likePatterns(strategy, term string) []string {
	switch strategy {
	case "start":
		return []string{term + "%"}
	case "end":
		return []string{"%" + term}
	case "word_start":
		return []string{term + "%", "% " + term + "%"}
	default:
		return []string{"%" + term + "%"}
	}
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// OrderFilter sorts by properties named in the "order" parameter, as in
// order[title]=desc. A property's configured value is its default direction.
type OrderFilter struct {
	propertyFilter
	Parameter string
}

// Apply implements Filter
func (f *OrderFilter) Apply(qb *query.Builder, res *metadata.Resource, values *state.Filters) error {
	raw, ok := values.Get(f.Parameter)
	if !ok {
		return nil
	}
	names, requested, ok := entries(raw)
	if !ok {
		return nil
	}

	for _, name := range names {
		if _, allowed := f.properties[name]; !allowed {
			continue
		}
		dir := strings.ToUpper(fmt.Sprint(requested[name]))
		if dir != "ASC" && dir != "DESC" {
			dir = strings.ToUpper(f.properties[name])
		}
		if dir != "ASC" && dir != "DESC" {
			continue
		}
		column, _, err := f.resolve(qb, res, name)
		if err != nil {
			return err
		}
		qb.OrderBy(column, dir)
	}
	return nil
}

// Describe implements state.FilterDescriber
func (f *OrderFilter) Describe(res *metadata.Resource) []state.FilterParameter {
	var params []state.FilterParameter
	for _, property := range f.sortedProperties() {
		params = append(params, state.FilterParameter{
			Name:     fmt.Sprintf("%s[%s]", f.Parameter, property),
			Property: property,
			Type:     metadata.TypeString,
			Strategy: "asc|desc",
		})
	}
	return params
}

var rangeOperators = map[string]query.Operator{
	"gt":  query.OpGreaterThan,
	"gte": query.OpGreaterThanOrEqual,
	"lt":  query.OpLessThan,
	"lte": query.OpLessThanOrEqual,
}

// RangeFilter compares properties with between, gt, gte, lt and lte, as in
// price[between]=10..20.
type RangeFilter struct {
	propertyFilter
}

// Apply implements Filter
func (f *RangeFilter) Apply(qb *query.Builder, res *metadata.Resource, values *state.Filters) error {
	for _, property := range f.sortedProperties() {
		raw, ok := values.Get(property)
		if !ok {
			continue
		}
		ops, bounds, ok := entries(raw)
		if !ok {
			continue
		}
		column, field, err := f.resolve(qb, res, property)
		if err != nil {
			return err
		}

		for _, op := range ops {
			value := fmt.Sprint(bounds[op])
			if op == "between" {
				lo, hi, found := strings.Cut(value, "..")
				if !found {
					continue
				}
				loV, err1 := convertValue(field.Type, lo)
				hiV, err2 := convertValue(field.Type, hi)
				if err1 != nil || err2 != nil {
					continue
				}
				qb.Where(column, query.OpBetween, []any{loV, hiV})
				continue
			}
			operator, known := rangeOperators[op]
			if !known {
				continue
			}
			v, err := convertValue(field.Type, value)
			if err != nil {
				continue
			}
			qb.Where(column, operator, v)
		}
	}
	return nil
}

// Describe implements state.FilterDescriber
func (f *RangeFilter) Describe(res *metadata.Resource) []state.FilterParameter {
	var params []state.FilterParameter
	for _, property := range f.sortedProperties() {
		typ := propertyType(f.registry, res, property)
		for _, op := range []string{"between", "gt", "gte", "lt", "lte"} {
			params = append(params, state.FilterParameter{Name: fmt.Sprintf("%s[%s]", property, op), Property: property, Type: typ, Strategy: op})
		}
	}
	return params
}

// ExistsFilter keeps rows where properties are null or not, as in
// exists[deletedAt]=false.
type ExistsFilter struct {
	propertyFilter
	Parameter string
}

// Apply implements Filter
func (f *ExistsFilter) Apply(qb *query.Builder, res *metadata.Resource, values *state.Filters) error {
	raw, ok := values.Get(f.Parameter)
	if !ok {
		return nil
	}
	_, requested, ok := entries(raw)
	if !ok {
		return nil
	}
	for _, property := range f.sortedProperties() {
		v, ok := requested[property]
		if !ok {
			continue
		}
		exists, err := convertValue(metadata.TypeBool, fmt.Sprint(v))
		if err != nil {
			continue
		}
		column, _, err := f.resolve(qb, res, property)
		if err != nil {
			return err
		}
		if exists.(bool) {
			qb.Where(column, query.OpIsNotNull, nil)
		} else {
			qb.Where(column, query.OpIsNull, nil)
		}
	}
	return nil
}

// Describe implements state.FilterDescriber
func (f *ExistsFilter) Describe(_ *metadata.Resource) []state.FilterParameter {
	var params []state.FilterParameter
	for _, property := range f.sortedProperties() {
		params = append(params, state.FilterParameter{Name: fmt.Sprintf("%s[%s]", f.Parameter, property), Property: property, Type: metadata.TypeBool})
	}
	return params
}

func propertyType(registry state.ResourceRegistry, res *metadata.Resource, path string) metadata.FieldType {
	parts := strings.Split(path, ".")
	current := res
	for _, part := range parts[:len(parts)-1] {
		rel, ok := current.Relation(part)
		if !ok {
			return metadata.TypeString
		}
		if current, ok = registry.Resource(rel.Target); !ok {
			return metadata.TypeString
		}
	}
	if f, ok := current.Field(parts[len(parts)-1]); ok {
		return f.Type
	}
	return metadata.TypeString
}

func stringValues(raw any) []string {
	switch v := raw.(type) {
	case string:
		return []string{v}
	case []string:
		return slices.Clone(v)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if item != nil {
				out = append(out, fmt.Sprint(item))
			}
		}
		return out
	case nil:
		return nil
	}
	return []string{fmt.Sprint(raw)}
}

func convertValue(typ metadata.FieldType, raw string) (any, error) {
	for _, t := range identifier.DefaultTransformers() {
		if t.Supports(typ) {
			return t.Transform(raw, typ)
		}
	}
	return raw, nil
}

// entries returns the keys of a nested filter value: argument order for
// ordered filters, sorted for plain maps.
func entries(raw any) ([]string, map[string]any, bool) {
	switch v := raw.(type) {
	case *state.Filters:
		names := make([]string, 0, v.Len())
		m := make(map[string]any, v.Len())
		for pair := v.Oldest(); pair != nil; pair = pair.Next() {
			names = append(names, pair.Key)
			m[pair.Key] = pair.Value
		}
		return names, m, true
	case map[string]any:
		names := make([]string, 0, len(v))
		for name := range v {
			names = append(names, name)
		}
		sort.Strings(names)
		return names, v, true
	}
	return nil, nil, false
}
