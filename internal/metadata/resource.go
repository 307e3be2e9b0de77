// Package metadata holds the resource and operation descriptors consumed by
// the provider and processor pipeline.
//
// Descriptors are registered once at boot, either through the Go builder API
// or from a YAML document, and are read-only afterwards.
package metadata

import (
	"fmt"
	"slices"
	"strings"
	"unicode"
)

// FieldType represents the declared type of a resource field
type FieldType int

const (
	TypeString FieldType = iota
	TypeText
	TypeInt
	TypeBigInt
	TypeFloat
	TypeDecimal
	TypeBool
	TypeTimestamp
	TypeDate
	TypeUUID
	TypeEmail
	TypeURL
	TypeJSON
)

var fieldTypeNames = map[FieldType]string{
	TypeString:    "string",
	TypeText:      "text",
	TypeInt:       "int",
	TypeBigInt:    "bigint",
	TypeFloat:     "float",
	TypeDecimal:   "decimal",
	TypeBool:      "bool",
	TypeTimestamp: "timestamp",
	TypeDate:      "date",
	TypeUUID:      "uuid",
	TypeEmail:     "email",
	TypeURL:       "url",
	TypeJSON:      "json",
}

// String returns the string representation of the field type
func (t FieldType) String() string {
	if name, ok := fieldTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseFieldType converts a string to a FieldType
func ParseFieldType(s string) (FieldType, error) {
	for t, name := range fieldTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown field type: %s", s)
}

// IsNumeric returns true if the type is numeric
func (t FieldType) IsNumeric() bool {
	return t == TypeInt || t == TypeBigInt || t == TypeFloat || t == TypeDecimal
}

// IsText returns true if the type holds text
func (t FieldType) IsText() bool {
	return t == TypeString || t == TypeText || t == TypeEmail || t == TypeURL
}

// ConstraintType represents a field validation constraint
type ConstraintType string

const (
	ConstraintMin      ConstraintType = "min"
	ConstraintMax      ConstraintType = "max"
	ConstraintPattern  ConstraintType = "pattern"
	ConstraintRequired ConstraintType = "required"
	ConstraintOneOf    ConstraintType = "one_of"
)

// Constraint is a validation rule attached to a field
type Constraint struct {
	Type    ConstraintType
	Value   any
	Message string
}

// Field describes one resource property
type Field struct {
	Name        string
	Type        FieldType
	Column      string
	Nullable    bool
	Immutable   bool
	Constraints []Constraint
}

// ColumnName returns the storage column, defaulting to the snake_case name.
func (f *Field) ColumnName() string {
	if f.Column != "" {
		return f.Column
	}
	return ToSnakeCase(f.Name)
}

// RelationType represents the kind of relationship
type RelationType int

const (
	RelationBelongsTo RelationType = iota
	RelationHasMany
	RelationHasOne
)

// String returns the string representation of the relation type
func (r RelationType) String() string {
	switch r {
	case RelationBelongsTo:
		return "belongs_to"
	case RelationHasMany:
		return "has_many"
	case RelationHasOne:
		return "has_one"
	default:
		return "unknown"
	}
}

// ParseRelationType converts a string to a RelationType
func ParseRelationType(s string) (RelationType, error) {
	switch s {
	case "belongs_to":
		return RelationBelongsTo, nil
	case "has_many":
		return RelationHasMany, nil
	case "has_one":
		return RelationHasOne, nil
	default:
		return 0, fmt.Errorf("unknown relation type: %s", s)
	}
}

// Relation describes an association between two resources.
//
// ForeignKey is the column holding the reference: on the declaring resource
// for belongs_to, on the target for has_many and has_one.
type Relation struct {
	Name       string
	Type       RelationType
	Target     string
	ForeignKey string
	MappedBy   string
}

// IsOwningSide reports whether the declaring resource stores the foreign key.
func (r *Relation) IsOwningSide() bool { return r.Type == RelationBelongsTo }

// IsToMany reports whether the relation holds a collection.
func (r *Relation) IsToMany() bool { return r.Type == RelationHasMany }

// ForeignKeyColumn returns the foreign key column, derived when unset:
// "<relation>_id" for belongs_to, "<mappedBy or declaring class>_id" otherwise.
func (r *Relation) ForeignKeyColumn(declaringClass string) string {
	if r.ForeignKey != "" {
		return r.ForeignKey
	}
	if r.IsOwningSide() {
		return ToSnakeCase(r.Name) + "_id"
	}
	if r.MappedBy != "" {
		return ToSnakeCase(r.MappedBy) + "_id"
	}
	return ToSnakeCase(declaringClass) + "_id"
}

// FilterType selects the behavior of a collection filter
type FilterType string

const (
	FilterSearch FilterType = "search"
	FilterOrder  FilterType = "order"
	FilterRange  FilterType = "range"
	FilterExists FilterType = "exists"
)

// FilterDefinition declares a collection filter. Properties maps property
// paths (dot separated through relations) to a strategy: exact, partial,
// start, end, word_start (search) or a default direction (order).
type FilterDefinition struct {
	ID         string
	Type       FilterType
	Properties map[string]string
}

// Resource describes an API resource and its operations
type Resource struct {
	Class       string
	ShortName   string
	Table       string
	Collection  string
	Index       string
	Identifiers []string
	Fields      map[string]*Field
	Relations   map[string]*Relation
	Filters     map[string]*FilterDefinition

	Operations        []*Operation
	GraphQLOperations []*Operation
}

// NewResource creates a resource with an "id" identifier and default storage names.
func NewResource(class string) *Resource {
	return &Resource{
		Class:       class,
		ShortName:   class,
		Identifiers: []string{"id"},
		Fields:      make(map[string]*Field),
		Relations:   make(map[string]*Relation),
	}
}

// AddField registers a field and returns the resource for chaining.
func (r *Resource) AddField(f *Field) *Resource {
	if r.Fields == nil {
		r.Fields = make(map[string]*Field)
	}
	r.Fields[f.Name] = f
	return r
}

// AddRelation registers a relation and returns the resource for chaining.
func (r *Resource) AddRelation(rel *Relation) *Resource {
	if r.Relations == nil {
		r.Relations = make(map[string]*Relation)
	}
	r.Relations[rel.Name] = rel
	return r
}

// AddOperation attaches an HTTP or GraphQL operation to the resource.
func (r *Resource) AddOperation(op *Operation) *Resource {
	if op.IsGraphQL() {
		r.GraphQLOperations = append(r.GraphQLOperations, op)
	} else {
		r.Operations = append(r.Operations, op)
	}
	return r
}

// AddFilter registers a filter definition and returns the resource for chaining.
func (r *Resource) AddFilter(f *FilterDefinition) *Resource {
	if r.Filters == nil {
		r.Filters = make(map[string]*FilterDefinition)
	}
	r.Filters[f.ID] = f
	return r
}

// Filter returns a filter definition by id.
func (r *Resource) Filter(id string) (*FilterDefinition, bool) {
	f, ok := r.Filters[id]
	return f, ok
}

// Field returns a field by name.
func (r *Resource) Field(name string) (*Field, bool) {
	f, ok := r.Fields[name]
	return f, ok
}

// Relation returns a relation by name.
func (r *Resource) Relation(name string) (*Relation, bool) {
	rel, ok := r.Relations[name]
	return rel, ok
}

// HasField returns true if the resource declares the field
func (r *Resource) HasField(name string) bool {
	_, ok := r.Fields[name]
	return ok
}

// IdentifierFields returns the identifier names in declaration order.
func (r *Resource) IdentifierFields() []string { return slices.Clone(r.Identifiers) }

// IdentifierType returns the declared type of an identifier, TypeString when unknown.
func (r *Resource) IdentifierType(name string) FieldType {
	if f, ok := r.Fields[name]; ok {
		return f.Type
	}
	return TypeString
}

// Column maps a property to its storage column.
func (r *Resource) Column(property string) string {
	if f, ok := r.Fields[property]; ok {
		return f.ColumnName()
	}
	return ToSnakeCase(property)
}

// TableName returns the SQL table, defaulting to the pluralized snake_case class.
func (r *Resource) TableName() string {
	if r.Table != "" {
		return r.Table
	}
	return Pluralize(ToSnakeCase(r.Class))
}

// CollectionName returns the document collection, defaulting to the table name.
func (r *Resource) CollectionName() string {
	if r.Collection != "" {
		return r.Collection
	}
	return r.TableName()
}

// IndexName returns the search index, defaulting to the table name.
func (r *Resource) IndexName() string {
	if r.Index != "" {
		return r.Index
	}
	return r.TableName()
}

// ImmutableFields returns fields that are never overwritten on replace.
func (r *Resource) ImmutableFields() []string {
	var names []string
	for name, f := range r.Fields {
		if f.Immutable {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// ToSnakeCase converts PascalCase or camelCase to snake_case
func ToSnakeCase(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteRune('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Pluralize applies simple English pluralization rules
func Pluralize(s string) string {
	switch {
	case s == "":
		return s
	case strings.HasSuffix(s, "s"), strings.HasSuffix(s, "x"), strings.HasSuffix(s, "ch"), strings.HasSuffix(s, "sh"):
		return s + "es"
	case strings.HasSuffix(s, "y") && len(s) > 1 && !strings.ContainsRune("aeiou", rune(s[len(s)-2])):
		return s[:len(s)-1] + "ies"
	default:
		return s + "s"
	}
}

// LowerFirst lowercases the first letter, as used for GraphQL payload keys.
func LowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}
