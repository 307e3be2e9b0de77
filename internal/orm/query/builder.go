// Package query builds parameterized SELECT statements for the SQL backend.
//
// Predicates reference named parameters written ":name". Parameters are bound
// with SetParameter and rendered as positional $N placeholders by ToSQL, in
// order of first appearance.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/conduit-lang/restkit/internal/metadata"
)

// Querier is satisfied by *sql.DB, *sql.Tx and *sql.Conn
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// JoinType represents the type of SQL join
type JoinType int

const (
	InnerJoin JoinType = iota
	LeftJoin
)

// String returns the string representation of the join type
func (j JoinType) String() string {
	if j == LeftJoin {
		return "LEFT"
	}
	return "INNER"
}

// Join represents a SQL join clause
type Join struct {
	Type      JoinType
	Table     string
	Alias     string
	Condition string
}

// Parameter is a bound named parameter
type Parameter struct {
	Name  string
	Value any
	Type  metadata.FieldType
}

// Builder builds a SELECT over one root table
type Builder struct {
	table    string
	alias    string
	distinct bool
	selects  []string
	joins    []*Join
	where    []string
	params   map[string]*Parameter
	orderBy  []string
	limit    *int
	offset   *int
	names    *NameGenerator
}

// New creates a builder selecting from table under alias
func New(table, alias string) *Builder {
	validateIdentifier(table)
	validateIdentifier(alias)
	return &Builder{
		table:  table,
		alias:  alias,
		params: make(map[string]*Parameter),
		names:  NewNameGenerator(),
	}
}

// Table returns the root table
func (b *Builder) Table() string { return b.table }

// RootAlias returns the alias of the root table
func (b *Builder) RootAlias() string { return b.alias }

// Names returns the generator for join aliases and parameter names
func (b *Builder) Names() *NameGenerator { return b.names }

// Select replaces the selected expressions; the default is "alias.*"
func (b *Builder) Select(exprs ...string) *Builder {
	b.selects = append([]string(nil), exprs...)
	return b
}

// Distinct toggles SELECT DISTINCT
func (b *Builder) Distinct(distinct bool) *Builder {
	b.distinct = distinct
	return b
}

// Join adds a JOIN clause on an aliased table
func (b *Builder) Join(joinType JoinType, table, alias, condition string) *Builder {
	validateIdentifier(table)
	validateIdentifier(alias)
	b.joins = append(b.joins, &Join{Type: joinType, Table: table, Alias: alias, Condition: condition})
	return b
}

// InnerJoin adds an INNER JOIN clause
func (b *Builder) InnerJoin(table, alias, condition string) *Builder {
	return b.Join(InnerJoin, table, alias, condition)
}

// LeftJoin adds a LEFT JOIN clause
func (b *Builder) LeftJoin(table, alias, condition string) *Builder {
	return b.Join(LeftJoin, table, alias, condition)
}

// Joins returns the join clauses
func (b *Builder) Joins() []*Join { return b.joins }

// AndWhere adds a raw predicate, ANDed with the others
func (b *Builder) AndWhere(predicate string) *Builder {
	b.where = append(b.where, predicate)
	return b
}

// Where adds a comparison on a qualified column, binding value to a
// generated parameter
func (b *Builder) Where(field string, op Operator, value any) *Builder {
	sql, err := conditionToSQL(&Condition{Field: field, Operator: op, Value: value}, b.bind)
	if err != nil {
		panic(err.Error())
	}
	return b.AndWhere(sql)
}

// WhereGroup adds a predicate group
func (b *Builder) WhereGroup(group *PredicateGroup) error {
	sql, err := group.ToSQL(b.bind)
	if err != nil {
		return err
	}
	if sql != "" {
		b.AndWhere(sql)
	}
	return nil
}

// Predicates returns the WHERE predicates
func (b *Builder) Predicates() []string { return b.where }

func (b *Builder) bind(hint string, value any) string {
	name := b.names.ParameterName(hint)
	b.SetParameter(name, value, 0)
	return ":" + name
}

// SetParameter binds a named parameter. typ is informational, zero when unknown.
func (b *Builder) SetParameter(name string, value any, typ metadata.FieldType) *Builder {
	b.names.reserve(name)
	b.params[name] = &Parameter{Name: name, Value: value, Type: typ}
	return b
}

// Parameter returns a bound parameter
func (b *Builder) Parameter(name string) (Parameter, bool) {
	p, ok := b.params[name]
	if !ok {
		return Parameter{}, false
	}
	return *p, true
}

// ParameterCount returns the number of bound parameters
func (b *Builder) ParameterCount() int { return len(b.params) }

// OrderBy adds an ORDER BY expression
func (b *Builder) OrderBy(expr string, direction string) *Builder {
	dir := strings.ToUpper(direction)
	if dir != "ASC" && dir != "DESC" {
		dir = "ASC"
	}
	b.orderBy = append(b.orderBy, fmt.Sprintf("%s %s", expr, dir))
	return b
}

// HasOrderBy reports whether an ordering is set
func (b *Builder) HasOrderBy() bool { return len(b.orderBy) > 0 }

// Limit sets the LIMIT clause
func (b *Builder) Limit(n int) *Builder {
	b.limit = &n
	return b
}

// Offset sets the OFFSET clause
func (b *Builder) Offset(n int) *Builder {
	b.offset = &n
	return b
}

// MaxResults returns the limit, -1 when unset
func (b *Builder) MaxResults() int {
	if b.limit == nil {
		return -1
	}
	return *b.limit
}

// FirstResult returns the offset, 0 when unset
func (b *Builder) FirstResult() int {
	if b.offset == nil {
		return 0
	}
	return *b.offset
}

// ToSQL generates the SQL query and its positional arguments
func (b *Builder) ToSQL() (string, []any, error) {
	return b.render(b.selectClause(), true)
}

// CountSQL generates a query counting the rows matched, ignoring ordering
// and pagination
func (b *Builder) CountSQL() (string, []any, error) {
	inner, args, err := b.render(b.selectClause(), false)
	if err != nil {
		return "", nil, err
	}
	return "SELECT COUNT(*) FROM (" + inner + ") AS count_query", args, nil
}

func (b *Builder) selectClause() string {
	cols := b.alias + ".*"
	if len(b.selects) > 0 {
		cols = strings.Join(b.selects, ", ")
	}
	if b.distinct {
		return "SELECT DISTINCT " + cols
	}
	return "SELECT " + cols
}

func (b *Builder) render(selectClause string, paginate bool) (string, []any, error) {
	var sb strings.Builder
	sb.WriteString(selectClause)
	fmt.Fprintf(&sb, " FROM %s %s", pq.QuoteIdentifier(b.table), b.alias)

	for _, join := range b.joins {
		fmt.Fprintf(&sb, " %s JOIN %s %s ON %s", join.Type, pq.QuoteIdentifier(join.Table), join.Alias, join.Condition)
	}

	if len(b.where) > 0 {
		sb.WriteString(" WHERE ")
		for i, pred := range b.where {
			if i > 0 {
				sb.WriteString(" AND ")
			}
			if len(b.where) > 1 {
				sb.WriteString("(" + pred + ")")
			} else {
				sb.WriteString(pred)
			}
		}
	}

	if paginate {
		if len(b.orderBy) > 0 {
			sb.WriteString(" ORDER BY ")
			sb.WriteString(strings.Join(b.orderBy, ", "))
		}
		if b.limit != nil {
			fmt.Fprintf(&sb, " LIMIT %d", *b.limit)
		}
		if b.offset != nil && *b.offset > 0 {
			fmt.Fprintf(&sb, " OFFSET %d", *b.offset)
		}
	}

	return b.positional(sb.String())
}

// positional rewrites :name placeholders to $N. "::" casts are left alone.
func (b *Builder) positional(query string) (string, []any, error) {
	var (
		out       strings.Builder
		args      []any
		positions = make(map[string]int)
		inQuote   bool
	)
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c == '\'' {
			inQuote = !inQuote
		}
		if inQuote || c != ':' {
			out.WriteByte(c)
			continue
		}
		if i+1 < len(query) && query[i+1] == ':' {
			out.WriteString("::")
			i++
			continue
		}
		j := i + 1
		for j < len(query) && isWordByte(query[j]) {
			j++
		}
		if j == i+1 {
			out.WriteByte(c)
			continue
		}
		name := query[i+1 : j]
		pos, seen := positions[name]
		if !seen {
			p, ok := b.params[name]
			if !ok {
				return "", nil, fmt.Errorf("parameter %q is not bound", name)
			}
			args = append(args, p.Value)
			pos = len(args)
			positions[name] = pos
		}
		fmt.Fprintf(&out, "$%d", pos)
		i = j - 1
	}
	return out.String(), args, nil
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// All executes the query and returns all matching rows
func (b *Builder) All(ctx context.Context, q Querier) ([]map[string]any, error) {
	query, args, err := b.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to generate SQL: %w", err)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	results, err := ScanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan rows: %w", err)
	}
	return results, nil
}

// OneOrNull executes the query and returns its single row, nil when none.
// More than one row is an error.
func (b *Builder) OneOrNull(ctx context.Context, q Querier) (map[string]any, error) {
	results, err := b.All(ctx, q)
	if err != nil {
		return nil, err
	}
	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return nil, fmt.Errorf("query returned %d rows, expected at most one", len(results))
	}
}

// Count executes the count query
func (b *Builder) Count(ctx context.Context, q Querier) (int, error) {
	query, args, err := b.CountSQL()
	if err != nil {
		return 0, fmt.Errorf("failed to generate SQL: %w", err)
	}

	var count int
	if err := q.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to execute count query: %w", err)
	}
	return count, nil
}

// Clone creates an independent copy of the builder
func (b *Builder) Clone() *Builder {
	clone := &Builder{
		table:    b.table,
		alias:    b.alias,
		distinct: b.distinct,
		selects:  append([]string(nil), b.selects...),
		where:    append([]string(nil), b.where...),
		orderBy:  append([]string(nil), b.orderBy...),
		params:   make(map[string]*Parameter, len(b.params)),
		names:    b.names.clone(),
	}
	for _, j := range b.joins {
		jc := *j
		clone.joins = append(clone.joins, &jc)
	}
	for name, p := range b.params {
		pc := *p
		clone.params[name] = &pc
	}
	if b.limit != nil {
		limit := *b.limit
		clone.limit = &limit
	}
	if b.offset != nil {
		offset := *b.offset
		clone.offset = &offset
	}
	return clone
}

// ScanRows scans SQL rows into a slice of maps
func ScanRows(rows *sql.Rows) ([]map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		record := make(map[string]any, len(columns))
		for i, col := range columns {
			if raw, ok := values[i].([]byte); ok {
				record[col] = string(raw)
				continue
			}
			record[col] = values[i]
		}
		results = append(results, record)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// validateIdentifier validates that an identifier only contains safe characters
// (letters, digits, underscore, and dot for qualified names).
// Panics if invalid characters are found.
func validateIdentifier(identifier string) {
	if identifier == "" {
		panic("invalid identifier: empty")
	}
	for _, char := range identifier {
		if char > 127 || (!isWordByte(byte(char)) && char != '.') {
			panic(fmt.Sprintf("invalid identifier: %s (contains invalid character: %c)", identifier, char))
		}
	}
}
