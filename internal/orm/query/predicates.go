package query

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Operator represents a comparison operator
type Operator int

const (
	OpEqual Operator = iota
	OpNotEqual
	OpGreaterThan
	OpGreaterThanOrEqual
	OpLessThan
	OpLessThanOrEqual
	OpIn
	OpNotIn
	OpLike
	OpILike
	OpIsNull
	OpIsNotNull
	OpBetween
)

// String returns the string representation of the operator
func (o Operator) String() string {
	switch o {
	case OpEqual:
		return "="
	case OpNotEqual:
		return "!="
	case OpGreaterThan:
		return ">"
	case OpGreaterThanOrEqual:
		return ">="
	case OpLessThan:
		return "<"
	case OpLessThanOrEqual:
		return "<="
	case OpIn:
		return "IN"
	case OpNotIn:
		return "NOT IN"
	case OpLike:
		return "LIKE"
	case OpILike:
		return "ILIKE"
	case OpIsNull:
		return "IS NULL"
	case OpIsNotNull:
		return "IS NOT NULL"
	case OpBetween:
		return "BETWEEN"
	default:
		return "UNKNOWN"
	}
}

// Condition represents a WHERE condition on a qualified column
type Condition struct {
	Field    string
	Operator Operator
	Value    any
	Or       bool // true for OR, false for AND
}

// Binder binds a value to a fresh named parameter derived from hint and
// returns its placeholder (":name").
type Binder func(hint string, value any) string

// PredicateGroup represents a group of predicates combined with AND/OR
type PredicateGroup struct {
	Conditions []*Condition
	Groups     []*PredicateGroup
	Or         bool
}

// NewPredicateGroup creates a new predicate group
func NewPredicateGroup(or bool) *PredicateGroup {
	return &PredicateGroup{Or: or}
}

// AddCondition adds a condition to the group
func (pg *PredicateGroup) AddCondition(cond *Condition) {
	pg.Conditions = append(pg.Conditions, cond)
}

// AddGroup adds a nested group
func (pg *PredicateGroup) AddGroup(group *PredicateGroup) {
	pg.Groups = append(pg.Groups, group)
}

// ToSQL renders the group with named placeholders
func (pg *PredicateGroup) ToSQL(bind Binder) (string, error) {
	parts := make([]string, 0, len(pg.Conditions)+len(pg.Groups))

	for _, cond := range pg.Conditions {
		sql, err := conditionToSQL(cond, bind)
		if err != nil {
			return "", err
		}
		parts = append(parts, sql)
	}

	for _, group := range pg.Groups {
		sql, err := group.ToSQL(bind)
		if err != nil {
			return "", err
		}
		if sql != "" {
			parts = append(parts, fmt.Sprintf("(%s)", sql))
		}
	}

	if len(parts) == 0 {
		return "", nil
	}

	connector := " AND "
	if pg.Or {
		connector = " OR "
	}
	return strings.Join(parts, connector), nil
}

// conditionToSQL renders one condition, binding its values through bind
func conditionToSQL(cond *Condition, bind Binder) (string, error) {
	hint := parameterHint(cond.Field)

	switch cond.Operator {
	case OpEqual, OpNotEqual, OpGreaterThan, OpGreaterThanOrEqual,
		OpLessThan, OpLessThanOrEqual, OpLike, OpILike:
		return fmt.Sprintf("%s %s %s", cond.Field, cond.Operator, bind(hint, cond.Value)), nil

	case OpIn, OpNotIn:
		values, ok := cond.Value.([]any)
		if !ok {
			return "", fmt.Errorf("%s operator requires []any value", cond.Operator)
		}
		if len(values) == 0 {
			// IN () matches nothing, NOT IN () everything
			if cond.Operator == OpIn {
				return "FALSE", nil
			}
			return "TRUE", nil
		}
		placeholder := bind(hint, pq.Array(values))
		if cond.Operator == OpIn {
			return fmt.Sprintf("%s = ANY(%s)", cond.Field, placeholder), nil
		}
		return fmt.Sprintf("%s <> ALL(%s)", cond.Field, placeholder), nil

	case OpIsNull:
		return fmt.Sprintf("%s IS NULL", cond.Field), nil

	case OpIsNotNull:
		return fmt.Sprintf("%s IS NOT NULL", cond.Field), nil

	case OpBetween:
		values, ok := cond.Value.([]any)
		if !ok || len(values) != 2 {
			return "", fmt.Errorf("BETWEEN operator requires [min, max] values")
		}
		return fmt.Sprintf("%s BETWEEN %s AND %s", cond.Field, bind(hint, values[0]), bind(hint, values[1])), nil

	default:
		return "", fmt.Errorf("unsupported operator: %v", cond.Operator)
	}
}

// parameterHint turns "o.title" into "title"
func parameterHint(field string) string {
	if i := strings.LastIndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	return field
}

// ValidateOperator validates that an operator is compatible with a field type
func ValidateOperator(op Operator, fieldType string) error {
	switch op {
	case OpLike, OpILike:
		if fieldType != "string" && fieldType != "text" && fieldType != "email" && fieldType != "url" {
			return fmt.Errorf("operator %s only works with text fields", op.String())
		}
	case OpBetween:
		switch fieldType {
		case "int", "bigint", "float", "decimal", "timestamp", "date":
		default:
			return fmt.Errorf("operator %s only works with numeric or date fields", op.String())
		}
	}
	return nil
}
