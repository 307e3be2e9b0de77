// Package validation checks records against the constraints declared on
// resource fields.
package validation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/conduit-lang/restkit/internal/model"
	"github.com/conduit-lang/restkit/internal/state"
)

// Engine validates records of registered resources
type Engine struct {
	registry state.ResourceRegistry
	patterns sync.Map
}

// NewEngine creates a validation engine
func NewEngine(registry state.ResourceRegistry) *Engine {
	return &Engine{registry: registry}
}

// Validate checks data against the fields of its resource. Values other
// than records are not validated. Every violation is collected into one
// *state.ValidationError.
func (e *Engine) Validate(_ context.Context, data any, _ *metadata.Operation) error {
	record, ok := data.(*model.Record)
	if !ok {
		return nil
	}
	res, ok := e.registry.Resource(record.ResourceClass())
	if !ok {
		return state.Runtime("No resource registered for %s", record.ResourceClass())
	}

	var violations []state.Violation
	for _, name := range fieldNames(res) {
		field := res.Fields[name]
		for _, msg := range e.validateField(res, field, record) {
			violations = append(violations, state.Violation{PropertyPath: name, Message: msg})
		}
	}
	if len(violations) > 0 {
		return &state.ValidationError{Violations: violations}
	}
	return nil
}

func (e *Engine) validateField(res *metadata.Resource, field *metadata.Field, record *model.Record) []string {
	value, present := record.Lookup(field.Name)

	// Nullability: identifiers are generated by storage on insert
	if !field.Nullable && (!present || value == nil) {
		if isIdentifier(res, field.Name) && !record.Exists() {
			return nil
		}
		return []string{"This value should not be null."}
	}
	if value == nil {
		if required(field) {
			return []string{"This value should not be blank."}
		}
		return nil
	}

	var messages []string
	for _, v := range e.validators(field) {
		if err := v.Validate(value); err != nil {
			messages = append(messages, err.Error())
		}
	}
	return messages
}

func (e *Engine) validators(field *metadata.Field) []Validator {
	var validators []Validator
	for _, c := range field.Constraints {
		switch c.Type {
		case metadata.ConstraintMin:
			validators = append(validators, withMessage(&MinValidator{Min: c.Value, FieldType: field.Type}, c.Message))
		case metadata.ConstraintMax:
			validators = append(validators, withMessage(&MaxValidator{Max: c.Value, FieldType: field.Type}, c.Message))
		case metadata.ConstraintPattern:
			validators = append(validators, withMessage(e.pattern(c.Value), c.Message))
		case metadata.ConstraintRequired:
			validators = append(validators, withMessage(NotBlankValidator{}, c.Message))
		case metadata.ConstraintOneOf:
			choices, _ := c.Value.([]any)
			validators = append(validators, withMessage(&ChoiceValidator{Choices: choices}, c.Message))
		}
	}

	switch field.Type {
	case metadata.TypeEmail:
		validators = append(validators, &EmailValidator{})
	case metadata.TypeURL:
		validators = append(validators, &URLValidator{})
	case metadata.TypeUUID:
		validators = append(validators, UUIDValidator{})
	}
	return validators
}

func (e *Engine) pattern(raw any) Validator {
	source := fmt.Sprint(raw)
	if p, ok := e.patterns.Load(source); ok {
		return &PatternValidator{Pattern: p.(*regexp.Regexp)}
	}
	re, err := regexp.Compile(source)
	if err != nil {
		return invalidConstraint{fmt.Errorf("invalid pattern %q: %w", source, err)}
	}
	e.patterns.Store(source, re)
	return &PatternValidator{Pattern: re}
}

// messageValidator replaces the message of a failed validation
type messageValidator struct {
	Validator
	message string
}

func (v messageValidator) Validate(value any) error {
	if err := v.Validator.Validate(value); err != nil {
		return errors.New(v.message)
	}
	return nil
}

func withMessage(v Validator, message string) Validator {
	if message == "" {
		return v
	}
	return messageValidator{Validator: v, message: message}
}

type invalidConstraint struct{ err error }

func (c invalidConstraint) Validate(any) error { return c.err }

func required(field *metadata.Field) bool {
	for _, c := range field.Constraints {
		if c.Type == metadata.ConstraintRequired {
			return true
		}
	}
	return false
}

func isIdentifier(res *metadata.Resource, name string) bool {
	for _, id := range res.Identifiers {
		if id == name {
			return true
		}
	}
	return false
}

func fieldNames(res *metadata.Resource) []string {
	names := make([]string, 0, len(res.Fields))
	for name := range res.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
