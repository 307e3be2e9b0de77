package provider

import (
	"context"
	"fmt"

	"github.com/conduit-lang/restkit/internal/identifier"
	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/conduit-lang/restkit/internal/security"
	"github.com/conduit-lang/restkit/internal/state"
)

// AccessCheckerProvider evaluates the security expression an operation
// declares for one event against the provided data.
type AccessCheckerProvider struct {
	inner   state.Provider
	checker security.ResourceAccessChecker
	event   metadata.SecurityEvent
}

// NewAccessCheckerProvider creates an access checker for event
func NewAccessCheckerProvider(inner state.Provider, checker security.ResourceAccessChecker, event metadata.SecurityEvent) *AccessCheckerProvider {
	return &AccessCheckerProvider{inner: inner, checker: checker, event: event}
}

// Provide implements state.Provider
func (p *AccessCheckerProvider) Provide(ctx context.Context, op *metadata.Operation, uriVariables *identifier.Values, sc *state.Context) (any, error) {
	if p.event == metadata.SecurityAfterResolver && !op.IsGraphQL() {
		return nil, state.Runtime("Not a GraphQL operation")
	}

	body, err := p.inner.Provide(ctx, op, uriVariables, sc)
	if err != nil {
		return nil, err
	}

	sec, ok := op.Security(p.event)
	if !ok {
		return body, nil
	}
	// nested collections are checked by their top level query
	if op.Kind() == metadata.KindQueryCollection && sc.IsNested() {
		return body, nil
	}

	if err := Check(ctx, p.checker, sec.Expression, sec.Message, body, sc); err != nil {
		return nil, err
	}
	return body, nil
}

// Check evaluates expression with object set to data and returns an
// AccessDeniedError carrying message when it is not granted.
func Check(ctx context.Context, checker security.ResourceAccessChecker, expression, message string, data any, sc *state.Context) error {
	granted, err := checker.IsGranted(ctx, expression, variables(data, sc))
	if err != nil {
		return &state.RuntimeError{Message: fmt.Sprintf("Unable to evaluate %q", expression), Err: err}
	}
	if !granted {
		return state.AccessDenied(message)
	}
	return nil
}

func variables(data any, sc *state.Context) security.Variables {
	return security.Variables{
		Object:         data,
		PreviousObject: sc.PreviousData,
		Request:        sc.Request,
		Extra:          sc.LinkedObjects,
	}
}

// IsGrantedAccessCheckerProvider checks the is_granted rules of an operation
// once the data is provided.
type IsGrantedAccessCheckerProvider struct {
	inner   state.Provider
	checker security.ResourceAccessChecker
}

// NewIsGrantedAccessCheckerProvider creates an is_granted checker
func NewIsGrantedAccessCheckerProvider(inner state.Provider, checker security.ResourceAccessChecker) *IsGrantedAccessCheckerProvider {
	return &IsGrantedAccessCheckerProvider{inner: inner, checker: checker}
}

// Provide implements state.Provider
func (p *IsGrantedAccessCheckerProvider) Provide(ctx context.Context, op *metadata.Operation, uriVariables *identifier.Values, sc *state.Context) (any, error) {
	body, err := p.inner.Provide(ctx, op, uriVariables, sc)
	if err != nil {
		return nil, err
	}

	for _, rule := range op.IsGranted() {
		expression := fmt.Sprintf("is_granted(%q)", rule.Attribute)
		if rule.Subject != "" {
			expression = fmt.Sprintf("is_granted(%q, %s)", rule.Attribute, rule.Subject)
		}
		granted, err := p.checker.IsGranted(ctx, expression, variables(body, sc))
		if err != nil {
			return nil, &state.RuntimeError{Message: fmt.Sprintf("Unable to evaluate %q", expression), Err: err}
		}
		if !granted {
			denied := state.AccessDenied(rule.Message).(*state.AccessDeniedError)
			denied.Status = rule.StatusCode
			return nil, denied
		}
	}
	return body, nil
}

// LinkAccessCheckerProvider evaluates the security expressions declared on
// the URI variables of an HTTP operation. The related object is read from
// the linked objects of the context under its security object name.
type LinkAccessCheckerProvider struct {
	inner   state.Provider
	checker security.ResourceAccessChecker
}

// NewLinkAccessCheckerProvider creates a link access checker
func NewLinkAccessCheckerProvider(inner state.Provider, checker security.ResourceAccessChecker) *LinkAccessCheckerProvider {
	return &LinkAccessCheckerProvider{inner: inner, checker: checker}
}

// Provide implements state.Provider
func (p *LinkAccessCheckerProvider) Provide(ctx context.Context, op *metadata.Operation, uriVariables *identifier.Values, sc *state.Context) (any, error) {
	body, err := p.inner.Provide(ctx, op, uriVariables, sc)
	if err != nil {
		return nil, err
	}
	if op.IsGraphQL() {
		return body, nil
	}

	for _, link := range op.URIVariables() {
		if link.Security == "" || link.TargetClass() == "" || link.SecurityObject() == "" {
			continue
		}
		if err := Check(ctx, p.checker, link.Security, link.SecurityMessage, body, sc); err != nil {
			return nil, err
		}
	}
	return body, nil
}
