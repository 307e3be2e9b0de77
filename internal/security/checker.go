// Package security evaluates access control expressions declared on
// operations and links.
package security

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	webcontext "github.com/conduit-lang/restkit/internal/web/context"
)

// Variables are the values exposed to an expression besides the user.
type Variables struct {
	Object         any
	PreviousObject any
	Request        *http.Request
	// Extra holds additional named values, such as linked objects.
	Extra map[string]any
}

// ResourceAccessChecker evaluates a security expression.
type ResourceAccessChecker interface {
	IsGranted(ctx context.Context, expression string, vars Variables) (bool, error)
}

// ExpressionChecker evaluates expressions with expr. Compiled programs are
// cached per expression.
//
// Expressions see object, previous_object, request, user, roles, every Extra
// entry, and the functions is_granted(attribute[, subject]) and
// is_authenticated().
type ExpressionChecker struct {
	authorizer Authorizer
	programs   sync.Map
}

// NewExpressionChecker creates a checker. A nil authorizer grants attributes
// by role name only.
func NewExpressionChecker(authorizer Authorizer) *ExpressionChecker {
	if authorizer == nil {
		authorizer = &RoleAuthorizer{}
	}
	return &ExpressionChecker{authorizer: authorizer}
}

// IsGranted implements ResourceAccessChecker
func (c *ExpressionChecker) IsGranted(ctx context.Context, expression string, vars Variables) (bool, error) {
	program, err := c.compile(expression)
	if err != nil {
		return false, err
	}

	out, err := expr.Run(program, c.env(ctx, vars))
	if err != nil {
		return false, fmt.Errorf("evaluate security expression %q: %w", expression, err)
	}
	granted, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("security expression %q returned %T, not bool", expression, out)
	}
	return granted, nil
}

func (c *ExpressionChecker) compile(expression string) (*vm.Program, error) {
	if p, ok := c.programs.Load(expression); ok {
		return p.(*vm.Program), nil
	}
	program, err := expr.Compile(expression)
	if err != nil {
		return nil, fmt.Errorf("compile security expression %q: %w", expression, err)
	}
	c.programs.Store(expression, program)
	return program, nil
}

func (c *ExpressionChecker) env(ctx context.Context, vars Variables) map[string]any {
	var user any
	if id := webcontext.CurrentUser(ctx); id != "" {
		user = id
	}
	roles := webcontext.UserRoles(ctx)
	if roles == nil {
		roles = []string{}
	}

	env := map[string]any{
		"object":          Expose(vars.Object),
		"previous_object": Expose(vars.PreviousObject),
		"request":         vars.Request,
		"user":            user,
		"roles":           roles,
		"is_granted": func(attribute string, subject ...any) bool {
			var s any
			if len(subject) > 0 {
				s = subject[0]
			}
			return c.authorizer.IsGranted(ctx, attribute, s)
		},
		"is_authenticated": func() bool { return user != nil },
	}
	for name, v := range vars.Extra {
		if _, reserved := env[name]; !reserved {
			env[name] = Expose(v)
		}
	}
	return env
}

// Expose converts values providing Expose() map[string]any into maps so
// expressions can read their fields.
func Expose(v any) any {
	if e, ok := v.(interface{ Expose() map[string]any }); ok {
		if isNilPointer(e) {
			return nil
		}
		return e.Expose()
	}
	return v
}

func isNilPointer(v any) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}
