package security

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/restkit/internal/model"
	webcontext "github.com/conduit-lang/restkit/internal/web/context"
)

func userContext(id string, roles ...string) context.Context {
	return webcontext.WithUser(context.Background(), webcontext.User{ID: id, Roles: roles})
}

func TestExpressionChecker(t *testing.T) {
	checker := NewExpressionChecker(&RoleAuthorizer{
		Hierarchy: RoleHierarchyFromMap(map[string][]string{
			"ROLE_ADMIN": {"ROLE_USER", "books.delete"},
			"ROLE_USER":  {},
		}),
	})
	book := model.Hydrate("Book", map[string]any{"id": 1, "owner": "alice"})

	tests := []struct {
		name       string
		ctx        context.Context
		expression string
		vars       Variables
		want       bool
	}{
		{"role granted", userContext("alice", "ROLE_USER"), `is_granted("ROLE_USER")`, Variables{}, true},
		{"inherited role", userContext("root", "ROLE_ADMIN"), `is_granted("ROLE_USER")`, Variables{}, true},
		{"permission", userContext("root", "ROLE_ADMIN"), `is_granted("books.delete")`, Variables{}, true},
		{"missing role", userContext("bob", "ROLE_USER"), `is_granted("ROLE_ADMIN")`, Variables{}, false},
		{"anonymous", context.Background(), `is_authenticated()`, Variables{}, false},
		{"owner", userContext("alice"), `object.owner == user`, Variables{Object: book}, true},
		{"not owner", userContext("bob"), `object.owner == user`, Variables{Object: book}, false},
		{"previous object", userContext("alice"), `previous_object.owner == user`, Variables{PreviousObject: book}, true},
		{"linked object", userContext("alice"), `author.owner == user`, Variables{Extra: map[string]any{"author": book}}, true},
		{"authenticated attribute", userContext("alice"), `is_granted("IS_AUTHENTICATED")`, Variables{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := checker.IsGranted(tt.ctx, tt.expression, tt.vars)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExpressionCheckerErrors(t *testing.T) {
	checker := NewExpressionChecker(nil)

	_, err := checker.IsGranted(context.Background(), `is_granted(`, Variables{})
	assert.Error(t, err)

	_, err = checker.IsGranted(context.Background(), `"yes"`, Variables{})
	assert.Error(t, err)
}

func TestExpressionCheckerCachesPrograms(t *testing.T) {
	checker := NewExpressionChecker(nil)
	for i := 0; i < 3; i++ {
		_, err := checker.IsGranted(context.Background(), `1 == 1`, Variables{})
		require.NoError(t, err)
	}
	n := 0
	checker.programs.Range(func(_, _ any) bool { n++; return true })
	assert.Equal(t, 1, n)
}

func TestRoleHierarchyReachable(t *testing.T) {
	h := NewRoleHierarchy(
		&Role{Name: "admin", Inherits: []string{"editor"}},
		&Role{Name: "editor", Inherits: []string{"viewer"}, Permissions: []string{"posts.update"}},
		&Role{Name: "viewer", Permissions: []string{"posts.read"}},
	)

	assert.ElementsMatch(t, []string{"admin", "editor", "viewer"}, h.Reachable([]string{"admin"}))
	assert.True(t, h.Grants([]string{"admin"}, "posts.read"))
	assert.True(t, h.Grants([]string{"editor"}, "posts.update"))
	assert.False(t, h.Grants([]string{"viewer"}, "posts.update"))

	var none *RoleHierarchy
	assert.True(t, none.Grants([]string{"ROLE_X"}, "ROLE_X"))
	assert.False(t, none.Grants([]string{"ROLE_X"}, "ROLE_Y"))
}
