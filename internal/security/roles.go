package security

import (
	"context"
	"slices"

	webcontext "github.com/conduit-lang/restkit/internal/web/context"
)

// Role is a named role granting permissions and inheriting other roles.
type Role struct {
	Name        string
	Permissions []string
	Inherits    []string
}

// HasPermission checks if the role grants a permission directly
func (r *Role) HasPermission(permission string) bool {
	return slices.Contains(r.Permissions, permission)
}

// RoleHierarchy resolves role names to the roles and permissions they reach.
type RoleHierarchy struct {
	roles map[string]*Role
}

// NewRoleHierarchy creates a hierarchy from role definitions
func NewRoleHierarchy(roles ...*Role) *RoleHierarchy {
	h := &RoleHierarchy{roles: make(map[string]*Role, len(roles))}
	for _, r := range roles {
		h.roles[r.Name] = r
	}
	return h
}

// RoleHierarchyFromMap builds a hierarchy from configuration, where each role
// lists inherited roles and permissions. Entries naming a declared role are
// inherited, the others are permissions.
func RoleHierarchyFromMap(def map[string][]string) *RoleHierarchy {
	h := &RoleHierarchy{roles: make(map[string]*Role, len(def))}
	for name := range def {
		h.roles[name] = &Role{Name: name}
	}
	for name, entries := range def {
		role := h.roles[name]
		for _, e := range entries {
			if _, ok := def[e]; ok {
				role.Inherits = append(role.Inherits, e)
			} else {
				role.Permissions = append(role.Permissions, e)
			}
		}
	}
	return h
}

// Reachable returns the given roles and every role they inherit.
func (h *RoleHierarchy) Reachable(roles []string) []string {
	seen := make(map[string]bool)
	var out []string
	var walk func(name string)
	walk = func(name string) {
		if seen[name] {
			return
		}
		seen[name] = true
		out = append(out, name)
		if h == nil {
			return
		}
		if r, ok := h.roles[name]; ok {
			for _, parent := range r.Inherits {
				walk(parent)
			}
		}
	}
	for _, name := range roles {
		walk(name)
	}
	return out
}

// Grants reports whether one of the roles is, inherits, or grants the attribute.
func (h *RoleHierarchy) Grants(roles []string, attribute string) bool {
	for _, name := range h.Reachable(roles) {
		if name == attribute {
			return true
		}
		if h == nil {
			continue
		}
		if r, ok := h.roles[name]; ok && r.HasPermission(attribute) {
			return true
		}
	}
	return false
}

// Authorizer decides is_granted attributes for the current user.
type Authorizer interface {
	IsGranted(ctx context.Context, attribute string, subject any) bool
}

// RoleAuthorizer grants attributes reached by the user's roles. Subjects are
// ignored.
type RoleAuthorizer struct {
	Hierarchy *RoleHierarchy
}

// IsGranted implements Authorizer
func (a *RoleAuthorizer) IsGranted(ctx context.Context, attribute string, _ any) bool {
	switch attribute {
	case "IS_AUTHENTICATED", "IS_AUTHENTICATED_FULLY":
		return webcontext.CurrentUser(ctx) != ""
	case "PUBLIC_ACCESS":
		return true
	}
	return a.Hierarchy.Grants(webcontext.UserRoles(ctx), attribute)
}
