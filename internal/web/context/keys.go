// Package context carries the request ID and the authenticated user through
// request contexts.
package context

import "context"

type key int

const (
	requestIDKey key = iota
	userKey
)

// User is the authenticated caller of a request
type User struct {
	ID    string
	Roles []string
}

// WithRequestID returns ctx carrying the request ID
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request ID of ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithUser returns ctx carrying user
func WithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFrom returns the user of ctx. Anonymous requests have none.
func UserFrom(ctx context.Context) (User, bool) {
	user, ok := ctx.Value(userKey).(User)
	return user, ok && user.ID != ""
}

// CurrentUser returns the ID of the authenticated user, or "".
func CurrentUser(ctx context.Context) string {
	user, _ := UserFrom(ctx)
	return user.ID
}

// UserRoles returns the roles of the authenticated user
func UserRoles(ctx context.Context) []string {
	user, _ := UserFrom(ctx)
	return user.Roles
}
