package middleware

import (
	"net/http"
	"strings"

	"github.com/conduit-lang/restkit/internal/web/auth"
	webcontext "github.com/conduit-lang/restkit/internal/web/context"
)

// TokenVerifier verifies bearer tokens
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// Auth stores the user and roles of a valid bearer token in the request
// context. Requests without an Authorization header continue anonymously;
// access is decided by the security expressions of each operation. A
// malformed or invalid token is rejected with 401.
func Auth(verifier TokenVerifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
				unauthorized(w, "Invalid authorization format.")
				return
			}
			identity, err := verifier.Verify(token)
			if err != nil {
				unauthorized(w, "Invalid token.")
				return
			}

			ctx := webcontext.WithUser(r.Context(), webcontext.User{ID: identity.UserID, Roles: identity.Roles})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"type":"/errors/401","title":"Unauthorized","status":401,"detail":"` + detail + `"}`))
}
