package middleware

import (
	"net/http"

	"github.com/google/uuid"

	webcontext "github.com/conduit-lang/restkit/internal/web/context"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestID reuses the X-Request-ID header of the request or generates a
// UUID, stores it in the context and echoes it in the response.
func RequestID() Middleware {
	return RequestIDWithGenerator(uuid.NewString)
}

// RequestIDWithGenerator is RequestID with a custom id generator
func RequestIDWithGenerator(generate func() string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" || len(id) > 128 {
				id = generate()
			}
			w.Header().Set(RequestIDHeader, id)
			next.ServeHTTP(w, r.WithContext(webcontext.WithRequestID(r.Context(), id)))
		})
	}
}
