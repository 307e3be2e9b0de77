package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	webcontext "github.com/conduit-lang/restkit/internal/web/context"
)

// Recovery turns panics into a 500 problem response and logs them with
// their stack.
func Recovery(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("panic recovered",
					zap.String("panic", fmt.Sprint(rec)),
					zap.String("request_id", webcontext.RequestID(r.Context())),
					zap.ByteString("stack", debug.Stack()),
				)

				w.Header().Set("Content-Type", "application/problem+json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"type":"/errors/500","title":"Internal Server Error","status":500,"detail":"Internal Server Error"}`))
			}()

			next.ServeHTTP(w, r)
		})
	}
}
