package middleware

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	webcontext "github.com/conduit-lang/restkit/internal/web/context"
)

// Logging writes one access log entry per request. Requests to skipPaths
// are not logged.
func Logging(logger *zap.Logger, skipPaths ...string) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := wrap(w)
			next.ServeHTTP(rw, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.statusCode),
				zap.Int("bytes", rw.bytesWritten),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			}
			if id := webcontext.RequestID(r.Context()); id != "" {
				fields = append(fields, zap.String("request_id", id))
			}
			if user := webcontext.CurrentUser(r.Context()); user != "" {
				fields = append(fields, zap.String("user", user))
			}

			switch {
			case rw.statusCode >= http.StatusInternalServerError:
				logger.Error("request", fields...)
			case rw.statusCode >= http.StatusBadRequest:
				logger.Warn("request", fields...)
			default:
				logger.Info("request", fields...)
			}
		})
	}
}
