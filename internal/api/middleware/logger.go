package middleware

import (
	"net/http"
	"time"

	"github.com/dom/authsvc/internal/logging"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// RequestLogger logs one line per request. Headers and bodies are never
// logged, so credentials and tokens stay out of the output.
func RequestLogger(log logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				args := []any{
					"method", r.Method,
					"path", r.URL.Path,
					"status", status,
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"remote", r.RemoteAddr,
				}
				if reqID := chiMiddleware.GetReqID(r.Context()); reqID != "" {
					args = append(args, "request_id", reqID)
				}

				if status >= http.StatusInternalServerError {
					log.Warn(r.Context(), "request", args...)
				} else {
					log.Info(r.Context(), "request", args...)
				}
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
