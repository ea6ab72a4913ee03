package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/dom/authsvc/internal/logging"
)

// Recoverer turns a handler panic into a JSON 500.
func Recoverer(log logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rvr := recover()
				if rvr == nil {
					return
				}
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}

				log.Error(r.Context(), "panic recovered",
					"panic", fmt.Sprint(rvr),
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				writeJSONError(w, http.StatusInternalServerError, "internal server error")
			}()

			next.ServeHTTP(w, r)
		})
	}
}
