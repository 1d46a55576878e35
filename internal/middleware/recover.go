package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/getsentry/sentry-go"

	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

// Recoverer turns a handler panic into a 500 and reports it to Sentry
func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
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

				stack := string(debug.Stack())
				sentry.WithScope(func(scope *sentry.Scope) {
					scope.SetTag("component", "http")
					scope.SetExtra("path", r.URL.Path)
					scope.SetExtra("method", r.Method)
					scope.SetExtra("stack", stack)
					sentry.CaptureException(fmt.Errorf("panic in request: %v", rec))
				})

				logger.Error("panic recovered",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Any("panic", rec))

				pkghttp.WriteInternalError(w, "Internal server error")
			}()

			next.ServeHTTP(w, r)
		})
	}
}
