// logging.go -- Request-scoped logging helpers.
//
// Every handler log line carries the client address, request id and route,
// plus the account id once RequireAuth has run.
package auth

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// reqAttrs returns standard request-scoped attributes for logging.
func reqAttrs(r *http.Request) []any {
	attrs := []any{
		"ip", ClientIP(r),
		"request_id", middleware.GetReqID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
	}
	if id, ok := IdentityFromContext(r.Context()); ok {
		attrs = append(attrs, "account_id", id.AccountID)
	}
	if ua := r.UserAgent(); ua != "" {
		attrs = append(attrs, "user_agent", ua)
	}
	return attrs
}

func logAt(r *http.Request, level slog.Level, msg string, args []any) {
	slog.Log(r.Context(), level, msg, append(reqAttrs(r), args...)...)
}

func logInfo(r *http.Request, msg string, args ...any)  { logAt(r, slog.LevelInfo, msg, args) }
func logWarn(r *http.Request, msg string, args ...any)  { logAt(r, slog.LevelWarn, msg, args) }
func logError(r *http.Request, msg string, args ...any) { logAt(r, slog.LevelError, msg, args) }
