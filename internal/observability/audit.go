package observability

import (
	"log/slog"
	"net/http"
)

// Audit emits a structured audit line for a security-relevant request. The
// durable audit trail lives in the audit_logs table; this is the log-side
// mirror for correlation.
func Audit(r *http.Request, event string, attrs ...any) {
	base := []any{
		"event", event,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", r.Header.Get("X-Request-Id"),
	}
	base = append(base, attrs...)
	slog.InfoContext(r.Context(), "audit", base...)
}
