package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const maxTraceIDLength = 128

// TraceMiddleware propagates the caller's X-Trace-ID (or X-Request-ID) and
// mints one when absent or unusable. The id is echoed on every response and
// ends up in logs and problem bodies.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := incomingTraceID(r)
		if traceID == "" {
			traceID = uuid.NewString()
		}
		r.Header.Set("X-Trace-ID", traceID)
		w.Header().Set("X-Trace-ID", traceID)
		next.ServeHTTP(w, r.WithContext(contextWithTraceID(r.Context(), traceID)))
	})
}

func incomingTraceID(r *http.Request) string {
	for _, name := range []string{"X-Trace-ID", "X-Request-ID"} {
		v := strings.TrimSpace(r.Header.Get(name))
		if v != "" && len(v) <= maxTraceIDLength && isPrintableASCII(v) {
			return v
		}
	}
	return ""
}

func isPrintableASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x21 || s[i] > 0x7e {
			return false
		}
	}
	return true
}

func contextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceContextKey, traceID)
}
