// Package requesttime provides middleware for request-scoped time.
// All operations within a single HTTP request observe the same "now", in UTC,
// so check-in stamps, window comparisons, and audit logs stay consistent
// within one request.
package requesttime

import (
	"net/http"
	"time"

	"handoff/pkg/requestcontext"
)

// Middleware captures the current UTC time at the start of the request and
// stores it in the context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now().UTC())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
