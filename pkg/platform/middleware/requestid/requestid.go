// Package requestid assigns each request an ID for log correlation.
package requestid

import (
	"net/http"

	"github.com/google/uuid"

	"handoff/pkg/requestcontext"
)

// Header carries the request ID on responses and may supply one on requests.
const Header = "X-Request-ID"

// Middleware propagates an inbound request ID or generates a fresh one, and
// echoes it on the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(Header)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(Header, requestID)
		ctx := requestcontext.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
