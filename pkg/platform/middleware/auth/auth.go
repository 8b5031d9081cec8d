// Package auth provides bearer-token middleware that identifies the calling
// party. The engine uses the identity only for labeling evidence (who checked
// in, who filed a dispute); authorization decisions live with the case
// collaborator, not here.
package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	id "handoff/pkg/domain"
	"handoff/pkg/requestcontext"
)

// TokenValidator validates a bearer token and returns the party it belongs to.
type TokenValidator interface {
	ValidatePartyToken(tokenString string) (id.PartyID, error)
}

func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

// RequireParty rejects requests without a valid bearer token and injects the
// authenticated party ID into the request context.
func RequireParty(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			const bearerPrefix = "Bearer "
			token, ok := strings.CutPrefix(authHeader, bearerPrefix)
			if !ok || token == "" {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing bearer token")
				return
			}

			partyID, err := validator.ValidatePartyToken(token)
			if err != nil {
				ctx := r.Context()
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			ctx := requestcontext.WithPartyID(r.Context(), partyID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
