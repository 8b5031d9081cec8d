// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values.
//
// Middleware sets these values; services and stores read them without pulling
// in net/http. The request-scoped clock matters here more than anywhere else:
// every timestamp that lands on an evidentiary record flows through Now(ctx)
// so tests can pin time and a single request observes a single instant.
//
// Usage in services (read values):
//
//	partyID := requestcontext.PartyID(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in middleware (set values):
//
//	ctx = requestcontext.WithPartyID(ctx, partyID)
//	ctx = requestcontext.WithRequestID(ctx, requestID)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"time"

	id "handoff/pkg/domain"
)

// Context key types (unexported for encapsulation).
type (
	partyIDKey     struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Exported context keys for tests that need raw context.WithValue.
var (
	ContextKeyPartyID     = partyIDKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// PartyID retrieves the authenticated party ID from the context.
// Returns the zero value (nil UUID) if not set.
func PartyID(ctx context.Context) id.PartyID {
	if partyID, ok := ctx.Value(ContextKeyPartyID).(id.PartyID); ok {
		return partyID
	}
	return id.PartyID{}
}

// WithPartyID injects a party ID into the context.
func WithPartyID(ctx context.Context, partyID id.PartyID) context.Context {
	return context.WithValue(ctx, ContextKeyPartyID, partyID)
}

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Now retrieves the request-scoped time from context, always in UTC.
// Window comparisons must never use local wall-clock arithmetic, so the
// fallback normalizes too.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t.UTC()
	}
	return time.Now().UTC()
}

// WithTime injects a specific time into a context. Useful for:
//   - service unit tests that don't run the HTTP middleware chain
//   - the sweeper, which pins one instant per batch
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
