package testutil

import (
	"context"
	"time"

	"handoff/pkg/requestcontext"
)

// ContextAt returns a context pinned to the given instant, the way the
// request-time middleware would set it.
func ContextAt(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}
