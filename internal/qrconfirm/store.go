// Package qrconfirm implements QR mutual confirmation: one party displays a
// single-use code, the other scans it, proving both devices met at the
// exchange. The confirmation is additive evidence on the instance; it never
// changes the resolved outcome.
package qrconfirm

import (
	"context"
	"errors"
	"time"

	id "handoff/pkg/domain"
)

var (
	// ErrTokenNotFound indicates the token does not exist or has expired.
	ErrTokenNotFound = errors.New("qr token not found")
	// ErrTokenUsed indicates the token was already consumed.
	ErrTokenUsed = errors.New("qr token already used")
)

// TokenStore holds outstanding QR tokens by hash. Only the SHA-256 hash of
// the token value is ever stored; the plaintext lives solely in the QR code.
type TokenStore interface {
	// Save records a token hash bound to an instance, expiring after ttl.
	Save(ctx context.Context, tokenHash string, instanceID id.InstanceID, ttl time.Duration) error

	// Consume atomically redeems a token, returning the bound instance ID.
	// A second redemption fails with ErrTokenUsed; an expired or unknown
	// hash fails with ErrTokenNotFound.
	Consume(ctx context.Context, tokenHash string) (id.InstanceID, error)
}
