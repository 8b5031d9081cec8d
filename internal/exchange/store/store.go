// Package store persists exchange instances. Two implementations share one
// contract: an in-memory store for development and unit tests, and a
// PostgreSQL store for production. Both serialize per-instance mutations via
// the Version counter; Update with a stale version fails with ErrConflict and
// the caller retries.
package store

import (
	"context"
	"errors"
	"time"

	id "handoff/pkg/domain"

	"handoff/internal/exchange/models"
)

var (
	// ErrNotFound indicates no instance exists with the given ID.
	ErrNotFound = errors.New("exchange instance not found")
	// ErrAlreadyExists indicates a Create collided with an existing ID.
	ErrAlreadyExists = errors.New("exchange instance already exists")
	// ErrConflict indicates the instance changed since it was read;
	// retryable.
	ErrConflict = errors.New("concurrent update conflict")
)

// Store is the persistence contract for exchange instances.
type Store interface {
	// Create inserts a new instance at Version 1.
	Create(ctx context.Context, inst *models.ExchangeInstance) error

	// Get returns a copy of the instance.
	Get(ctx context.Context, instanceID id.InstanceID) (*models.ExchangeInstance, error)

	// Update persists inst if its Version still matches the stored row,
	// then increments the version. Returns ErrConflict on a stale version.
	Update(ctx context.Context, inst *models.ExchangeInstance) error

	// ListExpired returns up to limit non-terminal, non-archived instances
	// whose window_end has passed. The sweep finalizes them through
	// Update, whose version check makes concurrent sweepers safe: only
	// one finalization wins, the rest see ErrConflict or a terminal
	// re-read.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.ExchangeInstance, error)
}
