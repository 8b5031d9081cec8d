package qrconfirm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"

	id "handoff/pkg/domain"
	dErrors "handoff/pkg/domain-errors"
	"handoff/pkg/requestcontext"

	"handoff/internal/events"
	"handoff/internal/exchange/metrics"
	"handoff/internal/exchange/models"
	"handoff/internal/exchange/store"
)

const (
	// tokenAlphabet and tokenLength give URL-safe tokens with enough
	// entropy that guessing one within a check-in window is infeasible.
	tokenAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	tokenLength   = 24

	maxUpdateAttempts = 3
)

// Token is a freshly issued QR token. Value is returned to the displaying
// party exactly once and is never persisted.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Service issues and redeems single-use QR confirmation tokens.
type Service struct {
	instances store.Store
	tokens    TokenStore
	events    events.Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

func NewService(instances store.Store, tokens TokenStore, publisher events.Publisher, logger *slog.Logger, m *metrics.Metrics) *Service {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Service{
		instances: instances,
		tokens:    tokens,
		events:    publisher,
		logger:    logger,
		metrics:   m,
	}
}

// GenerateToken issues a single-use token for the instance, expiring at
// window_end. Only the token's SHA-256 hash is stored.
func (s *Service) GenerateToken(ctx context.Context, instanceID id.InstanceID) (*Token, error) {
	inst, err := s.getInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)

	if inst.Finalized() {
		return nil, dErrors.New(dErrors.CodeInstanceFinalized, "exchange instance is already finalized")
	}
	if inst.WindowClosed(now) {
		return nil, dErrors.New(dErrors.CodeOutOfWindow, "check-in window has ended")
	}

	value, err := nanoid.Generate(tokenAlphabet, tokenLength)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to generate qr token", "error", err)
		return nil, dErrors.New(dErrors.CodeInternal, "failed to generate qr token")
	}

	ttl := inst.WindowEnd.Sub(now)
	if err := s.tokens.Save(ctx, hashToken(value), instanceID, ttl); err != nil {
		s.logger.ErrorContext(ctx, "failed to save qr token",
			"instance_id", instanceID.String(),
			"error", err)
		return nil, dErrors.New(dErrors.CodeInternal, "failed to save qr token")
	}

	s.logger.InfoContext(ctx, "qr token issued",
		"instance_id", instanceID.String(),
		"expires_at", inst.WindowEnd)
	return &Token{Value: value, ExpiresAt: inst.WindowEnd}, nil
}

// Confirm redeems a scanned token and records the mutual confirmation on the
// instance. The token is consumed even when the confirmation cannot be
// recorded: single-use means single-attempt.
func (s *Service) Confirm(ctx context.Context, tokenValue string, confirmedBy id.PartyID) (*models.ExchangeInstance, error) {
	if tokenValue == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "token is required")
	}
	tokenHash := hashToken(tokenValue)

	instanceID, err := s.tokens.Consume(ctx, tokenHash)
	switch {
	case errors.Is(err, ErrTokenUsed):
		return nil, dErrors.New(dErrors.CodeTokenAlreadyUsed, "qr token was already used")
	case errors.Is(err, ErrTokenNotFound):
		return nil, dErrors.New(dErrors.CodeTokenExpired, "qr token is expired or unknown")
	case err != nil:
		s.logger.ErrorContext(ctx, "failed to consume qr token", "error", err)
		return nil, dErrors.New(dErrors.CodeInternal, "failed to redeem qr token")
	}

	var inst *models.ExchangeInstance
	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		inst, err = s.getInstance(ctx, instanceID)
		if err != nil {
			return nil, err
		}
		now := requestcontext.Now(ctx)

		if inst.Finalized() {
			return nil, dErrors.New(dErrors.CodeInstanceFinalized, "exchange instance is already finalized")
		}
		if inst.WindowClosed(now) {
			return nil, dErrors.New(dErrors.CodeTokenExpired, "qr token is expired or unknown")
		}

		inst.QRConfirmation = &models.QRConfirmation{
			TokenHash:   tokenHash,
			ConfirmedAt: now,
			ConfirmedBy: confirmedBy,
		}
		inst.UpdatedAt = now

		err = s.instances.Update(ctx, inst)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrConflict) {
			s.logger.ErrorContext(ctx, "failed to record qr confirmation",
				"instance_id", instanceID.String(),
				"error", err)
			return nil, dErrors.New(dErrors.CodeInternal, "failed to record qr confirmation")
		}
	}
	if err != nil {
		return nil, dErrors.New(dErrors.CodeConflict, "exchange instance is being modified concurrently")
	}

	s.metrics.IncrementQRConfirmation()
	if err := s.events.Publish(ctx, events.New(events.TypeQRConfirmed, inst.ID, requestcontext.Now(ctx), map[string]string{
		"confirmed_by": confirmedBy.String(),
	})); err != nil {
		s.logger.WarnContext(ctx, "failed to publish lifecycle event",
			"event_type", events.TypeQRConfirmed,
			"instance_id", inst.ID.String(),
			"error", err)
	}

	s.logger.InfoContext(ctx, "qr confirmation recorded",
		"instance_id", inst.ID.String(),
		"confirmed_by", confirmedBy.String())
	return inst, nil
}

func (s *Service) getInstance(ctx context.Context, instanceID id.InstanceID) (*models.ExchangeInstance, error) {
	inst, err := s.instances.Get(ctx, instanceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeInstanceNotFound, "exchange instance not found")
		}
		return nil, dErrors.New(dErrors.CodeInternal, "failed to load exchange instance")
	}
	return inst, nil
}

func hashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
