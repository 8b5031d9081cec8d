package qrconfirm

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "handoff/pkg/domain"
	dErrors "handoff/pkg/domain-errors"
	"handoff/pkg/testutil"

	"handoff/internal/events"
	"handoff/internal/exchange/models"
	"handoff/internal/exchange/store"
)

var (
	windowStart = time.Date(2026, 3, 14, 14, 45, 0, 0, time.UTC)
	windowEnd   = time.Date(2026, 3, 14, 15, 15, 0, 0, time.UTC)
	midWindow   = time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
)

type fixture struct {
	svc       *Service
	instances *store.InMemoryStore
	recorder  *events.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	instances := store.NewInMemoryStore()
	rec := events.NewRecorder()
	svc := NewService(instances, NewInMemoryTokenStore(), rec, slog.New(slog.DiscardHandler), nil)
	return &fixture{svc: svc, instances: instances, recorder: rec}
}

func (f *fixture) createInstance(t *testing.T) *models.ExchangeInstance {
	t.Helper()
	inst := &models.ExchangeInstance{
		ID:            id.NewInstanceID(),
		DefinitionID:  id.NewDefinitionID(),
		FromParty:     id.NewPartyID(),
		ToParty:       id.NewPartyID(),
		ScheduledTime: midWindow,
		WindowStart:   windowStart,
		WindowEnd:     windowEnd,
		Geofence:      models.Geofence{CenterLat: 34.1365, CenterLng: -118.2945, RadiusM: 100},
		State:         models.StateWindowOpen,
	}
	require.NoError(t, f.instances.Create(context.Background(), inst))
	return inst
}

func at(t time.Time) context.Context {
	return testutil.ContextAt(t)
}

func TestGenerateAndConfirm(t *testing.T) {
	f := newFixture(t)
	inst := f.createInstance(t)

	tok, err := f.svc.GenerateToken(at(midWindow), inst.ID)
	require.NoError(t, err)
	assert.Len(t, tok.Value, tokenLength)
	assert.True(t, tok.ExpiresAt.Equal(windowEnd))

	got, err := f.svc.Confirm(at(midWindow.Add(time.Minute)), tok.Value, inst.ToParty)
	require.NoError(t, err)
	require.NotNil(t, got.QRConfirmation)
	assert.Equal(t, inst.ToParty, got.QRConfirmation.ConfirmedBy)
	assert.Equal(t, hashToken(tok.Value), got.QRConfirmation.TokenHash)
	assert.True(t, got.QRConfirmation.ConfirmedAt.Equal(midWindow.Add(time.Minute)))

	// Additive evidence only: state is untouched.
	assert.Equal(t, models.StateWindowOpen, got.State)
	assert.Len(t, f.recorder.OfType(events.TypeQRConfirmed), 1)
}

func TestConfirmSingleUse(t *testing.T) {
	f := newFixture(t)
	inst := f.createInstance(t)

	tok, err := f.svc.GenerateToken(at(midWindow), inst.ID)
	require.NoError(t, err)

	_, err = f.svc.Confirm(at(midWindow), tok.Value, inst.ToParty)
	require.NoError(t, err)

	_, err = f.svc.Confirm(at(midWindow), tok.Value, inst.FromParty)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTokenAlreadyUsed))
}

func TestConfirmUnknownToken(t *testing.T) {
	f := newFixture(t)
	f.createInstance(t)

	_, err := f.svc.Confirm(at(midWindow), "never-issued", id.NewPartyID())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTokenExpired))
}

func TestConfirmAfterWindowEnd(t *testing.T) {
	f := newFixture(t)
	inst := f.createInstance(t)

	tok, err := f.svc.GenerateToken(at(midWindow), inst.ID)
	require.NoError(t, err)

	_, err = f.svc.Confirm(at(windowEnd.Add(time.Minute)), tok.Value, inst.ToParty)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTokenExpired))
}

func TestGenerateRejectedWhenFinalized(t *testing.T) {
	f := newFixture(t)
	inst := f.createInstance(t)

	got, err := f.instances.Get(context.Background(), inst.ID)
	require.NoError(t, err)
	outcome := models.OutcomeMissed
	got.Outcome = &outcome
	got.State = models.StateMissed
	require.NoError(t, f.instances.Update(context.Background(), got))

	_, err = f.svc.GenerateToken(at(midWindow), inst.ID)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInstanceFinalized))
}

func TestGenerateRejectedAfterWindowEnd(t *testing.T) {
	f := newFixture(t)
	inst := f.createInstance(t)

	_, err := f.svc.GenerateToken(at(windowEnd.Add(time.Minute)), inst.ID)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeOutOfWindow))
}

func TestConfirmRejectedWhenFinalized(t *testing.T) {
	f := newFixture(t)
	inst := f.createInstance(t)

	tok, err := f.svc.GenerateToken(at(midWindow), inst.ID)
	require.NoError(t, err)

	got, err := f.instances.Get(context.Background(), inst.ID)
	require.NoError(t, err)
	outcome := models.OutcomeDisputed
	got.Outcome = &outcome
	got.State = models.StateDisputed
	require.NoError(t, f.instances.Update(context.Background(), got))

	_, err = f.svc.Confirm(at(midWindow), tok.Value, inst.ToParty)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInstanceFinalized))
}

func TestGenerateUnknownInstance(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GenerateToken(at(midWindow), id.NewInstanceID())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInstanceNotFound))
}

func TestTokensAreUniqueAndOpaque(t *testing.T) {
	f := newFixture(t)
	inst := f.createInstance(t)

	seen := make(map[string]bool)
	for range 20 {
		tok, err := f.svc.GenerateToken(at(midWindow), inst.ID)
		require.NoError(t, err)
		assert.False(t, seen[tok.Value])
		seen[tok.Value] = true
	}
}
