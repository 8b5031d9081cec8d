package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "handoff/pkg/domain"
	dErrors "handoff/pkg/domain-errors"
)

func validInstance() *ExchangeInstance {
	scheduled := time.Date(2026, 3, 14, 17, 0, 0, 0, time.UTC)
	return &ExchangeInstance{
		ID:            id.NewInstanceID(),
		DefinitionID:  id.NewDefinitionID(),
		FromParty:     id.NewPartyID(),
		ToParty:       id.NewPartyID(),
		ScheduledTime: scheduled,
		WindowStart:   scheduled.Add(-15 * time.Minute),
		WindowEnd:     scheduled.Add(15 * time.Minute),
		Geofence:      Geofence{CenterLat: 34.0522, CenterLng: -118.2437, RadiusM: 100},
		State:         StateScheduled,
	}
}

func TestValidate(t *testing.T) {
	t.Run("accepts a well-formed instance", func(t *testing.T) {
		require.NoError(t, validInstance().Validate())
	})

	t.Run("rejects inverted window", func(t *testing.T) {
		inst := validInstance()
		inst.WindowStart = inst.ScheduledTime.Add(time.Minute)
		err := inst.Validate()
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects non-positive radius", func(t *testing.T) {
		inst := validInstance()
		inst.Geofence.RadiusM = 0
		require.Error(t, inst.Validate())
	})

	t.Run("outcome set on non-terminal state", func(t *testing.T) {
		inst := validInstance()
		outcome := OutcomeCompleted
		inst.Outcome = &outcome
		require.Error(t, inst.Validate())
	})

	t.Run("terminal state without outcome", func(t *testing.T) {
		inst := validInstance()
		inst.State = StateCompleted
		require.Error(t, inst.Validate())
	})

	t.Run("terminal state with outcome", func(t *testing.T) {
		inst := validInstance()
		inst.State = StateCompleted
		outcome := OutcomeCompleted
		inst.Outcome = &outcome
		require.NoError(t, inst.Validate())
	})
}

func TestTerminal(t *testing.T) {
	terminal := []InstanceState{StateCompleted, StateMissed, StateOnePartyPresent, StateDisputed}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), "%s should be terminal", s)
	}
	open := []InstanceState{StateScheduled, StateWindowOpen, StatePartiallyCheckedIn}
	for _, s := range open {
		assert.False(t, s.Terminal(), "%s should not be terminal", s)
	}
}

func TestOutcomeState(t *testing.T) {
	assert.Equal(t, StateCompleted, OutcomeCompleted.State())
	assert.Equal(t, StateMissed, OutcomeMissed.State())
	assert.Equal(t, StateOnePartyPresent, OutcomeOnePartyPresent.State())
	assert.Equal(t, StateDisputed, OutcomeDisputed.State())
}

func TestParsePartyRole(t *testing.T) {
	role, err := ParsePartyRole("from")
	require.NoError(t, err)
	assert.Equal(t, PartyFrom, role)

	role, err = ParsePartyRole("to")
	require.NoError(t, err)
	assert.Equal(t, PartyTo, role)

	_, err = ParsePartyRole("FROM")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestClone_DeepCopy(t *testing.T) {
	inst := validInstance()
	now := time.Now().UTC()
	inst.FromCheckIn = &CheckIn{Lat: 1, Lng: 2, CheckedInAt: now}
	inst.Dispute = &Dispute{FiledBy: inst.FromParty, FiledAt: now, Notes: "late pickup"}

	clone := inst.Clone()
	clone.FromCheckIn.Lat = 99
	clone.Dispute.Notes = "changed"

	assert.Equal(t, 1.0, inst.FromCheckIn.Lat)
	assert.Equal(t, "late pickup", inst.Dispute.Notes)
}

func TestWindowPredicates(t *testing.T) {
	inst := validInstance()

	assert.False(t, inst.WindowOpenAt(inst.WindowStart.Add(-time.Second)))
	assert.True(t, inst.WindowOpenAt(inst.WindowStart))
	assert.True(t, inst.WindowOpenAt(inst.ScheduledTime))
	assert.True(t, inst.WindowOpenAt(inst.WindowEnd))
	assert.False(t, inst.WindowOpenAt(inst.WindowEnd.Add(time.Second)))

	assert.False(t, inst.WindowClosed(inst.WindowEnd))
	assert.True(t, inst.WindowClosed(inst.WindowEnd.Add(time.Second)))
}
