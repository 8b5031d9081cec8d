package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"handoff/internal/exchange/models"
)

func TestResolveOutcome(t *testing.T) {
	tests := []struct {
		name         string
		facts        Facts
		wantOutcome  models.Outcome
		wantFinalize bool
	}{
		{
			name:         "dispute overrides everything",
			facts:        Facts{FromPresent: true, ToPresent: true, Disputed: true},
			wantOutcome:  models.OutcomeDisputed,
			wantFinalize: true,
		},
		{
			name:         "dispute with nobody present",
			facts:        Facts{Disputed: true, WindowClosed: true},
			wantOutcome:  models.OutcomeDisputed,
			wantFinalize: true,
		},
		{
			name:         "both present finalizes eagerly mid-window",
			facts:        Facts{FromPresent: true, ToPresent: true},
			wantOutcome:  models.OutcomeCompleted,
			wantFinalize: true,
		},
		{
			name:         "both present after window close",
			facts:        Facts{FromPresent: true, ToPresent: true, WindowClosed: true},
			wantOutcome:  models.OutcomeCompleted,
			wantFinalize: true,
		},
		{
			name:         "one present mid-window waits",
			facts:        Facts{FromPresent: true},
			wantFinalize: false,
		},
		{
			name:         "other party present mid-window waits",
			facts:        Facts{ToPresent: true},
			wantFinalize: false,
		},
		{
			name:         "one present at window close",
			facts:        Facts{ToPresent: true, WindowClosed: true},
			wantOutcome:  models.OutcomeOnePartyPresent,
			wantFinalize: true,
		},
		{
			name:         "nobody present mid-window waits",
			facts:        Facts{},
			wantFinalize: false,
		},
		{
			name:         "nobody present at window close is missed",
			facts:        Facts{WindowClosed: true},
			wantOutcome:  models.OutcomeMissed,
			wantFinalize: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, finalize := ResolveOutcome(tt.facts)
			assert.Equal(t, tt.wantFinalize, finalize)
			if tt.wantFinalize {
				assert.Equal(t, tt.wantOutcome, outcome)
			}
		})
	}
}

func TestFactsOf_PresenceIsPopulationNotCompliance(t *testing.T) {
	inst := &models.ExchangeInstance{
		// A check-in far outside the geofence is still "present".
		FromCheckIn: &models.CheckIn{DistanceM: 5000, WithinGeofence: false},
	}
	facts := FactsOf(inst, true)
	assert.True(t, facts.FromPresent)
	assert.False(t, facts.ToPresent)
	assert.False(t, facts.Disputed)
	assert.True(t, facts.WindowClosed)
}
