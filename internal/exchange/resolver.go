// Package exchange holds the pure outcome decision function for an exchange
// instance. The resolver sees only recorded facts; geofence compliance is an
// evidentiary attribute of each check-in and deliberately does not influence
// the presence classification.
package exchange

import "handoff/internal/exchange/models"

// Facts are the recorded facts about an instance at the moment of evaluation.
type Facts struct {
	FromPresent  bool
	ToPresent    bool
	Disputed     bool
	WindowClosed bool
}

// ResolveOutcome maps facts to a terminal outcome. The second return value
// reports whether the instance finalizes now; when false, the outcome is not
// meaningful and the instance keeps waiting (one party checked in mid-window).
func ResolveOutcome(f Facts) (models.Outcome, bool) {
	switch {
	case f.Disputed:
		return models.OutcomeDisputed, true
	case f.FromPresent && f.ToPresent:
		return models.OutcomeCompleted, true
	case f.FromPresent || f.ToPresent:
		if f.WindowClosed {
			return models.OutcomeOnePartyPresent, true
		}
		return "", false
	default:
		if f.WindowClosed {
			return models.OutcomeMissed, true
		}
		return "", false
	}
}

// FactsOf derives resolver facts from an instance's recorded state.
// "Present" means a check-in slot is populated, nothing more.
func FactsOf(inst *models.ExchangeInstance, windowClosed bool) Facts {
	return Facts{
		FromPresent:  inst.FromCheckIn != nil,
		ToPresent:    inst.ToCheckIn != nil,
		Disputed:     inst.Dispute != nil,
		WindowClosed: windowClosed,
	}
}
