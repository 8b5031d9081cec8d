// Package models defines the exchange-instance data model: one concrete
// custody-exchange occurrence with its snapshotted geofence, check-in slots,
// QR confirmation, dispute flag, and lifecycle state. Instances are
// evidentiary records; once terminal they are frozen and never deleted.
package models

import (
	"time"

	id "handoff/pkg/domain"
	dErrors "handoff/pkg/domain-errors"
)

// PartyRole identifies which side of the exchange a check-in belongs to.
type PartyRole string

const (
	PartyFrom PartyRole = "from"
	PartyTo   PartyRole = "to"
)

// ParsePartyRole parses a role from its wire form.
func ParsePartyRole(raw string) (PartyRole, error) {
	switch PartyRole(raw) {
	case PartyFrom:
		return PartyFrom, nil
	case PartyTo:
		return PartyTo, nil
	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, "party role must be \"from\" or \"to\"")
	}
}

// InstanceState is the exchange-instance lifecycle state.
type InstanceState string

const (
	StateScheduled          InstanceState = "scheduled"
	StateWindowOpen         InstanceState = "window_open"
	StatePartiallyCheckedIn InstanceState = "partially_checked_in"
	StateCompleted          InstanceState = "completed"
	StateMissed             InstanceState = "missed"
	StateOnePartyPresent    InstanceState = "one_party_present"
	StateDisputed           InstanceState = "disputed"
)

// Terminal reports whether the state is terminal. Disputed is
// terminal-absorbing: human-reviewed closure happens outside this engine.
func (s InstanceState) Terminal() bool {
	switch s {
	case StateCompleted, StateMissed, StateOnePartyPresent, StateDisputed:
		return true
	case StateScheduled, StateWindowOpen, StatePartiallyCheckedIn:
		return false
	default:
		return false
	}
}

// Outcome is the terminal classification of an exchange instance.
type Outcome string

const (
	OutcomeCompleted       Outcome = "completed"
	OutcomeMissed          Outcome = "missed"
	OutcomeOnePartyPresent Outcome = "one_party_present"
	OutcomeDisputed        Outcome = "disputed"
)

// State returns the instance state an outcome finalizes into.
func (o Outcome) State() InstanceState {
	switch o {
	case OutcomeCompleted:
		return StateCompleted
	case OutcomeMissed:
		return StateMissed
	case OutcomeOnePartyPresent:
		return StateOnePartyPresent
	case OutcomeDisputed:
		return StateDisputed
	default:
		return StateDisputed
	}
}

// Geofence is the circular tolerance zone snapshotted from the definition at
// instance creation. Copied, not referenced: later definition edits must not
// retroactively alter evidence.
type Geofence struct {
	CenterLat float64
	CenterLng float64
	RadiusM   float64
}

// CheckIn records one party's point-in-time GPS check-in.
type CheckIn struct {
	Lat             float64
	Lng             float64
	DeviceAccuracyM float64
	// CheckedInAt is server time (UTC). Client clocks cannot forge
	// on-time evidence.
	CheckedInAt time.Time
	// ClientClaimedAt retains the client-reported timestamp for audit.
	ClientClaimedAt time.Time
	DistanceM       float64
	WithinGeofence  bool
	// Late marks a check-in whose client-claimed time fell outside the
	// window, or that arrived after window_end but before finalization.
	Late bool
}

// QRConfirmation is the mutual-confirmation evidence: one party displayed a
// code, the other scanned it. Additive evidence only; never changes outcome.
type QRConfirmation struct {
	TokenHash   string
	ConfirmedAt time.Time
	ConfirmedBy id.PartyID
}

// Dispute is the override flag. Monotonic: once filed it cannot silently
// revert; resolution is a human workflow outside this engine.
type Dispute struct {
	FiledBy  id.PartyID
	FiledAt  time.Time
	Notes    string
	Resolved bool
}

// ExchangeInstance is one concrete occurrence of a scheduled exchange.
type ExchangeInstance struct {
	ID           id.InstanceID
	DefinitionID id.DefinitionID

	FromParty id.PartyID
	ToParty   id.PartyID

	ScheduledTime time.Time
	WindowStart   time.Time
	WindowEnd     time.Time

	Geofence Geofence

	FromCheckIn *CheckIn
	ToCheckIn   *CheckIn

	QRConfirmation *QRConfirmation
	Dispute        *Dispute

	State   InstanceState
	Outcome *Outcome

	AutoClosed   bool
	AutoClosedAt *time.Time
	FinalizedAt  *time.Time

	// EarlyAttempts counts rejected before-window check-in attempts,
	// retained for audit; they never populate a check-in slot.
	EarlyAttempts      int
	LastEarlyAttemptAt *time.Time

	// Version is the optimistic-concurrency counter; every successful
	// update increments it.
	Version int64

	CreatedAt  time.Time
	UpdatedAt  time.Time
	ArchivedAt *time.Time
}

// CheckInFor returns the slot for the given role.
func (e *ExchangeInstance) CheckInFor(role PartyRole) *CheckIn {
	if role == PartyFrom {
		return e.FromCheckIn
	}
	return e.ToCheckIn
}

// SetCheckIn populates the slot for the given role.
func (e *ExchangeInstance) SetCheckIn(role PartyRole, ci *CheckIn) {
	if role == PartyFrom {
		e.FromCheckIn = ci
		return
	}
	e.ToCheckIn = ci
}

// PartyFor returns the party ID bound to a role.
func (e *ExchangeInstance) PartyFor(role PartyRole) id.PartyID {
	if role == PartyFrom {
		return e.FromParty
	}
	return e.ToParty
}

// Finalized reports whether the instance has reached a terminal state.
func (e *ExchangeInstance) Finalized() bool {
	return e.State.Terminal()
}

// WindowClosed reports whether the check-in window has passed at now.
func (e *ExchangeInstance) WindowClosed(now time.Time) bool {
	return now.After(e.WindowEnd)
}

// WindowOpenAt reports whether now falls inside [window_start, window_end].
func (e *ExchangeInstance) WindowOpenAt(now time.Time) bool {
	return !now.Before(e.WindowStart) && !now.After(e.WindowEnd)
}

// Validate checks the invariants that must hold for every instance.
func (e *ExchangeInstance) Validate() error {
	if e.ID.IsZero() {
		return dErrors.New(dErrors.CodeInvalidInput, "instance id is required")
	}
	if e.DefinitionID.IsZero() {
		return dErrors.New(dErrors.CodeInvalidInput, "definition id is required")
	}
	if e.FromParty.IsZero() || e.ToParty.IsZero() {
		return dErrors.New(dErrors.CodeInvalidInput, "both parties are required")
	}
	if e.WindowStart.After(e.ScheduledTime) || e.ScheduledTime.After(e.WindowEnd) {
		return dErrors.New(dErrors.CodeInvalidInput, "window must satisfy window_start <= scheduled_time <= window_end")
	}
	if e.Geofence.RadiusM <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "geofence radius must be positive")
	}
	if (e.Outcome != nil) != e.State.Terminal() {
		return dErrors.New(dErrors.CodeInvalidInput, "outcome must be set if and only if state is terminal")
	}
	return nil
}

// Clone returns a deep copy so store reads never alias store state.
func (e *ExchangeInstance) Clone() *ExchangeInstance {
	out := *e
	if e.FromCheckIn != nil {
		ci := *e.FromCheckIn
		out.FromCheckIn = &ci
	}
	if e.ToCheckIn != nil {
		ci := *e.ToCheckIn
		out.ToCheckIn = &ci
	}
	if e.QRConfirmation != nil {
		qr := *e.QRConfirmation
		out.QRConfirmation = &qr
	}
	if e.Dispute != nil {
		d := *e.Dispute
		out.Dispute = &d
	}
	if e.Outcome != nil {
		o := *e.Outcome
		out.Outcome = &o
	}
	if e.AutoClosedAt != nil {
		t := *e.AutoClosedAt
		out.AutoClosedAt = &t
	}
	if e.FinalizedAt != nil {
		t := *e.FinalizedAt
		out.FinalizedAt = &t
	}
	if e.LastEarlyAttemptAt != nil {
		t := *e.LastEarlyAttemptAt
		out.LastEarlyAttemptAt = &t
	}
	if e.ArchivedAt != nil {
		t := *e.ArchivedAt
		out.ArchivedAt = &t
	}
	return &out
}
