package handler

import (
	"time"

	"handoff/internal/exchange/models"
)

// CheckInResponse reflects one recorded check-in slot.
type CheckInResponse struct {
	Lat             float64   `json:"lat"`
	Lng             float64   `json:"lng"`
	DeviceAccuracyM float64   `json:"device_accuracy_m"`
	CheckedInAt     time.Time `json:"checked_in_at"`
	ClientClaimedAt time.Time `json:"client_claimed_at"`
	DistanceM       float64   `json:"distance_m"`
	WithinGeofence  bool      `json:"within_geofence"`
	Late            bool      `json:"late"`
}

// DisputeResponse reflects the dispute flag.
type DisputeResponse struct {
	FiledBy string    `json:"filed_by"`
	FiledAt time.Time `json:"filed_at"`
	Notes   string    `json:"notes,omitempty"`
}

// InstanceResponse is the full exchange-instance view.
type InstanceResponse struct {
	ID            string           `json:"id"`
	DefinitionID  string           `json:"definition_id"`
	FromParty     string           `json:"from_party"`
	ToParty       string           `json:"to_party"`
	ScheduledTime time.Time        `json:"scheduled_time"`
	WindowStart   time.Time        `json:"window_start"`
	WindowEnd     time.Time        `json:"window_end"`
	Geofence      GeofenceRequest  `json:"geofence"`
	State         string           `json:"state"`
	Outcome       string           `json:"outcome,omitempty"`
	FromCheckIn   *CheckInResponse `json:"from_check_in,omitempty"`
	ToCheckIn     *CheckInResponse `json:"to_check_in,omitempty"`
	QRConfirmed   bool             `json:"qr_confirmed"`
	Dispute       *DisputeResponse `json:"dispute,omitempty"`
	AutoClosed    bool             `json:"auto_closed"`
	FinalizedAt   *time.Time       `json:"finalized_at,omitempty"`
	EarlyAttempts int              `json:"early_attempts"`
	Version       int64            `json:"version"`
}

// SubmitCheckInResponse is returned from a check-in submission.
type SubmitCheckInResponse struct {
	DistanceM      float64 `json:"distance_m"`
	WithinGeofence bool    `json:"within_geofence"`
	Late           bool    `json:"late"`
	Finalized      bool    `json:"finalized"`
	Outcome        string  `json:"outcome,omitempty"`
	State          string  `json:"state"`
}

// QRTokenResponse carries a freshly issued QR token. The value appears here
// exactly once; only its hash is stored.
type QRTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func toInstanceResponse(inst *models.ExchangeInstance) InstanceResponse {
	resp := InstanceResponse{
		ID:            inst.ID.String(),
		DefinitionID:  inst.DefinitionID.String(),
		FromParty:     inst.FromParty.String(),
		ToParty:       inst.ToParty.String(),
		ScheduledTime: inst.ScheduledTime,
		WindowStart:   inst.WindowStart,
		WindowEnd:     inst.WindowEnd,
		Geofence: GeofenceRequest{
			CenterLat: inst.Geofence.CenterLat,
			CenterLng: inst.Geofence.CenterLng,
			RadiusM:   inst.Geofence.RadiusM,
		},
		State:         string(inst.State),
		FromCheckIn:   toCheckInResponse(inst.FromCheckIn),
		ToCheckIn:     toCheckInResponse(inst.ToCheckIn),
		QRConfirmed:   inst.QRConfirmation != nil,
		AutoClosed:    inst.AutoClosed,
		FinalizedAt:   inst.FinalizedAt,
		EarlyAttempts: inst.EarlyAttempts,
		Version:       inst.Version,
	}
	if inst.Outcome != nil {
		resp.Outcome = string(*inst.Outcome)
	}
	if inst.Dispute != nil {
		resp.Dispute = &DisputeResponse{
			FiledBy: inst.Dispute.FiledBy.String(),
			FiledAt: inst.Dispute.FiledAt,
			Notes:   inst.Dispute.Notes,
		}
	}
	return resp
}

func toCheckInResponse(ci *models.CheckIn) *CheckInResponse {
	if ci == nil {
		return nil
	}
	return &CheckInResponse{
		Lat:             ci.Lat,
		Lng:             ci.Lng,
		DeviceAccuracyM: ci.DeviceAccuracyM,
		CheckedInAt:     ci.CheckedInAt,
		ClientClaimedAt: ci.ClientClaimedAt,
		DistanceM:       ci.DistanceM,
		WithinGeofence:  ci.WithinGeofence,
		Late:            ci.Late,
	}
}
