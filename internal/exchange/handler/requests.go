package handler

import "time"

// CreateExchangeRequest creates a new exchange instance. The scheduling
// collaborator owns definition expansion; this engine only receives the
// concrete occurrence.
type CreateExchangeRequest struct {
	DefinitionID        string          `json:"definition_id"`
	FromParty           string          `json:"from_party"`
	ToParty             string          `json:"to_party"`
	ScheduledTime       time.Time       `json:"scheduled_time"`
	WindowBeforeMinutes int             `json:"window_before_minutes"`
	WindowAfterMinutes  int             `json:"window_after_minutes"`
	Geofence            GeofenceRequest `json:"geofence"`
}

type GeofenceRequest struct {
	CenterLat float64 `json:"center_lat"`
	CenterLng float64 `json:"center_lng"`
	RadiusM   float64 `json:"radius_m"`
}

// CheckInRequest is one party's GPS check-in submission.
type CheckInRequest struct {
	Role            string    `json:"role"`
	Lat             float64   `json:"lat"`
	Lng             float64   `json:"lng"`
	DeviceAccuracyM float64   `json:"device_accuracy_m"`
	ClaimedAt       time.Time `json:"claimed_at"`
}

// DisputeRequest files a dispute on an instance.
type DisputeRequest struct {
	Notes string `json:"notes"`
}

// QRConfirmRequest redeems a scanned QR token.
type QRConfirmRequest struct {
	Token string `json:"token"`
}
