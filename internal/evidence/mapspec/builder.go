// Package mapspec builds the evidence map specification for an exchange
// instance: the geofence circle plus one marker per recorded check-in. The
// builder is pure and deterministic; the same instance always produces
// byte-identical canonical JSON, so downstream evidence bundles can hash it.
package mapspec

import (
	"encoding/json"
	"time"

	"handoff/internal/exchange/models"
)

// Marker colors encode geofence compliance, nothing else.
const (
	colorCompliant    = "green"
	colorNonCompliant = "red"
)

// Circle is the geofence overlay.
type Circle struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	RadiusM float64 `json:"radius_m"`
}

// Marker is one recorded check-in.
type Marker struct {
	Role           string  `json:"role"`
	Label          string  `json:"label"`
	Lat            float64 `json:"lat"`
	Lng            float64 `json:"lng"`
	Color          string  `json:"color"`
	DistanceM      float64 `json:"distance_m"`
	WithinGeofence bool    `json:"within_geofence"`
	Late           bool    `json:"late"`
	CheckedInAt    string  `json:"checked_in_at"`
}

// MapSpec is the renderer-agnostic description of the evidence map.
type MapSpec struct {
	InstanceID string   `json:"instance_id"`
	State      string   `json:"state"`
	Outcome    string   `json:"outcome,omitempty"`
	Geofence   Circle   `json:"geofence"`
	Markers    []Marker `json:"markers"`
}

// Build derives the MapSpec from an instance. Markers appear in fixed role
// order (from, then to); an empty slot produces no marker.
func Build(inst *models.ExchangeInstance) MapSpec {
	spec := MapSpec{
		InstanceID: inst.ID.String(),
		State:      string(inst.State),
		Geofence: Circle{
			Lat:     inst.Geofence.CenterLat,
			Lng:     inst.Geofence.CenterLng,
			RadiusM: inst.Geofence.RadiusM,
		},
		Markers: []Marker{},
	}
	if inst.Outcome != nil {
		spec.Outcome = string(*inst.Outcome)
	}

	if m, ok := markerFor(models.PartyFrom, "Dropping off", inst.FromCheckIn); ok {
		spec.Markers = append(spec.Markers, m)
	}
	if m, ok := markerFor(models.PartyTo, "Picking up", inst.ToCheckIn); ok {
		spec.Markers = append(spec.Markers, m)
	}
	return spec
}

// CanonicalJSON renders the spec in its canonical byte form. Field order is
// fixed by the struct definitions and marker order by Build, so equal specs
// always serialize identically.
func (s MapSpec) CanonicalJSON() ([]byte, error) {
	return json.Marshal(s)
}

func markerFor(role models.PartyRole, label string, ci *models.CheckIn) (Marker, bool) {
	if ci == nil {
		return Marker{}, false
	}
	color := colorNonCompliant
	if ci.WithinGeofence {
		color = colorCompliant
	}
	return Marker{
		Role:           string(role),
		Label:          label,
		Lat:            ci.Lat,
		Lng:            ci.Lng,
		Color:          color,
		DistanceM:      ci.DistanceM,
		WithinGeofence: ci.WithinGeofence,
		Late:           ci.Late,
		CheckedInAt:    ci.CheckedInAt.UTC().Format(time.RFC3339Nano),
	}, true
}
