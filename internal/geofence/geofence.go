// Package geofence provides great-circle distance math and the circular
// geofence inclusion test used to classify check-ins. Pure functions, no I/O:
// the same inputs always produce the same outputs, which downstream evidence
// hashing depends on.
package geofence

import (
	"fmt"
	"math"

	dErrors "handoff/pkg/domain-errors"
)

const (
	// earthRadiusMeters is the spherical Earth approximation used by the
	// haversine formula.
	earthRadiusMeters = 6_371_000.0

	// MaxAccuracyBufferMeters caps how much reported device accuracy can
	// widen the effective radius. Without the cap, a badly calibrated
	// device could trivially satisfy an arbitrarily large geofence.
	MaxAccuracyBufferMeters = 50.0
)

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64
	Lng float64
}

// Validate rejects coordinates outside lat [-90,90] / lng [-180,180], and
// NaN/Inf values that would poison downstream math.
func Validate(p Point) error {
	if math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) || math.IsNaN(p.Lng) || math.IsInf(p.Lng, 0) {
		return dErrors.New(dErrors.CodeInvalidCoordinates, "coordinates must be finite numbers")
	}
	if p.Lat < -90 || p.Lat > 90 {
		return dErrors.New(dErrors.CodeInvalidCoordinates, fmt.Sprintf("latitude %v out of range [-90,90]", p.Lat))
	}
	if p.Lng < -180 || p.Lng > 180 {
		return dErrors.New(dErrors.CodeInvalidCoordinates, fmt.Sprintf("longitude %v out of range [-180,180]", p.Lng))
	}
	return nil
}

// DistanceMeters computes the haversine great-circle distance between two
// points. Symmetric; zero for identical coordinates.
func DistanceMeters(a, b Point) (float64, error) {
	if err := Validate(a); err != nil {
		return 0, err
	}
	if err := Validate(b); err != nil {
		return 0, err
	}
	if a == b {
		return 0, nil
	}

	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLng*sinLng
	// Clamp against floating-point drift before Asin.
	c := 2 * math.Asin(math.Min(1, math.Sqrt(h)))

	return earthRadiusMeters * c, nil
}

// WithinGeofence reports whether point falls inside the circular geofence
// around center. The effective radius is radiusM plus the device accuracy
// buffer, capped at MaxAccuracyBufferMeters. The boundary is inclusive:
// a distance exactly equal to the effective radius counts as within.
// Returns the computed distance alongside the classification so callers can
// record both.
func WithinGeofence(point, center Point, radiusM, deviceAccuracyM float64) (bool, float64, error) {
	distance, err := DistanceMeters(point, center)
	if err != nil {
		return false, 0, err
	}

	buffer := deviceAccuracyM
	if buffer < 0 {
		buffer = 0
	}
	if buffer > MaxAccuracyBufferMeters {
		buffer = MaxAccuracyBufferMeters
	}

	return distance <= radiusM+buffer, distance, nil
}
