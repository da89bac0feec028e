package geo

import (
	"math"
	"time"

	"github.com/example/event-checkin/internal/models"
)

// Tolerance multipliers for the two geofence call sites. The initial
// check-in is strict; the session monitor uses a looser buffer so GPS
// jitter near the boundary does not flap a live session.
const (
	StrictTolerance = 1.0
	LooseTolerance  = 3.0
)

// Haversine distance in meters
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// DistanceMeters is Haversine over Coordinate values.
func DistanceMeters(a, b models.Coordinate) float64 {
	return Haversine(a.Lat, a.Lng, b.Lat, b.Lng)
}

// Evaluate classifies a location sample against a venue's geofence.
// The result is transient; callers persist only the derived boolean
// and distance.
func Evaluate(venue models.Venue, sample models.Coordinate, tolerance float64) models.GeofenceResult {
	d := DistanceMeters(venue.Coordinate, sample)
	return models.GeofenceResult{
		WithinRadius:   d <= venue.GeofenceRadiusMeters*tolerance,
		DistanceMeters: d,
		SampledAt:      time.Now(),
		Coordinate:     sample,
	}
}
