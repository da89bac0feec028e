package geo

import (
	"math"
	"testing"

	"github.com/example/event-checkin/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(-22.5609, 17.0658, -22.5609, 17.0658)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineSymmetry(t *testing.T) {
	cases := [][4]float64{
		{-22.5609, 17.0658, -22.5655, 17.0612},
		{0, 0, 10, 10},
		{51.5074, -0.1278, 48.8566, 2.3522},
	}
	for _, c := range cases {
		ab := Haversine(c[0], c[1], c[2], c[3])
		ba := Haversine(c[2], c[3], c[0], c[1])
		if math.Abs(ab-ba) > 1e-6 {
			t.Fatalf("asymmetric: %f vs %f", ab, ba)
		}
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// one degree of latitude is ~111.2km
	d := Haversine(0, 0, 1, 0)
	if d < 111000 || d > 111400 {
		t.Fatalf("unexpected distance for 1 deg lat: %f", d)
	}
}

func TestEvaluateAtVenueCenter(t *testing.T) {
	v := models.Venue{EventID: "e1", Coordinate: models.Coordinate{Lat: -22.5609, Lng: 17.0658}, GeofenceRadiusMeters: 50}
	res := Evaluate(v, models.Coordinate{Lat: -22.5609, Lng: 17.0658}, StrictTolerance)
	if !res.WithinRadius {
		t.Fatal("expected sample at venue center to be within radius")
	}
	if res.DistanceMeters > 0.01 {
		t.Fatalf("expected ~0 distance, got %f", res.DistanceMeters)
	}
}

func TestEvaluateFarAway(t *testing.T) {
	v := models.Venue{EventID: "e1", Coordinate: models.Coordinate{Lat: -22.5609, Lng: 17.0658}, GeofenceRadiusMeters: 50}
	// ~500m south of the venue
	sample := models.Coordinate{Lat: -22.5654, Lng: 17.0658}
	res := Evaluate(v, sample, StrictTolerance)
	if res.WithinRadius {
		t.Fatal("expected sample 500m away to be outside a 50m fence")
	}
	if res.DistanceMeters < 400 || res.DistanceMeters > 600 {
		t.Fatalf("expected ~500m, got %f", res.DistanceMeters)
	}
}

func TestToleranceMonotonic(t *testing.T) {
	v := models.Venue{EventID: "e1", Coordinate: models.Coordinate{Lat: 10, Lng: 10}, GeofenceRadiusMeters: 50}
	samples := []models.Coordinate{
		{Lat: 10, Lng: 10},
		{Lat: 10.0003, Lng: 10},
		{Lat: 10.001, Lng: 10},
		{Lat: 10.01, Lng: 10},
	}
	for _, s := range samples {
		strict := Evaluate(v, s, StrictTolerance)
		loose := Evaluate(v, s, LooseTolerance)
		if strict.WithinRadius && !loose.WithinRadius {
			t.Fatalf("loosening the buffer excluded a point at %f m", strict.DistanceMeters)
		}
	}
}
