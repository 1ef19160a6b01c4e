package geo

import (
	"math"
	"testing"

	"github.com/example/driver-agent/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(models.Coord{}, models.Coord{})
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// one degree of latitude is ~111.19 km on the sphere
	d := Haversine(models.Coord{Lat: 0, Lon: 0}, models.Coord{Lat: 1, Lon: 0})
	if math.Abs(d-111194.9) > 100 {
		t.Fatalf("expected ~111195 m, got %f", d)
	}
}

func TestBearingDueEast(t *testing.T) {
	b := Bearing(models.Coord{Lat: 0, Lon: 0}, models.Coord{Lat: 0, Lon: 1})
	if math.Abs(b-90) > 0.01 {
		t.Fatalf("expected 90, got %f", b)
	}
}

func TestNearestPointIndex(t *testing.T) {
	route := []models.Coord{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 0.01}, {Lat: 0, Lon: 0.02}}
	if idx := NearestPointIndex(models.Coord{Lat: 0, Lon: 0.011}, route); idx != 1 {
		t.Fatalf("expected index 1, got %d", idx)
	}
	if idx := NearestPointIndex(models.Coord{}, nil); idx != -1 {
		t.Fatalf("expected -1 for empty route, got %d", idx)
	}
}

func TestRemainingRouteStartsAtVehicle(t *testing.T) {
	route := []models.Coord{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 0.01}, {Lat: 0, Lon: 0.02}}
	loc := models.Coord{Lat: 0, Lon: 0.012}
	out := RemainingRoute(loc, route)
	if len(out) != 3 {
		t.Fatalf("expected 3 points, got %d", len(out))
	}
	if out[0] != loc {
		t.Fatalf("route must start at current location, got %+v", out[0])
	}
	if out[1].Lon != 0.01 {
		t.Fatalf("driven prefix not trimmed: %+v", out)
	}
}

func TestFareDistanceFloor(t *testing.T) {
	p := models.Coord{Lat: 12.9716, Lon: 77.5946}
	if km := FareDistanceKm(p, p); km != 0.1 {
		t.Fatalf("expected 0.1 km floor, got %f", km)
	}
}
