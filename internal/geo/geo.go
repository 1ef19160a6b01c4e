package geo

import (
	"math"

	"github.com/example/driver-agent/internal/models"
)

// Haversine distance in meters
func Haversine(a, b models.Coord) float64 {
	const R = 6371000.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return R * c
}

// Bearing returns the initial bearing from a to b in degrees [0, 360).
func Bearing(a, b models.Coord) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// NearestPointIndex returns the index of the route coordinate closest to
// loc, or -1 for an empty route.
func NearestPointIndex(loc models.Coord, route []models.Coord) int {
	if len(route) == 0 {
		return -1
	}
	best := 0
	min := math.Inf(1)
	for i, p := range route {
		if d := Haversine(loc, p); d < min {
			min = d
			best = i
		}
	}
	return best
}

// RemainingRoute trims the already-driven prefix of a route and prepends
// the current location so the visible polyline starts at the vehicle.
func RemainingRoute(loc models.Coord, route []models.Coord) []models.Coord {
	idx := NearestPointIndex(loc, route)
	if idx < 0 {
		return nil
	}
	out := make([]models.Coord, 0, len(route)-idx+1)
	out = append(out, loc)
	out = append(out, route[idx:]...)
	return out
}

// minFareKm floors the billable distance so a near-zero trip never yields a
// zero fare.
const minFareKm = 0.1

// FareDistanceKm converts the anchor-to-current straight-line distance to
// billable kilometers with the minimum floor applied.
func FareDistanceKm(anchor, current models.Coord) float64 {
	return math.Max(Haversine(anchor, current)/1000, minFareKm)
}
