// Package risk implements the decision-fusion rules: geo-velocity, contextual
// change detection and the allow/mfa/block policy.
package risk

import (
	"math"
	"time"
)

// EarthRadiusKm is the mean Earth radius used for great-circle distances
const EarthRadiusKm = 6371.0

// Coordinates is a latitude/longitude pair in degrees
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// Point is a position observed at a moment in time
type Point struct {
	Coordinates
	Time time.Time
}

// Haversine returns the great-circle distance between a and b in kilometers
func Haversine(a, b Coordinates) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusKm * c
}

// Velocity returns the implied travel speed in km/h between prev and cur.
// It is 0 when there is no previous point or the elapsed time is not positive,
// so out-of-order events and clock skew never produce a negative or infinite speed.
func Velocity(prev *Point, cur Point) float64 {
	if prev == nil {
		return 0
	}

	hours := cur.Time.Sub(prev.Time).Hours()
	if hours <= 0 {
		return 0
	}

	return Haversine(prev.Coordinates, cur.Coordinates) / hours
}
