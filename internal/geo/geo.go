// Package geo provides great-circle helpers for GPS fixes.
package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used for all distance math.
const EarthRadiusMeters = 6_371_000.0

// Point is a WGS84 position in decimal degrees.
type Point struct {
	Lat float64
	Lon float64
}

// IsOrigin reports whether p is the (0,0) placeholder some devices emit
// before they have a fix.
func (p Point) IsOrigin() bool {
	return p.Lat == 0 && p.Lon == 0
}

// HaversineMeters returns the great-circle distance between two positions.
func HaversineMeters(a, b Point) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := lat2 - lat1
	dLon := radians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Lerp interpolates linearly in degrees between a and b; f=0 yields a and
// f=1 yields b.
func Lerp(a, b Point, f float64) Point {
	return Point{
		Lat: a.Lat + (b.Lat-a.Lat)*f,
		Lon: a.Lon + (b.Lon-a.Lon)*f,
	}
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
