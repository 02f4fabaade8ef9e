// internal/domain/geo/distance.go

package geo

import "math"

const earthRadiusKm = 6371.0

// HaversineKm calculates the great-circle distance between two points
// in kilometers. Symmetric, and zero for identical points.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	// Convert latitude and longitude from degrees to radians
	rLat1 := lat1 * math.Pi / 180.0
	rLng1 := lng1 * math.Pi / 180.0
	rLat2 := lat2 * math.Pi / 180.0
	rLng2 := lng2 * math.Pi / 180.0

	dLat := rLat2 - rLat1
	dLng := rLng2 - rLng1

	hSin := math.Sin(dLat / 2)
	hSin *= hSin

	vSin := math.Sin(dLng / 2)
	vSin *= vSin

	h := hSin + math.Cos(rLat1)*math.Cos(rLat2)*vSin

	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

// DistanceKm is HaversineKm over two coordinates
func DistanceKm(a, b Coordinate) float64 {
	return HaversineKm(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
}
