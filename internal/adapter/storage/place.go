// internal/adapter/storage/place.go

package storage

import (
	"encoding/json"

	"ritrovo/internal/domain/feed"
	"ritrovo/internal/domain/geo"
)

// rawPlace mirrors the heterogeneous place payload stored with a
// record: coordinates may sit flat on the object or nested under a
// coordinates key.
type rawPlace struct {
	Name        string   `json:"name"`
	Address     string   `json:"address"`
	Lat         *float64 `json:"lat"`
	Lng         *float64 `json:"lng"`
	Coordinates *struct {
		Lat *float64 `json:"lat"`
		Lng *float64 `json:"lng"`
	} `json:"coordinates"`
}

// decodePlace normalizes a stored place payload. A place that carries
// no resolvable coordinate pair in either shape is discarded entirely.
func decodePlace(data []byte) *feed.Place {
	if len(data) == 0 {
		return nil
	}

	var raw rawPlace
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}

	lat, lng := raw.Lat, raw.Lng
	if (lat == nil || lng == nil) && raw.Coordinates != nil {
		lat, lng = raw.Coordinates.Lat, raw.Coordinates.Lng
	}

	if lat == nil || lng == nil {
		return nil
	}

	c := geo.Coordinate{Latitude: *lat, Longitude: *lng}
	if !c.Valid() {
		return nil
	}

	return &feed.Place{
		Coordinate: &c,
		Name:       raw.Name,
		Address:    raw.Address,
	}
}
