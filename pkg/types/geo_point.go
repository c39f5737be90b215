package types

import "fmt"

// GeoPoint is a WGS84 coordinate supplied by the client for pickup and dropoff.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate checks the coordinate ranges.
func (g GeoPoint) Validate() error {
	if g.Lat < -90 || g.Lat > 90 {
		return fmt.Errorf("latitude %f out of range", g.Lat)
	}
	if g.Lng < -180 || g.Lng > 180 {
		return fmt.Errorf("longitude %f out of range", g.Lng)
	}
	return nil
}
