package domain

import (
	"fmt"
	"math"
)

// GeoPoint represents a geographic coordinate (WGS 84). Altitude is optional
// and expressed in meters.
type GeoPoint struct {
	Lat float64  `json:"lat"`
	Lon float64  `json:"lon"`
	Alt *float64 `json:"altitude,omitempty"`
}

// Altitude returns the altitude or 0 when it is unknown.
func (p GeoPoint) Altitude() float64 {
	if p.Alt == nil {
		return 0
	}
	return *p.Alt
}

// WithAltitude returns a copy of p carrying the given altitude.
func (p GeoPoint) WithAltitude(alt float64) GeoPoint {
	p.Alt = &alt
	return p
}

// Validate reports a *ValidationError when the point is not a usable WGS 84
// coordinate.
func (p GeoPoint) Validate() error {
	switch {
	case math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0):
		return &ValidationError{Field: "lat", Reason: "not a finite number"}
	case math.IsNaN(p.Lon) || math.IsInf(p.Lon, 0):
		return &ValidationError{Field: "lon", Reason: "not a finite number"}
	case p.Lat < -90 || p.Lat > 90:
		return &ValidationError{Field: "lat", Reason: fmt.Sprintf("%v outside [-90, 90]", p.Lat)}
	case p.Lon < -180 || p.Lon > 180:
		return &ValidationError{Field: "lon", Reason: fmt.Sprintf("%v outside [-180, 180]", p.Lon)}
	case p.Alt != nil && (math.IsNaN(*p.Alt) || math.IsInf(*p.Alt, 0)):
		return &ValidationError{Field: "altitude", Reason: "not a finite number"}
	}
	return nil
}

// Bounds represents a geographic bounding box.
type Bounds struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}

// Contains reports whether p lies inside the box, edges included.
func (b Bounds) Contains(p GeoPoint) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat && p.Lon >= b.MinLon && p.Lon <= b.MaxLon
}
