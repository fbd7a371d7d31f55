package usecases

import (
	"encoding/json"

	"github.com/samirrijal/geoar/internal/core/domain"
)

// locationFix accepts both the short and the agent record field names.
type locationFix struct {
	Lat       *float64 `json:"lat"`
	Lon       *float64 `json:"lon"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Altitude  *float64 `json:"altitude"`
}

// DecodeLocation turns one location fix payload into a validated GeoPoint.
// Missing coordinates are rejected rather than read as zero.
func DecodeLocation(data []byte) (domain.GeoPoint, error) {
	var fix locationFix
	if err := json.Unmarshal(data, &fix); err != nil {
		return domain.GeoPoint{}, &domain.ValidationError{Field: "location", Reason: err.Error()}
	}
	lat, lon := fix.Lat, fix.Lon
	if lat == nil {
		lat = fix.Latitude
	}
	if lon == nil {
		lon = fix.Longitude
	}
	if lat == nil {
		return domain.GeoPoint{}, &domain.ValidationError{Field: "lat", Reason: "required"}
	}
	if lon == nil {
		return domain.GeoPoint{}, &domain.ValidationError{Field: "lon", Reason: "required"}
	}

	p := domain.GeoPoint{Lat: *lat, Lon: *lon, Alt: fix.Altitude}
	if err := p.Validate(); err != nil {
		return domain.GeoPoint{}, err
	}
	return p, nil
}
