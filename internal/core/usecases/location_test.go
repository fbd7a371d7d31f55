package usecases_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/geoar/internal/core/domain"
	"github.com/samirrijal/geoar/internal/core/usecases"
)

func TestDecodeLocation_FieldNames(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"short names", `{"lat": 37.7749, "lon": -122.4194}`},
		{"record names", `{"latitude": 37.7749, "longitude": -122.4194}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := usecases.DecodeLocation([]byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, 37.7749, p.Lat)
			assert.Equal(t, -122.4194, p.Lon)
			assert.Nil(t, p.Alt)
		})
	}
}

func TestDecodeLocation_Altitude(t *testing.T) {
	p, err := usecases.DecodeLocation([]byte(`{"lat": 1, "lon": 2, "altitude": 30.5}`))
	require.NoError(t, err)
	assert.Equal(t, 30.5, p.Altitude())
}

func TestDecodeLocation_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		field   string
	}{
		{"empty object", `{}`, "lat"},
		{"missing lon", `{"latitude": 37.7749}`, "lon"},
		{"null lat", `{"lat": null, "lon": 1}`, "lat"},
		{"out of range", `{"lat": 95, "lon": 0}`, "lat"},
		{"malformed", `[1,2`, "location"},
		{"wrong type", `{"lat": "north", "lon": 0}`, "location"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := usecases.DecodeLocation([]byte(tt.payload))
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}
