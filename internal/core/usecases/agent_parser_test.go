package usecases_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/geoar/internal/core/domain"
	"github.com/samirrijal/geoar/internal/core/usecases"
)

func newParser(t *testing.T) *usecases.AgentParser {
	t.Helper()
	p, err := usecases.NewAgentParser(nil)
	require.NoError(t, err)
	return p
}

func TestAgentParser_DecodeArray(t *testing.T) {
	p := newParser(t)
	payload := []byte(`[
		{"id": "guide-1", "type": "Guide", "latitude": 37.7750, "longitude": -122.4195,
		 "altitude": 12.5, "visibility_radius_meters": 80, "model_ref": "models/guide.json",
		 "transform": {"scale": 2, "rotation": [0, 90, 0]}},
		{"id": "bad-lat", "latitude": 123, "longitude": 0},
		{"latitude": 1, "longitude": 1},
		{"id": "plain", "latitude": 1, "longitude": 2}
	]`)

	agents, rejected, err := p.Decode(payload)
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Len(t, rejected, 2)

	g := agents[0]
	assert.Equal(t, "guide-1", g.ID)
	assert.Equal(t, domain.AgentTypeGuide, g.Type)
	assert.Equal(t, 12.5, g.Location.Altitude())
	assert.Equal(t, 80.0, g.VisibilityRadiusMeters)
	assert.Equal(t, 2.0, g.Transform.Scale)
	assert.Equal(t, 90.0, g.Transform.Rotation.Y)
	assert.True(t, g.Active)

	plain := agents[1]
	assert.Equal(t, domain.AgentTypeDefault, plain.Type)
	assert.Equal(t, domain.DefaultVisibilityRadius, plain.VisibilityRadiusMeters)
	assert.Equal(t, 1.0, plain.Transform.Scale)
	assert.Nil(t, plain.Location.Alt)
	assert.False(t, plain.UpdatedAt.IsZero())

	var recErr *usecases.RecordError
	require.True(t, errors.As(rejected[0], &recErr))
	assert.Equal(t, 1, recErr.Index)
	assert.Equal(t, "bad-lat", recErr.ID)
	var verr *domain.ValidationError
	assert.ErrorAs(t, rejected[0], &verr)
}

func TestAgentParser_DecodeShapes(t *testing.T) {
	p := newParser(t)

	agents, rejected, err := p.Decode([]byte(`{"id": "solo", "latitude": 1, "longitude": 1}`))
	require.NoError(t, err)
	assert.Empty(t, rejected)
	require.Len(t, agents, 1)
	assert.Equal(t, "solo", agents[0].ID)

	agents, _, err = p.Decode([]byte(`{"agents": [{"id": "a", "latitude": 1, "longitude": 1}, {"id": "b", "latitude": 2, "longitude": 2}]}`))
	require.NoError(t, err)
	assert.Len(t, agents, 2)
}

func TestAgentParser_DecodeInactive(t *testing.T) {
	p := newParser(t)
	agents, _, err := p.Decode([]byte(`[{"id": "gone", "latitude": 1, "longitude": 1, "active": false}]`))
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.False(t, agents[0].Active)
}

func TestAgentParser_RejectsWrongTypes(t *testing.T) {
	p := newParser(t)
	tests := []struct {
		name string
		raw  string
	}{
		{"string latitude", `{"id": "x", "latitude": "37.7", "longitude": 1}`},
		{"missing longitude", `{"id": "x", "latitude": 1}`},
		{"negative radius", `{"id": "x", "latitude": 1, "longitude": 1, "visibility_radius_meters": -5}`},
		{"short rotation", `{"id": "x", "latitude": 1, "longitude": 1, "transform": {"rotation": [1, 2]}}`},
		{"blank id", `{"id": "  ", "latitude": 1, "longitude": 1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.ParseRecord([]byte(tt.raw))
			var verr *domain.ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestAgentParser_UnusablePayload(t *testing.T) {
	p := newParser(t)
	for _, payload := range []string{"", "   ", "42", `"agents"`, `[{"id":`} {
		_, _, err := p.Decode([]byte(payload))
		assert.Error(t, err, "payload %q", payload)
	}
}
