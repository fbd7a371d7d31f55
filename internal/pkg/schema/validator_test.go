package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/geoar/internal/pkg/schema"
)

func TestAgentRecordValidator(t *testing.T) {
	v, err := schema.NewAgentRecordValidator()
	require.NoError(t, err)

	tests := []struct {
		name  string
		doc   string
		valid bool
	}{
		{"minimal", `{"id":"a1","latitude":37.7,"longitude":-122.4}`, true},
		{"full", `{"id":"a1","type":"guide","latitude":37.7,"longitude":-122.4,"altitude":3,
			"visibility_radius_meters":25,"model_ref":"models/guide.json","active":true,
			"transform":{"scale":1.5,"rotation":[0,1.57,0]}}`, true},
		{"missing id", `{"latitude":37.7,"longitude":-122.4}`, false},
		{"empty id", `{"id":"","latitude":37.7,"longitude":-122.4}`, false},
		{"latitude out of range", `{"id":"a1","latitude":91,"longitude":0}`, false},
		{"longitude as string", `{"id":"a1","latitude":1,"longitude":"2"}`, false},
		{"zero radius", `{"id":"a1","latitude":1,"longitude":2,"visibility_radius_meters":0}`, false},
		{"short rotation", `{"id":"a1","latitude":1,"longitude":2,"transform":{"rotation":[1,2]}}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateBytes([]byte(tt.doc))
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidateBytes_InvalidJSON(t *testing.T) {
	v, err := schema.NewAgentRecordValidator()
	require.NoError(t, err)
	assert.ErrorContains(t, v.ValidateBytes([]byte(`{"id":`)), "invalid JSON")
}

func TestMeshValidator(t *testing.T) {
	v, err := schema.NewMeshValidator()
	require.NoError(t, err)

	assert.NoError(t, v.ValidateBytes([]byte(`{"name":"kiosk","color":"#aabbcc","vertices":[[0,0,0],[1,0,0],[0,1,0]]}`)))
	assert.NoError(t, v.ValidateBytes([]byte(`{"vertices":[]}`)))
	assert.Error(t, v.ValidateBytes([]byte(`{"name":"no vertices"}`)))
	assert.Error(t, v.ValidateBytes([]byte(`{"vertices":[[0,0]]}`)))
	assert.Error(t, v.ValidateBytes([]byte(`{"vertices":[[0,0,0]],"color":"red"}`)))
	assert.Error(t, v.ValidateBytes([]byte(`not json`)))
}
