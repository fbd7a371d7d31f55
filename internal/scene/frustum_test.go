package scene_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/samirrijal/geoar/internal/scene"
)

func TestFrustum_IntersectsSphere(t *testing.T) {
	fr := scene.NewFrustum(scene.DefaultCamera())

	tests := []struct {
		name   string
		sphere scene.Sphere
		want   bool
	}{
		{"straight ahead", scene.Sphere{Center: r3.Vec{Z: -10}, Radius: 1}, true},
		{"behind", scene.Sphere{Center: r3.Vec{Z: 10}, Radius: 1}, false},
		{"beyond far plane", scene.Sphere{Center: r3.Vec{Z: -1500}, Radius: 1}, false},
		{"straddles far plane", scene.Sphere{Center: r3.Vec{Z: -1000.5}, Radius: 1}, true},
		{"far left", scene.Sphere{Center: r3.Vec{X: -50, Z: -10}, Radius: 1}, false},
		{"far right", scene.Sphere{Center: r3.Vec{X: 50, Z: -10}, Radius: 1}, false},
		{"edge overlap right", scene.Sphere{Center: r3.Vec{X: 3.6, Z: -10}, Radius: 1}, true},
		{"high above", scene.Sphere{Center: r3.Vec{Y: 40, Z: -10}, Radius: 1}, false},
		{"at the eye", scene.Sphere{Radius: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fr.IntersectsSphere(tt.sphere))
		})
	}
}

func TestCamera_WithHeading(t *testing.T) {
	east := scene.DefaultCamera().WithHeading(90)
	assert.InDelta(t, 1, east.Forward.X, 1e-9)
	assert.InDelta(t, 0, east.Forward.Z, 1e-9)

	fr := scene.NewFrustum(east)
	assert.True(t, fr.IntersectsSphere(scene.Sphere{Center: r3.Vec{X: 10}, Radius: 1}))
	assert.False(t, fr.IntersectsSphere(scene.Sphere{Center: r3.Vec{Z: -10}, Radius: 1}))
}
