package scene

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/samirrijal/geoar/internal/core/domain"
)

type fallbackStyle struct {
	primitive string
	color     string
	size      float64
}

var fallbackStyles = map[domain.AgentType]fallbackStyle{
	domain.AgentTypeDefault:   {primitive: "sphere", color: "#9e9e9e", size: 1},
	domain.AgentTypeAssistant: {primitive: "sphere", color: "#4f8cff", size: 1},
	domain.AgentTypeMerchant:  {primitive: "cube", color: "#ffb300", size: 1.2},
	domain.AgentTypeGuide:     {primitive: "pyramid", color: "#43a047", size: 1.4},
	domain.AgentTypeGame:      {primitive: "octahedron", color: "#e53935", size: 1},
}

// FallbackMesh returns the placeholder primitive for an agent type. Unknown
// types get the default style. The result is identical for identical input.
func FallbackMesh(t domain.AgentType) *domain.Mesh {
	t = t.Normalize()
	style, ok := fallbackStyles[t]
	if !ok {
		style = fallbackStyles[domain.AgentTypeDefault]
	}

	var verts []r3.Vec
	switch style.primitive {
	case "cube":
		verts = cube(style.size)
	case "pyramid":
		verts = pyramid(style.size)
	case "octahedron":
		verts = octahedron(style.size)
	default:
		verts = icosphere(style.size)
	}
	return &domain.Mesh{
		Name:      "fallback:" + string(t),
		Primitive: style.primitive,
		Color:     style.color,
		Vertices:  verts,
		Fallback:  true,
	}
}

func cube(s float64) []r3.Vec {
	h := s / 2
	out := make([]r3.Vec, 0, 8)
	for _, x := range []float64{-h, h} {
		for _, y := range []float64{-h, h} {
			for _, z := range []float64{-h, h} {
				out = append(out, r3.Vec{X: x, Y: y, Z: z})
			}
		}
	}
	return out
}

func pyramid(s float64) []r3.Vec {
	h := s / 2
	return []r3.Vec{
		{X: -h, Y: -h, Z: -h}, {X: h, Y: -h, Z: -h},
		{X: h, Y: -h, Z: h}, {X: -h, Y: -h, Z: h},
		{Y: h},
	}
}

func octahedron(s float64) []r3.Vec {
	h := s / 2
	return []r3.Vec{
		{X: h}, {X: -h}, {Y: h}, {Y: -h}, {Z: h}, {Z: -h},
	}
}

// icosphere returns the 12 vertices of an icosahedron of diameter s.
func icosphere(s float64) []r3.Vec {
	phi := (1 + math.Sqrt(5)) / 2
	raw := []r3.Vec{
		{X: -1, Y: phi}, {X: 1, Y: phi}, {X: -1, Y: -phi}, {X: 1, Y: -phi},
		{Y: -1, Z: phi}, {Y: 1, Z: phi}, {Y: -1, Z: -phi}, {Y: 1, Z: -phi},
		{X: phi, Z: -1}, {X: phi, Z: 1}, {X: -phi, Z: -1}, {X: -phi, Z: 1},
	}
	out := make([]r3.Vec, len(raw))
	for i, v := range raw {
		out[i] = r3.Scale(s/2, r3.Unit(v))
	}
	return out
}

// ComputeBound returns the bounding sphere of a mesh around its vertex
// centroid, or nil when the mesh has no vertices.
func ComputeBound(mesh *domain.Mesh) *Sphere {
	if mesh == nil || len(mesh.Vertices) == 0 {
		return nil
	}
	var c r3.Vec
	for _, v := range mesh.Vertices {
		c = r3.Add(c, v)
	}
	c = r3.Scale(1/float64(len(mesh.Vertices)), c)

	var r float64
	for _, v := range mesh.Vertices {
		r = math.Max(r, r3.Norm(r3.Sub(v, c)))
	}
	return &Sphere{Center: c, Radius: r}
}
