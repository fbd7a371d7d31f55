package scene

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Sphere is a bounding volume.
type Sphere struct {
	Center r3.Vec  `json:"center"`
	Radius float64 `json:"radius"`
}

// Camera describes the device camera in scene space. The user stands at
// the origin; -Z is north and +X east.
type Camera struct {
	Position r3.Vec
	Forward  r3.Vec
	Up       r3.Vec
	FovY     float64 // vertical field of view, radians
	Aspect   float64 // width / height
	Near     float64
	Far      float64
}

// DefaultCamera is a portrait phone camera facing north.
func DefaultCamera() Camera {
	return Camera{
		Forward: r3.Vec{Z: -1},
		Up:      r3.Vec{Y: 1},
		FovY:    60 * math.Pi / 180,
		Aspect:  9.0 / 16.0,
		Near:    0.1,
		Far:     1000,
	}
}

// WithHeading returns the camera turned to a compass heading in degrees
// (0 north, 90 east), level with the horizon.
func (c Camera) WithHeading(deg float64) Camera {
	h := deg * math.Pi / 180
	c.Forward = r3.Vec{X: math.Sin(h), Z: -math.Cos(h)}
	c.Up = r3.Vec{Y: 1}
	return c
}

type plane struct {
	normal r3.Vec
	d      float64
}

func (p plane) distance(v r3.Vec) float64 {
	return r3.Dot(p.normal, v) + p.d
}

func planeThrough(normal, point r3.Vec) plane {
	n := r3.Unit(normal)
	return plane{normal: n, d: -r3.Dot(n, point)}
}

// Frustum is the six inward-facing planes of a camera view volume.
type Frustum struct {
	planes [6]plane
}

// NewFrustum builds the view frustum of c.
func NewFrustum(c Camera) Frustum {
	f := r3.Unit(c.Forward)
	right := r3.Unit(r3.Cross(f, c.Up))
	up := r3.Cross(right, f)

	halfV := c.FovY / 2
	halfH := math.Atan(math.Tan(halfV) * c.Aspect)

	sinH, cosH := math.Sincos(halfH)
	sinV, cosV := math.Sincos(halfV)

	return Frustum{planes: [6]plane{
		planeThrough(f, r3.Add(c.Position, r3.Scale(c.Near, f))),
		planeThrough(r3.Scale(-1, f), r3.Add(c.Position, r3.Scale(c.Far, f))),
		planeThrough(r3.Add(r3.Scale(sinH, f), r3.Scale(cosH, right)), c.Position),
		planeThrough(r3.Sub(r3.Scale(sinH, f), r3.Scale(cosH, right)), c.Position),
		planeThrough(r3.Sub(r3.Scale(sinV, f), r3.Scale(cosV, up)), c.Position),
		planeThrough(r3.Add(r3.Scale(sinV, f), r3.Scale(cosV, up)), c.Position),
	}}
}

// IntersectsSphere reports whether any part of s lies inside the frustum.
// The test is conservative near frustum corners.
func (fr Frustum) IntersectsSphere(s Sphere) bool {
	for _, p := range fr.planes {
		if p.distance(s.Center) < -s.Radius {
			return false
		}
	}
	return true
}
