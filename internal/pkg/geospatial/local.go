package geospatial

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/samirrijal/geoar/internal/core/domain"
)

// minCosLat guards the longitude term of the inverse at the poles.
const minCosLat = 1e-12

// GPSToLocal projects target into the scene frame centred on origin using an
// equirectangular approximation, accurate to well under a meter within
// ~10 km. X points east, Y up and -Z north.
//
// A nil origin yields the zero vector so callers keep rendering while no
// fix is available.
func GPSToLocal(origin *domain.GeoPoint, target domain.GeoPoint) r3.Vec {
	if origin == nil {
		return r3.Vec{}
	}
	lat0 := toRad(origin.Lat)
	return r3.Vec{
		X: EarthRadiusMeters * math.Cos(lat0) * toRad(wrapLon(target.Lon-origin.Lon)),
		Y: target.Altitude() - origin.Altitude(),
		Z: -EarthRadiusMeters * toRad(target.Lat-origin.Lat),
	}
}

// LocalToGPS is the exact inverse of GPSToLocal for the same origin. The
// result is always a valid coordinate: longitude wraps across the
// antimeridian and latitude stops at the poles.
func LocalToGPS(origin *domain.GeoPoint, v r3.Vec) domain.GeoPoint {
	if origin == nil {
		return domain.GeoPoint{}
	}
	p := domain.GeoPoint{
		Lat: origin.Lat + toDeg(-v.Z/EarthRadiusMeters),
		Lon: origin.Lon,
	}
	if c := math.Cos(toRad(origin.Lat)); math.Abs(c) > minCosLat {
		p.Lon = origin.Lon + toDeg(v.X/(EarthRadiusMeters*c))
	}
	if p.Lon < -180 || p.Lon > 180 {
		p.Lon = wrapLon(p.Lon)
	}
	p.Lat = math.Max(-90, math.Min(90, p.Lat))
	if origin.Alt != nil || v.Y != 0 {
		p = p.WithAltitude(origin.Altitude() + v.Y)
	}
	return p
}

// wrapLon maps a longitude or longitude difference into [-180, 180).
func wrapLon(deg float64) float64 {
	deg = math.Mod(deg+180, 360)
	if deg < 0 {
		deg += 360
	}
	return deg - 180
}
