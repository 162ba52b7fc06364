package mapconfig

import (
	"math"

	"terrastream.dev/internal/geomath"
)

// Convertor reprojects points between the spatial reference systems named
// by the map configuration. Implementations must be safe for concurrent
// use; the engine calls them from the traversal thread only, but tests and
// tooling do not.
type Convertor interface {
	Convert(p geomath.Vec3, fromSrs, toSrs string) geomath.Vec3
}

// SphericalConvertor converts between a geographic SRS (longitude and
// latitude in degrees, height in meters) and a geocentric cartesian SRS on
// a spherical body. Any other conversion is the identity. It covers the
// built-in reference frames; projected frames plug in their own Convertor.
type SphericalConvertor struct {
	GeographicSrs string
	GeocentricSrs string
	Radius        float64
}

func (s SphericalConvertor) Convert(p geomath.Vec3, fromSrs, toSrs string) geomath.Vec3 {
	if fromSrs == toSrs {
		return p
	}
	if fromSrs == s.GeographicSrs && toSrs == s.GeocentricSrs {
		lon := p.X * math.Pi / 180
		lat := p.Y * math.Pi / 180
		r := s.Radius + p.Z
		return geomath.Vec3{
			X: r * math.Cos(lat) * math.Cos(lon),
			Y: r * math.Cos(lat) * math.Sin(lon),
			Z: r * math.Sin(lat),
		}
	}
	if fromSrs == s.GeocentricSrs && toSrs == s.GeographicSrs {
		r := p.Length()
		if r == 0 {
			return geomath.Vec3{Z: -s.Radius}
		}
		return geomath.Vec3{
			X: math.Atan2(p.Y, p.X) * 180 / math.Pi,
			Y: math.Asin(p.Z/r) * 180 / math.Pi,
			Z: r - s.Radius,
		}
	}
	return p
}
