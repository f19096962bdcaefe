// Package geo holds the small amount of 3D math the camera track needs:
// geographic and Cartesian positions, a WGS84 converter and a local
// east-north-up frame.
package geo

import "math"

// Cartographic is a geographic position. Lon and Lat are degrees, Height is
// meters above the ellipsoid.
type Cartographic struct {
	Lon    float64 `yaml:"lon" json:"lon"`
	Lat    float64 `yaml:"lat" json:"lat"`
	Height float64 `yaml:"height" json:"height"`
}

// Valid reports finite coordinates and a latitude within [-90, 90].
func (c Cartographic) Valid() bool {
	return finite(c.Lon) && finite(c.Lat) && finite(c.Height) && c.Lat >= -90 && c.Lat <= 90
}

// Cartesian3 is a point or vector in the viewer's Earth-fixed frame.
type Cartesian3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (a Cartesian3) Add(b Cartesian3) Cartesian3 { return Cartesian3{a.X + b.X, a.Y + b.Y, a.Z + b.Z} }
func (a Cartesian3) Sub(b Cartesian3) Cartesian3 { return Cartesian3{a.X - b.X, a.Y - b.Y, a.Z - b.Z} }
func (a Cartesian3) Scale(s float64) Cartesian3  { return Cartesian3{a.X * s, a.Y * s, a.Z * s} }
func (a Cartesian3) Dot(b Cartesian3) float64    { return a.X*b.X + a.Y*b.Y + a.Z*b.Z }
func (a Cartesian3) Length() float64             { return math.Sqrt(a.Dot(a)) }

// Lerp returns a + (b-a)*t.
func Lerp(a, b Cartesian3, t float64) Cartesian3 {
	return Cartesian3{
		X: lerp(a.X, b.X, t),
		Y: lerp(a.Y, b.Y, t),
		Z: lerp(a.Z, b.Z, t),
	}
}

// Converter maps geographic degrees into the viewer's Cartesian space.
type Converter interface {
	ToCartesian(c Cartographic) Cartesian3
}

// WGS84 ellipsoid constants.
const (
	wgs84A  = 6378137.0
	wgs84F  = 1 / 298.257223563
	wgs84E2 = wgs84F * (2 - wgs84F)
)

// WGS84 converts to Earth-centered Earth-fixed coordinates on the WGS84
// ellipsoid.
type WGS84 struct{}

func (WGS84) ToCartesian(c Cartographic) Cartesian3 {
	lon := Radians(c.Lon)
	lat := Radians(c.Lat)
	sinLat, cosLat := math.Sincos(lat)
	sinLon, cosLon := math.Sincos(lon)
	n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)
	return Cartesian3{
		X: (n + c.Height) * cosLat * cosLon,
		Y: (n + c.Height) * cosLat * sinLon,
		Z: (n*(1-wgs84E2) + c.Height) * sinLat,
	}
}

// ENU is a local east-north-up frame anchored at Origin.
type ENU struct {
	Origin Cartesian3
	East   Cartesian3
	North  Cartesian3
	Up     Cartesian3
}

// NewENU builds the frame at c using conv for the origin. Axes follow the
// geodetic normal at c.
func NewENU(conv Converter, c Cartographic) ENU {
	lon := Radians(c.Lon)
	lat := Radians(c.Lat)
	sinLat, cosLat := math.Sincos(lat)
	sinLon, cosLon := math.Sincos(lon)
	return ENU{
		Origin: conv.ToCartesian(c),
		East:   Cartesian3{-sinLon, cosLon, 0},
		North:  Cartesian3{-sinLat * cosLon, -sinLat * sinLon, cosLat},
		Up:     Cartesian3{cosLat * cosLon, cosLat * sinLon, sinLat},
	}
}

// Local expresses p in the frame as (east, north, up) meters.
func (f ENU) Local(p Cartesian3) (e, n, u float64) {
	d := p.Sub(f.Origin)
	return d.Dot(f.East), d.Dot(f.North), d.Dot(f.Up)
}

// World maps local (east, north, up) meters back into Cartesian space.
func (f ENU) World(e, n, u float64) Cartesian3 {
	return f.Origin.Add(f.East.Scale(e)).Add(f.North.Scale(n)).Add(f.Up.Scale(u))
}

func Radians(deg float64) float64 { return deg * math.Pi / 180 }
func Degrees(rad float64) float64 { return rad * 180 / math.Pi }

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
