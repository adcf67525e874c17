package geo

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/OCAP2/mapview/pkg/core"
	"github.com/golang/geo/s2"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// EarthRadius is the sphere radius in meters used for great-circle distances.
// It matches the radius the browser map library measures with.
const EarthRadius = 6378137.0

// tileSize is the pixel width of one Web Mercator tile at zoom 0.
const tileSize = 256.0

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b core.GeoPoint) float64 {
	angle := s2.LatLngFromDegrees(a.Lat, a.Lng).Distance(s2.LatLngFromDegrees(b.Lat, b.Lng))
	return angle.Radians() * EarthRadius
}

// RoundTo rounds v to the given number of decimal places.
func RoundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// PointFromString parses a "lat,lng" string into a GeoPoint.
func PointFromString(coords string) (core.GeoPoint, error) {
	coordsSplit := strings.Split(coords, ",")
	if len(coordsSplit) != 2 {
		return core.GeoPoint{}, ErrInvalidCoordinates
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(coordsSplit[0]), 64)
	if err != nil {
		return core.GeoPoint{}, ErrInvalidCoordinates
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(coordsSplit[1]), 64)
	if err != nil {
		return core.GeoPoint{}, ErrInvalidCoordinates
	}
	p := core.GeoPoint{Lat: lat, Lng: lng}
	if !Valid(p) {
		return core.GeoPoint{}, ErrInvalidCoordinates
	}
	return p, nil
}

// Valid reports whether p is a finite WGS84 coordinate.
func Valid(p core.GeoPoint) bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// ToWebMercator projects a WGS84 point (EPSG:4326) to EPSG:3857.
func ToWebMercator(p core.GeoPoint) (geom.Point, error) {
	f := wgs84.EPSG().Transform(4326, 3857)
	x, y, _ := f(p.Lng, p.Lat, 0)
	point, err := geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: x, Y: y},
		Type: geom.DimXY,
	})
	if err != nil {
		return geom.NewEmptyPoint(geom.DimXY), ErrInvalidCoordinates
	}
	return point, nil
}

// FromWebMercator converts EPSG:3857 meters back to a WGS84 point.
func FromWebMercator(xy geom.XY) core.GeoPoint {
	f := wgs84.EPSG().Transform(3857, 4326)
	lng, lat, _ := f(xy.X, xy.Y, 0)
	return core.GeoPoint{Lat: lat, Lng: lng}
}

// Resolution returns the ground size of one pixel in Web Mercator meters at
// the given zoom level.
func Resolution(zoom int) float64 {
	return 2 * math.Pi * EarthRadius / (tileSize * math.Exp2(float64(zoom)))
}

// ViewportBounds computes the bounds of a width x height pixel viewport
// centered on center at zoom.
func ViewportBounds(center core.GeoPoint, zoom, width, height int) core.Bounds {
	point, err := ToWebMercator(center)
	if err != nil {
		return core.Bounds{}
	}
	c, ok := point.Coordinates()
	if !ok {
		return core.Bounds{}
	}
	res := Resolution(zoom)
	halfW := float64(width) / 2 * res
	halfH := float64(height) / 2 * res

	sw := FromWebMercator(geom.XY{X: c.X - halfW, Y: c.Y - halfH})
	ne := FromWebMercator(geom.XY{X: c.X + halfW, Y: c.Y + halfH})
	return core.Bounds{South: sw.Lat, West: sw.Lng, North: ne.Lat, East: ne.Lng}
}

// Envelope returns the bounds as a lng/lat envelope.
// Returns ErrInvalidCoordinates if a corner is NaN or infinite.
func Envelope(b core.Bounds) (geom.Envelope, error) {
	env, err := geom.NewEnvelope([]geom.XY{
		{X: b.West, Y: b.South},
		{X: b.East, Y: b.North},
	})
	if err != nil {
		return geom.Envelope{}, ErrInvalidCoordinates
	}
	return env, nil
}

// Contains reports whether p lies inside b. Invalid bounds contain nothing.
func Contains(b core.Bounds, p core.GeoPoint) bool {
	env, err := Envelope(b)
	if err != nil {
		return false
	}
	return env.Contains(geom.XY{X: p.Lng, Y: p.Lat})
}
