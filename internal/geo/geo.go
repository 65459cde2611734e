package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// The simulation frame is a local tangent plane: +X east, +Z north, +Y up.
// Georeferenced output goes through EPSG:3857 so that small local offsets can be
// added in metres and converted back to EPSG:4326.

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// Origin anchors the local frame on the globe.
type Origin struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
	Altitude  float64 `json:"altitude"`
}

// ParseOrigin parses a string in the format "long,lat" or "long,lat,alt".
func ParseOrigin(coords string) (Origin, error) {
	parts := strings.Split(coords, ",")
	if len(parts) < 2 || len(parts) > 3 {
		return Origin{}, ErrInvalidCoordinates
	}
	values := make([]float64, 3)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Origin{}, ErrInvalidCoordinates
		}
		values[i] = v
	}
	o := Origin{Longitude: values[0], Latitude: values[1], Altitude: values[2]}
	if math.Abs(o.Latitude) >= 85 || math.Abs(o.Longitude) > 180 {
		return Origin{}, ErrInvalidCoordinates
	}
	return o, nil
}

// Point returns the origin as an EPSG:4326 point.
func (o Origin) Point() (geom.Point, error) {
	pt, err := geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: o.Longitude, Y: o.Latitude},
		Z:    o.Altitude,
		Type: geom.DimXYZ,
	})
	if err != nil {
		return geom.Point{}, fmt.Errorf("origin point: %w", err)
	}
	return pt, nil
}

// Coords3857From4326 projects a longitude and latitude to web mercator.
func Coords3857From4326(longitude, latitude float64) (x, y float64) {
	f := wgs84.EPSG().Transform(4326, 3857)
	x, y, _ = f(longitude, latitude, 0)
	return x, y
}

// Coords4326From3857 reverses Coords3857From4326.
func Coords4326From3857(x, y float64) (longitude, latitude float64) {
	f := wgs84.EPSG().Transform(3857, 4326)
	longitude, latitude, _ = f(x, y, 0)
	return longitude, latitude
}

// Georeferencer maps local positions to WGS84.
type Georeferencer struct {
	origin Origin
	x0, y0 float64
	// mercator metres per local metre at the origin latitude
	scale float64
}

// NewGeoreferencer prepares the projection for origin.
func NewGeoreferencer(origin Origin) *Georeferencer {
	x0, y0 := Coords3857From4326(origin.Longitude, origin.Latitude)
	return &Georeferencer{
		origin: origin,
		x0:     x0,
		y0:     y0,
		scale:  1 / math.Cos(mgl64.DegToRad(origin.Latitude)),
	}
}

// ToWGS84 converts a local position into longitude, latitude and altitude.
func (g *Georeferencer) ToWGS84(local mgl64.Vec3) (longitude, latitude, altitude float64) {
	longitude, latitude = Coords4326From3857(g.x0+local.X()*g.scale, g.y0+local.Z()*g.scale)
	return longitude, latitude, g.origin.Altitude + local.Y()
}
