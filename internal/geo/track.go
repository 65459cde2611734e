package geo

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
	geom "github.com/peterstace/simplefeatures/geom"
)

// LocalTrack builds a LineString from local positions: X and Z span the plane and
// Y is kept as the Z ordinate. Consecutive duplicates are dropped.
func LocalTrack(points []mgl64.Vec3) (geom.LineString, error) {
	coords := make([]float64, 0, len(points)*3)
	var last mgl64.Vec3
	n := 0
	for i, p := range points {
		if i > 0 && p.ApproxEqual(last) {
			continue
		}
		coords = append(coords, p.X(), p.Z(), p.Y())
		last = p
		n++
	}
	if n < 2 {
		return geom.LineString{}, fmt.Errorf("track must have at least 2 distinct points, got %d", n)
	}
	ls, err := geom.NewLineString(geom.NewSequence(coords, geom.DimXYZ))
	if err != nil {
		return geom.LineString{}, fmt.Errorf("building local track: %w", err)
	}
	return ls, nil
}

// Track builds a georeferenced LineString (longitude, latitude, altitude).
func (g *Georeferencer) Track(points []mgl64.Vec3) (geom.LineString, error) {
	local, err := LocalTrack(points)
	if err != nil {
		return geom.LineString{}, err
	}
	seq := local.Coordinates()
	coords := make([]float64, 0, seq.Length()*3)
	for i := range seq.Length() {
		c := seq.Get(i)
		lon, lat, alt := g.ToWGS84(mgl64.Vec3{c.XY.X, c.Z, c.XY.Y})
		coords = append(coords, lon, lat, alt)
	}
	ls, err := geom.NewLineString(geom.NewSequence(coords, geom.DimXYZ))
	if err != nil {
		return geom.LineString{}, fmt.Errorf("building georeferenced track: %w", err)
	}
	return ls, nil
}
