// Package tile handles slippy-map XYZ addressing and the web-mercator pixel
// math shared by the encoder and the tile server.
//
// Mercator positions are normalized "world" coordinates: x grows eastward
// from 0 at 180°W to 1 at 180°E, y grows southward from 0 at the mercator
// north limit to 1 at the south limit. Tile z/x/y therefore covers the world
// square [x/2^z, (x+1)/2^z] × [y/2^z, (y+1)/2^z].
package tile

import (
	"fmt"
	"math"

	"github.com/paulmach/orb/maptile"

	"github.com/hawkstwelve/twf-models-sub001/internal/domain"
)

// Size is the pixel edge length of a served tile.
const Size = 256

// Coord addresses one XYZ tile.
type Coord struct {
	Z, X, Y uint32
}

func (c Coord) String() string {
	return fmt.Sprintf("%d/%d/%d", c.Z, c.X, c.Y)
}

// Valid reports whether the coordinate lies inside the world at its zoom and
// inside the configured zoom bounds.
func (c Coord) Valid(minZoom, maxZoom uint32) bool {
	if c.Z < minZoom || c.Z > maxZoom {
		return false
	}
	n := uint32(1) << c.Z
	return c.X < n && c.Y < n
}

// Bound returns the tile's normalized mercator bounds (x0, y0 is the
// northwest corner). The geographic bound comes from maptile; the corners are
// then projected into world coordinates.
func (c Coord) Bound() (x0, y0, x1, y1 float64) {
	b := maptile.New(c.X, c.Y, maptile.Zoom(c.Z)).Bound()
	x0, y0 = Project(b.Min[0], b.Max[1]) // west, north
	x1, y1 = Project(b.Max[0], b.Min[1]) // east, south
	return x0, y0, x1, y1
}

// Project converts a WGS-84 lon/lat in degrees to normalized mercator.
// Latitudes beyond the mercator limit clamp to the world edge.
func Project(lon, lat float64) (x, y float64) {
	x = (lon + 180) / 360
	latRad := lat * math.Pi / 180
	y = 0.5 - math.Log(math.Tan(math.Pi/4+latRad/2))/(2*math.Pi)
	if y < 0 {
		y = 0
	}
	if y > 1 {
		y = 1
	}
	return x, y
}

// UnprojectLat converts a normalized mercator y back to latitude in degrees.
func UnprojectLat(y float64) float64 {
	return math.Atan(math.Sinh(math.Pi*(1-2*y))) * 180 / math.Pi
}

// BBoxBound projects a geographic bounding box into normalized mercator.
// y0 corresponds to the northern edge.
func BBoxBound(b domain.BBox) (x0, y0, x1, y1 float64) {
	x0, y0 = Project(b.West, b.North)
	x1, y1 = Project(b.East, b.South)
	return x0, y0, x1, y1
}

// Intersects reports whether two mercator rectangles overlap.
func Intersects(ax0, ay0, ax1, ay1, bx0, by0, bx1, by1 float64) bool {
	return ax0 < bx1 && bx0 < ax1 && ay0 < by1 && by0 < ay1
}
