// Package encoder turns physical model grids into two-band byte rasters with
// embedded pyramids. Encoding is pure computation: the storage layer owns all
// I/O, so a failed frame leaves nothing behind and never disturbs siblings.
package encoder

import (
	"fmt"
	"math"

	"github.com/hawkstwelve/twf-models-sub001/internal/domain"
	"github.com/hawkstwelve/twf-models-sub001/internal/palette"
	"github.com/hawkstwelve/twf-models-sub001/internal/raster"
	"github.com/hawkstwelve/twf-models-sub001/internal/tile"
)

// Grid is a regular lat/lon grid of physical samples, row 0 northernmost,
// produced by the external decode layer. Missing samples are NaN.
type Grid struct {
	Data []float64
	W, H int
	BBox domain.BBox
}

// EncodeFrame reprojects the grid to web mercator, encodes both bands per the
// palette spec, and builds the overview pyramid. The returned planes are
// finest-first and ready for the storage publisher; the meta is the sidecar
// snapshot. Failures are *domain.EncodingError and abort only this frame.
func EncodeFrame(key domain.FrameKey, grid Grid, spec palette.Spec) ([]raster.Plane, domain.FrameMeta, error) {
	if err := validate(grid, spec); err != nil {
		return nil, domain.FrameMeta{}, &domain.EncodingError{Key: key, Reason: err.Error()}
	}

	projected := reproject(grid, spec.Mode)

	base := raster.Plane{
		W:     grid.W,
		H:     grid.H,
		Band1: make([]byte, grid.W*grid.H),
		Band2: make([]byte, grid.W*grid.H),
	}
	for i, v := range projected {
		base.Band1[i], base.Band2[i] = encodeSample(v, spec)
	}

	levels := buildPyramid(base, spec.Mode)
	return levels, spec.Meta(grid.BBox), nil
}

func validate(grid Grid, spec palette.Spec) error {
	if grid.W < 1 || grid.H < 1 {
		return fmt.Errorf("grid dimensions %dx%d", grid.W, grid.H)
	}
	if len(grid.Data) != grid.W*grid.H {
		return fmt.Errorf("grid has %d samples, want %d", len(grid.Data), grid.W*grid.H)
	}
	if !grid.BBox.Valid() {
		return fmt.Errorf("invalid bbox %+v", grid.BBox)
	}
	return spec.Validate()
}

// reproject resamples the lat/lon grid onto mercator-spaced rows over the
// same bounding box. Columns are untouched (longitude is linear in both
// projections); each output row picks its source row by inverting the
// mercator y of the row center. Discrete fields use the nearest source row so
// no palette index is invented; continuous fields blend the two neighbors.
func reproject(grid Grid, mode palette.Mode) []float64 {
	_, mercTop, _, mercBottom := tile.BBoxBound(grid.BBox)
	latSpan := grid.BBox.North - grid.BBox.South

	out := make([]float64, len(grid.Data))
	for j := 0; j < grid.H; j++ {
		y := mercTop + (float64(j)+0.5)/float64(grid.H)*(mercBottom-mercTop)
		lat := tile.UnprojectLat(y)
		srcRow := (grid.BBox.North-lat)/latSpan*float64(grid.H) - 0.5

		if mode == palette.Discrete {
			r := clampInt(int(math.Round(srcRow)), 0, grid.H-1)
			copy(out[j*grid.W:(j+1)*grid.W], grid.Data[r*grid.W:(r+1)*grid.W])
			continue
		}

		r0 := clampInt(int(math.Floor(srcRow)), 0, grid.H-1)
		r1 := clampInt(r0+1, 0, grid.H-1)
		frac := srcRow - float64(r0)
		if frac < 0 {
			frac = 0
		}
		for x := 0; x < grid.W; x++ {
			a := grid.Data[r0*grid.W+x]
			b := grid.Data[r1*grid.W+x]
			switch {
			case isFinite(a) && isFinite(b):
				out[j*grid.W+x] = a + (b-a)*frac
			case frac < 0.5:
				out[j*grid.W+x] = a
			default:
				out[j*grid.W+x] = b
			}
		}
	}
	return out
}

// encodeSample maps one physical value to (band1, alpha) bytes.
//
// The discrete transparency rule is deliberate product behavior: a finite
// value below the first level still bins to 0 but renders invisible.
func encodeSample(v float64, spec palette.Spec) (byte, byte) {
	if !isFinite(v) {
		return 0, 0
	}
	switch spec.Mode {
	case palette.Discrete:
		if v < spec.Levels[0] {
			return 0, 0
		}
		bin := 0
		for i, lv := range spec.Levels {
			if v >= lv {
				bin = i
			}
		}
		return byte(bin), 255
	default: // continuous
		min, max := spec.Range[0], spec.Range[1]
		t := (v - min) / (max - min)
		if t < 0 {
			t = 0
		}
		if t > 1 {
			t = 1
		}
		return byte(math.Round(t * 255)), 255
	}
}

// buildPyramid derives half-resolution overviews until the coarsest level
// fits in a single tile. Discrete bands downsample by nearest neighbor so
// only source palette indices survive; continuous band 1 box-averages its
// opaque contributors, and alpha follows a majority rule.
func buildPyramid(base raster.Plane, mode palette.Mode) []raster.Plane {
	levels := []raster.Plane{base}
	cur := base
	for (cur.W > tile.Size || cur.H > tile.Size) && len(levels) < 12 {
		cur = downsample(cur, mode)
		levels = append(levels, cur)
	}
	return levels
}

func downsample(p raster.Plane, mode palette.Mode) raster.Plane {
	nw := (p.W + 1) / 2
	nh := (p.H + 1) / 2
	out := raster.Plane{W: nw, H: nh, Band1: make([]byte, nw*nh), Band2: make([]byte, nw*nh)}

	for y := 0; y < nh; y++ {
		for x := 0; x < nw; x++ {
			sx, sy := x*2, y*2
			if mode == palette.Discrete {
				out.Band1[y*nw+x] = p.Band1[sy*p.W+sx]
				out.Band2[y*nw+x] = p.Band2[sy*p.W+sx]
				continue
			}

			var sum, opaque, total int
			for dy := 0; dy < 2; dy++ {
				for dx := 0; dx < 2; dx++ {
					px, py := sx+dx, sy+dy
					if px >= p.W || py >= p.H {
						continue
					}
					total++
					if p.Band2[py*p.W+px] == 255 {
						opaque++
						sum += int(p.Band1[py*p.W+px])
					}
				}
			}
			if opaque*2 >= total && opaque > 0 {
				out.Band1[y*nw+x] = byte((sum + opaque/2) / opaque)
				out.Band2[y*nw+x] = 255
			}
		}
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
