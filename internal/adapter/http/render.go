package http

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"math"

	"github.com/hawkstwelve/twf-models-sub001/internal/tile"
)

// ioPool bounds concurrent disk reads independently of HTTP concurrency, so a
// slow disk queues readers instead of exhausting the listener.
type ioPool chan struct{}

func newIOPool(workers int) ioPool {
	if workers < 1 {
		workers = 1
	}
	return make(ioPool, workers)
}

func (p ioPool) acquire(ctx context.Context) error {
	select {
	case p <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p ioPool) release() { <-p }

// readWindow performs one windowed read under a worker slot. The deferred
// release keeps the slot from leaking if the read panics.
func (p ioPool) readWindow(ctx context.Context, ds *dataset, level, x, y, w, h int) (band1, band2 []byte, err error) {
	if err := p.acquire(ctx); err != nil {
		return nil, nil, err
	}
	defer p.release()
	return ds.reader.ReadWindow(level, x, y, w, h)
}

// renderTile produces the PNG for one XYZ tile of a dataset. The heavy steps
// (windowed read, pixel fill, PNG encode) all sit behind the context check so
// a disconnected client aborts promptly.
func renderTile(ctx context.Context, ds *dataset, coord tile.Coord, pool ioPool) ([]byte, error) {
	tx0, ty0, tx1, ty1 := coord.Bound()
	ax0, ay0, ax1, ay1 := tile.BBoxBound(ds.meta.BBox)

	img := image.NewRGBA(image.Rect(0, 0, tile.Size, tile.Size))

	if tile.Intersects(tx0, ty0, tx1, ty1, ax0, ay0, ax1, ay1) {
		level := pickLevel(ds, tx1-tx0, ax1-ax0)
		lv := ds.reader.Levels()[level]

		// Artifact pixel range covered by the tile, clamped to the level.
		u0 := clampFloor((tx0-ax0)/(ax1-ax0)*float64(lv.W), 0, lv.W-1)
		u1 := clampCeil((tx1-ax0)/(ax1-ax0)*float64(lv.W), 1, lv.W)
		v0 := clampFloor((ty0-ay0)/(ay1-ay0)*float64(lv.H), 0, lv.H-1)
		v1 := clampCeil((ty1-ay0)/(ay1-ay0)*float64(lv.H), 1, lv.H)

		if u1 > u0 && v1 > v0 {
			band1, band2, err := pool.readWindow(ctx, ds, level, u0, v0, u1-u0, v1-v0)
			if err != nil {
				return nil, err
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			fillTile(img, ds, lv.W, lv.H, u0, v0, u1-u0, v1-v0, band1, band2,
				tx0, ty0, tx1, ty1, ax0, ay0, ax1, ay1)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// pickLevel selects the lowest-resolution pyramid level whose pixel density
// still meets the tile's. When even the base level is coarser than the tile
// demands, the finest level wins: a finer level must never be passed over in
// favor of upsampling a coarser one.
func pickLevel(ds *dataset, tileSpan, artifactSpan float64) int {
	need := tileSpan / tile.Size // mercator units per output pixel
	levels := ds.reader.Levels()

	best := 0
	for i, lv := range levels {
		res := artifactSpan / float64(lv.W)
		if res <= need {
			best = i
		} else {
			break
		}
	}
	return best
}

// fillTile samples the read window into the 256x256 RGBA image by nearest
// neighbor, applying the LUT to band 1 and gating by band 2 alpha. Pixels
// outside the artifact stay transparent.
func fillTile(img *image.RGBA, ds *dataset, levelW, levelH, winX, winY, winW, winH int,
	band1, band2 []byte, tx0, ty0, tx1, ty1, ax0, ay0, ax1, ay1 float64) {

	for py := 0; py < tile.Size; py++ {
		my := ty0 + (float64(py)+0.5)/tile.Size*(ty1-ty0)
		v := int(math.Floor((my - ay0) / (ay1 - ay0) * float64(levelH)))
		if v < winY || v >= winY+winH {
			continue
		}
		for px := 0; px < tile.Size; px++ {
			mx := tx0 + (float64(px)+0.5)/tile.Size*(tx1-tx0)
			u := int(math.Floor((mx - ax0) / (ax1 - ax0) * float64(levelW)))
			if u < winX || u >= winX+winW {
				continue
			}
			i := (v-winY)*winW + (u - winX)
			if band2[i] != 255 {
				continue
			}
			img.SetRGBA(px, py, ds.lut[band1[i]])
		}
	}
}

// renderFullFrame produces a full-extent PNG of the frame at its coarsest
// pyramid level, for the whole-frame endpoint.
func renderFullFrame(ctx context.Context, ds *dataset, pool ioPool) ([]byte, error) {
	levels := ds.reader.Levels()
	level := len(levels) - 1
	lv := levels[level]

	band1, band2, err := pool.readWindow(ctx, ds, level, 0, 0, lv.W, lv.H)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, lv.W, lv.H))
	for y := 0; y < lv.H; y++ {
		for x := 0; x < lv.W; x++ {
			i := y*lv.W + x
			if band2[i] != 255 {
				continue
			}
			img.SetRGBA(x, y, ds.lut[band1[i]])
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func clampFloor(v float64, lo, hi int) int {
	n := int(math.Floor(v))
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

func clampCeil(v float64, lo, hi int) int {
	n := int(math.Ceil(v))
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
