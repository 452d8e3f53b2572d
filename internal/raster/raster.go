// Package raster implements the on-disk artifact container: a two-band byte
// raster with an embedded multi-resolution pyramid.
//
// The format is deliberately minimal so the serving path needs nothing but
// pread. Layout (all integers little-endian):
//
//	offset 0:  magic "WXR1"
//	offset 4:  uint16 level count (1..maxLevels)
//	offset 6:  uint16 reserved, zero
//	offset 8:  per level: uint32 width, uint32 height,
//	           uint64 band1 offset, uint64 band2 offset
//	then raw row-major byte planes.
//
// Level 0 is full resolution; each subsequent level halves both dimensions.
// Band 1 is the palette index / scaled sample, band 2 is alpha. Artifacts are
// written once and never modified, so a Reader's windowed reads need no
// locking and are safe for any number of concurrent goroutines.
package raster

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/hawkstwelve/twf-models-sub001/internal/domain"
)

const (
	magic      = "WXR1"
	headerBase = 8
	levelEntry = 24
	maxLevels  = 16
)

// Plane is one pyramid level's pair of byte bands.
type Plane struct {
	W, H  int
	Band1 []byte
	Band2 []byte
}

// WriteTo serializes the levels into the container format. Level 0 must be
// the finest; callers are expected to have built the pyramid already.
func WriteTo(w io.Writer, levels []Plane) error {
	if len(levels) == 0 || len(levels) > maxLevels {
		return fmt.Errorf("artifact needs 1..%d levels, got %d", maxLevels, len(levels))
	}
	for i, p := range levels {
		if p.W < 1 || p.H < 1 {
			return fmt.Errorf("level %d has empty dimensions %dx%d", i, p.W, p.H)
		}
		if len(p.Band1) != p.W*p.H || len(p.Band2) != p.W*p.H {
			return fmt.Errorf("level %d band sizes do not match %dx%d", i, p.W, p.H)
		}
	}

	header := make([]byte, headerBase+levelEntry*len(levels))
	copy(header, magic)
	binary.LittleEndian.PutUint16(header[4:], uint16(len(levels)))

	off := uint64(len(header))
	for i, p := range levels {
		e := header[headerBase+levelEntry*i:]
		binary.LittleEndian.PutUint32(e[0:], uint32(p.W))
		binary.LittleEndian.PutUint32(e[4:], uint32(p.H))
		binary.LittleEndian.PutUint64(e[8:], off)
		off += uint64(p.W * p.H)
		binary.LittleEndian.PutUint64(e[16:], off)
		off += uint64(p.W * p.H)
	}

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, p := range levels {
		if _, err := w.Write(p.Band1); err != nil {
			return fmt.Errorf("write level %d band 1: %w", i, err)
		}
		if _, err := w.Write(p.Band2); err != nil {
			return fmt.Errorf("write level %d band 2: %w", i, err)
		}
	}
	return nil
}

// Level describes one pyramid level's geometry.
type Level struct {
	W, H  int
	band1 uint64
	band2 uint64
}

// Reader provides windowed random-access reads over a published artifact.
// It holds the file handle open; Close is called by cache eviction, never by
// request handlers.
type Reader struct {
	f      *os.File
	levels []Level
	size   int64
}

// Open validates the container header and returns a Reader. Structural
// problems wrap domain.ErrCorruptArtifact so the serving path can quarantine
// the frame.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := newReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrCorruptArtifact, path, err)
	}
	return r, nil
}

func newReader(f *os.File) (*Reader, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()

	var base [headerBase]byte
	if _, err := f.ReadAt(base[:], 0); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if string(base[:4]) != magic {
		return nil, fmt.Errorf("bad magic %q", base[:4])
	}
	n := int(binary.LittleEndian.Uint16(base[4:]))
	if n < 1 || n > maxLevels {
		return nil, fmt.Errorf("level count %d out of range", n)
	}

	table := make([]byte, levelEntry*n)
	if _, err := f.ReadAt(table, headerBase); err != nil {
		return nil, fmt.Errorf("read level table: %w", err)
	}

	levels := make([]Level, n)
	for i := range levels {
		e := table[levelEntry*i:]
		lv := Level{
			W:     int(binary.LittleEndian.Uint32(e[0:])),
			H:     int(binary.LittleEndian.Uint32(e[4:])),
			band1: binary.LittleEndian.Uint64(e[8:]),
			band2: binary.LittleEndian.Uint64(e[16:]),
		}
		if lv.W < 1 || lv.H < 1 {
			return nil, fmt.Errorf("level %d has empty dimensions", i)
		}
		plane := uint64(lv.W) * uint64(lv.H)
		if lv.band1+plane > uint64(size) || lv.band2+plane > uint64(size) {
			return nil, fmt.Errorf("level %d extends past end of file", i)
		}
		levels[i] = lv
	}

	return &Reader{f: f, levels: levels, size: size}, nil
}

// Levels returns the pyramid geometry, finest first.
func (r *Reader) Levels() []Level {
	return r.levels
}

// Size returns the artifact file size in bytes, used for ETag derivation.
func (r *Reader) Size() int64 { return r.size }

// ModTime returns the artifact's publish time, used for ETag derivation.
func (r *Reader) ModTime() (int64, error) {
	fi, err := r.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.ModTime().UnixNano(), nil
}

// ReadWindow reads a w×h pixel window of both bands at the given level,
// starting at (x, y). The window must lie inside the level. The returned
// slices are row-major with stride w.
func (r *Reader) ReadWindow(level, x, y, w, h int) (band1, band2 []byte, err error) {
	if level < 0 || level >= len(r.levels) {
		return nil, nil, fmt.Errorf("level %d out of range", level)
	}
	lv := r.levels[level]
	if x < 0 || y < 0 || w < 1 || h < 1 || x+w > lv.W || y+h > lv.H {
		return nil, nil, fmt.Errorf("window %dx%d+%d+%d outside level %dx%d", w, h, x, y, lv.W, lv.H)
	}

	band1 = make([]byte, w*h)
	band2 = make([]byte, w*h)
	if err := r.readRows(lv.band1, lv.W, x, y, w, h, band1); err != nil {
		return nil, nil, fmt.Errorf("%w: band 1: %v", domain.ErrCorruptArtifact, err)
	}
	if err := r.readRows(lv.band2, lv.W, x, y, w, h, band2); err != nil {
		return nil, nil, fmt.Errorf("%w: band 2: %v", domain.ErrCorruptArtifact, err)
	}
	return band1, band2, nil
}

func (r *Reader) readRows(bandOff uint64, stride, x, y, w, h int, dst []byte) error {
	for row := 0; row < h; row++ {
		off := int64(bandOff) + int64(y+row)*int64(stride) + int64(x)
		if _, err := r.f.ReadAt(dst[row*w:(row+1)*w], off); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the file handle.
func (r *Reader) Close() error {
	return r.f.Close()
}
