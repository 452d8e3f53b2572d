package pipeline

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hawkstwelve/twf-models-sub001/internal/domain"
)

func writeGrid(t *testing.T, path string, values []float64) {
	t.Helper()
	raw := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(raw[8*i:], math.Float64bits(v))
	}
	require.NoError(t, os.WriteFile(path, raw, 0o644))
}

func writeDescriptor(t *testing.T, dir string, d Descriptor) string {
	t.Helper()
	raw, err := json.Marshal(d)
	require.NoError(t, err)
	path := filepath.Join(dir, "frameset.json")
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}

func testDescriptor() Descriptor {
	return Descriptor{
		Model:  "hrrr",
		Region: "conus",
		Run:    "2026083112",
		BBox:   domain.BBox{West: -110, South: 30, East: -90, North: 50},
		Frames: []FrameEntry{
			{Variable: "tmp2m", Hour: 0, GridFile: "tmp2m_f000.f64", W: 2, H: 2},
			{Variable: "tmp2m", Hour: 6, GridFile: "tmp2m_f006.f64", W: 2, H: 2},
		},
	}
}

func TestLoadDescriptor(t *testing.T) {
	dir := t.TempDir()
	path := writeDescriptor(t, dir, testDescriptor())

	d, err := LoadDescriptor(path)
	require.NoError(t, err)
	assert.Equal(t, domain.RunKey{Model: "hrrr", Region: "conus", Run: "2026083112"}, d.RunKey())
	assert.Equal(t, map[string][]int{"tmp2m": {0, 6}}, d.Expected())
}

func TestLoadDescriptorRejectsIncomplete(t *testing.T) {
	dir := t.TempDir()

	cases := map[string]func(*Descriptor){
		"missing run":   func(d *Descriptor) { d.Run = "" },
		"no frames":     func(d *Descriptor) { d.Frames = nil },
		"bad bbox":      func(d *Descriptor) { d.BBox.West, d.BBox.East = d.BBox.East, d.BBox.West },
		"zero width":    func(d *Descriptor) { d.Frames[0].W = 0 },
		"no grid file":  func(d *Descriptor) { d.Frames[0].GridFile = "" },
		"negative hour": func(d *Descriptor) { d.Frames[0].Hour = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			d := testDescriptor()
			mutate(&d)
			path := writeDescriptor(t, dir, d)
			_, err := LoadDescriptor(path)
			assert.Error(t, err)
		})
	}
}

func TestDescriptorSourceYieldsJobs(t *testing.T) {
	dir := t.TempDir()
	d := testDescriptor()
	writeGrid(t, filepath.Join(dir, "tmp2m_f000.f64"), []float64{50, 51, 52, 53})
	writeGrid(t, filepath.Join(dir, "tmp2m_f006.f64"), []float64{60, 61, 62, 63})

	src := NewDescriptorSource(d, dir, slog.New(slog.NewTextHandler(io.Discard, nil)))

	job, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, job.Key.Hour)
	assert.Equal(t, []float64{50, 51, 52, 53}, job.Grid.Data)
	assert.Equal(t, d.BBox, job.Grid.BBox)

	job, err = src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, job.Key.Hour)

	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	assert.Zero(t, src.Skipped)
}

func TestDescriptorSourceSkipsBrokenFrames(t *testing.T) {
	dir := t.TempDir()
	d := testDescriptor()
	d.Frames = append(d.Frames, FrameEntry{Variable: "nosuchvar", Hour: 12, GridFile: "x.f64", W: 2, H: 2})
	// f000 has the wrong sample count, f006 is missing entirely.
	writeGrid(t, filepath.Join(dir, "tmp2m_f000.f64"), []float64{50, 51, 52})

	src := NewDescriptorSource(d, dir, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := src.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 3, src.Skipped)
}
