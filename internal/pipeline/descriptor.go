package pipeline

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/hawkstwelve/twf-models-sub001/internal/domain"
	"github.com/hawkstwelve/twf-models-sub001/internal/encoder"
	"github.com/hawkstwelve/twf-models-sub001/internal/palette"
)

// Descriptor is the frame-set manifest handed to the publish binary by the
// decode layer: one model run plus the grid files to encode.
type Descriptor struct {
	Model  string       `json:"model"`
	Region string       `json:"region"`
	Run    string       `json:"run"`
	BBox   domain.BBox  `json:"bbox"`
	Frames []FrameEntry `json:"frames"`
}

// FrameEntry references one grid file. GridFile is relative to the
// descriptor's directory and holds raw little-endian float64 samples,
// row-major, row 0 northernmost, NaN for missing.
type FrameEntry struct {
	Variable string `json:"variable"`
	Hour     int    `json:"hour"`
	GridFile string `json:"grid_file"`
	W        int    `json:"w"`
	H        int    `json:"h"`
}

// LoadDescriptor parses and validates a frame-set descriptor.
func LoadDescriptor(path string) (Descriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, err
	}
	var d Descriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		return Descriptor{}, fmt.Errorf("parse descriptor: %w", err)
	}

	if d.Model == "" || d.Region == "" || d.Run == "" {
		return Descriptor{}, fmt.Errorf("descriptor missing model, region, or run")
	}
	if !d.BBox.Valid() {
		return Descriptor{}, fmt.Errorf("descriptor bbox %+v is invalid", d.BBox)
	}
	if len(d.Frames) == 0 {
		return Descriptor{}, fmt.Errorf("descriptor lists no frames")
	}
	for i, f := range d.Frames {
		if f.Variable == "" || f.GridFile == "" || f.Hour < 0 || f.W < 1 || f.H < 1 {
			return Descriptor{}, fmt.Errorf("descriptor frame %d is incomplete", i)
		}
	}
	return d, nil
}

// RunKey returns the run this descriptor publishes into.
func (d Descriptor) RunKey() domain.RunKey {
	return domain.RunKey{Model: d.Model, Region: d.Region, Run: d.Run}
}

// Expected builds the variable→hours matrix for BeginRun.
func (d Descriptor) Expected() map[string][]int {
	expected := make(map[string][]int)
	for _, f := range d.Frames {
		expected[f.Variable] = append(expected[f.Variable], f.Hour)
	}
	return expected
}

// DescriptorSource yields jobs from a descriptor, reading grid files on
// demand. Frames whose grid cannot be read or whose variable has no palette
// are logged and skipped, not fatal; Skipped counts them.
type DescriptorSource struct {
	desc    Descriptor
	baseDir string
	logger  *slog.Logger
	idx     int

	Skipped int
}

// NewDescriptorSource creates a source over a loaded descriptor. baseDir is
// the directory grid file paths are resolved against.
func NewDescriptorSource(desc Descriptor, baseDir string, logger *slog.Logger) *DescriptorSource {
	return &DescriptorSource{desc: desc, baseDir: baseDir, logger: logger}
}

func (s *DescriptorSource) Next(_ context.Context) (Job, error) {
	for s.idx < len(s.desc.Frames) {
		f := s.desc.Frames[s.idx]
		s.idx++

		key := domain.FrameKey{
			Model:    s.desc.Model,
			Region:   s.desc.Region,
			Run:      s.desc.Run,
			Variable: f.Variable,
			Hour:     f.Hour,
		}

		spec, ok := palette.Builtin(f.Variable)
		if !ok {
			s.logger.Warn("no palette for variable, skipping frame", "frame", key.String())
			s.Skipped++
			continue
		}

		data, err := readGridFile(filepath.Join(s.baseDir, f.GridFile), f.W, f.H)
		if err != nil {
			s.logger.Warn("grid unreadable, skipping frame", "frame", key.String(), "error", err)
			s.Skipped++
			continue
		}

		return Job{
			Key:  key,
			Grid: encoder.Grid{Data: data, W: f.W, H: f.H, BBox: s.desc.BBox},
			Spec: spec,
		}, nil
	}
	return Job{}, io.EOF
}

// readGridFile loads a raw little-endian float64 plane and checks its size
// against the declared dimensions.
func readGridFile(path string, w, h int) ([]float64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(raw) != 8*w*h {
		return nil, fmt.Errorf("grid is %d bytes, want %d for %dx%d", len(raw), 8*w*h, w, h)
	}
	data := make([]float64, w*h)
	for i := range data {
		data[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
	}
	return data, nil
}
