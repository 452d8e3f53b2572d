// Package palette defines per-variable color encodings and the lookup tables
// derived from them. Everything here is pure: a Spec is immutable once
// defined for a variable, and BuildLUT is a deterministic function of the
// Spec. Changing how a variable is colored requires a new variable key,
// because already-published artifacts encode bytes against the old Spec.
package palette

import (
	"errors"
	"fmt"
	"image/color"
	"math"

	"github.com/hawkstwelve/twf-models-sub001/internal/domain"
)

// Mode selects how physical values map to bytes.
type Mode string

const (
	// Discrete maps values into ordered level bins, one color per bin.
	Discrete Mode = "discrete"
	// Continuous scales values linearly across a [min,max] range into a
	// 256-color ramp.
	Continuous Mode = "continuous"
)

// Color is an opaque RGB color. Alpha lives in the artifact's second band,
// never in the palette.
type Color struct {
	R, G, B uint8
}

// Hex returns the #RRGGBB form used in sidecars.
func (c Color) Hex() string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}

// ParseHex parses a #RRGGBB color string.
func ParseHex(s string) (Color, error) {
	if len(s) != 7 || s[0] != '#' {
		return Color{}, fmt.Errorf("parse color %q: want #RRGGBB", s)
	}
	var v uint32
	for _, r := range s[1:] {
		var d uint32
		switch {
		case r >= '0' && r <= '9':
			d = uint32(r - '0')
		case r >= 'a' && r <= 'f':
			d = uint32(r-'a') + 10
		case r >= 'A' && r <= 'F':
			d = uint32(r-'A') + 10
		default:
			return Color{}, fmt.Errorf("parse color %q: bad hex digit %q", s, r)
		}
		v = v<<4 | d
	}
	return Color{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}

// Spec describes one variable's encoding. Exactly one of the discrete
// (Levels+Colors) or continuous (Range+Colors-as-ramp) shapes is populated,
// selected by Mode.
type Spec struct {
	Mode  Mode
	Units string

	// Levels are the ascending bin thresholds for discrete specs. A sample
	// belongs to the last level it does not fall below; samples under
	// Levels[0] render transparent.
	Levels []float64

	// Colors are the bin colors (discrete, one per level) or the ramp
	// control points (continuous, at least two, evenly spaced across Range).
	Colors []Color

	// Range is the [min,max] physical range for continuous specs.
	Range [2]float64
}

// Validate checks the structural invariants BuildLUT and the encoder rely on.
func (s Spec) Validate() error {
	switch s.Mode {
	case Discrete:
		if len(s.Levels) == 0 {
			return errors.New("discrete spec has no levels")
		}
		if len(s.Colors) != len(s.Levels) {
			return fmt.Errorf("discrete spec has %d levels but %d colors", len(s.Levels), len(s.Colors))
		}
		for i := 1; i < len(s.Levels); i++ {
			if s.Levels[i] <= s.Levels[i-1] {
				return fmt.Errorf("levels not ascending at index %d", i)
			}
		}
	case Continuous:
		if len(s.Colors) < 2 {
			return errors.New("continuous spec needs at least 2 ramp colors")
		}
		if len(s.Colors) > 256 {
			return fmt.Errorf("continuous ramp has %d colors, max 256", len(s.Colors))
		}
		min, max := s.Range[0], s.Range[1]
		if !isFinite(min) || !isFinite(max) || min >= max {
			return fmt.Errorf("continuous range [%g,%g] is not a finite ascending interval", min, max)
		}
	default:
		return fmt.Errorf("unknown palette mode %q", s.Mode)
	}
	return nil
}

// BuildLUT derives the 256-entry byte→color table for a spec. Discrete specs
// fill entries 0..N-1 with the declared colors; higher entries stay zero and
// are masked by alpha at render time. Continuous specs sample the ramp with
// linear interpolation between control points.
func BuildLUT(s Spec) ([256]color.RGBA, error) {
	var lut [256]color.RGBA
	if err := s.Validate(); err != nil {
		return lut, err
	}

	switch s.Mode {
	case Discrete:
		for i, c := range s.Colors {
			lut[i] = color.RGBA{R: c.R, G: c.G, B: c.B, A: 255}
		}
	case Continuous:
		n := len(s.Colors)
		for i := 0; i < 256; i++ {
			// Position of this byte across the ramp, in control-point units.
			pos := float64(i) / 255 * float64(n-1)
			lo := int(math.Floor(pos))
			if lo >= n-1 {
				lo = n - 2
			}
			frac := pos - float64(lo)
			a, b := s.Colors[lo], s.Colors[lo+1]
			lut[i] = color.RGBA{
				R: lerpByte(a.R, b.R, frac),
				G: lerpByte(a.G, b.G, frac),
				B: lerpByte(a.B, b.B, frac),
				A: 255,
			}
		}
	}
	return lut, nil
}

// Meta snapshots the spec into sidecar metadata for a frame covering bbox.
func (s Spec) Meta(bbox domain.BBox) domain.FrameMeta {
	colors := make([]string, len(s.Colors))
	for i, c := range s.Colors {
		colors[i] = c.Hex()
	}
	meta := domain.FrameMeta{
		PaletteMode: string(s.Mode),
		Units:       s.Units,
		Colors:      colors,
		Projection:  "EPSG:3857",
		BBox:        bbox,
		CreatedAt:   domain.Now().UTC(),
	}
	switch s.Mode {
	case Discrete:
		meta.Levels = append([]float64(nil), s.Levels...)
	case Continuous:
		r := s.Range
		meta.Range = &r
	}
	return meta
}

// SpecFromMeta rebuilds a Spec from sidecar metadata, for serving paths that
// must derive the LUT from the published snapshot rather than the builtin
// table.
func SpecFromMeta(meta domain.FrameMeta) (Spec, error) {
	colors := make([]Color, len(meta.Colors))
	for i, h := range meta.Colors {
		c, err := ParseHex(h)
		if err != nil {
			return Spec{}, err
		}
		colors[i] = c
	}
	s := Spec{
		Mode:   Mode(meta.PaletteMode),
		Units:  meta.Units,
		Colors: colors,
	}
	if meta.Levels != nil {
		s.Levels = append([]float64(nil), meta.Levels...)
	}
	if meta.Range != nil {
		s.Range = *meta.Range
	}
	if err := s.Validate(); err != nil {
		return Spec{}, err
	}
	return s, nil
}

func lerpByte(a, b uint8, t float64) uint8 {
	return uint8(math.Round(float64(a) + (float64(b)-float64(a))*t))
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
