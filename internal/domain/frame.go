package domain

import (
	"fmt"
	"time"
)

// FrameKey identifies a single published raster frame.
type FrameKey struct {
	Model    string `json:"model"`
	Region   string `json:"region"`
	Run      string `json:"run"`
	Variable string `json:"variable"`
	Hour     int    `json:"forecast_hour"`
}

func (k FrameKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%s/fh%03d", k.Model, k.Region, k.Run, k.Variable, k.Hour)
}

// RunKey identifies one model execution cycle for a region.
type RunKey struct {
	Model  string `json:"model"`
	Region string `json:"region"`
	Run    string `json:"run"`
}

// BBox is a geographic bounding box in WGS-84 degrees.
type BBox struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// Valid reports whether the box has positive extent and sane latitudes.
// Latitudes are kept inside the web-mercator limit because frames are
// reprojected to that projection before serving.
func (b BBox) Valid() bool {
	return b.West < b.East && b.South < b.North &&
		b.South >= -85.06 && b.North <= 85.06
}

// FrameMeta is the sidecar metadata written next to every artifact. It is a
// full snapshot of the palette used at encode time: renderers must derive the
// byte→color mapping from this metadata alone, never from the raster content.
type FrameMeta struct {
	PaletteMode string      `json:"palette_mode"` // "discrete" or "continuous"
	Units       string      `json:"units"`
	Levels      []float64   `json:"levels,omitempty"` // discrete only
	Colors      []string    `json:"colors"`           // #RRGGBB, level colors or ramp control points
	Range       *[2]float64 `json:"range,omitempty"`  // continuous only: [min, max]
	Projection  string      `json:"projection"`
	BBox        BBox        `json:"bbox"`
	CreatedAt   time.Time   `json:"created_at"`
}

// RunManifest is the discoverable state of one run: which frames exist right
// now, plus the variable/hour matrix the run declared up front. It is
// synthesized from the directory tree on demand and has no persisted state of
// its own.
type RunManifest struct {
	RunKey
	// Expected maps variable name to the forecast hours the run intends to
	// publish. Empty when the run directory carries no declaration.
	Expected map[string][]int `json:"expected,omitempty"`
	// Published maps variable name to the hours whose artifacts are visible.
	Published map[string][]int `json:"published"`
	CreatedAt time.Time        `json:"created_at,omitempty"`
}

// FrameStatus classifies a requested frame relative to a run's manifest.
type FrameStatus int

const (
	// FrameUnknown means the frame is not published and not declared; it
	// will never exist under this run.
	FrameUnknown FrameStatus = iota
	// FramePending means the frame is declared in the run's expected matrix
	// but its artifact has not been published yet.
	FramePending
	// FramePublished means the artifact is visible and readable.
	FramePublished
	// FrameCorrupt means an artifact exists but failed to decode and has
	// been quarantined until re-published.
	FrameCorrupt
)

func (s FrameStatus) String() string {
	switch s {
	case FramePending:
		return "pending"
	case FramePublished:
		return "published"
	case FrameCorrupt:
		return "corrupt"
	default:
		return "unknown"
	}
}

// FramePublishedEvent is emitted to the notification topic after a frame's
// artifact becomes visible.
type FramePublishedEvent struct {
	FrameKey
	Path        string    `json:"path"`
	PublishedAt time.Time `json:"published_at"`
}
