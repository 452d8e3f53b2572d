// Package storage owns the immutable on-disk layout and its two lifecycle
// operations: atomic publish and whole-run retention eviction.
//
// Layout:
//
//	{root}/{model}/{region}/{run}/{variable}/fh{NNN}.wxr   artifact
//	{root}/{model}/{region}/{run}/{variable}/fh{NNN}.json  sidecar
//	{root}/{model}/{region}/{run}/run.json                 expected matrix
//	{root}/.staging/...                                    in-flight writes
//	{root}/.trash/...                                      runs being evicted
//
// Run directory names encode the initialization time (e.g. "2026083112") and
// sort lexically, so "newest run" is a string comparison. Everything under a
// dot-directory is invisible to discovery.
package storage

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hawkstwelve/twf-models-sub001/internal/domain"
)

const (
	// ArtifactExt is the raster container extension.
	ArtifactExt = ".wxr"
	// SidecarExt is the frame metadata extension.
	SidecarExt = ".json"
	// RunManifestName is the per-run expected-matrix file.
	RunManifestName = "run.json"

	stagingDir = ".staging"
	trashDir   = ".trash"
)

// ArtifactName returns the artifact filename for a forecast hour.
func ArtifactName(hour int) string {
	return fmt.Sprintf("fh%03d%s", hour, ArtifactExt)
}

// SidecarName returns the sidecar filename for a forecast hour.
func SidecarName(hour int) string {
	return fmt.Sprintf("fh%03d%s", hour, SidecarExt)
}

// ParseArtifactName extracts the forecast hour from an artifact filename.
// Only the final published name matters here: staging and temp names are
// never matched, which is what keeps half-written frames invisible.
func ParseArtifactName(name string) (int, bool) {
	if !strings.HasPrefix(name, "fh") || !strings.HasSuffix(name, ArtifactExt) {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(name, "fh"), ArtifactExt)
	if len(digits) != 3 {
		return 0, false
	}
	hour, err := strconv.Atoi(digits)
	if err != nil || hour < 0 {
		return 0, false
	}
	return hour, true
}

// RunDir returns the directory of one run.
func RunDir(root string, key domain.RunKey) string {
	return filepath.Join(root, key.Model, key.Region, key.Run)
}

// VariableDir returns the directory holding one variable's frames.
func VariableDir(root string, key domain.FrameKey) string {
	return filepath.Join(root, key.Model, key.Region, key.Run, key.Variable)
}

// ArtifactPath returns the final path of a frame's artifact.
func ArtifactPath(root string, key domain.FrameKey) string {
	return filepath.Join(VariableDir(root, key), ArtifactName(key.Hour))
}

// SidecarPath returns the final path of a frame's sidecar.
func SidecarPath(root string, key domain.FrameKey) string {
	return filepath.Join(VariableDir(root, key), SidecarName(key.Hour))
}

// Hidden reports whether a directory entry name is internal bookkeeping that
// discovery must never surface.
func Hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
