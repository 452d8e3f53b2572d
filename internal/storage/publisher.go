package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/hawkstwelve/twf-models-sub001/internal/domain"
	"github.com/hawkstwelve/twf-models-sub001/internal/raster"
)

// Notifier receives a best-effort event after each frame becomes visible.
type Notifier interface {
	FramePublished(ctx context.Context, event domain.FramePublishedEvent)
}

// Publisher writes frames into the immutable tree with two-phase publish:
// everything is staged under {root}/.staging on the same filesystem, then
// renamed into place. Readers either see the complete artifact or nothing.
type Publisher struct {
	root     string
	logger   *slog.Logger
	notifier Notifier // nil disables notifications
	seq      atomic.Uint64
}

// NewPublisher creates a Publisher rooted at the raster tree. notifier may be
// nil.
func NewPublisher(root string, notifier Notifier, logger *slog.Logger) *Publisher {
	return &Publisher{root: root, logger: logger, notifier: notifier}
}

// runManifest is the serialized form of run.json.
type runManifest struct {
	Expected  map[string][]int `json:"expected"`
	CreatedAt string           `json:"created_at"`
}

// BeginRun declares the run's expected variable/hour matrix before any frame
// publishes, so discovery can distinguish "still publishing" from "will never
// exist". Written atomically like any other artifact.
func (p *Publisher) BeginRun(key domain.RunKey, expected map[string][]int) error {
	doc := runManifest{
		Expected:  expected,
		CreatedAt: domain.Now().UTC().Format("2006-01-02T15:04:05Z"),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run manifest: %w", err)
	}

	runDir := RunDir(p.root, key)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}

	staging, err := p.stage()
	if err != nil {
		return err
	}
	defer os.RemoveAll(staging)

	tmp := filepath.Join(staging, RunManifestName)
	if err := writeFileSync(tmp, data); err != nil {
		return fmt.Errorf("stage run manifest: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(runDir, RunManifestName)); err != nil {
		return fmt.Errorf("publish run manifest: %w", err)
	}

	p.logger.Info("run declared",
		"model", key.Model, "region", key.Region, "run", key.Run,
		"variables", len(expected))
	return nil
}

// PublishFrame stages the artifact and sidecar, then renames the sidecar
// first and the artifact last. The artifact's final name is the visibility
// signal, so its rename is the publish point; a visible artifact always has
// its sidecar already in place. Failures are *domain.PublishError and leave
// no trace in the final tree.
func (p *Publisher) PublishFrame(ctx context.Context, key domain.FrameKey, levels []raster.Plane, meta domain.FrameMeta) error {
	staging, err := p.stage()
	if err != nil {
		return &domain.PublishError{Key: key, Err: err}
	}
	defer os.RemoveAll(staging)

	sidecar, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return &domain.PublishError{Key: key, Err: fmt.Errorf("marshal sidecar: %w", err)}
	}
	stagedSidecar := filepath.Join(staging, SidecarName(key.Hour))
	if err := writeFileSync(stagedSidecar, sidecar); err != nil {
		return &domain.PublishError{Key: key, Err: err}
	}

	stagedArtifact := filepath.Join(staging, ArtifactName(key.Hour))
	if err := writeArtifactSync(stagedArtifact, levels); err != nil {
		return &domain.PublishError{Key: key, Err: err}
	}

	finalDir := VariableDir(p.root, key)
	if err := os.MkdirAll(finalDir, 0o755); err != nil {
		return &domain.PublishError{Key: key, Err: err}
	}
	if err := os.Rename(stagedSidecar, SidecarPath(p.root, key)); err != nil {
		return &domain.PublishError{Key: key, Err: fmt.Errorf("rename sidecar: %w", err)}
	}
	if err := os.Rename(stagedArtifact, ArtifactPath(p.root, key)); err != nil {
		// Roll the sidecar back so the tree never holds a sidecar without
		// its artifact.
		os.Remove(SidecarPath(p.root, key))
		return &domain.PublishError{Key: key, Err: fmt.Errorf("rename artifact: %w", err)}
	}

	p.logger.Info("frame published", "frame", key.String())

	if p.notifier != nil {
		p.notifier.FramePublished(ctx, domain.FramePublishedEvent{
			FrameKey:    key,
			Path:        ArtifactPath(p.root, key),
			PublishedAt: domain.Now().UTC(),
		})
	}
	return nil
}

// stage creates a fresh staging directory under the root so renames stay on
// one filesystem.
func (p *Publisher) stage() (string, error) {
	dir := filepath.Join(p.root, stagingDir,
		fmt.Sprintf("%d-%d", os.Getpid(), p.seq.Add(1)))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	return dir, nil
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeArtifactSync(path string, levels []raster.Plane) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if err := raster.WriteTo(f, levels); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
