// Package discovery synthesizes manifests from the storage tree. The
// filesystem is the source of truth: there is no database, and nothing here
// writes. The scanner sits behind the Index interface so an embedded
// key-value index could later replace directory walks without touching the
// HTTP layer.
package discovery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hawkstwelve/twf-models-sub001/internal/domain"
	"github.com/hawkstwelve/twf-models-sub001/internal/storage"
)

// LatestAlias is the run name that resolves to the newest run per request.
const LatestAlias = "latest"

// FrameInfo is one published frame plus the palette snapshot clients need to
// render a legend without a second round trip.
type FrameInfo struct {
	Hour int              `json:"forecast_hour"`
	Meta domain.FrameMeta `json:"meta"`
}

// Index is the read surface the HTTP layer consumes.
type Index interface {
	ListModels() ([]string, error)
	ListRegions(model string) ([]string, error)
	ListRuns(model, region string) ([]string, error)
	ListVariables(model, region, run string) ([]string, error)
	ListFrames(model, region, run, variable string) ([]FrameInfo, error)
	Manifest(model, region, run string) (domain.RunManifest, error)
	ResolveRun(model, region, alias string) (string, error)
	FrameStatus(key domain.FrameKey) domain.FrameStatus
	MarkCorrupt(key domain.FrameKey)
}

// Scanner implements Index over the storage layout. It tolerates concurrent
// publishers: a frame counts as present only when its final artifact name
// exists and its sidecar parses, so staged or half-renamed frames are
// invisible.
type Scanner struct {
	root      string
	latestTTL time.Duration

	mu         sync.RWMutex
	quarantine map[string]struct{}
	latest     map[string]latestEntry
}

type latestEntry struct {
	run     string
	expires time.Time
}

// NewScanner creates a Scanner. latestTTL bounds how stale a "latest"
// resolution may be; zero disables the cache entirely.
func NewScanner(root string, latestTTL time.Duration) *Scanner {
	return &Scanner{
		root:       root,
		latestTTL:  latestTTL,
		quarantine: make(map[string]struct{}),
		latest:     make(map[string]latestEntry),
	}
}

// listDirs returns non-hidden subdirectory names of dir, sorted ascending.
func listDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && !storage.Hidden(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// ListModels returns the model names with any published data.
func (s *Scanner) ListModels() ([]string, error) {
	names, err := listDirs(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan root: %w", err)
	}
	return names, nil
}

// ListRegions returns a model's regions.
func (s *Scanner) ListRegions(model string) ([]string, error) {
	names, err := listDirs(filepath.Join(s.root, model))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("model %q: %w", model, domain.ErrNotFound)
		}
		return nil, err
	}
	return names, nil
}

// ListRuns returns a region's runs, newest first. Run directory names sort
// lexically by initialization time, so newest-first is a reverse sort.
func (s *Scanner) ListRuns(model, region string) ([]string, error) {
	names, err := listDirs(filepath.Join(s.root, model, region))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("region %q/%q: %w", model, region, domain.ErrNotFound)
		}
		return nil, err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// ListVariables returns the variables with a directory under the run.
func (s *Scanner) ListVariables(model, region, run string) ([]string, error) {
	names, err := listDirs(filepath.Join(s.root, model, region, run))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("run %q/%q/%q: %w", model, region, run, domain.ErrNotFound)
		}
		return nil, err
	}
	return names, nil
}

// ListFrames returns the published frames for one variable in hour order.
// Frames whose sidecar is missing or unparseable, and frames under
// quarantine, are omitted until re-published.
func (s *Scanner) ListFrames(model, region, run, variable string) ([]FrameInfo, error) {
	dir := filepath.Join(s.root, model, region, run, variable)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("variable %q/%q/%q/%q: %w", model, region, run, variable, domain.ErrNotFound)
		}
		return nil, err
	}

	frames := make([]FrameInfo, 0, len(entries)/2)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		hour, ok := storage.ParseArtifactName(e.Name())
		if !ok {
			continue
		}
		key := domain.FrameKey{Model: model, Region: region, Run: run, Variable: variable, Hour: hour}
		if s.isQuarantined(key) {
			continue
		}
		meta, err := s.readSidecar(key)
		if err != nil {
			continue
		}
		frames = append(frames, FrameInfo{Hour: hour, Meta: meta})
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i].Hour < frames[j].Hour })
	return frames, nil
}

// Manifest assembles the run's published matrix plus its declared expected
// matrix, when the run carries one.
func (s *Scanner) Manifest(model, region, run string) (domain.RunManifest, error) {
	vars, err := s.ListVariables(model, region, run)
	if err != nil {
		return domain.RunManifest{}, err
	}

	m := domain.RunManifest{
		RunKey:    domain.RunKey{Model: model, Region: region, Run: run},
		Published: make(map[string][]int, len(vars)),
	}
	for _, v := range vars {
		frames, err := s.ListFrames(model, region, run, v)
		if err != nil {
			continue
		}
		hours := make([]int, len(frames))
		for i, f := range frames {
			hours[i] = f.Hour
		}
		m.Published[v] = hours
	}

	if expected, createdAt, err := s.readRunManifest(model, region, run); err == nil {
		m.Expected = expected
		m.CreatedAt = createdAt
	}
	return m, nil
}

// ResolveRun maps the "latest" alias to the newest run name. Resolution is
// cached for at most latestTTL so a freshly published run is picked up
// promptly; concrete run names pass through untouched.
func (s *Scanner) ResolveRun(model, region, alias string) (string, error) {
	if alias != LatestAlias {
		return alias, nil
	}

	cacheKey := model + "/" + region
	now := domain.Now()

	s.mu.RLock()
	entry, ok := s.latest[cacheKey]
	s.mu.RUnlock()
	if ok && now.Before(entry.expires) {
		return entry.run, nil
	}

	runs, err := s.ListRuns(model, region)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", fmt.Errorf("no runs for %q/%q: %w", model, region, domain.ErrNotFound)
	}

	if s.latestTTL > 0 {
		s.mu.Lock()
		s.latest[cacheKey] = latestEntry{run: runs[0], expires: now.Add(s.latestTTL)}
		s.mu.Unlock()
	}
	return runs[0], nil
}

// FrameStatus classifies one frame: published, pending (declared but not yet
// visible), corrupt (quarantined), or unknown.
func (s *Scanner) FrameStatus(key domain.FrameKey) domain.FrameStatus {
	if s.isQuarantined(key) {
		return domain.FrameCorrupt
	}
	if _, err := os.Stat(storage.ArtifactPath(s.root, key)); err == nil {
		return domain.FramePublished
	}

	expected, _, err := s.readRunManifest(key.Model, key.Region, key.Run)
	if err != nil {
		return domain.FrameUnknown
	}
	for _, h := range expected[key.Variable] {
		if h == key.Hour {
			return domain.FramePending
		}
	}
	return domain.FrameUnknown
}

// MarkCorrupt quarantines a frame so listings omit it until a new run
// publishes a replacement at a different path.
func (s *Scanner) MarkCorrupt(key domain.FrameKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quarantine[storage.ArtifactPath(s.root, key)] = struct{}{}
}

func (s *Scanner) isQuarantined(key domain.FrameKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.quarantine[storage.ArtifactPath(s.root, key)]
	return ok
}

func (s *Scanner) readSidecar(key domain.FrameKey) (domain.FrameMeta, error) {
	data, err := os.ReadFile(storage.SidecarPath(s.root, key))
	if err != nil {
		return domain.FrameMeta{}, err
	}
	var meta domain.FrameMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return domain.FrameMeta{}, fmt.Errorf("parse sidecar %s: %w", key, err)
	}
	return meta, nil
}

func (s *Scanner) readRunManifest(model, region, run string) (map[string][]int, time.Time, error) {
	path := filepath.Join(s.root, model, region, run, storage.RunManifestName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, time.Time{}, err
	}
	var doc struct {
		Expected  map[string][]int `json:"expected"`
		CreatedAt time.Time        `json:"created_at"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, time.Time{}, fmt.Errorf("parse run manifest: %w", err)
	}
	return doc.Expected, doc.CreatedAt, nil
}
