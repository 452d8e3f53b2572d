// Command validate performs integrity checks across a published raster tree:
// tree layout, artifact containers, sidecar metadata, and run manifests. It
// is meant for operators chasing a bad deploy or a suspect disk, and for CI
// smoke checks after a bulk republish.
//
// Usage:
//
//	go run ./cmd/validate -root /var/lib/wxtiles
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hawkstwelve/twf-models-sub001/internal/domain"
	"github.com/hawkstwelve/twf-models-sub001/internal/palette"
	"github.com/hawkstwelve/twf-models-sub001/internal/raster"
	"github.com/hawkstwelve/twf-models-sub001/internal/storage"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	root := flag.String("root", "", "raster tree root to validate")
	flag.Parse()

	if *root == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*root); code != 0 {
		os.Exit(code)
	}
}

// frameFiles is one discovered frame's pair of paths.
type frameFiles struct {
	key      domain.FrameKey
	artifact string
	sidecar  string
}

// runFiles is one discovered run directory.
type runFiles struct {
	key    domain.RunKey
	dir    string
	frames []frameFiles
}

func run(root string) int {
	fmt.Println("=== Raster Tree Integrity Validation ===")
	fmt.Println()

	runs, layout := collectTree(root)
	total := 0
	for _, r := range runs {
		total += len(r.frames)
	}
	fmt.Printf("  %d runs, %d frames under %s\n", len(runs), total, root)

	phases := []*phase{
		layout,
		validateArtifacts(runs),
		validateSidecars(runs),
		validateManifests(runs),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	if !allPassed {
		for _, p := range phases {
			for _, e := range p.errors {
				fmt.Fprintf(os.Stderr, "  %s: %s\n", p.name, e)
			}
		}
		return 1
	}
	fmt.Println("  all checks passed")
	return 0
}

// collectTree walks the published layout, reporting structural problems as
// the layout phase: stray files, orphan sidecars, artifacts without sidecars.
func collectTree(root string) ([]runFiles, *phase) {
	p := &phase{name: "tree layout"}
	var runs []runFiles

	for _, model := range subdirs(root, p) {
		for _, region := range subdirs(filepath.Join(root, model), p) {
			for _, runName := range subdirs(filepath.Join(root, model, region), p) {
				key := domain.RunKey{Model: model, Region: region, Run: runName}
				runs = append(runs, collectRun(root, key, p))
			}
		}
	}
	return runs, p
}

func collectRun(root string, key domain.RunKey, p *phase) runFiles {
	rf := runFiles{key: key, dir: storage.RunDir(root, key)}

	entries, err := os.ReadDir(rf.dir)
	if err != nil {
		p.errorf("read %s: %v", rf.dir, err)
		return rf
	}
	for _, e := range entries {
		if storage.Hidden(e.Name()) {
			continue
		}
		if !e.IsDir() {
			if e.Name() != storage.RunManifestName {
				p.errorf("stray file %s in run dir %s", e.Name(), rf.dir)
			}
			continue
		}
		rf.frames = append(rf.frames, collectVariable(root, key, e.Name(), p)...)
	}
	return rf
}

func collectVariable(root string, key domain.RunKey, variable string, p *phase) []frameFiles {
	dir := filepath.Join(storage.RunDir(root, key), variable)
	entries, err := os.ReadDir(dir)
	if err != nil {
		p.errorf("read %s: %v", dir, err)
		return nil
	}

	var frames []frameFiles
	sidecars := make(map[string]bool)
	for _, e := range entries {
		if storage.Hidden(e.Name()) {
			continue
		}
		if strings.HasSuffix(e.Name(), storage.SidecarExt) {
			sidecars[e.Name()] = true
			continue
		}
		hour, ok := storage.ParseArtifactName(e.Name())
		if !ok {
			p.errorf("unparseable name %s in %s", e.Name(), dir)
			continue
		}
		fkey := domain.FrameKey{Model: key.Model, Region: key.Region, Run: key.Run, Variable: variable, Hour: hour}
		frames = append(frames, frameFiles{
			key:      fkey,
			artifact: storage.ArtifactPath(root, fkey),
			sidecar:  storage.SidecarPath(root, fkey),
		})
	}

	for _, f := range frames {
		name := storage.SidecarName(f.key.Hour)
		if !sidecars[name] {
			p.errorf("%s has no sidecar", f.artifact)
		}
		delete(sidecars, name)
	}
	for name := range sidecars {
		p.errorf("orphan sidecar %s in %s", name, dir)
	}
	return frames
}

func subdirs(dir string, p *phase) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		p.errorf("read %s: %v", dir, err)
		return nil
	}
	var names []string
	for _, e := range entries {
		if storage.Hidden(e.Name()) || !e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	return names
}

// validateArtifacts opens every container and checks its pyramid geometry.
func validateArtifacts(runs []runFiles) *phase {
	p := &phase{name: "artifact containers"}
	for _, r := range runs {
		for _, f := range r.frames {
			checkArtifact(p, f)
		}
	}
	return p
}

func checkArtifact(p *phase, f frameFiles) {
	rd, err := raster.Open(f.artifact)
	if err != nil {
		p.errorf("open %s: %v", f.artifact, err)
		return
	}
	defer rd.Close()

	levels := rd.Levels()
	for i := 1; i < len(levels); i++ {
		wantW, wantH := (levels[i-1].W+1)/2, (levels[i-1].H+1)/2
		if levels[i].W != wantW || levels[i].H != wantH {
			p.errorf("%s level %d is %dx%d, want %dx%d",
				f.artifact, i, levels[i].W, levels[i].H, wantW, wantH)
		}
	}
	last := levels[len(levels)-1]
	if last.W > 256 || last.H > 256 {
		p.errorf("%s pyramid stops at %dx%d, coarsest level must fit a tile",
			f.artifact, last.W, last.H)
	}

	// A corrupt band offset surfaces here rather than at serve time.
	if _, _, err := rd.ReadWindow(len(levels)-1, 0, 0, last.W, last.H); err != nil {
		p.errorf("read coarsest level of %s: %v", f.artifact, err)
	}
}

// validateSidecars parses every sidecar and rebuilds its LUT.
func validateSidecars(runs []runFiles) *phase {
	p := &phase{name: "sidecar metadata"}
	for _, r := range runs {
		for _, f := range r.frames {
			checkSidecar(p, f)
		}
	}
	return p
}

func checkSidecar(p *phase, f frameFiles) {
	raw, err := os.ReadFile(f.sidecar)
	if err != nil {
		p.errorf("read %s: %v", f.sidecar, err)
		return
	}
	var meta domain.FrameMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		p.errorf("parse %s: %v", f.sidecar, err)
		return
	}
	if meta.Projection != "EPSG:3857" {
		p.errorf("%s has projection %q", f.sidecar, meta.Projection)
	}
	if !meta.BBox.Valid() {
		p.errorf("%s has invalid bbox %+v", f.sidecar, meta.BBox)
	}

	spec, err := palette.SpecFromMeta(meta)
	if err != nil {
		p.errorf("%s palette snapshot: %v", f.sidecar, err)
		return
	}
	if _, err := palette.BuildLUT(spec); err != nil {
		p.errorf("%s LUT rebuild: %v", f.sidecar, err)
	}
}

// validateManifests cross-checks run.json against the frames on disk.
func validateManifests(runs []runFiles) *phase {
	p := &phase{name: "run manifests"}
	for _, r := range runs {
		checkManifest(p, r)
	}
	return p
}

func checkManifest(p *phase, r runFiles) {
	raw, err := os.ReadFile(filepath.Join(r.dir, storage.RunManifestName))
	if os.IsNotExist(err) {
		// Runs published without BeginRun are legal, just unable to
		// distinguish pending from unknown.
		return
	}
	if err != nil {
		p.errorf("read manifest in %s: %v", r.dir, err)
		return
	}

	var manifest struct {
		Expected map[string][]int `json:"expected"`
	}
	if err := json.Unmarshal(raw, &manifest); err != nil {
		p.errorf("parse manifest in %s: %v", r.dir, err)
		return
	}

	declared := make(map[string]map[int]bool)
	for variable, hours := range manifest.Expected {
		declared[variable] = make(map[int]bool, len(hours))
		for _, h := range hours {
			declared[variable][h] = true
		}
	}

	pending := 0
	for variable, hours := range declared {
		for h := range hours {
			found := false
			for _, f := range r.frames {
				if f.key.Variable == variable && f.key.Hour == h {
					found = true
					break
				}
			}
			if !found {
				pending++
			}
		}
	}
	if pending > 0 {
		fmt.Printf("  note: %s/%s/%s has %d declared frames still pending\n",
			r.key.Model, r.key.Region, r.key.Run, pending)
	}

	for _, f := range r.frames {
		hours, ok := declared[f.key.Variable]
		if !ok {
			p.errorf("%s holds undeclared variable %s", r.dir, f.key.Variable)
			continue
		}
		if !hours[f.key.Hour] {
			p.errorf("%s holds undeclared hour %d of %s", r.dir, f.key.Hour, f.key.Variable)
		}
	}
}
