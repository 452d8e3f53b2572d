// Command gengrid writes a synthetic frame-set descriptor and grid files so
// the publish and serving paths can be exercised without a real model decode.
// Fields are smooth waves spanning each variable's palette range, with a
// circular hole of missing samples to exercise transparency.
//
// Usage:
//
//	go run ./cmd/gengrid \
//	  -out /tmp/hrrr-2026083112 \
//	  -model hrrr -region conus -run 2026083112 \
//	  -vars tmp2m,refc -hours 0,6,12
package main

import (
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hawkstwelve/twf-models-sub001/internal/domain"
	"github.com/hawkstwelve/twf-models-sub001/internal/palette"
	"github.com/hawkstwelve/twf-models-sub001/internal/pipeline"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "output directory for descriptor and grid files")
	model := flag.String("model", "hrrr", "model name")
	region := flag.String("region", "conus", "region name")
	runID := flag.String("run", "2026083112", "run identifier (YYYYMMDDHH)")
	vars := flag.String("vars", "tmp2m,refc", "comma-separated variables")
	hours := flag.String("hours", "0,6,12", "comma-separated forecast hours")
	width := flag.Int("w", 400, "grid width")
	height := flag.Int("h", 300, "grid height")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}
	hourList, err := parseHours(*hours)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(*out, 0o755); err != nil {
		return err
	}

	desc := pipeline.Descriptor{
		Model:  *model,
		Region: *region,
		Run:    *runID,
		BBox:   domain.BBox{West: -110, South: 30, East: -90, North: 50},
	}

	for _, variable := range strings.Split(*vars, ",") {
		variable = strings.TrimSpace(variable)
		spec, ok := palette.Builtin(variable)
		if !ok {
			return fmt.Errorf("no builtin palette for %q (have %s)", variable, strings.Join(palette.Variables(), ", "))
		}
		lo, hi := valueSpan(spec)

		for _, hour := range hourList {
			name := fmt.Sprintf("%s_f%03d.f64", variable, hour)
			if err := writeField(filepath.Join(*out, name), *width, *height, lo, hi, hour); err != nil {
				return fmt.Errorf("write %s: %w", name, err)
			}
			desc.Frames = append(desc.Frames, pipeline.FrameEntry{
				Variable: variable, Hour: hour, GridFile: name, W: *width, H: *height,
			})
			log.Printf("%s: %dx%d", name, *width, *height)
		}
	}

	raw, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return err
	}
	descPath := filepath.Join(*out, "frameset.json")
	if err := os.WriteFile(descPath, raw, 0o644); err != nil {
		return err
	}
	log.Printf("descriptor: %s (%d frames)", descPath, len(desc.Frames))
	return nil
}

func parseHours(s string) ([]int, error) {
	var hours []int
	for _, p := range strings.Split(s, ",") {
		h, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || h < 0 {
			return nil, fmt.Errorf("bad hour %q", p)
		}
		hours = append(hours, h)
	}
	if len(hours) == 0 {
		return nil, fmt.Errorf("no hours given")
	}
	return hours, nil
}

// valueSpan picks the physical range a synthetic field should sweep.
func valueSpan(spec palette.Spec) (lo, hi float64) {
	if spec.Mode == palette.Continuous {
		return spec.Range[0], spec.Range[1]
	}
	lo = spec.Levels[0]
	hi = spec.Levels[len(spec.Levels)-1]
	// Overshoot both ends so the lowest bin and the transparent
	// below-threshold region both appear.
	span := hi - lo
	return lo - 0.1*span, hi + 0.1*span
}

// writeField emits a wave field phased by forecast hour, with a NaN disc in
// the middle-left quarter.
func writeField(path string, w, h int, lo, hi float64, hour int) error {
	phase := float64(hour) / 6.0
	raw := make([]byte, 8*w*h)
	for y := 0; y < h; y++ {
		fy := float64(y) / float64(h-1)
		for x := 0; x < w; x++ {
			fx := float64(x) / float64(w-1)

			v := lo + (hi-lo)*(0.5+0.5*math.Sin(2*math.Pi*(fx+phase))*math.Cos(math.Pi*fy))
			if dx, dy := fx-0.25, fy-0.5; dx*dx+dy*dy < 0.01 {
				v = math.NaN()
			}
			binary.LittleEndian.PutUint64(raw[8*(y*w+x):], math.Float64bits(v))
		}
	}
	return os.WriteFile(path, raw, 0o644)
}
