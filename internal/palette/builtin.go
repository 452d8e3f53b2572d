package palette

import "sort"

// builtin holds the palettes for the variables the pipeline currently
// publishes. Discrete thresholds follow the upstream product definitions;
// continuous ramps are sampled into the LUT at encode time.
//
// A palette here is frozen once a frame has been published against it. To
// recolor a variable, add a new variable key (e.g. "refc2") instead of
// editing its entry.
var builtin = map[string]Spec{
	// 2 m temperature, degrees Fahrenheit.
	"tmp2m": {
		Mode:  Continuous,
		Units: "F",
		Range: [2]float64{-40, 120},
		Colors: []Color{
			{40, 0, 80},    // deep cold purple
			{0, 60, 180},   // blue
			{0, 160, 230},  // cyan
			{90, 200, 90},  // green
			{240, 230, 60}, // yellow
			{240, 130, 30}, // orange
			{200, 30, 30},  // red
			{130, 0, 60},   // hot magenta
		},
	},

	// Composite reflectivity, dBZ. Standard NWS radar bins.
	"refc": {
		Mode:   Discrete,
		Units:  "dBZ",
		Levels: []float64{5, 10, 15, 20, 25, 30, 35, 40, 45, 50, 55, 60, 65, 70},
		Colors: []Color{
			{4, 233, 231}, {1, 159, 244}, {3, 0, 244},
			{2, 253, 2}, {1, 197, 1}, {0, 142, 0},
			{253, 248, 2}, {229, 188, 0}, {253, 149, 0},
			{253, 0, 0}, {212, 0, 0}, {188, 0, 0},
			{248, 0, 253}, {152, 84, 198},
		},
	},

	// Hourly accumulated snowfall, inches.
	"asnow": {
		Mode:   Discrete,
		Units:  "in",
		Levels: []float64{0.1, 0.5, 1, 2, 3, 4, 6, 8, 12, 18},
		Colors: []Color{
			{189, 215, 231}, {107, 174, 214}, {49, 130, 189},
			{8, 81, 156}, {8, 48, 107}, {136, 86, 167},
			{129, 15, 124}, {77, 0, 75}, {255, 107, 107},
			{199, 21, 133},
		},
	},

	// 10 m wind speed, mph.
	"wind10m": {
		Mode:  Continuous,
		Units: "mph",
		Range: [2]float64{0, 100},
		Colors: []Color{
			{20, 20, 60}, {40, 80, 170}, {60, 170, 170},
			{120, 200, 80}, {230, 220, 60}, {230, 120, 30},
			{190, 30, 30}, {120, 0, 90},
		},
	},

	// Total precipitation over the forecast hour, inches.
	"qpf1h": {
		Mode:   Discrete,
		Units:  "in",
		Levels: []float64{0.01, 0.1, 0.25, 0.5, 1, 1.5, 2, 3},
		Colors: []Color{
			{180, 215, 158}, {116, 196, 118}, {49, 163, 84},
			{0, 109, 44}, {255, 250, 138}, {255, 204, 79},
			{254, 141, 60}, {212, 26, 28},
		},
	},
}

// Builtin returns the frozen palette for a variable, if one is defined.
func Builtin(variable string) (Spec, bool) {
	s, ok := builtin[variable]
	return s, ok
}

// Variables returns the variable keys with builtin palettes, sorted, for
// error messages and validation.
func Variables() []string {
	out := make([]string, 0, len(builtin))
	for k := range builtin {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
