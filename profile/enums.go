package profile

import (
	"fmt"
	"sort"
	"strings"
)

// Enum tables for the parameters with named values. Keys double as
// the accepted command line spellings.

var filmSimulations = map[string]int32{
	"provia":         0x1,
	"velvia":         0x2,
	"astia":          0x3,
	"pro-neg-hi":     0x4,
	"pro-neg-std":    0x5,
	"monochrome":     0x6,
	"monochrome-ye":  0x7,
	"monochrome-r":   0x8,
	"monochrome-g":   0x9,
	"sepia":          0xA,
	"classic-chrome": 0xB,
	"acros":          0xC,
	"acros-ye":       0xD,
	"acros-r":        0xE,
	"acros-g":        0xF,
	"eterna":         0x10,
	"eterna-bleach":  0x11,
}

var whiteBalances = map[string]int32{
	"as-shot":       0x0,
	"auto":          0x2,
	"daylight":      0x4,
	"incandescent":  0x6,
	"underwater":    0x8,
	"fluorescent-1": 0x8001,
	"fluorescent-2": 0x8002,
	"fluorescent-3": 0x8003,
	"shade":         0x8006,
	"temperature":   0x8007,
	"custom-1":      0x8008,
	"custom-2":      0x8009,
	"custom-3":      0x800A,
}

var imageQualities = map[string]int32{
	"fine":   0x2,
	"normal": 0x3,
}

var imageSizes = map[string]int32{
	"s-3:2":  0x1,
	"s-16:9": 0x2,
	"s-1:1":  0x3,
	"m-3:2":  0x4,
	"m-16:9": 0x5,
	"m-1:1":  0x6,
	"l-3:2":  0x7,
	"l-16:9": 0x8,
	"l-1:1":  0x9,
}

var dynamicRanges = map[string]int32{
	"dr100": 0x1,
	"dr200": 0x2,
	"dr400": 0x3,
}

var grainEffects = map[string]int32{
	"off":    0x1,
	"weak":   0x2,
	"strong": 0x3,
}

func sortedKeys(m map[string]int32) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func codeFor(kind string, m map[string]int32, name string) (int32, error) {
	if v, ok := m[strings.ToLower(name)]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("unknown %s %q (valid: %s)",
		kind, name, strings.Join(sortedKeys(m), ", "))
}

func lookupName(m map[string]int32, v int32) (string, bool) {
	for name, code := range m {
		if code == v {
			return name, true
		}
	}
	return "", false
}

func FilmSimulationCode(name string) (int32, error) {
	return codeFor("film simulation", filmSimulations, name)
}

func WhiteBalanceCode(name string) (int32, error) {
	return codeFor("white balance", whiteBalances, name)
}

func ImageQualityCode(name string) (int32, error) {
	return codeFor("image quality", imageQualities, name)
}

func ImageSizeCode(name string) (int32, error) {
	return codeFor("image size", imageSizes, name)
}

func GrainEffectCode(name string) (int32, error) {
	return codeFor("grain effect", grainEffects, name)
}

// DynamicRangeFromPercent maps the menu percentages to profile codes.
func DynamicRangeFromPercent(pct int) (int32, error) {
	switch pct {
	case 100:
		return 0x1, nil
	case 200:
		return 0x2, nil
	case 400:
		return 0x3, nil
	}
	return 0, fmt.Errorf("dynamic range %d%% not supported (valid: 100, 200, 400)", pct)
}
