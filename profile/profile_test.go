package profile

import (
	"encoding/binary"
	"strings"
	"testing"
)

func slot(b []byte, i int) int32 {
	return int32(binary.LittleEndian.Uint32(b[paramsOffset+4*i:]))
}

func TestBuildDefaults(t *testing.T) {
	b, err := Build("", nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(b) != SizeStandard {
		t.Fatalf("size %d, want %d", len(b), SizeStandard)
	}

	if count := binary.LittleEndian.Uint16(b); count != NumParams {
		t.Errorf("count %d, want %d", count, NumParams)
	}
	if b[2] != byte(len(DefaultTag)+1) {
		t.Errorf("tag length byte %d, want %d", b[2], len(DefaultTag)+1)
	}
	for i, r := range DefaultTag {
		if got := binary.LittleEndian.Uint16(b[3+2*i:]); got != uint16(r) {
			t.Errorf("tag char %d: %x, want %x", i, got, uint16(r))
		}
	}
	if term := binary.LittleEndian.Uint16(b[3+2*len(DefaultTag):]); term != 0 {
		t.Errorf("tag terminator %x, want 0", term)
	}
	for i := 3 + 2*len(DefaultTag) + 2; i < paramsOffset; i++ {
		if b[i] != 0 {
			t.Fatalf("pad byte 0x%x is %x, want 0", i, b[i])
		}
	}

	wantSlots := map[int]int32{
		0: 0x2, // ShootingCondition
		1: 0x7, // FileType
		2: 0x7, // ImageSize
		3: 0x2, // ImageQuality
		4: 0x0, // ExposureBias
		5: 0x1, // DynamicRange
		7: 0x1, // FilmSimulation
	}
	for i, want := range wantSlots {
		if got := slot(b, i); got != want {
			t.Errorf("slot %d: %d, want %d", i, got, want)
		}
	}
	for _, i := range []int{6, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 22, 23, 24} {
		if got := slot(b, i); got != 0 {
			t.Errorf("slot %d: %d, want 0", i, got)
		}
	}
	for i := SizeStandard - 3; i < SizeStandard; i++ {
		if b[i] != 0 {
			t.Errorf("tail byte %d is %x, want 0", i, b[i])
		}
	}
}

func TestToneScaling(t *testing.T) {
	b, err := Build("", map[string]int32{
		"HighlightTone": -3,
		"ShadowTone":    4,
		"Clarity":       5,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if got := slot(b, 15); got != -30 {
		t.Errorf("HighlightTone slot: %d, want -30", got)
	}
	if got := binary.LittleEndian.Uint32(b[paramsOffset+4*15:]); got != 0xFFFFFFE2 {
		t.Errorf("HighlightTone wire: %#x, want 0xffffffe2", got)
	}
	if got := slot(b, 16); got != 40 {
		t.Errorf("ShadowTone slot: %d, want 40", got)
	}
	if got := slot(b, 20); got != 50 {
		t.Errorf("Clarity slot: %d, want 50", got)
	}

	p, err := Parse(b)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Values["HighlightTone"] != -3 || p.Values["ShadowTone"] != 4 || p.Values["Clarity"] != 5 {
		t.Errorf("tone values after parse: %d %d %d",
			p.Values["HighlightTone"], p.Values["ShadowTone"], p.Values["Clarity"])
	}
}

func TestParamSlots(t *testing.T) {
	cases := []struct {
		name string
		set  int32
		slot int
		wire int32
	}{
		{"ImageSize", 0x1, 2, 0x1},
		{"ImageQuality", 0x3, 3, 0x3},
		{"ExposureBias", -1667, 4, -1667},
		{"DynamicRange", 0x3, 5, 0x3},
		{"FilmSimulation", 0xB, 7, 0xB},
		{"GrainEffect", 0x3, 8, 0x3},
		{"WhiteBalance", 0x8007, 11, 0x8007},
		{"WBShiftR", 9, 12, 9},
		{"WBShiftB", -9, 13, -9},
		{"WBColorTemp", 5500, 14, 5500},
		{"HighlightTone", 2, 15, 20},
		{"ShadowTone", -2, 16, -20},
		{"Color", 4, 17, 40},
		{"Sharpness", -4, 18, -40},
		{"NoiseReduction", 1, 19, 10},
		{"Clarity", -5, 20, -50},
	}

	for _, tc := range cases {
		b, err := Build("", map[string]int32{tc.name: tc.set})
		if err != nil {
			t.Fatalf("%s: Build: %v", tc.name, err)
		}
		if got := slot(b, tc.slot); got != tc.wire {
			t.Errorf("%s: slot %d is %d, want %d", tc.name, tc.slot, got, tc.wire)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	set := map[string]int32{
		"FilmSimulation": 0x10,
		"ExposureBias":   -333,
		"HighlightTone":  -4,
		"ShadowTone":     3,
		"Color":          -1,
		"Sharpness":      2,
		"NoiseReduction": -4,
		"Clarity":        -5,
		"WhiteBalance":   0x8007,
		"WBColorTemp":    2500,
		"WBShiftR":       -9,
		"WBShiftB":       9,
		"GrainEffect":    0x2,
		"DynamicRange":   0x2,
	}

	b, err := Build("FF129506", set)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	p, err := Parse(b)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if p.Tag != "FF129506" {
		t.Errorf("tag %q, want FF129506", p.Tag)
	}
	for name, want := range set {
		if got := p.Values[name]; got != want {
			t.Errorf("%s: %d, want %d", name, got, want)
		}
	}
	// Untouched parameters come back as the defaults.
	if p.Values["ImageQuality"] != 0x2 || p.Values["FileType"] != 0x7 {
		t.Errorf("defaults lost: quality %d filetype %d",
			p.Values["ImageQuality"], p.Values["FileType"])
	}
}

func TestValidation(t *testing.T) {
	cases := []struct {
		name string
		v    int32
		ok   bool
	}{
		{"FilmSimulation", 0x11, true},
		{"FilmSimulation", 0x12, false},
		{"FilmSimulation", 0x0, false},
		{"ExposureBias", 5000, true},
		{"ExposureBias", 5001, false},
		{"ExposureBias", -5001, false},
		{"HighlightTone", -4, true},
		{"HighlightTone", -5, false},
		{"ShadowTone", -2, true},
		{"ShadowTone", -3, false},
		{"ShadowTone", 4, true},
		{"Clarity", -5, true},
		{"Clarity", 6, false},
		{"WBShiftR", 9, true},
		{"WBShiftR", 10, false},
		{"WBShiftB", -10, false},
		{"WBColorTemp", 2500, true},
		{"WBColorTemp", 2499, false},
		{"WBColorTemp", 10001, false},
		{"WBColorTemp", 0, true},
		{"WhiteBalance", 0x8007, true},
		{"WhiteBalance", 0x8004, false},
		{"ImageQuality", 0x4, false},
		{"DynamicRange", 0x4, false},
		{"GrainEffect", 0x3, true},
	}

	for _, tc := range cases {
		_, err := Build("", map[string]int32{tc.name: tc.v})
		if tc.ok && err != nil {
			t.Errorf("%s=%d: unexpected error: %v", tc.name, tc.v, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s=%d: expected error", tc.name, tc.v)
		}
	}
}

func TestBuildUnknownParam(t *testing.T) {
	_, err := Build("", map[string]int32{"Vignette": 1})
	if err == nil || !strings.Contains(err.Error(), "Vignette") {
		t.Errorf("got %v, want unknown parameter error", err)
	}
}

func TestParseUnsupportedSize(t *testing.T) {
	for _, size := range []int{0, 100, 604, 633} {
		if _, err := Parse(make([]byte, size)); err == nil {
			t.Errorf("size %d: expected error", size)
		}
	}
}

func TestParseXT30(t *testing.T) {
	b := make([]byte, SizeXT30)
	b[xt30Offset+4*13+1] = 0x7 // ImageSize
	b[xt30Offset+4*18+1] = 0xB // FilmSimulation
	b[xt30Offset+4*19+1] = 0x2 // GrainEffect
	b[xt30Offset+4*20+1] = 0x1 // ColorChromeEffect

	p, err := Parse(b)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Tag != "" {
		t.Errorf("tag %q, want empty", p.Tag)
	}

	want := map[string]int32{
		"ImageSize":         0x7,
		"FilmSimulation":    0xB,
		"GrainEffect":       0x2,
		"ColorChromeEffect": 0x1,
	}
	if len(p.Values) != len(want) {
		t.Errorf("parsed %d values, want %d", len(p.Values), len(want))
	}
	for name, v := range want {
		if got := p.Values[name]; got != v {
			t.Errorf("%s: %d, want %d", name, got, v)
		}
	}
}

func TestDescribe(t *testing.T) {
	b, err := Build("", map[string]int32{
		"FilmSimulation": 0xB,
		"ExposureBias":   -1667,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	p, err := Parse(b)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	out := p.Describe()
	if !strings.Contains(out, "classic-chrome") {
		t.Errorf("missing film simulation name in:\n%s", out)
	}
	if !strings.Contains(out, "-1.667 EV") {
		t.Errorf("missing exposure in:\n%s", out)
	}
	if !strings.Contains(out, "tag: "+DefaultTag) {
		t.Errorf("missing tag in:\n%s", out)
	}
	if strings.Contains(out, "Reserved") {
		t.Errorf("zero reserved slots should be omitted:\n%s", out)
	}
}

func TestEnumLookups(t *testing.T) {
	if v, err := FilmSimulationCode("Velvia"); err != nil || v != 0x2 {
		t.Errorf("Velvia: %d, %v", v, err)
	}
	if _, err := FilmSimulationCode("kodachrome"); err == nil ||
		!strings.Contains(err.Error(), "provia") {
		t.Errorf("expected error listing valid names, got %v", err)
	}
	if v, err := WhiteBalanceCode("temperature"); err != nil || v != 0x8007 {
		t.Errorf("temperature: %d, %v", v, err)
	}
	if v, err := DynamicRangeFromPercent(200); err != nil || v != 0x2 {
		t.Errorf("200%%: %d, %v", v, err)
	}
	if _, err := DynamicRangeFromPercent(300); err == nil {
		t.Errorf("expected error for 300%%")
	}
	if v, err := ImageSizeCode("L-3:2"); err != nil || v != 0x7 {
		t.Errorf("L-3:2: %d, %v", v, err)
	}
}
