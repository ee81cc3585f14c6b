// Package profile builds and parses the development profile blobs the
// camera's raw conversion service consumes. A profile is a fixed-size
// record: a header with a parameter count and an interoperability
// tag, a zero-padded gap, and 29 little-endian int32 parameter slots.
package profile

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
)

var byteOrder = binary.LittleEndian

const (
	// SizeStandard is the profile size used by X-T3 class firmware.
	SizeStandard = 632
	// SizeXT30 is the shorter native layout of the X-T30.
	SizeXT30 = 605

	// NumParams is the parameter count in the standard layout.
	NumParams = 29

	// DefaultTag is the interoperability code the conversion service
	// announces and expects back.
	DefaultTag = "FF159502"

	paramsOffset = 0x201
	xt30Offset   = 0x1D4
)

// paramIndex maps parameter names to their slot in the standard
// layout.
var paramIndex = map[string]int{
	"ShootingCondition": 0,
	"FileType":          1,
	"ImageSize":         2,
	"ImageQuality":      3,
	"ExposureBias":      4,
	"DynamicRange":      5,
	"WideDRange":        6,
	"FilmSimulation":    7,
	"GrainEffect":       8,
	"SmoothSkinEffect":  9,
	"WBShootCond":       10,
	"WhiteBalance":      11,
	"WBShiftR":          12,
	"WBShiftB":          13,
	"WBColorTemp":       14,
	"HighlightTone":     15,
	"ShadowTone":        16,
	"Color":             17,
	"Sharpness":         18,
	"NoiseReduction":    19,
	"Clarity":           20,
	"ColorSpace":        21,
	"HDR":               22,
	"DigitalTeleConv":   23,
	"PortraitEnhancer":  24,
	"Reserved25":        25,
	"Reserved26":        26,
	"Reserved27":        27,
	"Reserved28":        28,
}

// toneParams are stored scaled by ten, so quarter steps survive the
// integer slots.
var toneParams = map[string]bool{
	"HighlightTone":  true,
	"ShadowTone":     true,
	"Color":          true,
	"Sharpness":      true,
	"NoiseReduction": true,
	"Clarity":        true,
}

// indexName is the inverse of paramIndex, in slot order.
var indexName = func() []string {
	names := make([]string, NumParams)
	for n, i := range paramIndex {
		names[i] = n
	}
	return names
}()

// Defaults returns the base profile: JPEG output at full size and
// fine quality, Provia, everything else neutral.
func Defaults() map[string]int32 {
	return map[string]int32{
		"ShootingCondition": 0x2,
		"FileType":          0x7,
		"ImageSize":         0x7,
		"ImageQuality":      0x2,
		"DynamicRange":      0x1,
		"FilmSimulation":    0x1,
	}
}

// Build produces a standard-layout profile. values overrides the
// defaults per parameter name; an empty tag selects DefaultTag.
func Build(tag string, values map[string]int32) ([]byte, error) {
	if tag == "" {
		tag = DefaultTag
	}
	if len(tag) > 254 {
		return nil, fmt.Errorf("profile tag %q too long", tag)
	}

	merged := Defaults()
	for name, v := range values {
		if _, ok := paramIndex[name]; !ok {
			return nil, fmt.Errorf("unknown profile parameter %q", name)
		}
		merged[name] = v
	}
	if err := Validate(merged); err != nil {
		return nil, err
	}

	buf := make([]byte, SizeStandard)
	byteOrder.PutUint16(buf[0:], NumParams)
	buf[2] = byte(len(tag) + 1)
	off := 3
	for _, r := range tag {
		byteOrder.PutUint16(buf[off:], uint16(r))
		off += 2
	}
	// The tag's null terminator and the pad up to the parameter block
	// are already zero.

	for name, v := range merged {
		if toneParams[name] {
			v *= 10
		}
		byteOrder.PutUint32(buf[paramsOffset+4*paramIndex[name]:], uint32(v))
	}
	return buf, nil
}

// Profile is a parsed development profile. For the X-T30 layout only
// the resolved slots appear in Values and Tag stays empty.
type Profile struct {
	Tag    string
	Values map[string]int32
}

// Parse decodes a profile blob, selecting the layout by size.
func Parse(data []byte) (*Profile, error) {
	switch len(data) {
	case SizeStandard:
		return parseStandard(data)
	case SizeXT30:
		return parseXT30(data)
	}
	return nil, fmt.Errorf("unsupported profile size %d", len(data))
}

func parseStandard(data []byte) (*Profile, error) {
	count := byteOrder.Uint16(data)
	if count != NumParams {
		return nil, fmt.Errorf("profile declares %d parameters, want %d", count, NumParams)
	}

	tagLen := int(data[2])
	if tagLen == 0 || 3+2*tagLen > paramsOffset {
		return nil, fmt.Errorf("profile tag length %d out of bounds", tagLen)
	}
	var tag strings.Builder
	for i := 0; i < tagLen-1; i++ {
		tag.WriteRune(rune(byteOrder.Uint16(data[3+2*i:])))
	}

	values := make(map[string]int32, NumParams)
	for i, name := range indexName {
		v := int32(byteOrder.Uint32(data[paramsOffset+4*i:]))
		if toneParams[name] {
			v /= 10
		}
		values[name] = v
	}

	return &Profile{Tag: tag.String(), Values: values}, nil
}

// xt30Slots are the parameter slots of the X-T30 native layout that
// have been mapped out. The value sits in the second byte of each
// four-byte slot. The remaining slots are unresolved, so parsing this
// layout is best effort.
var xt30Slots = map[string]int{
	"ImageSize":         13,
	"FilmSimulation":    18,
	"GrainEffect":       19,
	"ColorChromeEffect": 20,
}

func parseXT30(data []byte) (*Profile, error) {
	values := make(map[string]int32, len(xt30Slots))
	for name, slot := range xt30Slots {
		values[name] = int32(data[xt30Offset+4*slot+1])
	}
	return &Profile{Values: values}, nil
}

// Describe renders a profile for humans, slot order, enum values by
// name where one exists.
func (p *Profile) Describe() string {
	var b strings.Builder
	if p.Tag != "" {
		fmt.Fprintf(&b, "tag: %s\n", p.Tag)
	}

	var names []string
	for _, name := range indexName {
		if _, ok := p.Values[name]; ok {
			names = append(names, name)
		}
	}
	// Parameters outside the standard table (X-T30 extras) go last.
	var extra []string
	for name := range p.Values {
		if _, ok := paramIndex[name]; !ok {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	names = append(names, extra...)

	for _, name := range names {
		v := p.Values[name]
		if strings.HasPrefix(name, "Reserved") && v == 0 {
			continue
		}
		if s, ok := describeValue(name, v); ok {
			fmt.Fprintf(&b, "%-18s %s\n", name, s)
		} else {
			fmt.Fprintf(&b, "%-18s %d\n", name, v)
		}
	}
	return b.String()
}

func describeValue(name string, v int32) (string, bool) {
	switch name {
	case "FilmSimulation":
		return lookupName(filmSimulations, v)
	case "WhiteBalance":
		return lookupName(whiteBalances, v)
	case "ImageQuality":
		return lookupName(imageQualities, v)
	case "ImageSize":
		return lookupName(imageSizes, v)
	case "DynamicRange":
		return lookupName(dynamicRanges, v)
	case "GrainEffect", "ColorChromeEffect":
		return lookupName(grainEffects, v)
	case "ExposureBias":
		return fmt.Sprintf("%+.3f EV", float64(v)/1000), true
	}
	return "", false
}
