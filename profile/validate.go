package profile

import "fmt"

// Validate checks every parameter that user input can reach against
// the ranges the conversion service accepts. Slots not listed here
// are filled from Defaults and pass through unchecked.
func Validate(values map[string]int32) error {
	for name, v := range values {
		if err := validateOne(name, v); err != nil {
			return err
		}
	}
	return nil
}

func validateOne(name string, v int32) error {
	switch name {
	case "FilmSimulation":
		return inRange(name, v, 0x1, 0x11)
	case "ExposureBias":
		// millistops, so ±5 EV
		return inRange(name, v, -5000, 5000)
	case "HighlightTone", "Color", "Sharpness", "NoiseReduction":
		return inRange(name, v, -4, 4)
	case "ShadowTone":
		return inRange(name, v, -2, 4)
	case "Clarity":
		return inRange(name, v, -5, 5)
	case "WBShiftR", "WBShiftB":
		return inRange(name, v, -9, 9)
	case "WBColorTemp":
		// Only consulted with the temperature white balance; zero
		// means unset.
		if v == 0 {
			return nil
		}
		return inRange(name, v, 2500, 10000)
	case "WhiteBalance":
		if _, ok := lookupName(whiteBalances, v); !ok {
			return fmt.Errorf("white balance code 0x%x unknown", v)
		}
	case "ImageQuality":
		return inRange(name, v, 0x2, 0x3)
	case "ImageSize":
		return inRange(name, v, 0x1, 0x9)
	case "DynamicRange":
		return inRange(name, v, 0x1, 0x3)
	case "GrainEffect":
		return inRange(name, v, 0x0, 0x3)
	}
	return nil
}

func inRange(name string, v, lo, hi int32) error {
	if v < lo || v > hi {
		return fmt.Errorf("%s %d out of range [%d, %d]", name, v, lo, hi)
	}
	return nil
}
