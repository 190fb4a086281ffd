// Package valuemap converts between device-native values and the canonical
// [0,1] range, and interprets command modes. Everything here is pure.
package valuemap

import (
	"fmt"
	"math"

	"github.com/nerrad567/gray-logic-iobridge/internal/iopoint"
)

// Rounding is the native granularity a canonical value is converted back to.
type Rounding string

const (
	// Floor truncates toward zero, the way Hue and the players expect integers.
	Floor Rounding = "floor"
	// Nearest rounds half away from zero.
	Nearest Rounding = "nearest"
	// None keeps the float.
	None Rounding = "none"
)

// floorEpsilon absorbs float error so that an exact integer survives a
// round trip (100/65535*65535 is 99.99999...).
const floorEpsilon = 1e-9

// ParseRounding maps a config string to a Rounding; empty means Floor.
func ParseRounding(s string) (Rounding, error) {
	switch Rounding(s) {
	case "", Floor:
		return Floor, nil
	case Nearest, None:
		return Rounding(s), nil
	}
	return "", fmt.Errorf("valuemap: unknown rounding %q", s)
}

// Range is a device-native value range with its rounding rule.
type Range struct {
	Min      float64
	Max      float64
	Rounding Rounding
}

// NewRange validates min < max.
func NewRange(min, max float64, rounding Rounding) (Range, error) {
	if !(max > min) {
		return Range{}, &iopoint.RangeError{Min: min, Max: max}
	}
	if rounding == "" {
		rounding = Floor
	}
	return Range{Min: min, Max: max, Rounding: rounding}, nil
}

// MustRange is NewRange for compile-time constants.
func MustRange(min, max float64, rounding Rounding) Range {
	r, err := NewRange(min, max, rounding)
	if err != nil {
		panic(err)
	}
	return r
}

// ToCanonical maps raw into [0,1].
func (r Range) ToCanonical(raw float64) float64 {
	return Clamp((raw - r.Min) / (r.Max - r.Min))
}

// FromCanonical maps a canonical value back to the native range.
func (r Range) FromCanonical(canonical float64) float64 {
	raw := Clamp(canonical)*(r.Max-r.Min) + r.Min
	switch r.Rounding {
	case Nearest:
		raw = math.Round(raw)
	case None:
	default:
		raw = math.Floor(raw + floorEpsilon)
	}
	return math.Min(math.Max(raw, r.Min), r.Max)
}

// ToCanonical is the free-function form: linear scale of raw from
// [rawMin, rawMax] to [0,1].
func ToCanonical(raw, rawMin, rawMax float64) (float64, error) {
	r, err := NewRange(rawMin, rawMax, Floor)
	if err != nil {
		return 0, err
	}
	return r.ToCanonical(raw), nil
}

// FromCanonical is the inverse of ToCanonical with the given rounding.
func FromCanonical(canonical, rawMin, rawMax float64, rounding Rounding) (float64, error) {
	r, err := NewRange(rawMin, rawMax, rounding)
	if err != nil {
		return 0, err
	}
	return r.FromCanonical(canonical), nil
}

// ApplyMode interprets a command value against the current canonical value.
// Absolute and discrete return delta unchanged; relative modes saturate at
// 0 and 1.
func ApplyMode(current, delta float64, mode iopoint.Mode) float64 {
	switch mode {
	case iopoint.ModeIncrease:
		return Clamp(current + delta)
	case iopoint.ModeDecrease:
		return Clamp(current - delta)
	default:
		return delta
	}
}

// Clamp limits v to [0,1]. NaN becomes 0.
func Clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Discrete reports whether a discrete command value means "on".
func Discrete(v float64) bool {
	return v >= 0.5
}

// Bool encodes a boolean as a canonical discrete value.
func Bool(on bool) float64 {
	if on {
		return 1
	}
	return 0
}
