// Package units converts physical quantities (millibar, milliseconds) to and
// from raw register words using the scale and width metadata of a register
// entry. Conversions are pure; nothing here touches a transport.
//
// Round-trip tolerance: encode rounds to the nearest raw count, so
// Decode(Encode(v)) equals v within one raw count of the entry scale.
package units

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/timzifer/pgva/registers"
)

// RangeError reports a physical value that cannot be represented by the
// target register, or that lies outside the device working range.
type RangeError struct {
	Tag   registers.Tag
	Value float64
	Min   float64
	Max   float64
	Unit  string
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("register %s: value %g %s outside range [%g, %g]", e.Tag, e.Value, e.Unit, e.Min, e.Max)
}

func rawLimits(entry registers.Entry) (min, max int64) {
	bits := uint(entry.Width) * 16
	if entry.Signed {
		max = int64(1)<<(bits-1) - 1
		min = -int64(1) << (bits - 1)
		return min, max
	}
	return 0, int64(1)<<bits - 1
}

// Encode converts a physical value into raw register words for the given
// entry. It fails with a RangeError before any transport interaction when
// the scaled value does not fit the entry width and signedness.
func Encode(entry registers.Entry, value float64) ([]uint16, error) {
	raw := decimal.NewFromFloat(value).Mul(entry.Scale).Round(0).IntPart()
	min, max := rawLimits(entry)
	if raw < min || raw > max {
		lo := decimal.NewFromInt(min).Div(entry.Scale).InexactFloat64()
		hi := decimal.NewFromInt(max).Div(entry.Scale).InexactFloat64()
		if lo > hi {
			lo, hi = hi, lo
		}
		return nil, &RangeError{Tag: entry.Tag, Value: value, Min: lo, Max: hi}
	}
	words := make([]uint16, entry.Width)
	bits := uint64(raw)
	for i := int(entry.Width) - 1; i >= 0; i-- {
		words[i] = uint16(bits & 0xFFFF)
		bits >>= 16
	}
	return words, nil
}

// Decode converts raw register words back into a physical value using the
// inverse of the entry scale. Signed entries are interpreted as
// two's-complement of the entry width.
func Decode(entry registers.Entry, words []uint16) (float64, error) {
	if len(words) != int(entry.Width) {
		return 0, fmt.Errorf("register %s: expected %d words, got %d", entry.Tag, entry.Width, len(words))
	}
	var bits uint64
	for _, word := range words {
		bits = bits<<16 | uint64(word)
	}
	raw := int64(bits)
	if entry.Signed {
		width := uint(entry.Width) * 16
		if bits&(1<<(width-1)) != 0 {
			raw = int64(bits) - (1 << width)
		}
	}
	value := decimal.NewFromInt(raw).Div(entry.Scale)
	return value.InexactFloat64(), nil
}
