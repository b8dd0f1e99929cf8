// Package normalize holds the scalar value model and the single rounding
// policy shared by every code path: half-up to one decimal place, computed
// with decimal arithmetic so results never drift between the SQL path and
// the in-process merge.
package normalize

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Kind discriminates the three scalar shapes a source can produce.
type Kind uint8

const (
	// KindAbsent marks a bucket with no recorded sample ("no data").
	KindAbsent Kind = iota
	// KindNumber is a numeric reading.
	KindNumber
	// KindText is a non-numeric reading, passed through untouched.
	KindText
)

// Value is an immutable scalar: a number, a text passthrough, or an explicit
// absence marker. Absence is never represented as zero.
type Value struct {
	kind Kind
	num  float64
	text string
}

// NoData returns the explicit absence marker.
func NoData() Value { return Value{kind: KindAbsent} }

// FromFloat wraps a numeric reading.
func FromFloat(f float64) Value { return Value{kind: KindNumber, num: f} }

// FromString wraps a text reading. Whether it is numeric-like is decided at
// normalization time, not here.
func FromString(s string) Value { return Value{kind: KindText, text: s} }

// Kind returns the value's shape.
func (v Value) Kind() Kind { return v.kind }

// IsAbsent reports whether the value is the absence marker.
func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

// Float64 returns the numeric payload of a KindNumber value.
func (v Value) Float64() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.num, true
}

// Numeric returns the value as a float64 if it is a number or numeric-like
// text. Used by the statistics path, which aggregates raw readings.
func (v Value) Numeric() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.num, true
	case KindText:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.text), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// String renders the value for display. Absence renders empty.
func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindText:
		return v.text
	default:
		return ""
	}
}

// MarshalJSON encodes numbers as JSON numbers, text as strings and absence
// as null, so materialized rows round-trip losslessly.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		return json.Marshal(v.num)
	case KindText:
		return json.Marshal(v.text)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case nil:
		*v = NoData()
	case float64:
		*v = FromFloat(t)
	case string:
		*v = FromString(t)
	default:
		*v = FromString(string(data))
	}
	return nil
}

// Normalize applies the rounding policy. Numbers and numeric-like text are
// rounded half-up to one decimal place; other text and the absence marker
// pass through unchanged. Never fails, and is idempotent: an already
// normalized value normalizes to itself.
func Normalize(v Value) Value {
	switch v.kind {
	case KindNumber:
		return FromFloat(Round1(v.num))
	case KindText:
		d, err := decimal.NewFromString(strings.TrimSpace(v.text))
		if err != nil {
			return v
		}
		f, _ := d.Round(1).Float64()
		return FromFloat(f)
	default:
		return v
	}
}

// Round1 rounds half away from zero to one decimal place using decimal
// arithmetic. 34.5666 -> 34.6, 34.54 -> 34.5, 20.05 -> 20.1.
func Round1(f float64) float64 {
	out, _ := decimal.NewFromFloat(f).Round(1).Float64()
	return out
}
