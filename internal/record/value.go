package record

// value.go provides the loosely-typed scalar used for numeric input fields.
//
// Uploaders send numbers either as JSON numbers or as strings ("42", " 3.5 ").
// A Value remembers which of the two it received (or that the field was absent)
// and coerces on demand. Every coercion failure is reported as ErrNotNumeric so
// callers never have to distinguish between assorted parse errors.

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindAbsent Kind = iota
	KindNumber
	KindText
)

var (
	// ErrNotNumeric is returned when a Value cannot be read as the requested number.
	ErrNotNumeric = errors.New("not a number")

	// ErrAbsent is returned when coercing a Value that was never provided.
	ErrAbsent = errors.New("value is absent")
)

// Value is a tagged union of {Absent, Number, Text}.
// The zero value is Absent.
type Value struct {
	kind Kind
	lit  string // JSON number literal or raw text
}

// Number returns a numeric Value from a literal such as "12" or "3.25".
func Number(lit string) Value { return Value{kind: KindNumber, lit: lit} }

// Int returns a numeric Value holding i.
func Int(i int64) Value { return Number(strconv.FormatInt(i, 10)) }

// Float returns a numeric Value holding f.
func Float(f float64) Value { return Number(strconv.FormatFloat(f, 'g', -1, 64)) }

// Text returns a textual Value.
func Text(s string) Value { return Value{kind: KindText, lit: s} }

// Kind reports the variant.
func (v Value) Kind() Kind { return v.kind }

// IsAbsent reports whether the field was missing or null.
func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

// String returns the literal as received, or "" when absent.
func (v Value) String() string { return v.lit }

// Float coerces the value to float64.
func (v Value) Float() (float64, error) {
	if v.kind == KindAbsent {
		return 0, ErrAbsent
	}
	s := strings.TrimSpace(v.lit)
	if s == "" {
		return 0, ErrNotNumeric
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, ErrNotNumeric
	}
	return f, nil
}

// Int coerces the value to int64.
// Integral floats ("7", "7.0", 7e2) are accepted; fractions and values outside
// the int64 range are not.
func (v Value) Int() (int64, error) {
	if v.kind == KindAbsent {
		return 0, ErrAbsent
	}
	s := strings.TrimSpace(v.lit)
	if s == "" {
		return 0, ErrNotNumeric
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}
	f, err := v.Float()
	if err != nil {
		return 0, ErrNotNumeric
	}
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, ErrNotNumeric
	}
	return int64(f), nil
}

// UnmarshalJSON decodes numbers to Number, strings to Text and null to Absent.
// Any other JSON type is kept as Text of its raw literal so that coercion fails
// with ErrNotNumeric instead of aborting the whole request decode.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*v = Value{}
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Text(s)
	case data[0] == '-' || (data[0] >= '0' && data[0] <= '9'):
		*v = Number(string(data))
	default:
		*v = Text(string(data))
	}
	return nil
}

// MarshalJSON writes numbers back as numbers and text as strings.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		return []byte(v.lit), nil
	case KindText:
		return json.Marshal(v.lit)
	default:
		return []byte("null"), nil
	}
}
