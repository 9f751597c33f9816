// Package codec converts a numeric formula result into the exact string the
// UI boundary expects. The remote UI compares state values as strings, so
// the precise shape of the output matters ("1" and "1.0" are different
// values there).
package codec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/airdeck/skybridge/errors"
)

// Kind is the declared output type of a state.
type Kind string

// Supported output kinds.
const (
	KindInt     Kind = "int"
	KindFloat   Kind = "float"
	KindBool    Kind = "bool"
	KindBoolInt Kind = "boolint"
)

// DefaultFloatPrecision is used when a float spec carries no precision.
const DefaultFloatPrecision = 6

// Spec is a parsed output type/format. The zero value is not valid; use
// ParseSpec.
type Spec struct {
	Kind      Kind
	Width     int // zero-padding width for int, total width for float; 0 = none
	Precision int // decimal places for float
}

// ParseSpec parses a type string: a kind optionally followed immediately by
// digits ("int4") or width.precision ("float2.2"). Any malformed suffix is a
// catalog load-time error.
func ParseSpec(s string) (Spec, error) {
	fail := func(detail string) (Spec, error) {
		return Spec{}, errors.WrapCatalog(
			fmt.Errorf("%w: %q: %s", errors.ErrInvalidTypeSpec, s, detail),
			"codec", "ParseSpec", "type spec parsing")
	}

	switch {
	case s == string(KindBool):
		return Spec{Kind: KindBool}, nil

	case s == string(KindBoolInt):
		return Spec{Kind: KindBoolInt}, nil

	case strings.HasPrefix(s, string(KindInt)):
		suffix := s[len(KindInt):]
		spec := Spec{Kind: KindInt}
		if suffix == "" {
			return spec, nil
		}
		width, err := strconv.Atoi(suffix)
		if err != nil || width < 0 {
			return fail("width must be a non-negative integer")
		}
		spec.Width = width
		return spec, nil

	case strings.HasPrefix(s, string(KindFloat)):
		suffix := s[len(KindFloat):]
		spec := Spec{Kind: KindFloat, Precision: DefaultFloatPrecision}
		if suffix == "" {
			return spec, nil
		}
		width, prec, found := strings.Cut(suffix, ".")
		if !found {
			return fail("float suffix must be width.precision")
		}
		w, err := strconv.Atoi(width)
		if err != nil || w < 0 {
			return fail("width must be a non-negative integer")
		}
		p, err := strconv.Atoi(prec)
		if err != nil || p < 0 {
			return fail("precision must be a non-negative integer")
		}
		spec.Width = w
		spec.Precision = p
		return spec, nil

	default:
		return fail("unknown kind")
	}
}

// Format renders the value according to the type spec. Output is always a string.
func (s Spec) Format(v float64) string {
	switch s.Kind {
	case KindBool:
		if v != 0 {
			return "TRUE"
		}
		return "FALSE"

	case KindBoolInt:
		if v != 0 {
			return "1"
		}
		return "0"

	case KindInt:
		// Truncation toward zero; any rounding was the formula's job.
		n := int64(v)
		if s.Width > 0 {
			return fmt.Sprintf("%0*d", s.Width, n)
		}
		return strconv.FormatInt(n, 10)

	case KindFloat:
		if s.Width > 0 {
			return fmt.Sprintf("%*.*f", s.Width, s.Precision, v)
		}
		return strconv.FormatFloat(v, 'f', s.Precision, 64)

	default:
		// Unreachable for specs built by ParseSpec.
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
}
