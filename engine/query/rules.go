package query

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Rule validates a single template parameter value. String returns the
// human-readable form shown in template listings and tool schemas, and a
// failed Validate reports exactly that text so callers never leak the
// offending value into errors.
type Rule interface {
	Validate(value any) error
	String() string
}

// Membership restricts a parameter to a closed set of string values.
type Membership struct {
	Allowed []string
}

// Validate checks that the value is one of the allowed strings.
func (m Membership) Validate(value any) error {
	s, ok := value.(string)
	if ok {
		for _, allowed := range m.Allowed {
			if s == allowed {
				return nil
			}
		}
	}
	return errors.New(m.String())
}

func (m Membership) String() string {
	return "must be one of: " + strings.Join(m.Allowed, ", ")
}

// PositiveIntBound restricts a parameter to a strictly positive integer,
// optionally capped at Max. Max zero means no upper bound.
type PositiveIntBound struct {
	Max int
}

// Validate checks that the value is an integral number within the bound.
func (b PositiveIntBound) Validate(value any) error {
	n, ok := asInteger(value)
	if !ok || n <= 0 {
		return errors.New(b.String())
	}
	if b.Max > 0 && n > int64(b.Max) {
		return errors.New(b.String())
	}
	return nil
}

func (b PositiveIntBound) String() string {
	if b.Max > 0 {
		return fmt.Sprintf("must be a positive integer less than or equal to %d", b.Max)
	}
	return "must be a positive integer"
}

// Advisory carries free-form guidance that is documented but never
// enforced. Validate always passes.
type Advisory struct {
	Text string
}

// Validate accepts every value.
func (a Advisory) Validate(_ any) error {
	return nil
}

func (a Advisory) String() string {
	return a.Text
}

// asInteger converts the numeric types produced by JSON decoding, YAML
// decoding, and direct Go callers into an int64. Fractional floats are
// rejected.
func asInteger(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		if v > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	case float32:
		return asInteger(float64(v))
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, false
		}
		return int64(v), true
	default:
		return 0, false
	}
}
