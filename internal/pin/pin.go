// Package pin normalizes and validates user supplied PIN codes.
//
// The voice engine forwards PIN input in whatever shape the model
// produced it: a JSON number, a string with separators ("48-21-13"),
// or occasionally something else entirely. Normalize collapses all of
// that into a canonical 6 ASCII digit string before any comparison.
package pin

import (
	"fmt"
	"math"
	"strings"
)

// Length is the required number of digits in a canonical PIN.
const Length = 6

// ValidationError describes why a raw PIN input was rejected.
type ValidationError struct {
	// Digits holds the observed digit count for length failures; -1
	// when the input type was not usable at all.
	Digits int
	reason string
}

func (e *ValidationError) Error() string { return e.reason }

// WrongType reports input that is neither numeric nor a string.
func WrongType() *ValidationError {
	return &ValidationError{Digits: -1, reason: "PIN must be a 6-digit number"}
}

// WrongLength reports input that did not contain exactly six digits.
func WrongLength(digits int) *ValidationError {
	return &ValidationError{
		Digits: digits,
		reason: fmt.Sprintf("PIN must be exactly %d digits. Received: %d digits", Length, digits),
	}
}

// Normalize converts an arbitrary decoded JSON value into a canonical
// 6-digit PIN string. Numeric input is rendered in decimal and left
// padded with zeros; string input has every non-digit stripped first.
// It never mutates external state.
func Normalize(input any) (string, *ValidationError) {
	var s string
	switch v := input.(type) {
	case string:
		s = stripNonDigits(v)
	case float64:
		// JSON numbers decode as float64. Reject fractions and
		// negatives rather than silently truncating them.
		if v < 0 || v != math.Trunc(v) || v > math.MaxInt64 {
			return "", WrongType()
		}
		s = fmt.Sprintf("%0*d", Length, int64(v))
	case int:
		if v < 0 {
			return "", WrongType()
		}
		s = fmt.Sprintf("%0*d", Length, v)
	case int64:
		if v < 0 {
			return "", WrongType()
		}
		s = fmt.Sprintf("%0*d", Length, v)
	default:
		return "", WrongType()
	}

	if len(s) != Length {
		return "", WrongLength(len(s))
	}
	return s, nil
}

// Valid reports whether s is already a canonical 6 ASCII digit PIN.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func stripNonDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
