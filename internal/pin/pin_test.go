package pin

import (
	"fmt"
	"testing"
)

func TestNormalizeNumericPadsToSixDigits(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{float64(42), "000042"},
		{float64(0), "000000"},
		{float64(48213), "048213"},
		{float64(999999), "999999"},
		{int(7), "000007"},
		{int64(123456), "123456"},
	}
	for _, tc := range cases {
		got, verr := Normalize(tc.in)
		if verr != nil {
			t.Fatalf("Normalize(%v) error = %v", tc.in, verr)
		}
		if got != tc.want {
			t.Fatalf("Normalize(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeNumericRange(t *testing.T) {
	for n := 0; n <= 999999; n += 1111 {
		got, verr := Normalize(float64(n))
		if verr != nil {
			t.Fatalf("Normalize(%d) error = %v", n, verr)
		}
		if len(got) != Length {
			t.Fatalf("Normalize(%d) = %q, want %d chars", n, got, Length)
		}
		if got != fmt.Sprintf("%06d", n) {
			t.Fatalf("Normalize(%d) = %q", n, got)
		}
	}
}

func TestNormalizeStringStripsSeparators(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"123456", "123456"},
		{"12-34-56", "123456"},
		{"12 34 56", "123456"},
		{" 1.2.3.4.5.6 ", "123456"},
		{"(048) 213", "048213"},
	}
	for _, tc := range cases {
		got, verr := Normalize(tc.in)
		if verr != nil {
			t.Fatalf("Normalize(%q) error = %v", tc.in, verr)
		}
		if got != tc.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeWrongLength(t *testing.T) {
	cases := []struct {
		in     any
		digits int
	}{
		{"12345", 5},
		{"1234567", 7},
		{"", 0},
		{"abc", 0},
		{"12-34", 4},
		{float64(1234567), 7},
	}
	for _, tc := range cases {
		_, verr := Normalize(tc.in)
		if verr == nil {
			t.Fatalf("Normalize(%v) expected error", tc.in)
		}
		if verr.Digits != tc.digits {
			t.Fatalf("Normalize(%v) digits = %d, want %d", tc.in, verr.Digits, tc.digits)
		}
	}
}

func TestNormalizeWrongType(t *testing.T) {
	for _, in := range []any{nil, true, []any{"1"}, map[string]any{"pin": "123456"}, float64(-1), 12.5} {
		_, verr := Normalize(in)
		if verr == nil {
			t.Fatalf("Normalize(%v) expected error", in)
		}
		if verr.Digits != -1 {
			t.Fatalf("Normalize(%v) digits = %d, want -1", in, verr.Digits)
		}
	}
}

func TestValid(t *testing.T) {
	if !Valid("048213") {
		t.Fatalf("Valid(048213) = false")
	}
	for _, s := range []string{"", "12345", "1234567", "12345a", "12 456"} {
		if Valid(s) {
			t.Fatalf("Valid(%q) = true, want false", s)
		}
	}
}
