// Package policy applies safety rules to conversation text before it
// is stored or logged.
package policy

import "regexp"

// Spoken PINs come back from transcription either as a solid run
// ("048213") or digit by digit ("0 4 8 2 1 3"), so the pattern allows
// single spaces or dashes between digits.
var (
	pinPattern   = regexp.MustCompile(`\b\d(?:[ \-]?\d){3,7}\b`)
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
)

// RedactSensitive masks PIN-like digit runs and email addresses in
// transcript text. The second return reports whether anything was
// masked.
func RedactSensitive(input string) (redacted string, changed bool) {
	out := input

	next := emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	next = pinPattern.ReplaceAllString(out, "[REDACTED_PIN]")
	changed = changed || next != out
	out = next

	return out, changed
}
