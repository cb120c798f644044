// Package phone normalizes E.164 numbers, the only user identifier.
package phone

import (
	"errors"
	"strings"
)

var ErrInvalid = errors.New("phone number must be in E.164 format")

// Normalize strips common separators and checks the result is E.164:
// a '+', a non-zero leading digit, and 8 to 15 digits in total.
func Normalize(raw string) (string, error) {
	var b strings.Builder
	for i, r := range strings.TrimSpace(raw) {
		switch {
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '(', r == ')', r == '.':
		default:
			return "", ErrInvalid
		}
	}
	s := b.String()
	if len(s) < 9 || len(s) > 16 || s[0] != '+' || s[1] == '0' {
		return "", ErrInvalid
	}
	return s, nil
}

// Mask keeps the country prefix and last two digits, for logs.
func Mask(p string) string {
	if len(p) <= 5 {
		return "***"
	}
	return p[:3] + strings.Repeat("*", len(p)-5) + p[len(p)-2:]
}
