// Package phone normalises user-supplied phone numbers.
// Bare 10-digit numbers are treated as Indian mobiles.
package phone

import (
	"errors"
	"strings"
)

const defaultCountryCode = "91"

var ErrInvalid = errors.New("invalid phone number")

// Digits strips every non-digit character.
func Digits(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Normalize returns the number as E.164 digits without the leading '+'.
func Normalize(raw string) (string, error) {
	d := Digits(raw)
	if len(d) < 10 || len(d) > 15 {
		return "", ErrInvalid
	}
	if len(d) == 10 {
		d = defaultCountryCode + d
	}
	return d, nil
}

// E164 formats normalised digits with a leading '+'.
func E164(digits string) string {
	return "+" + digits
}

// Country guesses the ISO country from the calling code.
func Country(digits string) string {
	switch {
	case strings.HasPrefix(digits, "91") && len(digits) == 12:
		return "IN"
	case strings.HasPrefix(digits, "1") && len(digits) == 11:
		return "US"
	case strings.HasPrefix(digits, "44"):
		return "UK"
	}
	return ""
}

// National strips the calling code for the countries Country knows about.
func National(digits string) string {
	switch Country(digits) {
	case "IN":
		return digits[2:]
	case "US":
		return digits[1:]
	case "UK":
		return digits[2:]
	}
	return digits
}

// Mask hides all but the last four digits, for logs.
func Mask(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}
