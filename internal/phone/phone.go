// Package phone normalizes inbound phone identifiers to one canonical form.
//
// Numbers arrive in inconsistent shapes: with the gateway transport prefix
// ("whatsapp:+5215512345678"), with the legacy mobile marker digit after the
// country code ("+52 1 55 1234 5678"), with interior whitespace, or as a bare
// 10-digit national number. The directory itself is populated by hand and
// stores any of these forms, so matching also falls back to the last 10
// significant digits.
package phone

import "strings"

// CountryCode is the default country code assumed for bare national numbers.
const CountryCode = "52"

// nationalDigits is the length of a national-significant number.
const nationalDigits = 10

// Canonical normalizes a raw identifier to "+<country><10 digits>".
//
// Rules, in order: strip any "transport:" prefix, drop everything that is not
// a digit, drop the legacy mobile "1" between country code and number, prepend
// the default country code to bare 10-digit numbers. Unrecognized lengths are
// returned as "+<digits>" untouched so the fallback match can still work.
func Canonical(raw string) string {
	s := raw
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[i+1:]
	}

	digits := onlyDigits(s)
	if digits == "" {
		return ""
	}

	switch {
	case len(digits) == len(CountryCode)+1+nationalDigits &&
		strings.HasPrefix(digits, CountryCode+"1"):
		// 521XXXXXXXXXX -> 52XXXXXXXXXX
		digits = CountryCode + digits[len(CountryCode)+1:]
	case len(digits) == nationalDigits:
		digits = CountryCode + digits
	}

	return "+" + digits
}

// Last10 returns the trailing 10 digits of an identifier in any form. Shorter
// inputs return all their digits.
func Last10(raw string) string {
	digits := onlyDigits(raw)
	if len(digits) <= nationalDigits {
		return digits
	}
	return digits[len(digits)-nationalDigits:]
}

// SameNumber reports whether two identifiers refer to the same line,
// comparing by last-10-digit equivalence to survive formatting drift.
func SameNumber(a, b string) bool {
	la, lb := Last10(a), Last10(b)
	return la != "" && la == lb
}

func onlyDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
