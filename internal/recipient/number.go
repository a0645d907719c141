// Package recipient holds the phone-number rules shared by the importer,
// the collector and the dispatch relay.
package recipient

import (
	"regexp"
	"strings"
)

// DigitCount is the length of a recipient number as entered (without country code).
const DigitCount = 10

// DefaultCountryCode is prepended to numbers that don't carry it yet.
const DefaultCountryCode = "91"

var (
	exactPattern    = regexp.MustCompile(`^\d{10}$`)
	embeddedPattern = regexp.MustCompile(`\d{10}`)
)

// Valid reports whether s is exactly ten ASCII digits.
func Valid(s string) bool {
	return exactPattern.MatchString(s)
}

// Extract returns every 10-digit run embedded in text, leftmost first and
// non-overlapping, so a 12-digit run yields its first ten digits only.
func Extract(text string) []string {
	found := embeddedPattern.FindAllString(text, -1)
	if found == nil {
		return []string{}
	}
	return found
}

// Normalize prefixes countryCode unless number already starts with it.
// The check is a plain prefix test: a local number that happens to begin with
// the country code digits is left untouched.
func Normalize(number, countryCode string) string {
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	if strings.HasPrefix(number, countryCode) {
		return number
	}
	return countryCode + number
}
