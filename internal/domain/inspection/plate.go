package inspection

import (
	"strings"
	"unicode"
)

// NormalizePlate upper-cases a plate and drops separators so "abc-123" and
// "ABC 123" compare equal.
func NormalizePlate(raw string) string {
	var builder strings.Builder
	for _, r := range strings.ToUpper(raw) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			builder.WriteRune(r)
		}
	}
	return builder.String()
}

// PlateDiscrepancy reports whether the observed plate differs from the
// registered one. An empty observation is not a discrepancy.
func PlateDiscrepancy(systemPlate string, observedPlate string) bool {
	observed := NormalizePlate(observedPlate)
	if observed == "" {
		return false
	}
	return observed != NormalizePlate(systemPlate)
}
