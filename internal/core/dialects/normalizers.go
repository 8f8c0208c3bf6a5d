package dialects

import "strings"

// Upper trims and upper-cases identifiers such as ASINs and currency codes.
func Upper(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// StripPercent removes a trailing percent sign so "12.5%" loads as 12.5.
func StripPercent(s string) string {
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "%"))
}
