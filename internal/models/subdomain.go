package models

import (
	"regexp"
	"strings"
)

const MaxSubdomainLength = 50

var subdomainPattern = regexp.MustCompile(`^[a-z0-9-]{1,50}$`)

// NormalizeSubdomain lower-cases and trims s. Subdomains compare
// case-insensitively everywhere.
func NormalizeSubdomain(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidSubdomain reports whether s, already normalized, is 1 to 50
// characters of [a-z0-9-].
func ValidSubdomain(s string) bool {
	return subdomainPattern.MatchString(s)
}
