package common

import "strings"

// NormalizeStation folds a station name into the form it is stored and
// compared under.
func NormalizeStation(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// HasAny reports whether s contains any of the substrings, ignoring case.
func HasAny(s string, subs ...string) bool {
	s = strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(s, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}
