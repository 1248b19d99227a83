package pool

import (
	"strings"
	"unicode"
)

// FilterFunc returns true when a pool entry should be kept.
type FilterFunc func(string) bool

// MaxLen rejects entries longer than n runes. Zero disables the limit.
func MaxLen(n int) FilterFunc {
	return func(entry string) bool {
		return n <= 0 || len([]rune(entry)) <= n
	}
}

// Printable rejects entries with control characters or tabs, which the
// puzzle cannot render as rotatable glyphs.
func Printable(entry string) bool {
	if strings.TrimSpace(entry) == "" {
		return false
	}
	for _, r := range entry {
		if r != ' ' && !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

// All combines filters; an entry is kept when every filter keeps it.
func All(filters ...FilterFunc) FilterFunc {
	return func(entry string) bool {
		for _, f := range filters {
			if f != nil && !f(entry) {
				return false
			}
		}
		return true
	}
}
