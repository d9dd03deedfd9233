// ABOUTME: SQL helper functions for query construction.
// ABOUTME: LIKE escaping and the ASCII check that gates SQL-side search prefiltering.

package store

import "strings"

// escapeSQLLike escapes the LIKE metacharacters %, _ and \ so a search term
// matches literally. Backslash goes first to avoid double-escaping.
func escapeSQLLike(pattern string) string {
	pattern = strings.ReplaceAll(pattern, "\\", "\\\\")
	pattern = strings.ReplaceAll(pattern, "%", "\\%")
	pattern = strings.ReplaceAll(pattern, "_", "\\_")
	return pattern
}

// isASCII reports whether s has no bytes above 0x7f. SQLite's LIKE only
// folds case for ASCII letters.
func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7f {
			return false
		}
	}
	return true
}
