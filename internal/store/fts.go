package store

import (
	"strings"
	"unicode"
)

// ftsQuery turns free text into an FTS5 query matching rows that contain
// every word. Each term is quoted so user input cannot inject FTS5
// operators; terms without letters or digits are dropped. Returns "" when
// nothing searchable remains.
func ftsQuery(text string) string {
	var quoted []string
	for _, w := range strings.Fields(text) {
		if strings.IndexFunc(w, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) < 0 {
			continue
		}
		quoted = append(quoted, `"`+strings.ReplaceAll(w, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " ")
}
