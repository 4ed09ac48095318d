package util

import (
	"strings"
	"unicode"
)

const maxLogValueLen = 128

// SanitizeLogValue makes a caller-supplied identifier safe to log: surrounding
// whitespace and control characters are removed and the result is truncated.
func SanitizeLogValue(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	if len(s) > maxLogValueLen {
		// cut on a rune boundary
		cut := maxLogValueLen
		for cut > 0 && !utf8Start(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	return s
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}
