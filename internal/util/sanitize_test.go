package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeLogValue_StripsControlCharacters(t *testing.T) {
	assert.Equal(t, "HR-LAPTOP-14forged", SanitizeLogValue(" HR-LAPTOP-14\nforged\r\n"))
}

func TestSanitizeLogValue_Truncates(t *testing.T) {
	long := strings.Repeat("a", 300)
	got := SanitizeLogValue(long)
	assert.Equal(t, maxLogValueLen+3, len(got))
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestSanitizeLogValue_TruncatesOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("é", 100) // 2 bytes each
	got := SanitizeLogValue(long)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, strings.Repeat("é", 64)+"...", got)
}
