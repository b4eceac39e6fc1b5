package strings

import (
	"strings"
)

// DefaultDescriptionMaxLen is the default maximum length for descriptions
// in formatted output.
const DefaultDescriptionMaxLen = 60

// MinTruncateLen is the minimum maxLen value for TruncateDescription.
// Values smaller than this would not leave room for content plus "...".
const MinTruncateLen = 4

// TruncateDescription truncates a string to maxLen characters and ensures
// single-line output: newlines become spaces, runs of whitespace collapse,
// and "..." marks truncation. Operates on runes so multi-byte characters
// are never cut in half.
func TruncateDescription(s string, maxLen int) string {
	if maxLen < MinTruncateLen {
		maxLen = MinTruncateLen
	}

	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}
