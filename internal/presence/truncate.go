package presence

import "strings"

const ellipsis = "..."

// Truncate shortens text to at most maxLen runes plus an ellipsis. It backs
// off to the last space inside the cut so words are not split.
func Truncate(text string, maxLen int) string {
	rs := []rune(text)
	if len(rs) <= maxLen {
		return text
	}
	if maxLen < 0 {
		maxLen = 0
	}
	cut := string(rs[:maxLen])
	if i := strings.LastIndex(cut, " "); i != -1 {
		cut = cut[:i]
	}
	return cut + ellipsis
}
