package oracle

import "strings"

// sentence terminators considered when truncating at a boundary.
var sentenceEnders = []string{". ", ".\n", "! ", "!\n", "? ", "?\n", ";\n"}

// TruncateAtSentence cuts text to at most maxChars, preferring the last
// sentence boundary within the budget. If not even one sentence fits, it
// falls back to a hard character cut.
func TruncateAtSentence(text string, maxChars int) string {
	if maxChars <= 0 || len(text) <= maxChars {
		return text
	}
	window := text[:maxChars]

	best := -1
	for _, end := range sentenceEnders {
		if i := strings.LastIndex(window, end); i >= 0 && i+len(end) > best {
			best = i + len(end)
		}
	}
	if best > 0 {
		return strings.TrimRight(window[:best], " \n")
	}
	return window
}
