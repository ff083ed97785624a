package stringutil

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Excerpt shortens s to at most maxChars characters, replacing whatever was cut
// off with an ellipsis. It cuts at a word boundary where one is reasonably
// close, and never in the middle of a multi-byte character.
func Excerpt(s string, maxChars int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= maxChars {
		return s
	}

	runes := []rune(s)
	cut := string(runes[:maxChars])

	// Prefer to end on a full word, but not at the cost of most of the text.
	if i := strings.LastIndexAny(cut, " \t\n"); i > len(cut)/2 {
		cut = cut[:i]
	}

	return strings.TrimRight(cut, " \t\n.,;:") + "…"
}

// SampleLong samples a long string by taking some content from the beginning
// and some from the end. Useful when you want to show a part of something like
// a response body which might be very long, or when reflecting user input into
// logs or back in a response body in case they sent something degenerately
// long.
func SampleLong(s string) string {
	length := utf8.RuneCountInString(s)
	if length <= 100 {
		return s
	}

	runes := []rune(s)
	return fmt.Sprintf("%s ... [TRUNCATED; total_length: %v characters] ... %s", string(runes[:50]), length, string(runes[length-50:]))
}
