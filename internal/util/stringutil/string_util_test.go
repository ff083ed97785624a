package stringutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExcerpt(t *testing.T) {
	require.Equal(t, "not very long", Excerpt("not very long", 20))
	require.Equal(t, "trimmed", Excerpt("  trimmed\n", 20))

	// Exactly at the limit (not shortened).
	require.Equal(t, "0123456789", Excerpt("0123456789", 10))

	// Cut at a word boundary.
	require.Equal(t, "Looking for someone…", Excerpt("Looking for someone to solder with", 22))

	// No usable word boundary, so cut mid-word.
	require.Equal(t, "abcdefghij…", Excerpt("abcdefghijklmnop", 10))

	// Trailing punctuation is dropped before the ellipsis.
	require.Equal(t, "Bring your own iron…", Excerpt("Bring your own iron, flux is on me", 21))

	// Multi-byte characters are counted as one and never split.
	require.Equal(t, "äöüäöüäöüä…", Excerpt(strings.Repeat("äöü", 10), 10))
}

func TestSampleLongString(t *testing.T) {
	require.Equal(t,
		"not very long",
		SampleLong("not very long"),
	)

	// Exactly one hundred characters (not sampled).
	require.Equal(t,
		strings.Repeat("*", 100),
		SampleLong(strings.Repeat("*", 100)),
	)

	// 101 characters (sampled).
	require.Equal(t,
		strings.Repeat("*", 50)+" ... [TRUNCATED; total_length: 101 characters] ... "+strings.Repeat("*", 50),
		SampleLong(strings.Repeat("*", 101)),
	)

	// Sampling counts characters rather than bytes.
	require.Equal(t,
		strings.Repeat("ß", 50)+" ... [TRUNCATED; total_length: 120 characters] ... "+strings.Repeat("ß", 50),
		SampleLong(strings.Repeat("ß", 120)),
	)
}
