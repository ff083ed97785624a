package rvid

import (
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var urlSafeRE = regexp.MustCompile(`\A[a-zA-Z0-9]+\z`)

func TestGeneratorNextID(t *testing.T) {
	gen := MustNewGenerator(DefaultSalt)

	seen := make(map[string]struct{})
	for i := 0; i < 10_000; i++ {
		id := gen.NextID()

		require.GreaterOrEqual(t, len(id), MinLength)
		require.Regexp(t, urlSafeRE, id)

		_, ok := seen[id]
		require.False(t, ok, "duplicate identifier %q on iteration %d", id, i)
		seen[id] = struct{}{}
	}
}

func TestGeneratorNextIDConcurrent(t *testing.T) {
	defer goleak.VerifyNone(t)

	const (
		numGoroutines = 20
		numPerRoutine = 500
	)

	var (
		gen = MustNewGenerator(DefaultSalt)
		ids = make(chan string, numGoroutines*numPerRoutine)
		wg  sync.WaitGroup
	)

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < numPerRoutine; j++ {
				ids <- gen.NextID()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]struct{})
	for id := range ids {
		seen[id] = struct{}{}
	}
	require.Len(t, seen, numGoroutines*numPerRoutine)
}

func TestGeneratorDeterministic(t *testing.T) {
	gen1 := MustNewGenerator(DefaultSalt)
	gen2 := MustNewGenerator(DefaultSalt)
	otherSalt := MustNewGenerator("another salt")

	id1, id2, id3 := gen1.NextID(), gen2.NextID(), otherSalt.NextID()
	require.Equal(t, id1, id2)
	require.NotEqual(t, id1, id3)
}

func TestGeneratorDecode(t *testing.T) {
	gen := MustNewGenerator(DefaultSalt)

	for i := int64(0); i < 100; i++ {
		n, err := gen.Decode(gen.NextID())
		require.NoError(t, err)
		require.Equal(t, i, n)
	}

	t.Run("Invalid", func(t *testing.T) {
		for _, id := range []string{"", "empty", "!!!!!!!!", "not-an-id"} {
			_, err := gen.Decode(id)
			require.ErrorIs(t, err, ErrIDInvalid, "input: %q", id)
		}
	})
}

func TestNewGeneratorEmptySalt(t *testing.T) {
	_, err := NewGenerator("")
	require.NoError(t, err)
}
