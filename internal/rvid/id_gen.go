// Package rvid issues listing identifiers.
//
// Identifiers come from a process-wide counter that's run through Hashids with
// a fixed alphabet and salt. Hashids is a bijection over non-negative integers,
// so as long as the counter doesn't wrap every identifier is unique, while
// neighboring counter values produce unrelated looking strings that don't give
// away how many listings have been posted or in what order.
package rvid

import (
	"fmt"
	"math"
	"sync/atomic"

	hashids "github.com/speps/go-hashids/v2"
	"golang.org/x/xerrors"
)

const (
	// Alphabet is restricted to characters that are safe to put in a URL path
	// segment without escaping.
	Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ1234567890"

	// DefaultSalt keys the scrambler when one isn't configured.
	DefaultSalt = "metalab rendezvous"

	// MinLength is the shortest identifier produced. Hashids pads shorter
	// encodings up to this length so that early identifiers look like later
	// ones.
	MinLength = 8
)

var ErrIDInvalid = xerrors.New("identifier is invalid")

type Generator struct {
	counter atomic.Uint64
	hashID  *hashids.HashID
}

func NewGenerator(salt string) (*Generator, error) {
	data := hashids.NewData()
	data.Alphabet = Alphabet
	data.MinLength = MinLength
	data.Salt = salt

	hashID, err := hashids.NewWithData(data)
	if err != nil {
		return nil, xerrors.Errorf("error initializing hashids: %w", err)
	}

	return &Generator{hashID: hashID}, nil
}

// Same as the above, but panics in case of failure.
func MustNewGenerator(salt string) *Generator {
	gen, err := NewGenerator(salt)
	if err != nil {
		panic(err)
	}
	return gen
}

// NextID returns a new identifier. It's safe to call concurrently.
//
// Running out of counter space is fatal, but with 63 bits to work with it's not
// something that happens in practice.
func (g *Generator) NextID() string {
	n := g.counter.Add(1) - 1
	if n > math.MaxInt64 {
		panic("identifier counter exhausted")
	}

	return g.encode(int64(n))
}

// Decode returns the counter value that produced the given identifier.
func (g *Generator) Decode(id string) (int64, error) {
	numbers, err := g.hashID.DecodeInt64WithError(id)
	if err != nil || len(numbers) != 1 {
		return 0, ErrIDInvalid
	}

	// Only accept the canonical encoding of a number.
	if g.encode(numbers[0]) != id {
		return 0, ErrIDInvalid
	}

	return numbers[0], nil
}

func (g *Generator) encode(n int64) string {
	id, err := g.hashID.EncodeInt64([]int64{n})
	if err != nil {
		// Only possible for negative input, which the counter never produces.
		panic(fmt.Sprintf("error encoding identifier %d: %v", n, err))
	}
	return id
}
