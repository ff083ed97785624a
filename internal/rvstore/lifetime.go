package rvstore

import (
	"errors"
	"strconv"
	"time"

	"golang.org/x/xerrors"
)

// Lifetime is the number of days a listing stays up before it expires.
type Lifetime int

const (
	DefaultLifetime Lifetime = 7
	MaxLifetime     Lifetime = 21
)

var (
	ErrLifetimeNotANumber = xerrors.New("Lifetime is not a number.")
	ErrLifetimeTooLong    = xerrors.Errorf("Lifetime exceeds the maximum of %d days.", MaxLifetime)
)

// ParseLifetime parses a requested lifetime in days as it arrives from a form.
// Anything that isn't a non-negative integer is ErrLifetimeNotANumber, and
// anything over MaxLifetime is ErrLifetimeTooLong. Values are never clamped.
func ParseLifetime(s string) (Lifetime, error) {
	days, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) && errors.Is(numErr.Err, strconv.ErrRange) {
			return 0, ErrLifetimeTooLong
		}
		return 0, ErrLifetimeNotANumber
	}

	if Lifetime(days) > MaxLifetime {
		return 0, ErrLifetimeTooLong
	}

	return Lifetime(days), nil
}

func (l Lifetime) Duration() time.Duration {
	return time.Duration(l) * 24 * time.Hour
}

func (l Lifetime) String() string {
	return strconv.Itoa(int(l))
}
