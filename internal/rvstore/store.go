package rvstore

import (
	"context"
	"strings"
	"time"

	"golang.org/x/xerrors"
)

var (
	ErrIncorrectPassword = xerrors.New("incorrect password")
	ErrListingNotFound   = xerrors.New("listing does not exist")
)

// ValidationError is returned when content or a requested lifetime breaks one
// or more rules. Every violated rule is reported, along with the content that
// was rejected so that it can be shown back to the user as it was submitted.
type ValidationError struct {
	Content  Content
	Messages []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Messages, " ")
}

// IDGenerator produces listing identifiers. Implementations must never return
// the same identifier twice over their lifetime.
type IDGenerator interface {
	NextID() string
}

// ListingStore owns the set of live listings. All operations are safe for
// concurrent use.
type ListingStore interface {
	Count() int
	Create(ctx context.Context, content *Content) (string, error)
	Delete(ctx context.Context, id, password string) error
	Get(ctx context.Context, id string) (*Listing, error)
	GetNextAfter(ctx context.Context, id string) *Listing
	List(ctx context.Context) ([]*Listing, error)
	ResetTimeout(ctx context.Context, id, password, requestedDays string) error
	SweepExpired() int
}

// PlaceholderID is the identifier of the listing GetNextAfter hands out when
// there's nothing in the store.
const PlaceholderID = "empty"

// Placeholder produces the synthetic listing shown in place of real content
// when the store is empty. It has a zero lifetime and is never stored.
func Placeholder(now time.Time) *Listing {
	return &Listing{
		ID:        PlaceholderID,
		CreatedAt: now,
		ExpiresAt: now,
		Content: Content{
			Who:       "Nobody",
			What:      "Nothing yet",
			ShortDesc: "There are no dates right now. Be the first to post one!",
		},
	}
}
