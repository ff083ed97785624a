package rvmemorystore

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/metalab/rendezvous/internal/rvstore"
)

// MemoryStore keeps listings in a slice in the order they were created, behind
// a single lock covering the whole collection. Lookups are linear, which is
// fine for a board that tops out at a few hundred postings.
//
// Listings are stored by value and copied on the way out, so callers can't
// reach into the store and modify one.
type MemoryStore struct {
	idGenerator rvstore.IDGenerator
	listings    []rvstore.Listing
	mut         sync.RWMutex
	timeNow     func() time.Time
}

var _ rvstore.ListingStore = &MemoryStore{}

func NewMemoryStore(idGenerator rvstore.IDGenerator) *MemoryStore {
	return &MemoryStore{
		idGenerator: idGenerator,
		timeNow:     time.Now,
	}
}

func (s *MemoryStore) Count() int {
	s.mut.RLock()
	defer s.mut.RUnlock()

	return len(s.listings)
}

func (s *MemoryStore) Create(ctx context.Context, content *rvstore.Content) (string, error) {
	lifetime, messages := content.Validate()
	if len(messages) > 0 {
		return "", &rvstore.ValidationError{Content: *content, Messages: messages}
	}

	s.mut.Lock()
	defer s.mut.Unlock()

	now := s.timeNow()
	listing := rvstore.Listing{
		ID:        s.idGenerator.NextID(),
		CreatedAt: now,
		ExpiresAt: now.Add(lifetime.Duration()),
		Content:   *content,
	}
	s.listings = append(s.listings, listing)

	return listing.ID, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id, password string) error {
	s.mut.Lock()
	defer s.mut.Unlock()

	i, err := s.authorizedIndex(id, password)
	if err != nil {
		return err
	}

	s.listings = slices.Delete(s.listings, i, i+1)
	return nil
}

// Get returns the listing with the given ID. Listings that are past their
// expiry but haven't been swept yet are still returned.
func (s *MemoryStore) Get(ctx context.Context, id string) (*rvstore.Listing, error) {
	s.mut.RLock()
	defer s.mut.RUnlock()

	i := s.index(id)
	if i < 0 {
		return nil, rvstore.ErrListingNotFound
	}

	listing := s.listings[i]
	return &listing, nil
}

// GetNextAfter returns the listing following the one with the given ID,
// wrapping back around to the first when the ID is the last one or isn't
// found. An empty ID gets the first listing. If there's nothing stored at all,
// a placeholder is returned instead.
func (s *MemoryStore) GetNextAfter(ctx context.Context, id string) *rvstore.Listing {
	s.mut.RLock()
	defer s.mut.RUnlock()

	if len(s.listings) < 1 {
		return rvstore.Placeholder(s.timeNow())
	}

	next := 0
	if id != "" {
		if i := s.index(id); i >= 0 && i+1 < len(s.listings) {
			next = i + 1
		}
	}

	listing := s.listings[next]
	return &listing
}

func (s *MemoryStore) List(ctx context.Context) ([]*rvstore.Listing, error) {
	s.mut.RLock()
	defer s.mut.RUnlock()

	listings := make([]*rvstore.Listing, len(s.listings))
	for i := range s.listings {
		listing := s.listings[i]
		listings[i] = &listing
	}

	return listings, nil
}

// ResetTimeout sets a listing to expire the given number of days from now.
// Zero days removes the listing immediately. The requested days are checked
// before the listing is even looked up.
func (s *MemoryStore) ResetTimeout(ctx context.Context, id, password, requestedDays string) error {
	lifetime, err := rvstore.ParseLifetime(requestedDays)
	if err != nil {
		return &rvstore.ValidationError{Messages: []string{err.Error()}}
	}

	s.mut.Lock()
	defer s.mut.Unlock()

	i, err := s.authorizedIndex(id, password)
	if err != nil {
		return err
	}

	if lifetime == 0 {
		s.listings = slices.Delete(s.listings, i, i+1)
		return nil
	}

	s.listings[i].ExpiresAt = s.timeNow().Add(lifetime.Duration())
	return nil
}

// SetTimeNow overrides the store's clock. For use in tests.
func (s *MemoryStore) SetTimeNow(timeNow func() time.Time) {
	s.mut.Lock()
	defer s.mut.Unlock()

	s.timeNow = timeNow
}

// SweepExpired removes every listing whose expiry is strictly before the
// current time and returns how many were removed.
func (s *MemoryStore) SweepExpired() int {
	s.mut.Lock()
	defer s.mut.Unlock()

	now := s.timeNow()
	numBefore := len(s.listings)

	s.listings = slices.DeleteFunc(s.listings, func(listing rvstore.Listing) bool {
		return listing.ExpiresAt.Before(now)
	})

	return numBefore - len(s.listings)
}

// Looks up a listing's index and checks the given password against it. Must be
// called with the lock held.
func (s *MemoryStore) authorizedIndex(id, password string) (int, error) {
	i := s.index(id)
	if i < 0 {
		return -1, rvstore.ErrListingNotFound
	}

	if subtle.ConstantTimeCompare([]byte(s.listings[i].Content.Password), []byte(password)) != 1 {
		return -1, rvstore.ErrIncorrectPassword
	}

	return i, nil
}

// Must be called with the lock held.
func (s *MemoryStore) index(id string) int {
	return slices.IndexFunc(s.listings, func(listing rvstore.Listing) bool {
		return listing.ID == id
	})
}
