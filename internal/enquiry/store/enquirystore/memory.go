package enquirystore

import (
	"context"
	"strings"
	"sync"
	"time"

	"tuitionmatch/internal/enquiry/models"
	"tuitionmatch/pkg/sentinel"
)

// InMemory is a mutex-guarded store used in tests and dev mode.
type InMemory struct {
	mu          sync.RWMutex
	byReference map[string]*models.Enquiry
}

// NewInMemory constructs an empty in-memory enquiry store.
func NewInMemory() *InMemory {
	return &InMemory{byReference: make(map[string]*models.Enquiry)}
}

// Create persists the aggregate. Returns sentinel.ErrReferenceInUse when the
// support reference number is already taken, mirroring the unique constraint
// the Postgres store relies on.
func (s *InMemory) Create(ctx context.Context, enquiry *models.Enquiry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := strings.ToUpper(enquiry.SupportReferenceNumber)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byReference[key]; exists {
		return sentinel.ErrReferenceInUse
	}
	cp := *enquiry
	s.byReference[key] = &cp
	return nil
}

// FindBySupportReference returns the enquiry with the given reference number,
// or sentinel.ErrNotFound.
func (s *InMemory) FindBySupportReference(ctx context.Context, reference string) (*models.Enquiry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	enquiry, ok := s.byReference[strings.ToUpper(reference)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *enquiry
	return &cp, nil
}

// FindMagicLinkByToken returns the magic link carrying the given token, or
// sentinel.ErrNotFound.
func (s *InMemory) FindMagicLinkByToken(ctx context.Context, token string) (*models.MagicLink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, enquiry := range s.byReference {
		for _, link := range enquiry.MagicLinks {
			if link.Token == token {
				cp := link
				return &cp, nil
			}
		}
	}
	return nil, sentinel.ErrNotFound
}

// Count returns the number of stored enquiries.
func (s *InMemory) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byReference), nil
}

// DeleteExpiredMagicLinks removes links whose expiry has passed, returning
// how many were removed.
func (s *InMemory) DeleteExpiredMagicLinks(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for _, enquiry := range s.byReference {
		kept := enquiry.MagicLinks[:0]
		for _, link := range enquiry.MagicLinks {
			if link.Expired(now) {
				removed++
				continue
			}
			kept = append(kept, link)
		}
		enquiry.MagicLinks = kept
	}
	return removed, nil
}
