// Package memory holds single-process store implementations. Each table is
// guarded by its own mutex so read-modify-write operations are atomic.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/trinck-api/internal/domain"
)

type VerificationStore struct {
	mu   sync.Mutex
	byID map[string]*domain.VerificationRequest
}

func NewVerificationStore() *VerificationStore {
	return &VerificationStore{byID: make(map[string]*domain.VerificationRequest)}
}

func (s *VerificationStore) Create(_ context.Context, v *domain.VerificationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[v.ID]; ok {
		return fmt.Errorf("verification %s exists: %w", v.ID, domain.ErrConflict)
	}
	s.byID[v.ID] = v.Clone()
	return nil
}

func (s *VerificationStore) Get(_ context.Context, verificationID string) (*domain.VerificationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.byID[verificationID]
	if !ok {
		return nil, fmt.Errorf("verification not found: %w", domain.ErrNotFound)
	}
	return v.Clone(), nil
}

// Mutate runs fn on a copy under the table lock and stores the copy unless
// fn fails. domain.ErrNoChange returns the current record without writing.
func (s *VerificationStore) Mutate(_ context.Context, verificationID string, fn func(*domain.VerificationRequest) error) (*domain.VerificationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[verificationID]
	if !ok {
		return nil, fmt.Errorf("verification not found: %w", domain.ErrNotFound)
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		if errors.Is(err, domain.ErrNoChange) {
			return cur.Clone(), nil
		}
		return nil, err
	}
	next.Version = cur.Version + 1
	s.byID[verificationID] = next
	return next.Clone(), nil
}

func (s *VerificationStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, v := range s.byID {
		if now.After(v.ExpiresAt) {
			delete(s.byID, k)
			n++
		}
	}
	return n, nil
}
