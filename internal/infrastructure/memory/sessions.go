package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/trinck-api/internal/domain"
)

type SessionStore struct {
	mu      sync.Mutex
	byToken map[string]*domain.SessionRecord
}

func NewSessionStore() *SessionStore {
	return &SessionStore{byToken: make(map[string]*domain.SessionRecord)}
}

func (s *SessionStore) Put(_ context.Context, rec *domain.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byToken[rec.Token]; ok {
		return fmt.Errorf("session token exists: %w", domain.ErrConflict)
	}
	cp := *rec
	s.byToken[rec.Token] = &cp
	return nil
}

func (s *SessionStore) Get(_ context.Context, token string) (*domain.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byToken[token]
	if !ok {
		return nil, fmt.Errorf("session not found: %w", domain.ErrNotFound)
	}
	cp := *rec
	return &cp, nil
}

// Touch slides lastActivity to now only if the session was active after cutoff.
func (s *SessionStore) Touch(_ context.Context, token string, now, cutoff time.Time) (*domain.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byToken[token]
	if !ok {
		return nil, fmt.Errorf("session not found: %w", domain.ErrNotFound)
	}
	if rec.IdleSince(cutoff) {
		return nil, fmt.Errorf("session idle: %w", domain.ErrSessionInvalid)
	}
	rec.LastActivity = now
	cp := *rec
	return &cp, nil
}

func (s *SessionStore) Delete(_ context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byToken[token]
	delete(s.byToken, token)
	return ok, nil
}

// Rotate atomically replaces oldToken with next.
func (s *SessionStore) Rotate(_ context.Context, oldToken string, next *domain.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byToken[oldToken]; !ok {
		return fmt.Errorf("session not found: %w", domain.ErrNotFound)
	}
	if _, ok := s.byToken[next.Token]; ok {
		return fmt.Errorf("session token exists: %w", domain.ErrConflict)
	}
	delete(s.byToken, oldToken)
	cp := *next
	s.byToken[next.Token] = &cp
	return nil
}

func (s *SessionStore) ListByIdentity(_ context.Context, identityID string) ([]domain.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.SessionRecord
	for _, rec := range s.byToken {
		if rec.IdentityID == identityID {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *SessionStore) DeleteIdleSince(_ context.Context, cutoff time.Time) ([]domain.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []domain.SessionRecord
	for tok, rec := range s.byToken {
		if rec.IdleSince(cutoff) {
			removed = append(removed, *rec)
			delete(s.byToken, tok)
		}
	}
	return removed, nil
}
