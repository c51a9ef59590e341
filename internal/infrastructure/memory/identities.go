package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/trinck-api/internal/domain"
)

type IdentityStore struct {
	mu   sync.Mutex
	byID map[string]*domain.Identity
}

func NewIdentityStore() *IdentityStore {
	return &IdentityStore{byID: make(map[string]*domain.Identity)}
}

// Put inserts a new identity; email and phone must be unique.
func (s *IdentityStore) Put(_ context.Context, ident *domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cur := range s.byID {
		if cur.IdentityID == ident.IdentityID ||
			(ident.Email != "" && cur.Email == ident.Email) ||
			(ident.Phone != "" && cur.Phone == ident.Phone) {
			return fmt.Errorf("identity exists: %w", domain.ErrConflict)
		}
	}
	cp := *ident
	s.byID[ident.IdentityID] = &cp
	return nil
}

func (s *IdentityStore) Get(_ context.Context, identityID string) (*domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ident, ok := s.byID[identityID]
	if !ok {
		return nil, fmt.Errorf("identity not found: %w", domain.ErrNotFound)
	}
	cp := *ident
	return &cp, nil
}

func (s *IdentityStore) GetByEmail(_ context.Context, email string) (*domain.Identity, error) {
	return s.find(func(i *domain.Identity) bool { return i.Email == email })
}

func (s *IdentityStore) GetByPhone(_ context.Context, phone string) (*domain.Identity, error) {
	return s.find(func(i *domain.Identity) bool { return i.Phone == phone })
}

func (s *IdentityStore) find(match func(*domain.Identity) bool) (*domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ident := range s.byID {
		if match(ident) {
			cp := *ident
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("identity not found: %w", domain.ErrNotFound)
}

// Update applies the attribute map used by the DynamoDB store. Only the
// confirmation flags, google_sub and name are mutable.
func (s *IdentityStore) Update(_ context.Context, identityID string, updates map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ident, ok := s.byID[identityID]
	if !ok {
		return fmt.Errorf("identity not found: %w", domain.ErrNotFound)
	}
	for k, v := range updates {
		switch k {
		case "email_confirmed":
			ident.EmailConfirmed, _ = v.(bool)
		case "phone_confirmed":
			ident.PhoneConfirmed, _ = v.(bool)
		case "google_sub":
			ident.GoogleSub, _ = v.(string)
		case "name":
			ident.Name, _ = v.(string)
		default:
			return fmt.Errorf("field %s not updatable: %w", k, domain.ErrBadRequest)
		}
	}
	ident.UpdatedAt = time.Now().UTC()
	return nil
}
