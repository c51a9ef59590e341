package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/trinck-api/internal/domain"
	"github.com/trinck-api/internal/infrastructure/google"
	jwtinfra "github.com/trinck-api/internal/infrastructure/jwt"
	"github.com/trinck-api/internal/pkg/id"
	"github.com/trinck-api/internal/pkg/phone"
	"golang.org/x/crypto/bcrypt"
)

// DynamoDB attribute names used in partial update maps.
const (
	fieldEmailConfirmed = "email_confirmed"
	fieldPhoneConfirmed = "phone_confirmed"
	fieldGoogleSub      = "google_sub"
)

type Service interface {
	Register(ctx context.Context, req domain.RegisterIdentityRequest) (*domain.Identity, error)
	Authenticate(ctx context.Context, email, password string) (*domain.Identity, error)
	GoogleLogin(ctx context.Context, idToken string) (*domain.Identity, error)
	Get(ctx context.Context, identityID string) (*domain.Identity, error)
	MarkDestinationVerified(ctx context.Context, typ domain.DestinationType, destination string) error
	// OnVerified lets the service listen for successful verifications.
	OnVerified(ctx context.Context, ev domain.VerificationEvent) error
}

// Store persists identities with unique email and phone.
type Store interface {
	Put(ctx context.Context, ident *domain.Identity) error
	Get(ctx context.Context, identityID string) (*domain.Identity, error)
	GetByEmail(ctx context.Context, email string) (*domain.Identity, error)
	GetByPhone(ctx context.Context, phone string) (*domain.Identity, error)
	Update(ctx context.Context, identityID string, updates map[string]interface{}) error
}

type tokenVerifier interface {
	Verify(token string) (*jwtinfra.Claims, error)
}

type googleVerifier interface {
	Verify(ctx context.Context, token string) (*google.Payload, error)
}

type ServiceDeps struct {
	Store          Store
	TokenVerifier  tokenVerifier
	GoogleVerifier googleVerifier
}

type service struct {
	store  Store
	tokens tokenVerifier
	google googleVerifier
}

func NewService(deps ServiceDeps) Service {
	return &service{store: deps.Store, tokens: deps.TokenVerifier, google: deps.GoogleVerifier}
}

func (s *service) Register(ctx context.Context, req domain.RegisterIdentityRequest) (*domain.Identity, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	var phoneDigits string
	if req.Phone != "" {
		var err error
		if phoneDigits, err = phone.Normalize(req.Phone); err != nil {
			return nil, fmt.Errorf("phone: %w", domain.ErrBadRequest)
		}
	}
	if _, err := s.store.GetByEmail(ctx, email); err == nil {
		return nil, fmt.Errorf("email already registered: %w", domain.ErrConflict)
	}
	if phoneDigits != "" {
		if _, err := s.store.GetByPhone(ctx, phoneDigits); err == nil {
			return nil, fmt.Errorf("phone already registered: %w", domain.ErrConflict)
		}
	}

	now := time.Now().UTC()
	ident := &domain.Identity{
		IdentityID:   id.New(),
		Email:        email,
		Phone:        phoneDigits,
		Name:         req.Name,
		Role:         req.Role,
		AuthProvider: domain.ProviderLocal,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if req.VerificationToken != "" {
		if err := s.applyAttestation(ident, req.VerificationToken); err != nil {
			return nil, err
		}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	ident.PasswordHash = string(hash)
	if err := s.store.Put(ctx, ident); err != nil {
		return nil, err
	}
	return ident, nil
}

// applyAttestation marks the destination proven by a verification token as confirmed.
func (s *service) applyAttestation(ident *domain.Identity, tok string) error {
	if s.tokens == nil {
		return fmt.Errorf("verification tokens not enabled: %w", domain.ErrBadRequest)
	}
	claims, err := s.tokens.Verify(tok)
	if err != nil {
		return fmt.Errorf("invalid verification token: %w", domain.ErrUnauthorized)
	}
	switch {
	case claims.Type == domain.DestinationEmail && claims.Destination == ident.Email:
		ident.EmailConfirmed = true
	case claims.Type == domain.DestinationPhone && claims.Destination == ident.Phone:
		ident.PhoneConfirmed = true
	default:
		return fmt.Errorf("verification token is for another destination: %w", domain.ErrBadRequest)
	}
	return nil
}

func (s *service) Authenticate(ctx context.Context, email, password string) (*domain.Identity, error) {
	ident, err := s.store.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("invalid credentials: %w", domain.ErrUnauthorized)
		}
		return nil, err
	}
	if ident.PasswordHash == "" {
		return nil, fmt.Errorf("account uses %s sign-in: %w", ident.AuthProvider, domain.ErrUnauthorized)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(ident.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("invalid credentials: %w", domain.ErrUnauthorized)
	}
	return ident, nil
}

func (s *service) GoogleLogin(ctx context.Context, idToken string) (*domain.Identity, error) {
	if s.google == nil {
		return nil, fmt.Errorf("google sign-in not configured: %w", domain.ErrUnauthorized)
	}
	p, err := s.google.Verify(ctx, idToken)
	if err != nil {
		return nil, err
	}
	if p.Email == "" || !p.EmailVerified {
		return nil, fmt.Errorf("google email not verified: %w", domain.ErrUnauthorized)
	}

	ident, err := s.store.GetByEmail(ctx, p.Email)
	switch {
	case err == nil:
		if ident.GoogleSub != "" && ident.GoogleSub != p.Sub {
			return nil, fmt.Errorf("google account mismatch: %w", domain.ErrUnauthorized)
		}
		if ident.GoogleSub == "" {
			updates := map[string]interface{}{fieldGoogleSub: p.Sub, fieldEmailConfirmed: true}
			if err := s.store.Update(ctx, ident.IdentityID, updates); err != nil {
				return nil, err
			}
			ident.GoogleSub, ident.EmailConfirmed = p.Sub, true
		}
		return ident, nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	now := time.Now().UTC()
	ident = &domain.Identity{
		IdentityID:     id.New(),
		Email:          p.Email,
		Name:           p.Name,
		Role:           domain.RoleCustomer,
		EmailConfirmed: true,
		AuthProvider:   domain.ProviderGoogle,
		GoogleSub:      p.Sub,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Put(ctx, ident); err != nil {
		return nil, err
	}
	slog.Info("identity created from google sign-in", "identity_id", ident.IdentityID)
	return ident, nil
}

func (s *service) Get(ctx context.Context, identityID string) (*domain.Identity, error) {
	return s.store.Get(ctx, identityID)
}

// MarkDestinationVerified confirms the destination on the identity that owns
// it. A destination with no identity yet is not an error.
func (s *service) MarkDestinationVerified(ctx context.Context, typ domain.DestinationType, destination string) error {
	var (
		ident *domain.Identity
		err   error
		field string
	)
	switch typ {
	case domain.DestinationEmail:
		ident, err = s.store.GetByEmail(ctx, destination)
		field = fieldEmailConfirmed
	case domain.DestinationPhone:
		ident, err = s.store.GetByPhone(ctx, destination)
		field = fieldPhoneConfirmed
	default:
		return fmt.Errorf("destination type %q: %w", typ, domain.ErrBadRequest)
	}
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.store.Update(ctx, ident.IdentityID, map[string]interface{}{field: true})
}

func (s *service) OnVerified(ctx context.Context, ev domain.VerificationEvent) error {
	return s.MarkDestinationVerified(ctx, ev.Type, ev.Destination)
}
