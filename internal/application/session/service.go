package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/trinck-api/internal/domain"
	"github.com/trinck-api/internal/pkg/id"
	pkgtoken "github.com/trinck-api/internal/pkg/token"
)

type Service interface {
	Create(ctx context.Context, identityID, deviceInfo, originIP string) (*domain.SessionRecord, error)
	Validate(ctx context.Context, token string) (*domain.SessionRecord, error)
	Logout(ctx context.Context, token string) (bool, error)
	Refresh(ctx context.Context, token string, deviceInfo *string, originIP string) (*domain.SessionRecord, error)
	ListForIdentity(ctx context.Context, identityID string) ([]domain.SessionRecord, error)
	Sweep(ctx context.Context) (int, error)
	// ExpiresAt is when rec lapses if no further activity happens.
	ExpiresAt(rec *domain.SessionRecord) time.Time
}

// Store persists sessions keyed by token. Touch and Rotate must be atomic.
type Store interface {
	Put(ctx context.Context, rec *domain.SessionRecord) error
	Get(ctx context.Context, token string) (*domain.SessionRecord, error)
	Touch(ctx context.Context, token string, now, cutoff time.Time) (*domain.SessionRecord, error)
	Delete(ctx context.Context, token string) (bool, error)
	Rotate(ctx context.Context, oldToken string, next *domain.SessionRecord) error
	ListByIdentity(ctx context.Context, identityID string) ([]domain.SessionRecord, error)
	DeleteIdleSince(ctx context.Context, cutoff time.Time) ([]domain.SessionRecord, error)
}

type auditor interface {
	Record(ctx context.Context, ev domain.AuditEvent) error
}

type observer interface {
	ObserveSession(event string)
}

type ServiceDeps struct {
	Store             Store
	InactivityTimeout time.Duration
	Auditor           auditor
	Observer          observer
	Now               func() time.Time
	NewToken          func() (string, error)
}

type service struct {
	store    Store
	timeout  time.Duration
	auditor  auditor
	observer observer
	now      func() time.Time
	newToken func() (string, error)
}

func NewService(d ServiceDeps) Service {
	s := &service{
		store:    d.Store,
		timeout:  d.InactivityTimeout,
		auditor:  d.Auditor,
		observer: d.Observer,
		now:      d.Now,
		newToken: d.NewToken,
	}
	if s.timeout <= 0 {
		s.timeout = 24 * time.Hour
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.newToken == nil {
		s.newToken = pkgtoken.NewSessionToken
	}
	return s
}

func (s *service) Create(ctx context.Context, identityID, deviceInfo, originIP string) (*domain.SessionRecord, error) {
	if identityID == "" {
		return nil, fmt.Errorf("identity id required: %w", domain.ErrBadRequest)
	}
	tok, err := s.newToken()
	if err != nil {
		return nil, err
	}
	now := s.now()
	rec := &domain.SessionRecord{
		ID:           id.New(),
		Token:        tok,
		IdentityID:   identityID,
		DeviceInfo:   deviceInfo,
		OriginIP:     originIP,
		CreatedAt:    now,
		LastActivity: now,
	}
	if err := s.store.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	s.audit(ctx, domain.AuditSessionCreated, rec)
	s.observe("created")
	return rec, nil
}

func (s *service) Validate(ctx context.Context, token string) (*domain.SessionRecord, error) {
	if token == "" {
		return nil, domain.ErrSessionInvalid
	}
	now := s.now()
	rec, err := s.store.Touch(ctx, token, now, now.Add(-s.timeout))
	switch {
	case err == nil:
		return rec, nil
	case errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("unknown token: %w", domain.ErrSessionInvalid)
	case errors.Is(err, domain.ErrSessionInvalid):
		s.expire(ctx, token)
		return nil, err
	}
	return nil, err
}

// expire removes an idle session found during validation.
func (s *service) expire(ctx context.Context, token string) {
	rec, err := s.store.Get(ctx, token)
	if err != nil {
		return
	}
	if removed, err := s.store.Delete(ctx, token); err != nil || !removed {
		return
	}
	slog.Info("session expired", "session_id", rec.ID, "identity_id", rec.IdentityID)
	s.audit(ctx, domain.AuditSessionExpired, rec)
	s.observe("expired")
}

func (s *service) Logout(ctx context.Context, token string) (bool, error) {
	rec, err := s.store.Get(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	removed, err := s.store.Delete(ctx, token)
	if err != nil {
		return false, err
	}
	if removed {
		s.audit(ctx, domain.AuditSessionRevoked, rec)
		s.observe("revoked")
	}
	return removed, nil
}

func (s *service) Refresh(ctx context.Context, token string, deviceInfo *string, originIP string) (*domain.SessionRecord, error) {
	cur, err := s.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	tok, err := s.newToken()
	if err != nil {
		return nil, err
	}
	now := s.now()
	next := &domain.SessionRecord{
		ID:           id.New(),
		Token:        tok,
		IdentityID:   cur.IdentityID,
		DeviceInfo:   cur.DeviceInfo,
		OriginIP:     originIP,
		CreatedAt:    now,
		LastActivity: now,
	}
	if deviceInfo != nil && *deviceInfo != "" {
		next.DeviceInfo = *deviceInfo
	}
	if next.OriginIP == "" {
		next.OriginIP = cur.OriginIP
	}
	if err := s.store.Rotate(ctx, token, next); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("session rotated concurrently: %w", domain.ErrSessionInvalid)
		}
		return nil, fmt.Errorf("rotate session: %w", err)
	}
	s.audit(ctx, domain.AuditSessionRefreshed, next)
	s.observe("refreshed")
	return next, nil
}

func (s *service) ListForIdentity(ctx context.Context, identityID string) ([]domain.SessionRecord, error) {
	all, err := s.store.ListByIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	cutoff := s.now().Add(-s.timeout)
	active := make([]domain.SessionRecord, 0, len(all))
	for _, rec := range all {
		if !rec.IdleSince(cutoff) {
			active = append(active, rec)
		}
	}
	return active, nil
}

func (s *service) Sweep(ctx context.Context) (int, error) {
	removed, err := s.store.DeleteIdleSince(ctx, s.now().Add(-s.timeout))
	if err != nil {
		return 0, err
	}
	for i := range removed {
		s.audit(ctx, domain.AuditSessionExpired, &removed[i])
		s.observe("expired")
	}
	return len(removed), nil
}

func (s *service) ExpiresAt(rec *domain.SessionRecord) time.Time {
	return rec.LastActivity.Add(s.timeout)
}

func (s *service) audit(ctx context.Context, kind string, rec *domain.SessionRecord) {
	if s.auditor == nil {
		return
	}
	ev := domain.AuditEvent{
		ID:        id.New(),
		Kind:      kind,
		SubjectID: rec.ID,
		Attributes: map[string]string{
			"identity_id": rec.IdentityID,
			"device_info": rec.DeviceInfo,
			"origin_ip":   rec.OriginIP,
		},
		At: s.now(),
	}
	if err := s.auditor.Record(ctx, ev); err != nil {
		slog.Warn("audit record failed", "kind", kind, "subject_id", rec.ID, "err", err)
	}
}

func (s *service) observe(event string) {
	if s.observer != nil {
		s.observer.ObserveSession(event)
	}
}
