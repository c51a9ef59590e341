package verification

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/trinck-api/internal/application/delivery"
	"github.com/trinck-api/internal/domain"
	"github.com/trinck-api/internal/pkg/id"
	"github.com/trinck-api/internal/pkg/otp"
	"github.com/trinck-api/internal/pkg/phone"
	"github.com/trinck-api/internal/pkg/validate"
)

// Delivery statuses reported to callers.
const (
	StatusSent              = "sent"
	StatusPendingUserAction = "pending_user_action"
)

type SendRequest struct {
	Destination   string                 `json:"destination" validate:"required"`
	Type          domain.DestinationType `json:"type" validate:"required,oneof=phone email"`
	FallbackEmail string                 `json:"fallback_email"`
	SMSFallback   bool                   `json:"sms_fallback"`
}

type SendResult struct {
	VerificationID string    `json:"verification_id"`
	DeliveryMethod string    `json:"delivery_method"`
	DeliveryStatus string    `json:"delivery_status"`
	WhatsAppLink   string    `json:"whatsapp_link,omitempty"`
	ExpiresAt      time.Time `json:"expires_at"`
	Code           string    `json:"code,omitempty"`
}

// Verified is returned by a successful Validate.
type Verified struct {
	Request *domain.VerificationRequest
	// Token is a signed attestation, empty when no signer is configured.
	Token string
}

type Service interface {
	RequestVerification(ctx context.Context, req SendRequest) (*SendResult, error)
	Validate(ctx context.Context, verificationID, code string) (*Verified, error)
	Resend(ctx context.Context, verificationID string) (*SendResult, error)
	Sweep(ctx context.Context) (int, error)
}

// Store persists verification requests. Mutate applies fn atomically to the
// current record; fn returning domain.ErrNoChange skips the write.
type Store interface {
	Create(ctx context.Context, v *domain.VerificationRequest) error
	Get(ctx context.Context, verificationID string) (*domain.VerificationRequest, error)
	Mutate(ctx context.Context, verificationID string, fn func(*domain.VerificationRequest) error) (*domain.VerificationRequest, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// Limiter enforces the per-destination send policy. A denied send returns
// a *domain.RateLimitError.
type Limiter interface {
	Allow(ctx context.Context, key string) error
}

type chainRunner interface {
	Run(ctx context.Context, req delivery.Request, opts delivery.Options) delivery.Outcome
}

// Listener is notified after a request reaches VERIFIED.
type Listener interface {
	OnVerified(ctx context.Context, ev domain.VerificationEvent) error
}

type signer interface {
	Sign(ev domain.VerificationEvent) (string, error)
}

type auditor interface {
	Record(ctx context.Context, ev domain.AuditEvent) error
}

type observer interface {
	ObserveSend(status string)
	ObserveValidation(reason string)
}

type ServiceDeps struct {
	Store       Store
	Limiter     Limiter
	PhoneChain  chainRunner
	EmailChain  chainRunner
	TTL         time.Duration
	MaxAttempts int
	// ExposeCodes returns the code in SendResult; ignored when Production is set.
	ExposeCodes bool
	Production  bool
	Signer      signer
	Auditor     auditor
	Observer    observer
	Listeners   []Listener
	Now         func() time.Time
}

type service struct {
	store       Store
	limiter     Limiter
	phoneChain  chainRunner
	emailChain  chainRunner
	ttl         time.Duration
	maxAttempts int
	exposeCodes bool
	signer      signer
	auditor     auditor
	observer    observer
	listeners   []Listener
	now         func() time.Time
}

func NewService(d ServiceDeps) Service {
	s := &service{
		store:       d.Store,
		limiter:     d.Limiter,
		phoneChain:  d.PhoneChain,
		emailChain:  d.EmailChain,
		ttl:         d.TTL,
		maxAttempts: d.MaxAttempts,
		exposeCodes: d.ExposeCodes && !d.Production,
		signer:      d.Signer,
		auditor:     d.Auditor,
		observer:    d.Observer,
		listeners:   d.Listeners,
		now:         d.Now,
	}
	if s.ttl <= 0 {
		s.ttl = 5 * time.Minute
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = 3
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

func (s *service) RequestVerification(ctx context.Context, req SendRequest) (*SendResult, error) {
	dest, fallback, err := normalize(req)
	if err != nil {
		return nil, err
	}
	if err := s.limiter.Allow(ctx, string(req.Type)+":"+dest); err != nil {
		s.observeSend(domain.ReasonRateLimited)
		return nil, err
	}
	return s.issue(ctx, dest, req.Type, fallback, req.SMSFallback)
}

func (s *service) Validate(ctx context.Context, verificationID, code string) (*Verified, error) {
	var outcome error
	var transitioned bool
	rec, err := s.store.Mutate(ctx, verificationID, func(v *domain.VerificationRequest) error {
		outcome, transitioned = nil, false
		switch v.State {
		case domain.StateVerified:
			outcome = fmt.Errorf("already used: %w", domain.ErrInvalidSession)
			return domain.ErrNoChange
		case domain.StateExpired:
			outcome = domain.ErrExpired
			return domain.ErrNoChange
		case domain.StateExhausted:
			outcome = domain.ErrTooManyAttempts
			return domain.ErrNoChange
		}
		if s.now().After(v.ExpiresAt) {
			v.State = domain.StateExpired
			outcome, transitioned = domain.ErrExpired, true
			return nil
		}
		if v.Attempts >= s.maxAttempts {
			v.State = domain.StateExhausted
			outcome, transitioned = domain.ErrTooManyAttempts, true
			return nil
		}
		v.Attempts++
		if subtle.ConstantTimeCompare([]byte(v.Code), []byte(code)) == 1 {
			v.State = domain.StateVerified
			v.Consumed = true
			return nil
		}
		outcome = domain.ErrInvalidCode
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.observe(domain.ReasonInvalidSession)
			return nil, fmt.Errorf("verification %s: %w", verificationID, domain.ErrInvalidSession)
		}
		return nil, err
	}
	if outcome != nil {
		s.observe(domain.ReasonOf(outcome))
		if transitioned {
			kind := domain.AuditVerificationExpired
			if rec.State == domain.StateExhausted {
				kind = domain.AuditVerificationExhausted
			}
			s.audit(ctx, kind, rec)
		}
		return nil, outcome
	}

	s.observe("")
	ev := domain.VerificationEvent{
		VerificationID: rec.ID,
		Destination:    rec.Destination,
		Type:           rec.Type,
		Method:         rec.DeliveryMethod,
		VerifiedAt:     s.now(),
	}
	s.audit(ctx, domain.AuditVerificationVerified, rec)
	for _, l := range s.listeners {
		if err := l.OnVerified(ctx, ev); err != nil {
			slog.Warn("verification listener failed", "verification_id", rec.ID, "err", err)
		}
	}
	out := &Verified{Request: rec}
	if s.signer != nil {
		tok, err := s.signer.Sign(ev)
		if err != nil {
			slog.Error("sign verification token", "verification_id", rec.ID, "err", err)
		} else {
			out.Token = tok
		}
	}
	return out, nil
}

func (s *service) Resend(ctx context.Context, verificationID string) (*SendResult, error) {
	prev, err := s.store.Get(ctx, verificationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("verification %s: %w", verificationID, domain.ErrInvalidSession)
		}
		return nil, err
	}
	if prev.State == domain.StateVerified {
		return nil, fmt.Errorf("already used: %w", domain.ErrInvalidSession)
	}
	if err := s.limiter.Allow(ctx, string(prev.Type)+":"+prev.Destination); err != nil {
		s.observeSend(domain.ReasonRateLimited)
		return nil, err
	}

	var usedMeanwhile bool
	_, err = s.store.Mutate(ctx, verificationID, func(v *domain.VerificationRequest) error {
		usedMeanwhile = v.State == domain.StateVerified
		if v.State != domain.StatePending {
			return domain.ErrNoChange
		}
		v.State = domain.StateExpired
		return nil
	})
	if err != nil {
		return nil, err
	}
	if usedMeanwhile {
		return nil, fmt.Errorf("already used: %w", domain.ErrInvalidSession)
	}
	return s.issue(ctx, prev.Destination, prev.Type, prev.FallbackEmail, prev.SMSFallback)
}

func (s *service) Sweep(ctx context.Context) (int, error) {
	return s.store.DeleteExpired(ctx, s.now())
}

// issue creates a PENDING record for an already-normalised destination and
// runs the delivery chain for it.
func (s *service) issue(ctx context.Context, dest string, typ domain.DestinationType, fallback string, smsFallback bool) (*SendResult, error) {
	code, err := otp.Generate()
	if err != nil {
		return nil, err
	}
	now := s.now()
	rec := &domain.VerificationRequest{
		ID:            id.New(),
		Destination:   dest,
		Type:          typ,
		FallbackEmail: fallback,
		SMSFallback:   smsFallback,
		Code:          code,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.ttl),
		ExpiresAtUnix: now.Add(s.ttl).Unix(),
		State:         domain.StatePending,
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("store verification: %w", err)
	}

	chain := s.emailChain
	if typ == domain.DestinationPhone {
		chain = s.phoneChain
	}
	out := chain.Run(ctx, delivery.Request{
		Destination:   dest,
		FallbackEmail: fallback,
		Code:          code,
		TTL:           s.ttl,
	}, delivery.Options{ContinuePastPending: smsFallback})

	var discarded bool
	updated, err := s.store.Mutate(ctx, rec.ID, func(v *domain.VerificationRequest) error {
		discarded = v.State != domain.StatePending
		if discarded {
			return domain.ErrNoChange
		}
		v.Attempted = append(v.Attempted, out.Attempts...)
		if out.Delivered {
			v.DeliveryMethod = out.Result.Method
		} else {
			v.State = domain.StateExpired
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record delivery: %w", err)
	}
	if discarded {
		slog.Info("delivery result discarded for terminal verification", "verification_id", rec.ID, "state", updated.State)
		return nil, fmt.Errorf("verification %s no longer pending: %w", rec.ID, domain.ErrInvalidSession)
	}
	if !out.Delivered {
		slog.Warn("all delivery channels failed", "verification_id", rec.ID, "destination", mask(dest), "attempts", len(out.Attempts))
		s.observeSend(domain.ReasonDeliveryFailed)
		s.audit(ctx, domain.AuditDeliveryFailed, updated)
		return nil, fmt.Errorf("verification %s: %w", rec.ID, domain.ErrDeliveryFailed)
	}

	status := StatusSent
	if out.Result.Confidence == domain.ConfidencePending {
		status = StatusPendingUserAction
	}
	s.observeSend(status)
	slog.Info("verification code issued", "verification_id", rec.ID, "destination", mask(dest), "method", out.Result.Method, "status", status)

	res := &SendResult{
		VerificationID: rec.ID,
		DeliveryMethod: out.Result.Method,
		DeliveryStatus: status,
		WhatsAppLink:   out.Result.Link,
		ExpiresAt:      rec.ExpiresAt,
	}
	if s.exposeCodes {
		res.Code = code
	}
	return res, nil
}

func normalize(req SendRequest) (dest, fallback string, err error) {
	switch req.Type {
	case domain.DestinationPhone:
		dest, err = phone.Normalize(req.Destination)
		if err != nil {
			return "", "", fmt.Errorf("%q: %w", req.Destination, domain.ErrInvalidDestination)
		}
	case domain.DestinationEmail:
		dest = strings.ToLower(strings.TrimSpace(req.Destination))
		if !validate.Email(dest) {
			return "", "", fmt.Errorf("%q: %w", req.Destination, domain.ErrInvalidDestination)
		}
	default:
		return "", "", fmt.Errorf("unknown type %q: %w", req.Type, domain.ErrInvalidDestination)
	}
	if req.FallbackEmail != "" {
		fallback = strings.ToLower(strings.TrimSpace(req.FallbackEmail))
		if !validate.Email(fallback) {
			return "", "", fmt.Errorf("fallback email %q: %w", req.FallbackEmail, domain.ErrInvalidDestination)
		}
	}
	return dest, fallback, nil
}

func mask(dest string) string {
	if at := strings.IndexByte(dest, '@'); at > 0 {
		return dest[:1] + "***" + dest[at:]
	}
	return phone.Mask(dest)
}

func (s *service) audit(ctx context.Context, kind string, v *domain.VerificationRequest) {
	if s.auditor == nil {
		return
	}
	ev := domain.AuditEvent{
		ID:        id.New(),
		Kind:      kind,
		SubjectID: v.ID,
		Attributes: map[string]string{
			"type":     string(v.Type),
			"method":   v.DeliveryMethod,
			"state":    string(v.State),
			"attempts": fmt.Sprint(v.Attempts),
		},
		At: s.now(),
	}
	if err := s.auditor.Record(ctx, ev); err != nil {
		slog.Warn("audit record failed", "kind", kind, "subject_id", v.ID, "err", err)
	}
}

func (s *service) observe(reason string) {
	if s.observer != nil {
		s.observer.ObserveValidation(reason)
	}
}

func (s *service) observeSend(status string) {
	if s.observer != nil {
		s.observer.ObserveSend(status)
	}
}
