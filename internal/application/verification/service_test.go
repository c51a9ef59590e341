package verification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/trinck-api/internal/application/delivery"
	"github.com/trinck-api/internal/domain"
	"github.com/trinck-api/internal/infrastructure/memory"
)

// --- mocks ---

type mockLimiter struct{ mock.Mock }

func (m *mockLimiter) Allow(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

type mockChain struct{ mock.Mock }

func (m *mockChain) Run(ctx context.Context, req delivery.Request, opts delivery.Options) delivery.Outcome {
	return m.Called(ctx, req, opts).Get(0).(delivery.Outcome)
}

type mockSigner struct{ mock.Mock }

func (m *mockSigner) Sign(ev domain.VerificationEvent) (string, error) {
	args := m.Called(ev)
	return args.String(0), args.Error(1)
}

type mockListener struct{ mock.Mock }

func (m *mockListener) OnVerified(ctx context.Context, ev domain.VerificationEvent) error {
	return m.Called(ctx, ev).Error(0)
}

type recordingAuditor struct {
	mu    sync.Mutex
	kinds []string
}

func (r *recordingAuditor) Record(_ context.Context, ev domain.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, ev.Kind)
	return nil
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func delivered(method string, conf domain.Confidence, link string) delivery.Outcome {
	return delivery.Outcome{
		Delivered: true,
		Channel:   method,
		Result:    delivery.Result{Success: true, Method: method, Confidence: conf, Link: link},
		Attempts:  []domain.ChannelAttempt{{Channel: method, Success: true, Confidence: conf}},
	}
}

type fixture struct {
	svc     Service
	store   *memory.VerificationStore
	limiter *mockLimiter
	phone   *mockChain
	email   *mockChain
	clock   *fakeClock
	auditor *recordingAuditor
}

func newFixture(t *testing.T, mutate func(*ServiceDeps)) *fixture {
	t.Helper()
	f := &fixture{
		store:   memory.NewVerificationStore(),
		limiter: new(mockLimiter),
		phone:   new(mockChain),
		email:   new(mockChain),
		clock:   &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)},
		auditor: &recordingAuditor{},
	}
	f.limiter.On("Allow", mock.Anything, mock.Anything).Return(nil).Maybe()
	deps := ServiceDeps{
		Store:       f.store,
		Limiter:     f.limiter,
		PhoneChain:  f.phone,
		EmailChain:  f.email,
		TTL:         5 * time.Minute,
		MaxAttempts: 3,
		ExposeCodes: true,
		Auditor:     f.auditor,
		Now:         f.clock.Now,
	}
	if mutate != nil {
		mutate(&deps)
	}
	f.svc = NewService(deps)
	return f
}

// send issues a code and returns the id plus the stored code.
func (f *fixture) send(t *testing.T, req SendRequest) (string, string) {
	t.Helper()
	res, err := f.svc.RequestVerification(context.Background(), req)
	require.NoError(t, err)
	rec, err := f.store.Get(context.Background(), res.VerificationID)
	require.NoError(t, err)
	return res.VerificationID, rec.Code
}

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

func TestRequestVerification_PhoneWithoutBusinessAPIUsesWebLink(t *testing.T) {
	f := newFixture(t, nil)
	f.phone.On("Run", mock.Anything, mock.MatchedBy(func(r delivery.Request) bool {
		return r.Destination == "919876543210" && len(r.Code) == 6 && r.TTL == 5*time.Minute
	}), delivery.Options{}).Return(delivered(delivery.MethodWebLink, domain.ConfidencePending, "https://wa.me/919876543210?text=x"))

	res, err := f.svc.RequestVerification(context.Background(), SendRequest{Destination: "+919876543210", Type: domain.DestinationPhone})
	require.NoError(t, err)
	assert.Equal(t, delivery.MethodWebLink, res.DeliveryMethod)
	assert.Equal(t, StatusPendingUserAction, res.DeliveryStatus)
	assert.Equal(t, "https://wa.me/919876543210?text=x", res.WhatsAppLink)
	assert.Equal(t, f.clock.now.Add(5*time.Minute), res.ExpiresAt)
	assert.Regexp(t, `^\d{6}$`, res.Code)

	ok, err := f.svc.Validate(context.Background(), res.VerificationID, res.Code)
	require.NoError(t, err)
	assert.Equal(t, domain.StateVerified, ok.Request.State)
	assert.True(t, ok.Request.Consumed)

	_, err = f.svc.Validate(context.Background(), res.VerificationID, res.Code)
	assert.ErrorIs(t, err, domain.ErrInvalidSession)
}

func TestRequestVerification_SMSOptInContinuesPastPending(t *testing.T) {
	f := newFixture(t, nil)
	f.phone.On("Run", mock.Anything, mock.Anything, delivery.Options{ContinuePastPending: true}).
		Return(delivered(delivery.MethodSMS, domain.ConfidenceHigh, ""))

	res, err := f.svc.RequestVerification(context.Background(), SendRequest{
		Destination: "9876543210", Type: domain.DestinationPhone, SMSFallback: true, FallbackEmail: "Ravi@Example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSent, res.DeliveryStatus)

	rec, err := f.store.Get(context.Background(), res.VerificationID)
	require.NoError(t, err)
	assert.Equal(t, "919876543210", rec.Destination)
	assert.Equal(t, "ravi@example.com", rec.FallbackEmail)
	assert.Equal(t, delivery.MethodSMS, rec.DeliveryMethod)
	assert.Len(t, rec.Attempted, 1)
	f.phone.AssertExpectations(t)
}

func TestRequestVerification_EmailThreeWrongThenCorrect(t *testing.T) {
	f := newFixture(t, nil)
	f.email.On("Run", mock.Anything, mock.MatchedBy(func(r delivery.Request) bool {
		return r.Destination == "user@example.com"
	}), mock.Anything).Return(delivered(delivery.MethodEmail, domain.ConfidenceHigh, ""))

	id, code := f.send(t, SendRequest{Destination: "user@example.com", Type: domain.DestinationEmail})
	for i := 0; i < 3; i++ {
		_, err := f.svc.Validate(context.Background(), id, wrongCode(code))
		assert.ErrorIs(t, err, domain.ErrInvalidCode)
	}
	_, err := f.svc.Validate(context.Background(), id, code)
	assert.ErrorIs(t, err, domain.ErrTooManyAttempts)

	rec, _ := f.store.Get(context.Background(), id)
	assert.Equal(t, domain.StateExhausted, rec.State)
	assert.Equal(t, 3, rec.Attempts)

	// terminal state is stable
	_, err = f.svc.Validate(context.Background(), id, code)
	assert.ErrorIs(t, err, domain.ErrTooManyAttempts)
	assert.Equal(t, []string{domain.AuditVerificationExhausted}, f.auditor.kinds)
}

func TestValidate_Expired(t *testing.T) {
	f := newFixture(t, nil)
	f.email.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(delivered(delivery.MethodEmail, domain.ConfidenceHigh, ""))

	id, code := f.send(t, SendRequest{Destination: "user@example.com", Type: domain.DestinationEmail})
	f.clock.now = f.clock.now.Add(5*time.Minute + time.Millisecond)

	_, err := f.svc.Validate(context.Background(), id, code)
	assert.ErrorIs(t, err, domain.ErrExpired)
	rec, _ := f.store.Get(context.Background(), id)
	assert.Equal(t, domain.StateExpired, rec.State)
	assert.Equal(t, 0, rec.Attempts)

	_, err = f.svc.Validate(context.Background(), id, code)
	assert.ErrorIs(t, err, domain.ErrExpired)
}

func TestValidate_AtExpiryInstantStillValid(t *testing.T) {
	f := newFixture(t, nil)
	f.email.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(delivered(delivery.MethodEmail, domain.ConfidenceHigh, ""))

	id, code := f.send(t, SendRequest{Destination: "user@example.com", Type: domain.DestinationEmail})
	f.clock.now = f.clock.now.Add(5 * time.Minute)

	_, err := f.svc.Validate(context.Background(), id, code)
	assert.NoError(t, err)
}

func TestValidate_UnknownID(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Validate(context.Background(), "nope", "123456")
	assert.ErrorIs(t, err, domain.ErrInvalidSession)
}

func TestValidate_ConcurrentCorrectCodesSucceedOnce(t *testing.T) {
	f := newFixture(t, nil)
	f.email.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(delivered(delivery.MethodEmail, domain.ConfidenceHigh, ""))
	id, code := f.send(t, SendRequest{Destination: "user@example.com", Type: domain.DestinationEmail})

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Validate(context.Background(), id, code); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes)
}

func TestValidate_NotifiesListenersAndSigns(t *testing.T) {
	signer := new(mockSigner)
	listener := new(mockListener)
	f := newFixture(t, func(d *ServiceDeps) {
		d.Signer = signer
		d.Listeners = []Listener{listener}
	})
	f.phone.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(delivered(delivery.MethodBusinessAPI, domain.ConfidenceHigh, ""))
	id, code := f.send(t, SendRequest{Destination: "+919876543210", Type: domain.DestinationPhone})

	match := mock.MatchedBy(func(ev domain.VerificationEvent) bool {
		return ev.VerificationID == id && ev.Destination == "919876543210" && ev.Method == delivery.MethodBusinessAPI
	})
	signer.On("Sign", match).Return("jwt-token", nil)
	listener.On("OnVerified", mock.Anything, match).Return(errors.New("listener down"))

	res, err := f.svc.Validate(context.Background(), id, code)
	require.NoError(t, err)
	assert.Equal(t, "jwt-token", res.Token)
	signer.AssertExpectations(t)
	listener.AssertExpectations(t)
	assert.Contains(t, f.auditor.kinds, domain.AuditVerificationVerified)
}

func TestRequestVerification_InvalidDestination(t *testing.T) {
	f := newFixture(t, nil)
	tests := []SendRequest{
		{Destination: "12345", Type: domain.DestinationPhone},
		{Destination: "not-an-email", Type: domain.DestinationEmail},
		{Destination: "user@example.com", Type: "fax"},
		{Destination: "9876543210", Type: domain.DestinationPhone, FallbackEmail: "broken@"},
	}
	for _, req := range tests {
		_, err := f.svc.RequestVerification(context.Background(), req)
		assert.ErrorIs(t, err, domain.ErrInvalidDestination, req.Destination)
	}
	f.phone.AssertNotCalled(t, "Run", mock.Anything, mock.Anything, mock.Anything)
	f.limiter.AssertNotCalled(t, "Allow", mock.Anything, mock.Anything)
}

func TestRequestVerification_RateLimited(t *testing.T) {
	f := newFixture(t, nil)
	f.limiter.ExpectedCalls = nil
	f.limiter.On("Allow", mock.Anything, "phone:919876543210").Return(&domain.RateLimitError{RetryAfter: 20 * time.Second})

	_, err := f.svc.RequestVerification(context.Background(), SendRequest{Destination: "+919876543210", Type: domain.DestinationPhone})
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	var rle *domain.RateLimitError
	require.True(t, errors.As(err, &rle))
	assert.Equal(t, 20*time.Second, rle.RetryAfter)
	f.phone.AssertNotCalled(t, "Run", mock.Anything, mock.Anything, mock.Anything)
}

func TestRequestVerification_AllChannelsFail(t *testing.T) {
	f := newFixture(t, nil)
	f.email.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(delivery.Outcome{
		Attempts: []domain.ChannelAttempt{{Channel: "email", Detail: "smtp down"}},
	})

	_, err := f.svc.RequestVerification(context.Background(), SendRequest{Destination: "user@example.com", Type: domain.DestinationEmail})
	assert.ErrorIs(t, err, domain.ErrDeliveryFailed)
	assert.Equal(t, []string{domain.AuditDeliveryFailed}, f.auditor.kinds)
}

func TestRequestVerification_CodeHiddenInProduction(t *testing.T) {
	f := newFixture(t, func(d *ServiceDeps) { d.Production = true })
	f.email.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(delivered(delivery.MethodEmail, domain.ConfidenceHigh, ""))

	res, err := f.svc.RequestVerification(context.Background(), SendRequest{Destination: "user@example.com", Type: domain.DestinationEmail})
	require.NoError(t, err)
	assert.Empty(t, res.Code)
}

type capturingStore struct {
	*memory.VerificationStore
	created []string
}

func (c *capturingStore) Create(ctx context.Context, v *domain.VerificationRequest) error {
	c.created = append(c.created, v.ID)
	return c.VerificationStore.Create(ctx, v)
}

func TestRequestVerification_LateResultDiscarded(t *testing.T) {
	store := &capturingStore{VerificationStore: memory.NewVerificationStore()}
	f := newFixture(t, func(d *ServiceDeps) { d.Store = store })
	f.email.On("Run", mock.Anything, mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		// the record turns terminal while delivery is in flight
		_, err := store.Mutate(context.Background(), store.created[0], func(v *domain.VerificationRequest) error {
			v.State = domain.StateExpired
			return nil
		})
		require.NoError(t, err)
	}).Return(delivered(delivery.MethodEmail, domain.ConfidenceHigh, ""))

	_, err := f.svc.RequestVerification(context.Background(), SendRequest{Destination: "user@example.com", Type: domain.DestinationEmail})
	assert.ErrorIs(t, err, domain.ErrInvalidSession)

	rec, err := store.Get(context.Background(), store.created[0])
	require.NoError(t, err)
	assert.Empty(t, rec.Attempted)
	assert.Empty(t, rec.DeliveryMethod)
}

func TestResend_InvalidatesOldID(t *testing.T) {
	f := newFixture(t, nil)
	f.email.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(delivered(delivery.MethodEmail, domain.ConfidenceHigh, ""))

	oldID, oldCode := f.send(t, SendRequest{Destination: "user@example.com", Type: domain.DestinationEmail})
	res, err := f.svc.Resend(context.Background(), oldID)
	require.NoError(t, err)
	assert.NotEqual(t, oldID, res.VerificationID)

	_, err = f.svc.Validate(context.Background(), oldID, oldCode)
	assert.ErrorIs(t, err, domain.ErrExpired)

	_, err = f.svc.Validate(context.Background(), res.VerificationID, res.Code)
	assert.NoError(t, err)
	f.limiter.AssertCalled(t, "Allow", mock.Anything, "email:user@example.com")
}

func TestResend_Rejections(t *testing.T) {
	f := newFixture(t, nil)
	f.email.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(delivered(delivery.MethodEmail, domain.ConfidenceHigh, ""))

	_, err := f.svc.Resend(context.Background(), "unknown")
	assert.ErrorIs(t, err, domain.ErrInvalidSession)

	id, code := f.send(t, SendRequest{Destination: "user@example.com", Type: domain.DestinationEmail})
	_, err = f.svc.Validate(context.Background(), id, code)
	require.NoError(t, err)
	_, err = f.svc.Resend(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrInvalidSession)
}

func TestResend_ExhaustedStaysTerminal(t *testing.T) {
	f := newFixture(t, nil)
	f.email.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(delivered(delivery.MethodEmail, domain.ConfidenceHigh, ""))

	id, code := f.send(t, SendRequest{Destination: "user@example.com", Type: domain.DestinationEmail})
	for i := 0; i < 4; i++ {
		_, _ = f.svc.Validate(context.Background(), id, wrongCode(code))
	}
	res, err := f.svc.Resend(context.Background(), id)
	require.NoError(t, err)
	assert.NotEqual(t, id, res.VerificationID)

	rec, _ := f.store.Get(context.Background(), id)
	assert.Equal(t, domain.StateExhausted, rec.State)
}

func TestSweep_RemovesExpired(t *testing.T) {
	f := newFixture(t, nil)
	f.email.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(delivered(delivery.MethodEmail, domain.ConfidenceHigh, ""))
	id, _ := f.send(t, SendRequest{Destination: "user@example.com", Type: domain.DestinationEmail})

	n, err := f.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.clock.now = f.clock.now.Add(6 * time.Minute)
	n, err = f.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = f.svc.Validate(context.Background(), id, "123456")
	assert.ErrorIs(t, err, domain.ErrInvalidSession)
}
