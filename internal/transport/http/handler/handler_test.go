package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/trinck-api/internal/application/heartbeat"
	"github.com/trinck-api/internal/application/session"
	"github.com/trinck-api/internal/application/verification"
	"github.com/trinck-api/internal/domain"
	"github.com/trinck-api/internal/infrastructure/memory"
	"github.com/trinck-api/internal/transport/http/middleware"
)

// --- mocks ---

type mockVerificationSvc struct{ mock.Mock }

func (m *mockVerificationSvc) RequestVerification(ctx context.Context, req verification.SendRequest) (*verification.SendResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*verification.SendResult)
	return res, args.Error(1)
}

func (m *mockVerificationSvc) Validate(ctx context.Context, verificationID, code string) (*verification.Verified, error) {
	args := m.Called(ctx, verificationID, code)
	res, _ := args.Get(0).(*verification.Verified)
	return res, args.Error(1)
}

func (m *mockVerificationSvc) Resend(ctx context.Context, verificationID string) (*verification.SendResult, error) {
	args := m.Called(ctx, verificationID)
	res, _ := args.Get(0).(*verification.SendResult)
	return res, args.Error(1)
}

func (m *mockVerificationSvc) Sweep(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type mockIdentitySvc struct{ mock.Mock }

func (m *mockIdentitySvc) Register(ctx context.Context, req domain.RegisterIdentityRequest) (*domain.Identity, error) {
	args := m.Called(ctx, req)
	ident, _ := args.Get(0).(*domain.Identity)
	return ident, args.Error(1)
}

func (m *mockIdentitySvc) Authenticate(ctx context.Context, email, password string) (*domain.Identity, error) {
	args := m.Called(ctx, email, password)
	ident, _ := args.Get(0).(*domain.Identity)
	return ident, args.Error(1)
}

func (m *mockIdentitySvc) GoogleLogin(ctx context.Context, idToken string) (*domain.Identity, error) {
	args := m.Called(ctx, idToken)
	ident, _ := args.Get(0).(*domain.Identity)
	return ident, args.Error(1)
}

func (m *mockIdentitySvc) Get(ctx context.Context, identityID string) (*domain.Identity, error) {
	args := m.Called(ctx, identityID)
	ident, _ := args.Get(0).(*domain.Identity)
	return ident, args.Error(1)
}

func (m *mockIdentitySvc) MarkDestinationVerified(ctx context.Context, typ domain.DestinationType, destination string) error {
	return m.Called(ctx, typ, destination).Error(0)
}

func (m *mockIdentitySvc) OnVerified(ctx context.Context, ev domain.VerificationEvent) error {
	return m.Called(ctx, ev).Error(0)
}

// --- helpers ---

func postJSON(t *testing.T, h http.HandlerFunc, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(b))
	rr := httptest.NewRecorder()
	h(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func newSessions() session.Service {
	return session.NewService(session.ServiceDeps{Store: memory.NewSessionStore()})
}

// --- verification ---

func TestVerificationHandler_Send_OK(t *testing.T) {
	svc := new(mockVerificationSvc)
	svc.On("RequestVerification", mock.Anything, verification.SendRequest{Destination: "+919876543210", Type: domain.DestinationPhone}).
		Return(&verification.SendResult{VerificationID: "v1", DeliveryMethod: "web-link", DeliveryStatus: verification.StatusPendingUserAction}, nil)

	rr := postJSON(t, NewVerificationHandler(svc).Send, map[string]string{"destination": "+919876543210", "type": "phone"})
	assert.Equal(t, http.StatusOK, rr.Code)
	out := decode(t, rr)
	assert.Equal(t, "v1", out["verification_id"])
	assert.Equal(t, "pending_user_action", out["delivery_status"])
}

func TestVerificationHandler_Send_ErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		reason string
	}{
		{domain.ErrInvalidDestination, http.StatusBadRequest, "INVALID_DESTINATION"},
		{domain.ErrDeliveryFailed, http.StatusBadGateway, "DELIVERY_FAILED"},
		{&domain.RateLimitError{RetryAfter: 1500 * time.Millisecond}, http.StatusTooManyRequests, "RATE_LIMITED"},
	}
	for _, tc := range cases {
		t.Run(tc.reason, func(t *testing.T) {
			svc := new(mockVerificationSvc)
			svc.On("RequestVerification", mock.Anything, mock.Anything).Return(nil, tc.err)
			rr := postJSON(t, NewVerificationHandler(svc).Send, map[string]string{"destination": "x", "type": "email"})
			assert.Equal(t, tc.status, rr.Code)
			assert.Equal(t, tc.reason, decode(t, rr)["reason"])
		})
	}
}

func TestVerificationHandler_Send_RejectsInvalidBody(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown type":        {"destination": "user@example.com", "type": "fax"},
		"missing type":        {"destination": "user@example.com"},
		"missing destination": {"type": "email"},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			svc := new(mockVerificationSvc)
			rr := postJSON(t, NewVerificationHandler(svc).Send, body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, "INVALID_DESTINATION", decode(t, rr)["reason"])
			svc.AssertNotCalled(t, "RequestVerification", mock.Anything, mock.Anything)
		})
	}
}

func TestVerificationHandler_Send_RateLimitedSetsRetryAfter(t *testing.T) {
	svc := new(mockVerificationSvc)
	svc.On("RequestVerification", mock.Anything, mock.Anything).Return(nil, &domain.RateLimitError{RetryAfter: 1500 * time.Millisecond})
	rr := postJSON(t, NewVerificationHandler(svc).Send, map[string]string{"destination": "x", "type": "email"})
	assert.Equal(t, "2", rr.Header().Get("Retry-After"))
	assert.Equal(t, float64(2), decode(t, rr)["retry_after_seconds"])
}

func TestVerificationHandler_Send_InternalErrorIsGeneric(t *testing.T) {
	svc := new(mockVerificationSvc)
	svc.On("RequestVerification", mock.Anything, mock.Anything).Return(nil, assert.AnError)
	rr := postJSON(t, NewVerificationHandler(svc).Send, map[string]string{"destination": "x", "type": "email"})
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "internal error", decode(t, rr)["error"])
}

func TestVerificationHandler_Validate(t *testing.T) {
	svc := new(mockVerificationSvc)
	svc.On("Validate", mock.Anything, "v1", "123456").Return(&verification.Verified{
		Request: &domain.VerificationRequest{Destination: "user@example.com", Type: domain.DestinationEmail},
		Token:   "signed",
	}, nil)
	svc.On("Validate", mock.Anything, "v1", "000000").Return(nil, domain.ErrInvalidCode)
	svc.On("Validate", mock.Anything, "v2", "123456").Return(nil, domain.ErrExpired)
	h := NewVerificationHandler(svc)

	rr := postJSON(t, h.Validate, map[string]string{"verification_id": "v1", "code": "123456"})
	require.Equal(t, http.StatusOK, rr.Code)
	out := decode(t, rr)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "signed", out["verification_token"])

	rr = postJSON(t, h.Validate, map[string]string{"verification_id": "v1", "code": "000000"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	out = decode(t, rr)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "INVALID_CODE", out["reason"])

	rr = postJSON(t, h.Validate, map[string]string{"verification_id": "v2", "code": "123456"})
	assert.Equal(t, http.StatusGone, rr.Code)
	assert.Equal(t, "EXPIRED", decode(t, rr)["reason"])
}

func TestVerificationHandler_Validate_MissingFields(t *testing.T) {
	rr := postJSON(t, NewVerificationHandler(new(mockVerificationSvc)).Validate, map[string]string{"verification_id": "v1"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestVerificationHandler_Resend_UnknownID(t *testing.T) {
	svc := new(mockVerificationSvc)
	svc.On("Resend", mock.Anything, "gone").Return(nil, domain.ErrInvalidSession)
	rr := postJSON(t, NewVerificationHandler(svc).Resend, map[string]string{"verification_id": "gone"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "INVALID_SESSION", decode(t, rr)["reason"])
}

// --- sessions ---

func TestSessionHandler_CreateValidateLogout(t *testing.T) {
	ids := new(mockIdentitySvc)
	ids.On("Get", mock.Anything, "u1").Return(&domain.Identity{IdentityID: "u1"}, nil)
	sessions := newSessions()
	h := NewSessionHandler(sessions, ids)

	rr := postJSON(t, h.Create, map[string]string{"identity_id": "u1"})
	require.Equal(t, http.StatusCreated, rr.Code)
	tok, _ := decode(t, rr)["token"].(string)
	require.Len(t, tok, 64)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rr = httptest.NewRecorder()
	h.Validate(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "u1", decode(t, rr)["identity_id"])

	rr = postJSON(t, h.Logout, map[string]string{"token": tok})
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, decode(t, rr)["success"])

	// Logging out twice still succeeds.
	rr = postJSON(t, h.Logout, map[string]string{"token": tok})
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	h.Validate(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, false, decode(t, rr)["valid"])
}

func TestSessionHandler_Create_UnknownIdentity(t *testing.T) {
	ids := new(mockIdentitySvc)
	ids.On("Get", mock.Anything, "ghost").Return(nil, domain.ErrNotFound)
	rr := postJSON(t, NewSessionHandler(newSessions(), ids).Create, map[string]string{"identity_id": "ghost"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSessionHandler_Login(t *testing.T) {
	ids := new(mockIdentitySvc)
	ids.On("Authenticate", mock.Anything, "a@b.com", "secret123").Return(&domain.Identity{IdentityID: "u1", Email: "a@b.com"}, nil)
	ids.On("Authenticate", mock.Anything, "a@b.com", "wrong").Return(nil, domain.ErrUnauthorized)
	h := NewSessionHandler(newSessions(), ids)

	rr := postJSON(t, h.Login, map[string]string{"email": "a@b.com", "password": "secret123"})
	require.Equal(t, http.StatusCreated, rr.Code)
	out := decode(t, rr)
	assert.NotEmpty(t, out["token"])
	identity, ok := out["identity"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "a@b.com", identity["email"])

	rr = postJSON(t, h.Login, map[string]string{"email": "a@b.com", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestSessionHandler_RefreshRotatesToken(t *testing.T) {
	sessions := newSessions()
	rec, err := sessions.Create(context.Background(), "u1", "Chrome on macOS", "1.2.3.4")
	require.NoError(t, err)
	h := NewSessionHandler(sessions, new(mockIdentitySvc))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+rec.Token)
	rr := httptest.NewRecorder()
	h.Refresh(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	next, _ := decode(t, rr)["token"].(string)
	assert.NotEqual(t, rec.Token, next)

	_, err = sessions.Validate(context.Background(), rec.Token)
	assert.ErrorIs(t, err, domain.ErrSessionInvalid)
	_, err = sessions.Validate(context.Background(), next)
	assert.NoError(t, err)
}

func TestSessionHandler_List(t *testing.T) {
	sessions := newSessions()
	a, err := sessions.Create(context.Background(), "u1", "phone", "")
	require.NoError(t, err)
	_, err = sessions.Create(context.Background(), "u1", "laptop", "")
	require.NoError(t, err)

	r := chi.NewRouter()
	r.With(middleware.Auth(sessions)).Get("/", NewSessionHandler(sessions, new(mockIdentitySvc)).List)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+a.Token)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	list, ok := decode(t, rr)["sessions"].([]interface{})
	require.True(t, ok)
	assert.Len(t, list, 2)
	assert.NotContains(t, rr.Body.String(), a.Token)
}

// --- heartbeat ---

func TestHeartbeatHandler_Beat(t *testing.T) {
	sessions := newSessions()
	rec, err := sessions.Create(context.Background(), "u1", "", "")
	require.NoError(t, err)
	hb := heartbeat.NewService(heartbeat.ServiceDeps{Store: memory.NewHeartbeatStore()})
	h := NewHeartbeatHandler(hb, sessions)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+rec.Token)
	req.Header.Set("x-device-id", "dev-1")
	rr := httptest.NewRecorder()
	h.Beat(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	out := decode(t, rr)
	assert.Equal(t, true, out["session_active"])
	assert.Equal(t, float64(1), out["active_devices"])

	// An unknown token is still recorded but reported inactive.
	req.Header.Set("Authorization", "Bearer not-a-session")
	rr = httptest.NewRecorder()
	h.Beat(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, false, decode(t, rr)["session_active"])

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+rec.Token)
	rr = httptest.NewRecorder()
	h.Devices(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	out = decode(t, rr)
	assert.Equal(t, float64(1), out["total_active_devices"])
}

type failingValidator struct{ err error }

func (f failingValidator) Validate(context.Context, string) (*domain.SessionRecord, error) {
	return nil, f.err
}

func TestHeartbeatHandler_Beat_StoreFailureIsNotInactive(t *testing.T) {
	hb := heartbeat.NewService(heartbeat.ServiceDeps{Store: memory.NewHeartbeatStore()})
	h := NewHeartbeatHandler(hb, failingValidator{err: assert.AnError})

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	rr := httptest.NewRecorder()
	h.Beat(rr, req)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "internal error", decode(t, rr)["error"])
}

func TestHeartbeatHandler_RequiresBearer(t *testing.T) {
	h := NewHeartbeatHandler(heartbeat.NewService(heartbeat.ServiceDeps{Store: memory.NewHeartbeatStore()}), newSessions())
	rr := httptest.NewRecorder()
	h.Beat(rr, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

// --- identities ---

func TestIdentityHandler_Register_Validation(t *testing.T) {
	ids := new(mockIdentitySvc)
	rr := postJSON(t, NewIdentityHandler(ids).Register, map[string]string{"email": "not-an-email", "password": "short"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	ids.AssertNotCalled(t, "Register", mock.Anything, mock.Anything)
}

func TestIdentityHandler_Register_Conflict(t *testing.T) {
	ids := new(mockIdentitySvc)
	ids.On("Register", mock.Anything, mock.Anything).Return(nil, domain.ErrConflict)
	rr := postJSON(t, NewIdentityHandler(ids).Register, map[string]string{
		"email": "a@b.com", "password": "longenough", "name": "A", "role": "customer",
	})
	assert.Equal(t, http.StatusConflict, rr.Code)
}
