package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/trinck-api/internal/application/identity"
	"github.com/trinck-api/internal/application/session"
	"github.com/trinck-api/internal/domain"
	"github.com/trinck-api/internal/pkg/device"
	"github.com/trinck-api/internal/transport/http/middleware"
)

// SessionHandler handles session endpoints.
type SessionHandler struct {
	sessions   session.Service
	identities identity.Service
}

func NewSessionHandler(sessions session.Service, identities identity.Service) *SessionHandler {
	return &SessionHandler{sessions: sessions, identities: identities}
}

// Create opens a session for an existing identity.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IdentityID string `json:"identity_id"`
		DeviceInfo string `json:"device_info"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IdentityID == "" {
		writeError(w, http.StatusBadRequest, "identity_id required")
		return
	}
	ident, err := h.identities.Get(r.Context(), req.IdentityID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.open(w, r, ident, req.DeviceInfo, false)
}

func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email      string `json:"email"`
		Password   string `json:"password"`
		DeviceInfo string `json:"device_info"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password required")
		return
	}
	ident, err := h.identities.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.open(w, r, ident, req.DeviceInfo, true)
}

func (h *SessionHandler) Google(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDToken    string `json:"id_token"`
		DeviceInfo string `json:"device_info"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IDToken == "" {
		writeError(w, http.StatusBadRequest, "id_token required")
		return
	}
	ident, err := h.identities.GoogleLogin(r.Context(), req.IDToken)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.open(w, r, ident, req.DeviceInfo, true)
}

func (h *SessionHandler) open(w http.ResponseWriter, r *http.Request, ident *domain.Identity, deviceInfo string, withIdentity bool) {
	if deviceInfo == "" {
		deviceInfo = device.Describe(r.UserAgent())
	}
	rec, err := h.sessions.Create(r.Context(), ident.IdentityID, deviceInfo, device.ClientIP(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	env := SessionEnvelope{Token: rec.Token, SessionID: rec.ID, ExpiresAt: h.sessions.ExpiresAt(rec)}
	if withIdentity {
		env.Identity = ident
	}
	writeJSON(w, http.StatusCreated, env)
}

func (h *SessionHandler) Validate(w http.ResponseWriter, r *http.Request) {
	tok, ok := middleware.BearerToken(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"valid": false})
		return
	}
	rec, err := h.sessions.Validate(r.Context(), tok)
	if err != nil {
		if errors.Is(err, domain.ErrSessionInvalid) {
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"valid": false})
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"identity_id": rec.IdentityID, "valid": true})
}

func (h *SessionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	tok, ok := middleware.BearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing or invalid authorization header")
		return
	}
	var req struct {
		DeviceInfo *string `json:"device_info"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec, err := h.sessions.Refresh(r.Context(), tok, req.DeviceInfo, device.ClientIP(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionEnvelope{Token: rec.Token, SessionID: rec.ID, ExpiresAt: h.sessions.ExpiresAt(rec)})
}

// List returns every active session of the caller's identity.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	cur, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	recs, err := h.sessions.ListForIdentity(r.Context(), cur.IdentityID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	type item struct {
		domain.SessionRecord
		ExpiresAt time.Time `json:"expires_at"`
		Current   bool      `json:"current"`
	}
	out := make([]item, 0, len(recs))
	for i := range recs {
		out = append(out, item{
			SessionRecord: recs[i],
			ExpiresAt:     h.sessions.ExpiresAt(&recs[i]),
			Current:       recs[i].ID == cur.ID,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": out})
}

// Logout accepts the token in the body or as a Bearer header. Unknown tokens
// still report success.
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	tok := req.Token
	if tok == "" {
		tok, _ = middleware.BearerToken(r)
	}
	if tok == "" {
		writeError(w, http.StatusBadRequest, "token required")
		return
	}
	if _, err := h.sessions.Logout(r.Context(), tok); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
