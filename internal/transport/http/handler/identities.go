package handler

import (
	"encoding/json"
	"net/http"

	"github.com/trinck-api/internal/application/identity"
	"github.com/trinck-api/internal/domain"
	"github.com/trinck-api/internal/pkg/validate"
	"github.com/trinck-api/internal/transport/http/middleware"
)

// IdentityHandler handles identity registration and lookup.
type IdentityHandler struct {
	svc identity.Service
}

func NewIdentityHandler(svc identity.Service) *IdentityHandler {
	return &IdentityHandler{svc: svc}
}

func (h *IdentityHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterIdentityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ident, err := h.svc.Register(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ident)
}

// Me returns the identity behind the current session.
func (h *IdentityHandler) Me(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	ident, err := h.svc.Get(r.Context(), sess.IdentityID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ident)
}
