package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/trinck-api/internal/application/verification"
	"github.com/trinck-api/internal/domain"
	"github.com/trinck-api/internal/pkg/validate"
)

// VerificationHandler handles OTP send, validate and resend.
type VerificationHandler struct {
	svc verification.Service
}

func NewVerificationHandler(svc verification.Service) *VerificationHandler {
	return &VerificationHandler{svc: svc}
}

func (h *VerificationHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req verification.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeDomainError(w, fmt.Errorf("%w: %v", domain.ErrInvalidDestination, err))
		return
	}
	res, err := h.svc.RequestVerification(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *VerificationHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VerificationID string `json:"verification_id"`
		Code           string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.VerificationID == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "verification_id and code required")
		return
	}
	res, err := h.svc.Validate(r.Context(), req.VerificationID, req.Code)
	if err != nil {
		reason := domain.ReasonOf(err)
		if reason == "" {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, reasonStatus[reason], ValidateEnvelope{Success: false, Reason: reason})
		return
	}
	writeJSON(w, http.StatusOK, ValidateEnvelope{
		Success:           true,
		Destination:       res.Request.Destination,
		Type:              res.Request.Type,
		VerificationToken: res.Token,
	})
}

func (h *VerificationHandler) Resend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VerificationID string `json:"verification_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.VerificationID == "" {
		writeError(w, http.StatusBadRequest, "verification_id required")
		return
	}
	res, err := h.svc.Resend(r.Context(), req.VerificationID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
