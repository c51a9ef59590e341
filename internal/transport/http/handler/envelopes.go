package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/trinck-api/internal/domain"
)

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	// Reason is the machine-readable code for verification errors.
	Reason            string `json:"reason,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

// ValidateEnvelope is the response of a code validation.
type ValidateEnvelope struct {
	Success           bool                   `json:"success"`
	Reason            string                 `json:"reason,omitempty"`
	Destination       string                 `json:"destination,omitempty"`
	Type              domain.DestinationType `json:"type,omitempty"`
	VerificationToken string                 `json:"verification_token,omitempty"`
}

// SessionEnvelope wraps a newly issued or rotated session.
type SessionEnvelope struct {
	Token     string           `json:"token"`
	SessionID string           `json:"session_id"`
	ExpiresAt time.Time        `json:"expires_at"`
	Identity  *domain.Identity `json:"identity,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg})
}

// reasonStatus maps wire reason codes to HTTP status codes.
var reasonStatus = map[string]int{
	domain.ReasonInvalidDestination: http.StatusBadRequest,
	domain.ReasonInvalidSession:     http.StatusNotFound,
	domain.ReasonExpired:            http.StatusGone,
	domain.ReasonTooManyAttempts:    http.StatusTooManyRequests,
	domain.ReasonInvalidCode:        http.StatusBadRequest,
	domain.ReasonDeliveryFailed:     http.StatusBadGateway,
	domain.ReasonRateLimited:        http.StatusTooManyRequests,
}

// writeDomainError maps service errors to a status code. Unknown errors are
// logged and reported as a generic 500.
func writeDomainError(w http.ResponseWriter, err error) {
	if reason := domain.ReasonOf(err); reason != "" {
		env := MessageEnvelope{Error: err.Error(), Reason: reason}
		var rl *domain.RateLimitError
		if errors.As(err, &rl) {
			secs := int(math.Ceil(rl.RetryAfter.Seconds()))
			if secs < 1 {
				secs = 1
			}
			env.RetryAfterSeconds = secs
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
		writeJSON(w, reasonStatus[reason], env)
		return
	}
	switch {
	case errors.Is(err, domain.ErrBadRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrSessionInvalid):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	default:
		slog.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
