package domain

import (
	"errors"
	"time"
)

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrBadRequest   = errors.New("bad request")

	ErrInvalidDestination = errors.New("invalid destination")
	ErrInvalidSession     = errors.New("invalid verification session")
	ErrExpired            = errors.New("verification expired")
	ErrTooManyAttempts    = errors.New("too many attempts")
	ErrInvalidCode        = errors.New("invalid code")
	ErrDeliveryFailed     = errors.New("delivery failed")
	ErrRateLimited        = errors.New("rate limited")
	ErrSessionInvalid     = errors.New("session invalid")

	// ErrNoChange is returned from a store mutation callback to skip the write.
	ErrNoChange = errors.New("no change")
)

// Wire reason codes returned to clients.
const (
	ReasonInvalidDestination = "INVALID_DESTINATION"
	ReasonInvalidSession     = "INVALID_SESSION"
	ReasonExpired            = "EXPIRED"
	ReasonTooManyAttempts    = "TOO_MANY_ATTEMPTS"
	ReasonInvalidCode        = "INVALID_CODE"
	ReasonDeliveryFailed     = "DELIVERY_FAILED"
	ReasonRateLimited        = "RATE_LIMITED"
)

// RateLimitError is returned when a destination exceeds its send policy.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return "rate limited: retry after " + e.RetryAfter.Round(time.Second).String()
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// ReasonOf maps a verification error to its wire reason code.
// Returns "" for errors that are not part of the verification taxonomy.
func ReasonOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidDestination):
		return ReasonInvalidDestination
	case errors.Is(err, ErrInvalidSession):
		return ReasonInvalidSession
	case errors.Is(err, ErrExpired):
		return ReasonExpired
	case errors.Is(err, ErrTooManyAttempts):
		return ReasonTooManyAttempts
	case errors.Is(err, ErrInvalidCode):
		return ReasonInvalidCode
	case errors.Is(err, ErrDeliveryFailed):
		return ReasonDeliveryFailed
	case errors.Is(err, ErrRateLimited):
		return ReasonRateLimited
	}
	return ""
}
