// Package delivery sends one-time codes through an ordered list of channels.
package delivery

import (
	"context"
	"time"

	"github.com/trinck-api/internal/domain"
)

// Delivery methods reported to callers.
const (
	MethodBusinessAPI  = "business-api"
	MethodWebLink      = "web-link"
	MethodSMS          = "sms"
	MethodEmailGateway = "email-gateway"
	MethodEmail        = "email"
)

// Request is what every channel receives. Destination is already normalised:
// E.164 digits for phones, lower-cased address for email.
type Request struct {
	Destination   string
	FallbackEmail string
	Code          string
	TTL           time.Duration
}

// Result is a channel's report. Expected failures come back as Success=false
// with a nil error.
type Result struct {
	Success     bool
	Method      string
	Detail      string
	ExternalRef string
	Confidence  domain.Confidence
	Link        string
}

type Channel interface {
	Name() string
	Send(ctx context.Context, req Request) (Result, error)
}

func failed(method, detail string) Result {
	return Result{Method: method, Detail: detail}
}
