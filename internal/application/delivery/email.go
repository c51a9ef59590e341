package delivery

import (
	"context"

	"github.com/trinck-api/internal/domain"
	"github.com/trinck-api/internal/infrastructure/smtp"
)

const emailSubject = "Your Trinck verification code"

// Email sends the formatted code email. With toFallback set it targets
// Request.FallbackEmail instead of Request.Destination.
type Email struct {
	mailer     mailer
	toFallback bool
}

func NewEmail(m mailer) *Email {
	return &Email{mailer: m}
}

func NewFallbackEmail(m mailer) *Email {
	return &Email{mailer: m, toFallback: true}
}

func (e *Email) Name() string {
	if e.toFallback {
		return "email-fallback"
	}
	return "email"
}

func (e *Email) Send(ctx context.Context, req Request) (Result, error) {
	to := req.Destination
	if e.toFallback {
		to = req.FallbackEmail
	}
	if to == "" {
		return failed(MethodEmail, "no fallback email supplied"), nil
	}
	html, err := HTMLMessage(req.Code, req.TTL)
	if err != nil {
		return Result{}, err
	}
	msg := smtp.Message{
		To:      to,
		Subject: emailSubject,
		Text:    TextMessage(req.Code, req.TTL),
		HTML:    html,
	}
	if err := e.mailer.Send(ctx, msg); err != nil {
		return Result{}, err
	}
	return Result{
		Success:    true,
		Method:     MethodEmail,
		Detail:     "sent via email",
		Confidence: domain.ConfidenceHigh,
	}, nil
}
