package delivery

import (
	"context"
	"errors"
	"net/url"

	"github.com/trinck-api/internal/domain"
	"github.com/trinck-api/internal/infrastructure/whatsapp"
)

type whatsappSender interface {
	Configured() bool
	SendCode(ctx context.Context, to, code string) (string, error)
}

// BusinessAPI sends the code as a WhatsApp template message.
type BusinessAPI struct {
	client whatsappSender
}

func NewBusinessAPI(client whatsappSender) *BusinessAPI {
	return &BusinessAPI{client: client}
}

func (b *BusinessAPI) Name() string { return "whatsapp-business" }

func (b *BusinessAPI) Send(ctx context.Context, req Request) (Result, error) {
	if b.client == nil || !b.client.Configured() {
		return failed(MethodBusinessAPI, "not configured"), nil
	}
	msgID, err := b.client.SendCode(ctx, req.Destination, req.Code)
	if err != nil {
		if errors.Is(err, whatsapp.ErrRejected) || errors.Is(err, whatsapp.ErrNotConfigured) {
			return failed(MethodBusinessAPI, err.Error()), nil
		}
		return Result{}, err
	}
	return Result{
		Success:     true,
		Method:      MethodBusinessAPI,
		Detail:      "sent via whatsapp business api",
		ExternalRef: msgID,
		Confidence:  domain.ConfidenceHigh,
	}, nil
}

// WebLink builds a wa.me link the user opens to receive the code.
// Nothing is sent, so the result is always pending.
type WebLink struct{}

func (WebLink) Name() string { return "whatsapp-link" }

func (WebLink) Send(_ context.Context, req Request) (Result, error) {
	link := "https://wa.me/" + req.Destination + "?text=" + url.QueryEscape(TextMessage(req.Code, req.TTL))
	return Result{
		Success:    true,
		Method:     MethodWebLink,
		Detail:     "whatsapp link generated",
		Confidence: domain.ConfidencePending,
		Link:       link,
	}, nil
}
