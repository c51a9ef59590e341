package delivery

import (
	"context"
	"errors"

	"github.com/trinck-api/internal/domain"
	"github.com/trinck-api/internal/infrastructure/sns"
	"github.com/trinck-api/internal/pkg/phone"
)

// SMS sends the code through the SMS provider.
type SMS struct {
	sender sns.SMSSender
}

func NewSMS(sender sns.SMSSender) *SMS {
	return &SMS{sender: sender}
}

func (s *SMS) Name() string { return "sms" }

func (s *SMS) Send(ctx context.Context, req Request) (Result, error) {
	if s.sender == nil {
		return failed(MethodSMS, "not configured"), nil
	}
	msgID, err := s.sender.SendSMS(ctx, phone.E164(req.Destination), TextMessage(req.Code, req.TTL))
	if err != nil {
		if errors.Is(err, sns.ErrRejected) {
			return failed(MethodSMS, err.Error()), nil
		}
		return Result{}, err
	}
	return Result{
		Success:     true,
		Method:      MethodSMS,
		Detail:      "sent via sms provider",
		ExternalRef: msgID,
		Confidence:  domain.ConfidenceHigh,
	}, nil
}
