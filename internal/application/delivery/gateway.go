package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/trinck-api/internal/domain"
	"github.com/trinck-api/internal/infrastructure/smtp"
	"github.com/trinck-api/internal/pkg/phone"
)

// Carrier is an email-to-SMS gateway.
type Carrier struct {
	Name    string
	Domain  string
	Country string
}

var carriers = []Carrier{
	{"Airtel", "airtelmail.com", "IN"},
	{"Jio", "jiomsg.com", "IN"},
	{"Vi", "vtext.com", "IN"},
	{"BSNL", "bsnlmail.com", "IN"},
	{"Verizon", "vtext.com", "US"},
	{"AT&T", "txt.att.net", "US"},
	{"T-Mobile", "tmomail.net", "US"},
	{"Sprint", "messaging.sprintpcs.com", "US"},
	{"EE", "mmail.co.uk", "UK"},
	{"O2", "o2.co.uk", "UK"},
	{"Three", "3mail.com", "UK"},
	{"Vodafone", "vodafone.net", "UK"},
}

// Candidates returns the carriers to try for a normalised number, most
// likely first. Indian 6-series numbers are Jio-only allocations.
func Candidates(digits string) []Carrier {
	country := phone.Country(digits)
	var out []Carrier
	for _, c := range carriers {
		if c.Country == country {
			out = append(out, c)
		}
	}
	if country == "IN" && strings.HasPrefix(phone.National(digits), "6") {
		for i, c := range out {
			if c.Name == "Jio" {
				out[0], out[i] = out[i], out[0]
				break
			}
		}
	}
	return out
}

type mailer interface {
	Send(ctx context.Context, msg smtp.Message) error
}

// CarrierGateway mails the code to <number>@<carrier-domain> for each
// candidate carrier until one is accepted. Acceptance does not prove delivery.
type CarrierGateway struct {
	mailer mailer
}

func NewCarrierGateway(m mailer) *CarrierGateway {
	return &CarrierGateway{mailer: m}
}

func (g *CarrierGateway) Name() string { return "sms-email-gateway" }

func (g *CarrierGateway) Send(ctx context.Context, req Request) (Result, error) {
	cands := Candidates(req.Destination)
	if len(cands) == 0 {
		return failed(MethodEmailGateway, "no carrier gateway for number"), nil
	}
	national := phone.National(req.Destination)
	text := TextMessage(req.Code, req.TTL)
	if len(text) > 160 {
		text = text[:160]
	}
	for _, c := range cands {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		addr := national + "@" + c.Domain
		if err := g.mailer.Send(ctx, smtp.Message{To: addr, Text: text}); err != nil {
			slog.Warn("carrier gateway send failed", "carrier", c.Name, "err", err)
			continue
		}
		return Result{
			Success:     true,
			Method:      MethodEmailGateway,
			Detail:      fmt.Sprintf("sent via %s email gateway", c.Name),
			ExternalRef: c.Name,
			Confidence:  domain.ConfidenceLow,
		}, nil
	}
	return failed(MethodEmailGateway, "all carrier gateways failed"), nil
}
