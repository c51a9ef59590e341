// Package whatsapp talks to the WhatsApp Cloud (Graph) API.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/trinck-api/internal/config"
)

var (
	ErrNotConfigured = errors.New("whatsapp business api not configured")
	// ErrRejected is returned for 4xx responses: bad number, template missing, quota.
	ErrRejected = errors.New("whatsapp business api rejected message")
)

type Client struct {
	baseURL       string
	phoneNumberID string
	accessToken   string
	template      string
	http          *http.Client
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL:       cfg.WhatsAppAPIBase,
		phoneNumberID: cfg.WhatsAppPhoneNumberID,
		accessToken:   cfg.WhatsAppAccessToken,
		template:      cfg.WhatsAppTemplate,
		http:          &http.Client{Timeout: 15 * time.Second},
	}
}

// Configured reports whether credentials are present.
func (c *Client) Configured() bool {
	return c.accessToken != "" && c.phoneNumberID != ""
}

type templateMessage struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Template         template `json:"template"`
}

type template struct {
	Name       string      `json:"name"`
	Language   language    `json:"language"`
	Components []component `json:"components"`
}

type language struct {
	Code string `json:"code"`
}

type component struct {
	Type       string      `json:"type"`
	Parameters []parameter `json:"parameters"`
}

type parameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// SendCode sends the OTP template to an E.164 number (digits only) and
// returns the provider message id.
func (c *Client) SendCode(ctx context.Context, to, code string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	payload := templateMessage{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "template",
		Template: template{
			Name:     c.template,
			Language: language{Code: "en"},
			Components: []component{{
				Type:       "body",
				Parameters: []parameter{{Type: "text", Text: code}},
			}},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal whatsapp message: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("whatsapp request: %w", err)
	}
	defer resp.Body.Close()

	var out sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode whatsapp response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		msg := http.StatusText(resp.StatusCode)
		if out.Error != nil {
			msg = out.Error.Message
		}
		return "", fmt.Errorf("%w: %s", ErrRejected, msg)
	}
	if resp.StatusCode >= 500 || len(out.Messages) == 0 {
		return "", fmt.Errorf("whatsapp api status %d", resp.StatusCode)
	}
	return out.Messages[0].ID, nil
}
