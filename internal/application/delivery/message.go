package delivery

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
)

// TextMessage is the short body used by SMS, WhatsApp links and carrier gateways.
func TextMessage(code string, ttl time.Duration) string {
	return fmt.Sprintf("Your Trinck verification code is: %s. Valid for %d minutes. Do not share this code with anyone.",
		code, minutes(ttl))
}

func minutes(ttl time.Duration) int {
	m := int(ttl.Round(time.Minute) / time.Minute)
	if m < 1 {
		return 1
	}
	return m
}

var emailTemplate = template.Must(template.New("otp").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; background:#f4f4f4; padding:24px;">
  <div style="max-width:480px; margin:0 auto; background:#ffffff; border-radius:8px; padding:32px;">
    <h2 style="color:#1a1a1a; margin-top:0;">Verify your Trinck account</h2>
    <p>Use the code below to finish verification:</p>
    <p style="font-size:32px; font-weight:bold; letter-spacing:8px; text-align:center; color:#2563eb;">{{.Code}}</p>
    <p>This code expires in {{.Minutes}} minutes.</p>
    <p style="color:#6b7280; font-size:12px;">If you did not request this code you can ignore this email. Never share it with anyone.</p>
  </div>
</body>
</html>`))

// HTMLMessage renders the verification email body.
func HTMLMessage(code string, ttl time.Duration) (string, error) {
	var buf bytes.Buffer
	err := emailTemplate.Execute(&buf, struct {
		Code    string
		Minutes int
	}{code, minutes(ttl)})
	if err != nil {
		return "", fmt.Errorf("render email: %w", err)
	}
	return buf.String(), nil
}
