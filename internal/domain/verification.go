package domain

import "time"

type DestinationType string

const (
	DestinationPhone DestinationType = "phone"
	DestinationEmail DestinationType = "email"
)

type VerificationState string

const (
	StatePending   VerificationState = "PENDING"
	StateVerified  VerificationState = "VERIFIED"
	StateExpired   VerificationState = "EXPIRED"
	StateExhausted VerificationState = "EXHAUSTED"
)

// Terminal reports whether no further transition is possible.
func (s VerificationState) Terminal() bool {
	return s != StatePending
}

// Confidence describes how sure a channel is that the code reached the user.
type Confidence string

const (
	ConfidenceHigh    Confidence = "high"
	ConfidenceLow     Confidence = "low"
	ConfidencePending Confidence = "pending"
)

// ChannelAttempt is one entry of a request's delivery log.
type ChannelAttempt struct {
	Channel     string        `json:"channel" dynamodbav:"channel"`
	Success     bool          `json:"success" dynamodbav:"success"`
	Confidence  Confidence    `json:"confidence,omitempty" dynamodbav:"confidence,omitempty"`
	Detail      string        `json:"detail,omitempty" dynamodbav:"detail,omitempty"`
	ExternalRef string        `json:"external_ref,omitempty" dynamodbav:"external_ref,omitempty"`
	At          time.Time     `json:"at" dynamodbav:"at"`
	Duration    time.Duration `json:"duration" dynamodbav:"duration"`
}

// VerificationRequest is a single OTP issued to a destination.
// PK: verification_id. ExpiresAtUnix is the DynamoDB TTL attribute.
type VerificationRequest struct {
	ID             string            `json:"id" dynamodbav:"verification_id"`
	Destination    string            `json:"destination" dynamodbav:"destination"`
	Type           DestinationType   `json:"type" dynamodbav:"type"`
	FallbackEmail  string            `json:"fallback_email,omitempty" dynamodbav:"fallback_email,omitempty"`
	SMSFallback    bool              `json:"sms_fallback" dynamodbav:"sms_fallback"`
	Code           string            `json:"-" dynamodbav:"code"`
	CreatedAt      time.Time         `json:"created" dynamodbav:"created_at"`
	ExpiresAt      time.Time         `json:"expires_at" dynamodbav:"expires_at_time"`
	ExpiresAtUnix  int64             `json:"-" dynamodbav:"expires_at"`
	Attempts       int               `json:"attempts" dynamodbav:"attempts"`
	Attempted      []ChannelAttempt  `json:"channel_attempts,omitempty" dynamodbav:"channel_attempts"`
	Consumed       bool              `json:"consumed" dynamodbav:"consumed"`
	State          VerificationState `json:"state" dynamodbav:"state"`
	DeliveryMethod string            `json:"delivery_method,omitempty" dynamodbav:"delivery_method,omitempty"`
	Version        int64             `json:"-" dynamodbav:"version"`
}

// Clone returns a deep copy so callers never share the attempt log slice.
func (v *VerificationRequest) Clone() *VerificationRequest {
	c := *v
	if v.Attempted != nil {
		c.Attempted = append([]ChannelAttempt(nil), v.Attempted...)
	}
	return &c
}

// VerificationEvent is emitted when a request reaches VERIFIED.
type VerificationEvent struct {
	VerificationID string          `json:"verification_id"`
	Destination    string          `json:"destination"`
	Type           DestinationType `json:"type"`
	Method         string          `json:"method"`
	VerifiedAt     time.Time       `json:"verified_at"`
}
