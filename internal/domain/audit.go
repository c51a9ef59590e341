package domain

import "time"

// Audit event kinds.
const (
	AuditVerificationVerified  = "verification.verified"
	AuditVerificationExpired   = "verification.expired"
	AuditVerificationExhausted = "verification.exhausted"
	AuditDeliveryFailed        = "verification.delivery_failed"
	AuditSessionCreated        = "session.created"
	AuditSessionExpired        = "session.expired"
	AuditSessionRevoked        = "session.revoked"
	AuditSessionRefreshed      = "session.refreshed"
)

// AuditEvent is an append-only record of a lifecycle transition.
type AuditEvent struct {
	ID         string            `json:"id"`
	Kind       string            `json:"kind"`
	SubjectID  string            `json:"subject_id"`
	Attributes map[string]string `json:"attributes,omitempty"`
	At         time.Time         `json:"at"`
}
