package domain

import "time"

// SessionRecord is an opaque bearer session for one identity on one device.
// PK: token. GSI identity_id-index lists an identity's sessions.
type SessionRecord struct {
	ID           string    `json:"session_id" dynamodbav:"session_id"`
	Token        string    `json:"-" dynamodbav:"token"`
	IdentityID   string    `json:"identity_id" dynamodbav:"identity_id"`
	DeviceInfo   string    `json:"device_info,omitempty" dynamodbav:"device_info"`
	OriginIP     string    `json:"origin_ip,omitempty" dynamodbav:"origin_ip"`
	CreatedAt    time.Time `json:"created" dynamodbav:"created_at"`
	LastActivity time.Time `json:"last_activity" dynamodbav:"last_activity"`
}

// IdleSince reports whether the session saw no activity after cutoff.
func (s *SessionRecord) IdleSince(cutoff time.Time) bool {
	return s.LastActivity.Before(cutoff)
}
