package domain

import "time"

// HeartbeatRecord marks the last time a device pinged for a token prefix.
// The full token is never kept here.
type HeartbeatRecord struct {
	DeviceID      string    `json:"device_id"`
	TokenPrefix   string    `json:"token_prefix"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// DeviceStatus is the per-device view returned to clients.
type DeviceStatus struct {
	DeviceID      string    `json:"device_id"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Active        bool      `json:"is_active"`
}
