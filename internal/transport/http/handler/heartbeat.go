package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/trinck-api/internal/application/heartbeat"
	"github.com/trinck-api/internal/domain"
	"github.com/trinck-api/internal/transport/http/middleware"
)

const deviceIDHeader = "x-device-id"

type sessionValidator interface {
	Validate(ctx context.Context, token string) (*domain.SessionRecord, error)
}

// HeartbeatHandler records device liveness.
type HeartbeatHandler struct {
	svc      heartbeat.Service
	sessions sessionValidator
}

func NewHeartbeatHandler(svc heartbeat.Service, sessions sessionValidator) *HeartbeatHandler {
	return &HeartbeatHandler{svc: svc, sessions: sessions}
}

// Beat records the heartbeat whether or not the session is still valid; a
// valid session also has its activity refreshed. Store failures while
// validating are reported as errors, not as an inactive session.
func (h *HeartbeatHandler) Beat(w http.ResponseWriter, r *http.Request) {
	tok, ok := middleware.BearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing or invalid authorization header")
		return
	}
	if err := h.svc.Beat(r.Context(), r.Header.Get(deviceIDHeader), tok); err != nil {
		writeDomainError(w, err)
		return
	}
	sessionActive := true
	if _, err := h.sessions.Validate(r.Context(), tok); err != nil {
		if !errors.Is(err, domain.ErrSessionInvalid) {
			writeDomainError(w, err)
			return
		}
		sessionActive = false
	}
	active, err := h.svc.ActiveDevices(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_active": sessionActive,
		"active_devices": active,
		"timestamp":      time.Now().UTC(),
	})
}

// Devices lists the devices seen with the caller's token.
func (h *HeartbeatHandler) Devices(w http.ResponseWriter, r *http.Request) {
	tok, ok := middleware.BearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing or invalid authorization header")
		return
	}
	devices, err := h.svc.DevicesForToken(r.Context(), tok)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	total := 0
	for _, d := range devices {
		if d.Active {
			total++
		}
	}
	if devices == nil {
		devices = []domain.DeviceStatus{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"devices":              devices,
		"total_active_devices": total,
	})
}
