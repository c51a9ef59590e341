package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/trinck-api/internal/domain"
)

type heartbeatKey struct {
	deviceID    string
	tokenPrefix string
}

type HeartbeatStore struct {
	mu      sync.Mutex
	entries map[heartbeatKey]time.Time
}

func NewHeartbeatStore() *HeartbeatStore {
	return &HeartbeatStore{entries: make(map[heartbeatKey]time.Time)}
}

func (s *HeartbeatStore) Upsert(_ context.Context, deviceID, tokenPrefix string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[heartbeatKey{deviceID, tokenPrefix}] = at
	return nil
}

// LatestForDevice returns the newest heartbeat for deviceID, or the zero time.
func (s *HeartbeatStore) LatestForDevice(_ context.Context, deviceID string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest time.Time
	for k, at := range s.entries {
		if k.deviceID == deviceID && at.After(latest) {
			latest = at
		}
	}
	return latest, nil
}

func (s *HeartbeatStore) ListByTokenPrefix(_ context.Context, tokenPrefix string) ([]domain.HeartbeatRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.HeartbeatRecord
	for k, at := range s.entries {
		if k.tokenPrefix == tokenPrefix {
			out = append(out, domain.HeartbeatRecord{DeviceID: k.deviceID, TokenPrefix: k.tokenPrefix, LastHeartbeat: at})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastHeartbeat.After(out[j].LastHeartbeat) })
	return out, nil
}

func (s *HeartbeatStore) CountSince(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, at := range s.entries {
		if !at.Before(cutoff) {
			n++
		}
	}
	return n, nil
}

func (s *HeartbeatStore) DeleteIdleSince(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, at := range s.entries {
		if at.Before(cutoff) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}
