package heartbeat

import (
	"context"
	"time"

	"github.com/trinck-api/internal/domain"
	pkgtoken "github.com/trinck-api/internal/pkg/token"
)

// UnknownDevice is recorded when a client omits its device id.
const UnknownDevice = "unknown"

type Service interface {
	Beat(ctx context.Context, deviceID, token string) error
	IsLive(ctx context.Context, deviceID string) (bool, error)
	ActiveDevices(ctx context.Context) (int, error)
	DevicesForToken(ctx context.Context, token string) ([]domain.DeviceStatus, error)
	Sweep(ctx context.Context) (int, error)
}

// Store holds one entry per (device, token prefix) pair.
type Store interface {
	Upsert(ctx context.Context, deviceID, tokenPrefix string, at time.Time) error
	LatestForDevice(ctx context.Context, deviceID string) (time.Time, error)
	ListByTokenPrefix(ctx context.Context, tokenPrefix string) ([]domain.HeartbeatRecord, error)
	CountSince(ctx context.Context, cutoff time.Time) (int, error)
	DeleteIdleSince(ctx context.Context, cutoff time.Time) (int, error)
}

type ServiceDeps struct {
	Store          Store
	LivenessWindow time.Duration
	EvictionWindow time.Duration
	Now            func() time.Time
}

type service struct {
	store    Store
	liveness time.Duration
	eviction time.Duration
	now      func() time.Time
}

func NewService(d ServiceDeps) Service {
	s := &service{store: d.Store, liveness: d.LivenessWindow, eviction: d.EvictionWindow, now: d.Now}
	if s.liveness <= 0 {
		s.liveness = 60 * time.Second
	}
	if s.eviction <= 0 {
		s.eviction = 5 * time.Minute
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// Beat records that deviceID is alive for token. It does not validate the token.
func (s *service) Beat(ctx context.Context, deviceID, token string) error {
	if deviceID == "" {
		deviceID = UnknownDevice
	}
	return s.store.Upsert(ctx, deviceID, pkgtoken.Prefix(token), s.now())
}

func (s *service) IsLive(ctx context.Context, deviceID string) (bool, error) {
	last, err := s.store.LatestForDevice(ctx, deviceID)
	if err != nil {
		return false, err
	}
	return s.live(last), nil
}

func (s *service) ActiveDevices(ctx context.Context) (int, error) {
	return s.store.CountSince(ctx, s.now().Add(-s.liveness))
}

func (s *service) DevicesForToken(ctx context.Context, token string) ([]domain.DeviceStatus, error) {
	recs, err := s.store.ListByTokenPrefix(ctx, pkgtoken.Prefix(token))
	if err != nil {
		return nil, err
	}
	out := make([]domain.DeviceStatus, 0, len(recs))
	for _, r := range recs {
		out = append(out, domain.DeviceStatus{
			DeviceID:      r.DeviceID,
			LastHeartbeat: r.LastHeartbeat,
			Active:        s.live(r.LastHeartbeat),
		})
	}
	return out, nil
}

func (s *service) Sweep(ctx context.Context) (int, error) {
	return s.store.DeleteIdleSince(ctx, s.now().Add(-s.eviction))
}

func (s *service) live(last time.Time) bool {
	return !last.IsZero() && s.now().Sub(last) <= s.liveness
}
