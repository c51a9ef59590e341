package redisinfra

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trinck-api/internal/domain"
)

const (
	heartbeatKey = "trinck:heartbeats"
	memberSep    = "|"
	scanCount    = 500
)

// HeartbeatStore keeps one sorted set shared by every instance. Members are
// "device|prefix" scored by the heartbeat time in unix milliseconds.
type HeartbeatStore struct {
	rdb *redis.Client
	key string
}

func NewHeartbeatStore(rdb *redis.Client) *HeartbeatStore {
	return &HeartbeatStore{rdb: rdb, key: heartbeatKey}
}

func (s *HeartbeatStore) Upsert(ctx context.Context, deviceID, tokenPrefix string, at time.Time) error {
	err := s.rdb.ZAdd(ctx, s.key, redis.Z{Score: float64(at.UnixMilli()), Member: member(deviceID, tokenPrefix)}).Err()
	if err != nil {
		return fmt.Errorf("heartbeat upsert: %w", err)
	}
	return nil
}

// LatestForDevice returns the newest heartbeat for deviceID, or the zero time.
func (s *HeartbeatStore) LatestForDevice(ctx context.Context, deviceID string) (time.Time, error) {
	recs, err := s.scan(ctx, escapeGlob(deviceID+memberSep)+"*", func(r domain.HeartbeatRecord) bool {
		return r.DeviceID == deviceID
	})
	if err != nil {
		return time.Time{}, err
	}
	var latest time.Time
	for _, r := range recs {
		if r.LastHeartbeat.After(latest) {
			latest = r.LastHeartbeat
		}
	}
	return latest, nil
}

func (s *HeartbeatStore) ListByTokenPrefix(ctx context.Context, tokenPrefix string) ([]domain.HeartbeatRecord, error) {
	recs, err := s.scan(ctx, "*"+escapeGlob(memberSep+tokenPrefix), func(r domain.HeartbeatRecord) bool {
		return r.TokenPrefix == tokenPrefix
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].LastHeartbeat.After(recs[j].LastHeartbeat) })
	return recs, nil
}

func (s *HeartbeatStore) CountSince(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := s.rdb.ZCount(ctx, s.key, strconv.FormatInt(cutoff.UnixMilli(), 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("heartbeat count: %w", err)
	}
	return int(n), nil
}

func (s *HeartbeatStore) DeleteIdleSince(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := s.rdb.ZRemRangeByScore(ctx, s.key, "-inf", "("+strconv.FormatInt(cutoff.UnixMilli(), 10)).Result()
	if err != nil {
		return 0, fmt.Errorf("heartbeat evict: %w", err)
	}
	return int(n), nil
}

func (s *HeartbeatStore) scan(ctx context.Context, match string, keep func(domain.HeartbeatRecord) bool) ([]domain.HeartbeatRecord, error) {
	var out []domain.HeartbeatRecord
	var cursor uint64
	for {
		pairs, next, err := s.rdb.ZScan(ctx, s.key, cursor, match, scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("heartbeat scan: %w", err)
		}
		// ZSCAN replies alternate member, score.
		for i := 0; i+1 < len(pairs); i += 2 {
			rec, ok := parseEntry(pairs[i], pairs[i+1])
			if ok && keep(rec) {
				out = append(out, rec)
			}
		}
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

func member(deviceID, tokenPrefix string) string {
	return deviceID + memberSep + tokenPrefix
}

// parseEntry splits on the last separator; token prefixes are hex and never contain it.
func parseEntry(m, score string) (domain.HeartbeatRecord, bool) {
	i := strings.LastIndex(m, memberSep)
	if i < 0 {
		return domain.HeartbeatRecord{}, false
	}
	ms, err := strconv.ParseFloat(score, 64)
	if err != nil {
		return domain.HeartbeatRecord{}, false
	}
	return domain.HeartbeatRecord{
		DeviceID:      m[:i],
		TokenPrefix:   m[i+1:],
		LastHeartbeat: time.UnixMilli(int64(ms)).UTC(),
	}, true
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
