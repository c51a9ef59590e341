package memory

import (
	"context"
	"sync"
	"time"

	"github.com/trinck-api/internal/domain"
)

// SendPolicy bounds how often one destination may be sent a code.
type SendPolicy struct {
	Cooldown     time.Duration
	Window       time.Duration
	MaxPerWindow int
}

type sendHistory struct {
	last        time.Time
	windowStart time.Time
	count       int
}

// SendLimiter applies SendPolicy per key in process memory.
type SendLimiter struct {
	mu      sync.Mutex
	policy  SendPolicy
	history map[string]*sendHistory
	now     func() time.Time
}

func NewSendLimiter(policy SendPolicy) *SendLimiter {
	return &SendLimiter{policy: policy, history: make(map[string]*sendHistory), now: time.Now}
}

func (l *SendLimiter) Allow(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	h, ok := l.history[key]
	if !ok {
		l.history[key] = &sendHistory{last: now, windowStart: now, count: 1}
		return nil
	}
	if wait := h.last.Add(l.policy.Cooldown).Sub(now); wait > 0 {
		return &domain.RateLimitError{RetryAfter: wait}
	}
	if now.Sub(h.windowStart) >= l.policy.Window {
		h.windowStart, h.count = now, 0
	}
	if l.policy.MaxPerWindow > 0 && h.count >= l.policy.MaxPerWindow {
		return &domain.RateLimitError{RetryAfter: h.windowStart.Add(l.policy.Window).Sub(now)}
	}
	h.last = now
	h.count++
	return nil
}

// Prune drops histories whose window and cooldown have both elapsed.
func (l *SendLimiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	n := 0
	for k, h := range l.history {
		if now.Sub(h.windowStart) >= l.policy.Window && now.Sub(h.last) >= l.policy.Cooldown {
			delete(l.history, k)
			n++
		}
	}
	return n
}
