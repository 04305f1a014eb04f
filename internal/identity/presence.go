package identity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const presenceWriteTimeout = 5 * time.Second

// LastSeenStore records user activity.
type LastSeenStore interface {
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error
}

// Presence stamps users' last_seen_at, writing at most once per interval
// for each user no matter how many requests or socket frames arrive.
type Presence struct {
	store    LastSeenStore
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// NewPresence creates a throttled last-seen writer.
func NewPresence(store LastSeenStore, interval time.Duration) *Presence {
	return &Presence{
		store:    store,
		interval: interval,
		now:      time.Now,
		last:     make(map[string]time.Time),
	}
}

// Touch records activity for userID. The write happens in the background and
// is skipped when the previous one for the user is younger than the interval.
// It reports whether a write was started.
func (p *Presence) Touch(userID string) bool {
	if userID == "" {
		return false
	}
	now := p.now()

	p.mu.Lock()
	if prev, ok := p.last[userID]; ok && now.Sub(prev) < p.interval {
		p.mu.Unlock()
		return false
	}
	p.last[userID] = now
	p.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), presenceWriteTimeout)
		defer cancel()
		if err := p.store.UpdateLastSeen(ctx, userID, now.UTC()); err != nil {
			slog.Warn("Failed to update last seen", "error", err, "user_id", userID)
		}
	}()
	return true
}

// Evict forgets users whose last write is older than idle.
func (p *Presence) Evict(idle time.Duration) int {
	cutoff := p.now().Add(-idle)
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for id, t := range p.last {
		if t.Before(cutoff) {
			delete(p.last, id)
			n++
		}
	}
	return n
}
