package identity

import (
	"context"
	"sync"
	"testing"
	"time"
)

type seenLog struct {
	mu     sync.Mutex
	writes map[string]int
	done   chan struct{}
}

func (s *seenLog) UpdateLastSeen(_ context.Context, userID string, _ time.Time) error {
	s.mu.Lock()
	s.writes[userID]++
	s.mu.Unlock()
	s.done <- struct{}{}
	return nil
}

func (s *seenLog) count(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes[userID]
}

func TestPresence_Touch(t *testing.T) {
	store := &seenLog{writes: map[string]int{}, done: make(chan struct{}, 16)}
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	p := NewPresence(store, time.Minute)
	p.now = func() time.Time { return now }

	wait := func() {
		t.Helper()
		select {
		case <-store.done:
		case <-time.After(time.Second):
			t.Fatal("last seen write did not happen")
		}
	}

	if !p.Touch("anon_a") {
		t.Fatal("first touch should write")
	}
	wait()
	for range 5 {
		if p.Touch("anon_a") {
			t.Fatal("touch inside the interval should be skipped")
		}
	}
	if !p.Touch("anon_b") {
		t.Error("other users are throttled separately")
	}
	wait()
	if p.Touch("") {
		t.Error("empty user id should be ignored")
	}

	now = now.Add(time.Minute)
	if !p.Touch("anon_a") {
		t.Error("touch after the interval should write")
	}
	wait()
	if got := store.count("anon_a"); got != 2 {
		t.Errorf("writes = %d, want 2", got)
	}
}

func TestPresence_Evict(t *testing.T) {
	store := &seenLog{writes: map[string]int{}, done: make(chan struct{}, 16)}
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	p := NewPresence(store, time.Minute)
	p.now = func() time.Time { return now }

	p.Touch("anon_old")
	now = now.Add(30 * time.Minute)
	p.Touch("anon_new")

	if n := p.Evict(10 * time.Minute); n != 1 {
		t.Errorf("evicted %d, want 1", n)
	}
	if p.Touch("anon_new") {
		t.Error("recent user should still be throttled")
	}
	if !p.Touch("anon_old") {
		t.Error("evicted user should write again")
	}
}
