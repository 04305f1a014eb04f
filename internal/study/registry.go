package study

import (
	"log/slog"
	"sync"
	"time"
)

const subscriberBuffer = 8

// Key identifies one study session: a user and one of their browser tabs.
type Key struct {
	UserID    string
	SessionID string
}

// Entry is the mutable state Registry guards for a key.
type Entry struct {
	Session *Session
	// RecordID links the live session to its persisted summary, if any.
	RecordID string
}

type slot struct {
	mu         sync.Mutex
	entry      Entry
	lastActive time.Time
	removed    bool
	subs       map[int]chan Snapshot
}

func (s *slot) publish(snap Snapshot) {
	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
			// Slow reader: drop the stale snapshot so the newest one fits.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// Registry owns one Session per Key and serialises commands on each of them.
// Sessions for different keys never block each other.
type Registry struct {
	mu      sync.RWMutex
	active  map[string]map[string]*slot
	opts    []Option
	now     func() time.Time
	nextSub int
}

// NewRegistry creates an empty registry. opts are applied to every session it creates.
func NewRegistry(opts ...Option) *Registry {
	// Idle tracking uses the sessions' clock so it agrees with elapsed time.
	return &Registry{
		active: make(map[string]map[string]*slot),
		opts:   opts,
		now:    resolve(opts).now,
	}
}

func (r *Registry) slot(k Key) *slot {
	r.mu.RLock()
	s := r.active[k.UserID][k.SessionID]
	r.mu.RUnlock()
	if s != nil {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	sessions, ok := r.active[k.UserID]
	if !ok {
		sessions = make(map[string]*slot)
		r.active[k.UserID] = sessions
	}
	if s, ok := sessions[k.SessionID]; ok {
		return s
	}
	s = &slot{
		entry:      Entry{Session: New(r.opts...)},
		lastActive: r.now(),
		subs:       make(map[int]chan Snapshot),
	}
	sessions[k.SessionID] = s
	return s
}

// lock returns the live slot for k with its mutex held.
func (r *Registry) lock(k Key) *slot {
	for {
		s := r.slot(k)
		s.mu.Lock()
		if !s.removed {
			return s
		}
		s.mu.Unlock()
	}
}

// Update runs fn with exclusive access to the key's entry, creating an idle
// session on first use. When fn reports a change, subscribers receive the
// resulting snapshot. The snapshot is returned either way.
func (r *Registry) Update(k Key, fn func(e *Entry) bool) Snapshot {
	s := r.lock(k)
	defer s.mu.Unlock()

	s.lastActive = r.now()
	changed := fn(&s.entry)
	snap := s.entry.Session.Snapshot()
	if changed {
		s.publish(snap)
	}
	return snap
}

// View returns the key's snapshot and record ID without creating a session.
func (r *Registry) View(k Key) (Snapshot, string) {
	r.mu.RLock()
	s := r.active[k.UserID][k.SessionID]
	r.mu.RUnlock()
	if s == nil {
		return New(r.opts...).Snapshot(), ""
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry.Session.Snapshot(), s.entry.RecordID
}

// Subscribe delivers a snapshot after every change to the key's session.
// The channel is closed when the session is removed or cancel is called.
func (r *Registry) Subscribe(k Key) (<-chan Snapshot, func()) {
	s := r.lock(k)
	defer s.mu.Unlock()

	r.mu.Lock()
	r.nextSub++
	id := r.nextSub
	r.mu.Unlock()

	ch := make(chan Snapshot, subscriberBuffer)
	s.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

// Remove discards the key's session and closes its subscriptions.
func (r *Registry) Remove(k Key) {
	r.mu.Lock()
	sessions, ok := r.active[k.UserID]
	if !ok {
		r.mu.Unlock()
		return
	}
	s, ok := sessions[k.SessionID]
	if ok {
		delete(sessions, k.SessionID)
		if len(sessions) == 0 {
			delete(r.active, k.UserID)
		}
	}
	r.mu.Unlock()

	if ok {
		s.close()
		slog.Info("Study session removed", "user_id", k.UserID, "session_id", k.SessionID)
	}
}

// CloseUser removes every session belonging to userID and returns how many there were.
func (r *Registry) CloseUser(userID string) int {
	r.mu.Lock()
	sessions := r.active[userID]
	delete(r.active, userID)
	r.mu.Unlock()

	for sid, s := range sessions {
		s.close()
		slog.Info("Study session closed", "user_id", userID, "session_id", sid)
	}
	return len(sessions)
}

func (s *slot) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *slot) closeLocked() {
	s.removed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

// RemoveIfIdle removes the key's session only if it is still untouched for
// ttl once its lock is held. fn, when non-nil, runs on the entry before
// removal; a reported change is published to subscribers before their
// channels close. It reports whether the session was removed.
func (r *Registry) RemoveIfIdle(k Key, ttl time.Duration, fn func(e *Entry) bool) bool {
	r.mu.RLock()
	s := r.active[k.UserID][k.SessionID]
	r.mu.RUnlock()
	if s == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed || s.lastActive.After(r.now().Add(-ttl)) {
		return false
	}

	if fn != nil && fn(&s.entry) {
		s.publish(s.entry.Session.Snapshot())
	}

	r.mu.Lock()
	if sessions := r.active[k.UserID]; sessions[k.SessionID] == s {
		delete(sessions, k.SessionID)
		if len(sessions) == 0 {
			delete(r.active, k.UserID)
		}
	}
	r.mu.Unlock()

	s.closeLocked()
	slog.Info("Idle study session removed", "user_id", k.UserID, "session_id", k.SessionID)
	return true
}

// Idle returns the keys whose sessions have not been touched for at least ttl.
func (r *Registry) Idle(ttl time.Duration) []Key {
	type candidate struct {
		key  Key
		slot *slot
	}

	r.mu.RLock()
	var all []candidate
	for uid, sessions := range r.active {
		for sid, s := range sessions {
			all = append(all, candidate{Key{UserID: uid, SessionID: sid}, s})
		}
	}
	r.mu.RUnlock()

	cutoff := r.now().Add(-ttl)
	var idle []Key
	for _, c := range all {
		c.slot.mu.Lock()
		stale := !c.slot.lastActive.After(cutoff)
		c.slot.mu.Unlock()
		if stale {
			idle = append(idle, c.key)
		}
	}
	return idle
}

// Len returns the number of sessions currently held.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, sessions := range r.active {
		n += len(sessions)
	}
	return n
}
