// Package registry tracks the set of currently connected, authenticated
// sessions and provides fan-out delivery to them. It is the single
// process-global map named in spec.md §4.D; the locking discipline
// (snapshot targets under the lock, send outside it) is grounded on the
// teacher's room broadcast design.
package registry

import (
	"log/slog"
	"sort"
	"sync"
)

// Sender abstracts the per-connection outbound path so the registry never
// has to know about encryption, framing, or goroutine wiring. Handlers pass
// in a push-shaped message; implementations typically forward it onto a
// buffered channel drained by a dedicated writer goroutine.
type Sender interface {
	Send(msg any)
}

// Session is one authenticated connection's registry entry.
type Session struct {
	UserID int64
	Sender Sender
}

// Registry is the process-global map of connected user sessions. The zero
// value is not ready for use; construct one with New.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[int64]*Session
	watchersM sync.Mutex
	watchers  map[int]func(event string, userCount int)
	nextWatch int
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{sessions: make(map[int64]*Session), watchers: make(map[int]func(string, int))}
}

// Watch registers fn to be called with ("attach"|"detach", current online
// count) every time a session attaches or detaches, feeding the admin
// surface's /live websocket. It returns an unsubscribe function.
func (r *Registry) Watch(fn func(event string, userCount int)) (unsubscribe func()) {
	r.watchersM.Lock()
	id := r.nextWatch
	r.nextWatch++
	r.watchers[id] = fn
	r.watchersM.Unlock()
	return func() {
		r.watchersM.Lock()
		delete(r.watchers, id)
		r.watchersM.Unlock()
	}
}

func (r *Registry) notify(event string) {
	count := r.Count()
	r.watchersM.Lock()
	fns := make([]func(string, int), 0, len(r.watchers))
	for _, fn := range r.watchers {
		fns = append(fns, fn)
	}
	r.watchersM.Unlock()
	for _, fn := range fns {
		fn(event, count)
	}
}

// Attach registers userID's session, replacing any prior session for the
// same user (spec.md §9: a second login for the same user displaces the
// first; the first connection is left to fail its next write and get
// reaped, matching the documented race resolution).
func (r *Registry) Attach(userID int64, sender Sender) {
	r.mu.Lock()
	r.sessions[userID] = &Session{UserID: userID, Sender: sender}
	r.mu.Unlock()
	slog.Debug("registry: attach", "user_id", userID)
	r.notify("attach")
}

// Detach removes userID's session, but only if it is still the one
// identified by sender — prevents a stale disconnect from a displaced
// connection from evicting a newer one.
func (r *Registry) Detach(userID int64, sender Sender) {
	r.mu.Lock()
	var removed bool
	if s, ok := r.sessions[userID]; ok && s.Sender == sender {
		delete(r.sessions, userID)
		removed = true
	}
	r.mu.Unlock()
	slog.Debug("registry: detach", "user_id", userID)
	if removed {
		r.notify("detach")
	}
}

// Get returns userID's active session, if any.
func (r *Registry) Get(userID int64) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[userID]
	return s, ok
}

// IsOnline reports whether userID currently has an attached session.
func (r *Registry) IsOnline(userID int64) bool {
	_, ok := r.Get(userID)
	return ok
}

// Count returns the number of attached sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// SendTo delivers msg to userID's session, if connected. No-op otherwise —
// pushes are best-effort (spec.md §6: pushes are not queued for offline
// recipients).
func (r *Registry) SendTo(userID int64, msg any) {
	r.mu.RLock()
	s, ok := r.sessions[userID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	s.Sender.Send(msg)
}

// SendToMany delivers msg to each userID that is currently connected,
// snapshotting the target senders under the lock and sending outside it so
// a slow client write never blocks the registry.
func (r *Registry) SendToMany(userIDs []int64, msg any) {
	r.mu.RLock()
	targets := make([]Sender, 0, len(userIDs))
	for _, id := range userIDs {
		if s, ok := r.sessions[id]; ok {
			targets = append(targets, s.Sender)
		}
	}
	r.mu.RUnlock()

	for _, t := range targets {
		t.Send(msg)
	}
}

// BroadcastAll delivers msg to every currently attached session
// (spec.md §4.D broadcast_all), snapshotting senders under the lock as
// SendToMany does.
func (r *Registry) BroadcastAll(msg any) {
	r.mu.RLock()
	targets := make([]Sender, 0, len(r.sessions))
	for _, s := range r.sessions {
		targets = append(targets, s.Sender)
	}
	r.mu.RUnlock()

	for _, t := range targets {
		t.Send(msg)
	}
}

// OnlineUserIDs returns a sorted snapshot of every currently attached
// user id.
func (r *Registry) OnlineUserIDs() []int64 {
	r.mu.RLock()
	ids := make([]int64, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
