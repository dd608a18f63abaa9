package registry

import (
	"fmt"
	"sync"
	"time"
)

// Session is one live client connection. It is owned by the Registry for its
// lifetime: created on a successful handshake, destroyed on disconnect.
// Never persisted.
type Session struct {
	ID          string
	UserID      string
	DeviceID    string
	ConnectedAt time.Time
}

// Registry is the per-process connection table: session ID to metadata, plus
// a derived user index for O(1) "is this user connected here" lookups. One
// mutex guards both maps; it is held only across map operations, never
// across a network send.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byUser   map[string]map[string]struct{}
}

func New() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		byUser:   make(map[string]map[string]struct{}),
	}
}

// Add registers a new session. Session IDs are generated fresh per
// connection, so a duplicate means the registry is corrupt; Add panics
// rather than silently overwriting.
func (r *Registry) Add(sessionID, userID, deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[sessionID]; ok {
		panic(fmt.Sprintf("registry: duplicate session id %s", sessionID))
	}

	r.sessions[sessionID] = &Session{
		ID:          sessionID,
		UserID:      userID,
		DeviceID:    deviceID,
		ConnectedAt: time.Now(),
	}

	set, ok := r.byUser[userID]
	if !ok {
		set = make(map[string]struct{})
		r.byUser[userID] = set
	}
	set[sessionID] = struct{}{}
}

// Remove deletes a session and, if it was the user's last, the user's index
// entry. Removing an unknown session is a no-op: disconnects can race with
// forced removal.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	delete(r.sessions, sessionID)

	if set, ok := r.byUser[sess.UserID]; ok {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(r.byUser, sess.UserID)
		}
	}
}

// Get returns a copy of the session metadata.
func (r *Registry) Get(sessionID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// SessionsFor returns a snapshot of the user's current session IDs. Callers
// iterating the result are immune to concurrent registry mutation.
func (r *Registry) SessionsFor(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byUser[userID]
	if len(set) == 0 {
		return nil
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// IsUserConnected reports whether the user has at least one live session on
// this process.
func (r *Registry) IsUserConnected(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// DeviceSession returns a session ID for the given user/device pair, if one
// is connected.
func (r *Registry) DeviceSession(userID, deviceID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id := range r.byUser[userID] {
		if sess, ok := r.sessions[id]; ok && sess.DeviceID == deviceID {
			return id, true
		}
	}
	return "", false
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// UserCount returns the number of distinct connected users.
func (r *Registry) UserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
