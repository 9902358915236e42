package session

import (
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/crowdpulse/internal/domain"
)

// Registry is the connection table. Listeners fire outside the lock when a
// user gains their first connection or loses their last one.
type Registry struct {
	clock clockwork.Clock

	mu       sync.RWMutex
	sessions map[string]domain.Session
	users    map[string]int

	onFirst func(userID string)
	onLast  func(userID string)
}

func NewRegistry(clock clockwork.Clock) *Registry {
	return &Registry{
		clock:    clock,
		sessions: make(map[string]domain.Session),
		users:    make(map[string]int),
	}
}

// OnPresenceChange installs the first/last-connection listeners. Call before serving.
func (r *Registry) OnPresenceChange(onFirst, onLast func(userID string)) {
	r.onFirst = onFirst
	r.onLast = onLast
}

// Register binds connectionID to identity. Registering an existing connection
// replaces its previous mapping.
func (r *Registry) Register(connectionID string, identity domain.Identity, room string) (domain.Session, error) {
	if identity.UserID == "" {
		return domain.Session{}, domain.ErrMissingUserID
	}
	if connectionID == "" {
		return domain.Session{}, domain.Invalid("connection id must not be empty")
	}

	s := domain.Session{
		ConnectionID: connectionID,
		UserID:       identity.UserID,
		Admin:        identity.Admin,
		Room:         room,
		JoinedAt:     r.clock.Now(),
	}

	r.mu.Lock()
	prev, replaced := r.sessions[connectionID]
	var left string
	first := false
	if !replaced || prev.UserID != s.UserID {
		if replaced && r.release(prev.UserID) {
			left = prev.UserID
		}
		r.users[s.UserID]++
		first = r.users[s.UserID] == 1
	}
	r.sessions[connectionID] = s
	r.mu.Unlock()

	if left != "" && r.onLast != nil {
		r.onLast(left)
	}
	if first && r.onFirst != nil {
		r.onFirst(s.UserID)
	}
	return s, nil
}

// Unregister drops connectionID. Unknown connections are ignored.
func (r *Registry) Unregister(connectionID string) {
	r.mu.Lock()
	s, ok := r.sessions[connectionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, connectionID)
	last := r.release(s.UserID)
	r.mu.Unlock()

	if last && r.onLast != nil {
		r.onLast(s.UserID)
	}
}

func (r *Registry) Lookup(connectionID string) (domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[connectionID]
	if !ok {
		return domain.Session{}, domain.ErrNoSession
	}
	return s, nil
}

// Presence counts distinct users and connections, optionally within a room.
func (r *Registry) Presence(room string) domain.Presence {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if room == "" {
		return domain.Presence{Spectators: len(r.users), Connections: len(r.sessions)}
	}
	users := make(map[string]struct{})
	p := domain.Presence{}
	for _, s := range r.sessions {
		if s.Room != room {
			continue
		}
		p.Connections++
		users[s.UserID] = struct{}{}
	}
	p.Spectators = len(users)
	return p
}

// Sessions returns a stable copy of the table.
func (r *Registry) Sessions() []domain.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// release decrements a user's connection count; true when it reached zero.
func (r *Registry) release(userID string) bool {
	r.users[userID]--
	if r.users[userID] <= 0 {
		delete(r.users, userID)
		return true
	}
	return false
}
