// Package session tracks which accounts are currently logged in to the
// gateway. The registry is shared by every connection loop; each
// operation is a single critical section and never performs I/O while
// holding the lock.
package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/urd-project/urd/internal/protocol"
)

var (
	// ErrAlreadyLoggedIn is returned by TryLogin when the user id already
	// has an active session.
	ErrAlreadyLoggedIn = errors.New("account already logged in")
	// ErrFull is returned by TryLogin when the session cap is reached.
	ErrFull = errors.New("session limit reached")
	// ErrNotFound is returned by Kick for an unknown user id.
	ErrNotFound = errors.New("session not found")
)

// Kicker is implemented by the connection that owns a session. Kick is
// called outside the registry lock.
type Kicker interface {
	Kick(reason protocol.BanReason)
}

// Session is one logged-in identity.
type Session struct {
	ID        uint64    `json:"id"`
	AccountID uint32    `json:"account_id"`
	UserID    string    `json:"userid"`
	Remote    string    `json:"remote"`
	LoginAt   time.Time `json:"login_at"`

	kicker Kicker
}

// Registry holds at most one session per user id.
type Registry struct {
	mu          sync.Mutex
	byUser      map[string]*Session
	nextID      uint64
	maxSessions int
}

// NewRegistry creates a registry. maxSessions <= 0 disables the cap.
func NewRegistry(maxSessions int) *Registry {
	return &Registry{
		byUser:      make(map[string]*Session),
		maxSessions: maxSessions,
	}
}

// SetLimit changes the session cap. Existing sessions are kept.
func (r *Registry) SetLimit(maxSessions int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxSessions = maxSessions
}

// TryLogin records a session for s.UserID if none exists and the cap
// allows it. The check and the insert happen under one lock. The
// returned session carries the assigned ID and login time.
func (r *Registry) TryLogin(s Session, kicker Kicker) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byUser[s.UserID]; ok {
		return Session{}, ErrAlreadyLoggedIn
	}
	if r.maxSessions > 0 && len(r.byUser) >= r.maxSessions {
		return Session{}, ErrFull
	}

	r.nextID++
	s.ID = r.nextID
	if s.LoginAt.IsZero() {
		s.LoginAt = time.Now()
	}
	s.kicker = kicker

	entry := s
	r.byUser[s.UserID] = &entry

	log.Debug().
		Str("userid", s.UserID).
		Uint64("session", s.ID).
		Msg("session recorded")
	return s, nil
}

// Remove deletes the session with the given id. It reports whether a
// session was removed; a session that was replaced or kicked is left alone.
func (r *Registry) Remove(id uint64) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for userID, s := range r.byUser {
		if s.ID == id {
			delete(r.byUser, userID)
			return *s, true
		}
	}
	return Session{}, false
}

// Kick removes the session for userID and notifies its owner with reason.
func (r *Registry) Kick(userID string, reason protocol.BanReason) (Session, error) {
	r.mu.Lock()
	s, ok := r.byUser[userID]
	if ok {
		delete(r.byUser, userID)
	}
	r.mu.Unlock()

	if !ok {
		return Session{}, ErrNotFound
	}

	log.Info().
		Str("userid", userID).
		Uint64("session", s.ID).
		Str("reason", reason.String()).
		Msg("session kicked")

	if s.kicker != nil {
		s.kicker.Kick(reason)
	}
	return *s, nil
}

// KickAll removes every session and notifies each owner.
func (r *Registry) KickAll(reason protocol.BanReason) int {
	r.mu.Lock()
	kicked := make([]*Session, 0, len(r.byUser))
	for userID, s := range r.byUser {
		kicked = append(kicked, s)
		delete(r.byUser, userID)
	}
	r.mu.Unlock()

	for _, s := range kicked {
		if s.kicker != nil {
			s.kicker.Kick(reason)
		}
	}
	return len(kicked)
}

// Get returns the session for userID.
func (r *Registry) Get(userID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byUser[userID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// List returns a snapshot of all sessions ordered by login time.
func (r *Registry) List() []Session {
	r.mu.Lock()
	result := make([]Session, 0, len(r.byUser))
	for _, s := range r.byUser {
		result = append(result, *s)
	}
	r.mu.Unlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].LoginAt.Equal(result[j].LoginAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].LoginAt.Before(result[j].LoginAt)
	})
	return result
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byUser)
}
