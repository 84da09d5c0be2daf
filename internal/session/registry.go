package session

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Registry is the process-wide sessionId → Session map plus the user index
// that keeps a userId in at most one session at a time. It is constructed
// explicitly and passed by reference so tests can run independent registries.
// Registry locking covers only entry insert/remove and the user index; session
// internals are guarded by each session's own lock.
type Registry struct {
	emitter  Emitter
	notifier Notifier
	backend  RecordingBackend
	timeouts Timeouts
	now      func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
	users    map[string]string // userID → sessionID
}

func NewRegistry(emitter Emitter, notifier Notifier, backend RecordingBackend, timeouts Timeouts) *Registry {
	return &Registry{
		emitter:  emitter,
		notifier: notifier,
		backend:  backend,
		timeouts: timeouts,
		now:      time.Now,
		sessions: make(map[string]*Session),
		users:    make(map[string]string),
	}
}

// CreateSession registers a new session in WAITING state.
func (r *Registry) CreateSession(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[id]; exists {
		return nil, ErrSessionExists
	}
	s := newSession(id, r)
	r.sessions[id] = s
	log.Info().Str("session", id).Msg("session created")
	return s, nil
}

// GetSession resolves a session by ID.
func (r *Registry) GetSession(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, newError(CodeSessionNotFound, "session %s not found", id)
	}
	return s, nil
}

// Sessions returns a snapshot of all live sessions for the heartbeat sweep.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// UserSession reports which session, if any, the user currently occupies.
func (r *Registry) UserSession(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.users[userID]
	return id, ok
}

// Shutdown drains the registry: every live session is forced to ENDED with
// reason "shutdown".
func (r *Registry) Shutdown() {
	for _, s := range r.Sessions() {
		s.ForceEnd(ReasonShutdown)
	}
	log.Info().Msg("session registry drained")
}

// bindUser claims the user for a session; a user bound to a different live
// session is rejected.
func (r *Registry) bindUser(userID, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if bound, ok := r.users[userID]; ok && bound != sessionID {
		return newError(CodeUserAlreadyInSession, "user %s is already in session %s", userID, bound)
	}
	r.users[userID] = sessionID
	return nil
}

func (r *Registry) releaseUser(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, userID)
}

// dropSession removes the entry; invoked only by a session reaching ENDED.
func (r *Registry) dropSession(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}
