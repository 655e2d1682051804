package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry owns the live sessions. A session exists from its first access until End or Sweep.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	maxTurns int
	pinFirst bool
	now      func() time.Time
}

func NewRegistry(maxTurns int, pinFirst bool) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		maxTurns: maxTurns,
		pinFirst: pinFirst,
		now:      time.Now,
	}
}

// Create starts a session with a fresh random id.
func (r *Registry) Create() *Session {
	sess, _ := r.GetOrCreate(uuid.NewString())
	return sess
}

// Get returns the session and marks it active.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	r.mu.Unlock()
	if ok {
		sess.Touch(r.now())
	}
	return sess, ok
}

// GetOrCreate returns the session with the given id, creating it on first access.
func (r *Registry) GetOrCreate(id string) (*Session, bool) {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.sessions[id]; ok {
		sess.Touch(now)
		return sess, false
	}
	sess := newSession(id, NewConversation(r.maxTurns, r.pinFirst), now)
	r.sessions[id] = sess
	return sess, true
}

// End tears the session down, canceling any reply still streaming.
func (r *Registry) End(id string) bool {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		sess.end()
	}
	return ok
}

// Sweep ends sessions idle for longer than idle and returns their ids.
// Sessions with a reply in flight are kept.
func (r *Registry) Sweep(idle time.Duration) []string {
	if idle <= 0 {
		return nil
	}
	cutoff := r.now().Add(-idle)

	var expired []*Session
	r.mu.Lock()
	for id, sess := range r.sessions {
		if sess.Busy() || sess.LastActive().After(cutoff) {
			continue
		}
		expired = append(expired, sess)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	ids := make([]string, 0, len(expired))
	for _, sess := range expired {
		sess.end()
		ids = append(ids, sess.ID)
	}
	return ids
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// EndAll tears down every session.
func (r *Registry) EndAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, sess := range sessions {
		sess.end()
	}
}
