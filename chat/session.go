package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

var (
	ErrTurnInProgress = errors.New("a turn is already in progress for this session")
	ErrSessionEnded   = errors.New("session ended")
)

// Session is the state of one interactive session: its credential, its conversation and the
// reply currently being streamed. It is handed to front-ends by reference.
type Session struct {
	ID      string
	Created time.Time

	conv *Conversation

	mu         sync.Mutex
	credential string
	lastActive time.Time
	partial    string
	streaming  bool
	cancel     context.CancelFunc
	ended      bool
}

func newSession(id string, conv *Conversation, now time.Time) *Session {
	return &Session{
		ID:         id,
		Created:    now,
		conv:       conv,
		lastActive: now,
	}
}

func (s *Session) Conversation() *Conversation {
	return s.conv
}

// SetCredential stores the API key. A blank value clears it.
func (s *Session) SetCredential(key string) {
	s.mu.Lock()
	s.credential = strings.TrimSpace(key)
	s.mu.Unlock()
}

func (s *Session) Credential() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credential
}

func (s *Session) HasCredential() bool {
	return s.Credential() != ""
}

// Touch records activity now.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	s.lastActive = now
	s.mu.Unlock()
}

func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Partial returns the accumulated text of the reply being streamed and whether one is.
func (s *Session) Partial() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partial, s.streaming
}

func (s *Session) setPartial(text string) {
	s.mu.Lock()
	s.partial = text
	s.mu.Unlock()
}

// beginTurn claims the session for one turn. The returned context is canceled by Cancel,
// by End, or when parent is done. finish must be called when the turn is over.
func (s *Session) beginTurn(parent context.Context) (context.Context, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return nil, nil, ErrSessionEnded
	}
	if s.streaming {
		return nil, nil, ErrTurnInProgress
	}

	ctx, cancel := context.WithCancel(parent)
	s.streaming = true
	s.partial = ""
	s.cancel = cancel

	finish := func() {
		cancel()
		s.mu.Lock()
		s.streaming = false
		s.partial = ""
		s.cancel = nil
		s.mu.Unlock()
	}
	return ctx, finish, nil
}

// Busy reports whether a turn is running.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// Cancel stops the running turn, if any. It reports whether there was one.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

// end cancels the running turn and refuses new ones.
func (s *Session) end() {
	s.mu.Lock()
	s.ended = true
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
}
