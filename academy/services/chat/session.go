package chat

import (
	"sync"

	"github.com/google/uuid"
)

// Session is the per-widget context: which thread we're in, who the user is,
// and whether the widget is minimized. It is created when the widget opens
// and Close tears down everything bound to it.
type Session struct {
	mu        sync.Mutex
	id        string
	userID    uuid.UUID
	minimized bool
	closed    bool
	teardown  []func()
}

// NewSession starts a session for userID (uuid.Nil for anonymous use).
func NewSession(userID uuid.UUID) *Session {
	return &Session{userID: userID}
}

// ResumeSession continues an existing thread.
func ResumeSession(id string, userID uuid.UUID) *Session {
	return &Session{id: id, userID: userID}
}

func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// EnsureID returns the session id, creating one on first use.
func (s *Session) EnsureID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id == "" {
		s.id = uuid.NewString()
	}
	return s.id
}

func (s *Session) UserID() uuid.UUID {
	return s.userID
}

func (s *Session) Minimized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.minimized
}

func (s *Session) SetMinimized(v bool) {
	s.mu.Lock()
	s.minimized = v
	s.mu.Unlock()
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// onClose registers fn to run on Close. If the session is already closed fn
// runs immediately.
func (s *Session) onClose(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		fn()
		return
	}
	s.teardown = append(s.teardown, fn)
	s.mu.Unlock()
}

// Close runs teardown hooks once. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	fns := s.teardown
	s.teardown = nil
	s.mu.Unlock()

	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}
