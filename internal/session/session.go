// Package session holds the signed-in user's directory credentials with an
// explicit lifecycle: init, active, invalidated.
package session

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// State is a session lifecycle state.
type State string

const (
	StateInit        State = "init"
	StateActive      State = "active"
	StateInvalidated State = "invalidated"
)

var (
	// ErrNotActive is returned by Token outside the active state.
	ErrNotActive = errors.New("session not active")

	// ErrInvalidated is returned when activating an invalidated session.
	ErrInvalidated = errors.New("session invalidated")

	ErrEmptyToken = errors.New("session token is empty")
)

// Session is one sign-in. It is safe for concurrent use.
type Session struct {
	id    uuid.UUID
	clock clockwork.Clock

	mu          sync.RWMutex
	state       State
	token       string
	activatedAt time.Time
}

// Info is a point-in-time view of a session. It never carries the token.
type Info struct {
	ID          string    `json:"id"`
	State       State     `json:"state"`
	ActivatedAt time.Time `json:"activated_at,omitzero"`
}

// New creates a session in the init state.
func New(clock clockwork.Clock) *Session {
	return &Session{
		id:    uuid.New(),
		clock: clock,
		state: StateInit,
	}
}

func (s *Session) ID() uuid.UUID { return s.id }

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Activate stores token and moves the session to active. An active session
// accepts a refreshed token.
func (s *Session) Activate(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrEmptyToken
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateInvalidated {
		return ErrInvalidated
	}
	s.token = token
	s.state = StateActive
	s.activatedAt = s.clock.Now().UTC()
	return nil
}

// Invalidate ends the session and drops its token. It is terminal.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateInvalidated
	s.token = ""
}

// Token returns the bearer token of an active session.
func (s *Session) Token() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateActive {
		return "", ErrNotActive
	}
	return s.token, nil
}

func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Info{
		ID:          s.id.String(),
		State:       s.state,
		ActivatedAt: s.activatedAt,
	}
}

// Holder owns the current session and starts a new one after sign-out.
// Its Token method lets it stand in as the directory's token source.
type Holder struct {
	clock clockwork.Clock

	mu      sync.Mutex
	current *Session
}

// NewHolder creates a Holder with a fresh session in the init state.
func NewHolder(clock clockwork.Clock) *Holder {
	return &Holder{clock: clock, current: New(clock)}
}

func (h *Holder) Current() *Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// SignIn activates the current session, replacing it first if it was
// invalidated.
func (h *Holder) SignIn(token string) (*Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.current
	if s.State() == StateInvalidated {
		s = New(h.clock)
	}
	if err := s.Activate(token); err != nil {
		return nil, err
	}
	h.current = s
	return s, nil
}

// SignOut invalidates the current session.
func (h *Holder) SignOut() *Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current.Invalidate()
	return h.current
}

func (h *Holder) Token() (string, error) {
	return h.Current().Token()
}
