package server

import (
	"sync"

	"github.com/plazachat/plaza/pkg/protocol"
)

// SessionState tracks the lifecycle of one connection.
type SessionState int32

const (
	// StateConnected is the post-accept, pre-login state. Chat traffic
	// from a Connected session is dropped: the sender cannot be
	// attributed yet.
	StateConnected SessionState = iota

	// StateActive means login succeeded. Only Active sessions send and
	// receive chat messages.
	StateActive

	// StateClosed is terminal. Reached exactly once per session.
	StateClosed
)

// Session binds one live connection to a logged-in identity.
type Session struct {
	ID   uint64
	Conn *SafeConn

	mu       sync.RWMutex
	state    SessionState
	username string
	addr     protocol.Address // claimed by the client at login, not the socket peer
}

// SessionInfo is an immutable copy of a session's identity.
type SessionInfo struct {
	Username string
	Address  protocol.Address
}

// NewSession creates a session in the Connected state.
func NewSession(id uint64, conn *SafeConn) *Session {
	return &Session{ID: id, Conn: conn}
}

// Activate moves Connected -> Active and records the login identity.
// Returns false if the session already left the Connected state; the
// identity is immutable once set.
func (s *Session) Activate(username string, addr protocol.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnected {
		return false
	}
	s.state = StateActive
	s.username = username
	s.addr = addr
	return true
}

// MarkClosed moves the session to its terminal state. Returns true only on
// the first transition, which lets the logout path and the I/O-error
// cleanup path race safely.
func (s *Session) MarkClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return false
	}
	s.state = StateClosed
	return true
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Info returns the login identity. ok is false unless the session is Active.
func (s *Session) Info() (SessionInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state != StateActive {
		return SessionInfo{}, false
	}
	return SessionInfo{Username: s.username, Address: s.addr}, true
}

// LoginInfo returns the identity regardless of state, for the logout
// broadcast after the session has already been marked Closed.
func (s *Session) LoginInfo() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionInfo{Username: s.username, Address: s.addr}
}
