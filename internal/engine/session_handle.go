package engine

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/toolwire/mcp-stdio-go/sessions"
)

var _ sessions.Session = (*SessionHandle)(nil)

// SessionHandle is the engine's mutable view of one connection's session. It
// owns the lifecycle state machine; the sessions.Session interface exposes a
// read-only surface to capability implementations and tool handlers.
type SessionHandle struct {
	sessionID string
	userID    string

	mu              sync.Mutex
	state           sessions.State
	protocolVersion string
	clientInfo      sessions.ClientInfo
	clientCaps      sessions.CapabilitySet
}

// NewSessionHandle creates a handle in the Uninitialized state with a fresh
// session id.
func NewSessionHandle(userID string) *SessionHandle {
	return &SessionHandle{
		sessionID: uuid.NewString(),
		userID:    userID,
		state:     sessions.StateUninitialized,
	}
}

func (s *SessionHandle) SessionID() string { return s.sessionID }
func (s *SessionHandle) UserID() string    { return s.userID }

func (s *SessionHandle) ProtocolVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.protocolVersion
}

func (s *SessionHandle) ClientInfo() sessions.ClientInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientInfo
}

func (s *SessionHandle) ClientCapabilities() sessions.CapabilitySet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientCaps
}

func (s *SessionHandle) State() sessions.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// beginInitialize records the negotiated handshake outcome and moves the
// session from Uninitialized to Initializing. A second initialize, or one
// arriving after close, is rejected.
func (s *SessionHandle) beginInitialize(protocolVersion string, info sessions.ClientInfo, caps sessions.CapabilitySet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case sessions.StateUninitialized:
	case sessions.StateClosed:
		return sessions.ErrSessionClosed
	default:
		return fmt.Errorf("initialize received in state %s", s.state)
	}
	s.state = sessions.StateInitializing
	s.protocolVersion = protocolVersion
	s.clientInfo = info
	s.clientCaps = caps
	return nil
}

// open moves the session from Initializing to Ready upon
// notifications/initialized.
func (s *SessionHandle) open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case sessions.StateInitializing:
	case sessions.StateClosed:
		return sessions.ErrSessionClosed
	default:
		return fmt.Errorf("initialized notification received in state %s", s.state)
	}
	s.state = sessions.StateReady
	return nil
}

// close moves the session to its terminal state. Idempotent.
func (s *SessionHandle) close() {
	s.mu.Lock()
	s.state = sessions.StateClosed
	s.mu.Unlock()
}
