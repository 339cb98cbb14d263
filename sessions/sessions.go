package sessions

import "errors"

// State is a session lifecycle state.
type State string

const (
	// StateUninitialized is the state before any initialize request.
	StateUninitialized State = "uninitialized"
	// StateInitializing means initialize was answered but the client has not
	// yet confirmed with notifications/initialized.
	StateInitializing State = "initializing"
	// StateReady means the handshake completed and all methods are open.
	StateReady State = "ready"
	// StateClosed is terminal; the stream is gone.
	StateClosed State = "closed"
)

var (
	// ErrNotReady rejects non-lifecycle requests that arrive before the
	// handshake completes. It maps to a JSON-RPC error response, never a
	// silent drop.
	ErrNotReady = errors.New("session not ready")

	// ErrSessionClosed rejects messages that arrive after the session
	// reached its terminal state. It is swallowed locally; the peer is gone.
	ErrSessionClosed = errors.New("session closed")
)

// ClientInfo identifies the connected client implementation.
type ClientInfo struct {
	Name    string
	Version string
	Title   string
}

// CapabilitySet records which optional client-side primitives the peer
// declared during initialize. The tools-only core acts on none of them, but
// they are retained verbatim so future surfaces can consult them without
// widening the Ready-state logic.
type CapabilitySet struct {
	Sampling         bool
	Roots            bool
	RootsListChanged bool
	Elicitation      bool
}

// Session is the read surface handed to capability implementations and tool
// handlers. Implementations must be safe for concurrent use.
type Session interface {
	// SessionID returns the server-assigned unique id for this connection.
	SessionID() string
	// UserID identifies the principal the transport attributed to the peer.
	UserID() string
	// ProtocolVersion is the negotiated protocol revision.
	ProtocolVersion() string
	// ClientInfo returns the client implementation metadata from initialize.
	ClientInfo() ClientInfo
	// ClientCapabilities returns the peer's declared capability set.
	ClientCapabilities() CapabilitySet
	// State returns the current lifecycle state.
	State() State
}
