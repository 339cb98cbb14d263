// Package sessions defines the session abstraction shared between the
// protocol engine and user-supplied tool handlers.
//
// A session is created by the transport when a client connects and walks a
// fixed lifecycle: Uninitialized -> Initializing (initialize received) ->
// Ready (notifications/initialized received) -> Closed (stream gone). There
// is exactly one session per connection and no state is shared between
// sessions.
//
// Tool handlers receive a Session value with borrowed, read-only access:
// they may inspect identity and negotiated state but cannot drive lifecycle
// transitions, which belong to the engine.
package sessions
