package mcpservice

import (
	"context"

	"github.com/toolwire/mcp-stdio-go/mcp"
	"github.com/toolwire/mcp-stdio-go/sessions"
)

// ServerCapabilities is the surface the transport engine consumes. The engine
// discovers capabilities per session and translates method calls on them into
// JSON-RPC responses.
type ServerCapabilities interface {
	// GetServerInfo returns implementation information surfaced in initialize
	// results. It MAY be called multiple times and SHOULD be inexpensive.
	GetServerInfo(ctx context.Context, session sessions.Session) (mcp.ImplementationInfo, error)

	// GetPreferredProtocolVersion returns the server's preferred protocol
	// version. If ok is false, the engine negotiates from the client's
	// requested version against the module's supported set.
	GetPreferredProtocolVersion(ctx context.Context) (version string, ok bool, err error)

	// GetInstructions returns optional human-readable instructions included
	// in the initialize result. If ok is false the field is omitted.
	GetInstructions(ctx context.Context, session sessions.Session) (instructions string, ok bool, err error)

	// GetToolsCapability returns the tools capability if supported for the
	// given session. If ok is false the engine will not advertise tool
	// support. The returned value MUST be safe for concurrent use.
	GetToolsCapability(ctx context.Context, session sessions.Session) (cap ToolsCapability, ok bool, err error)
}

// ToolsCapability defines the server's tools surface area. Implementations
// may be static or dynamic per session and MUST be safe for concurrent use.
type ToolsCapability interface {
	// ListTools returns a (possibly paginated) list of tools available to the
	// session. A nil cursor requests the first page. When more results are
	// available, Page.NextCursor SHOULD be set.
	ListTools(ctx context.Context, session sessions.Session, cursor *string) (Page[mcp.Tool], error)

	// CallTool invokes a named tool with the provided request payload.
	// Invocation-level failures (unknown tool, argument mismatch, handler
	// error) are returned as errors; the engine converts them into isError
	// results so the session stays usable.
	CallTool(ctx context.Context, session sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error)

	// GetListChangedCapability returns an optional capability that, when
	// present, allows the engine to register a callback invoked when the tool
	// list changes. If ok is false, list-changed notifications are not
	// supported and the engine will not advertise listChanged for tools.
	GetListChangedCapability(ctx context.Context, session sessions.Session) (cap ToolListChangedCapability, ok bool, err error)
}

// NotifyToolsListChangedFunc is invoked when the tool list changes for the
// session. Implementations MAY coalesce rapid changes and deliver fewer
// callbacks, but every quiescent state change produces at least one call.
type NotifyToolsListChangedFunc func(ctx context.Context, session sessions.Session)

// ToolListChangedCapability provides tools list-changed notification support.
// Register respects ctx cancellation to stop delivering callbacks.
type ToolListChangedCapability interface {
	Register(ctx context.Context, session sessions.Session, fn NotifyToolsListChangedFunc) (ok bool, err error)
}

// toolsListChangedFromSubscriber adapts a ChangeSubscriber to
// ToolListChangedCapability.
type toolsListChangedFromSubscriber struct{ sub ChangeSubscriber }

func (t toolsListChangedFromSubscriber) Register(ctx context.Context, session sessions.Session, fn NotifyToolsListChangedFunc) (bool, error) {
	if t.sub == nil || fn == nil {
		return false, nil
	}
	ch := t.sub.Subscriber()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				fn(ctx, session)
			}
		}
	}()
	return true, nil
}

// ToolsCapabilityProvider yields a ToolsCapability per session. ok=false
// suppresses the entire capability.
type ToolsCapabilityProvider interface {
	ProvideTools(ctx context.Context, session sessions.Session) (ToolsCapability, bool, error)
}

// ToolsCapabilityProviderFunc adapts a function to a ToolsCapabilityProvider.
type ToolsCapabilityProviderFunc func(ctx context.Context, session sessions.Session) (ToolsCapability, bool, error)

func (f ToolsCapabilityProviderFunc) ProvideTools(ctx context.Context, s sessions.Session) (ToolsCapability, bool, error) {
	return f(ctx, s)
}
