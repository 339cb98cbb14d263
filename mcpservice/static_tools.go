package mcpservice

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/toolwire/mcp-stdio-go/mcp"
	"github.com/toolwire/mcp-stdio-go/sessions"
)

// ErrUnknownTool reports a call against a name that is not registered. The
// engine converts it into an isError tool result rather than a protocol
// error, so the session survives the miss.
var ErrUnknownTool = errors.New("unknown tool")

// ToolHandler is the function signature used to handle a tool invocation.
type ToolHandler func(ctx context.Context, session sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error)

// StaticTool pairs a tool descriptor with its handler.
type StaticTool struct {
	Descriptor mcp.Tool
	Handler    ToolHandler
}

// ToolsContainer owns a mutable, threadsafe set of tool descriptors and
// handlers. Listing order is insertion order: registering over an existing
// name updates the entry in place without moving it, so clients paging
// through the list see a stable sequence.
//
// ToolsContainer embeds a ChangeNotifier and implements ChangeSubscriber so
// the tools capability automatically advertises listChanged support. Change
// signals are emitted after the mutation is visible to readers; a subscriber
// that lists tools upon receiving a signal always observes the new set.
type ToolsContainer struct {
	mu       sync.RWMutex
	tools    []mcp.Tool             // descriptors in listing order
	handlers map[string]ToolHandler // name -> handler

	notifier ChangeNotifier

	pageSize int
}

const defaultToolPageSize = 50

// NewToolsContainer constructs a ToolsContainer with the given tool
// definitions. Duplicate names follow Register semantics: the later
// definition wins without duplicating the list entry.
func NewToolsContainer(defs ...StaticTool) *ToolsContainer {
	st := &ToolsContainer{
		handlers: make(map[string]ToolHandler, len(defs)),
		pageSize: defaultToolPageSize,
	}
	for _, d := range defs {
		st.upsertLocked(d)
	}
	return st
}

// ProvideTools makes *ToolsContainer satisfy ToolsCapabilityProvider. It
// always returns itself with ok=true: an empty container is a
// present-but-empty capability rather than an absent one.
func (st *ToolsContainer) ProvideTools(ctx context.Context, session sessions.Session) (ToolsCapability, bool, error) {
	return st, true, nil
}

// SetPageSize sets the pagination size used by ListTools. A non-positive
// value is ignored.
func (st *ToolsContainer) SetPageSize(n int) {
	if n <= 0 {
		return
	}
	st.mu.Lock()
	st.pageSize = n
	st.mu.Unlock()
}

// Snapshot returns a copy of the current tool descriptors in listing order.
func (st *ToolsContainer) Snapshot() []mcp.Tool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]mcp.Tool, len(st.tools))
	copy(out, st.tools)
	return out
}

// Register installs a tool, replacing any existing registration with the
// same name in place. The replacement is atomic: no call observes the old
// descriptor paired with the new handler or vice versa.
func (st *ToolsContainer) Register(ctx context.Context, def StaticTool) {
	st.mu.Lock()
	st.upsertLocked(def)
	st.mu.Unlock()
	_ = st.notifier.Notify(ctx)
}

// upsertLocked updates an existing entry in place or appends a new one.
// Callers must hold st.mu.
func (st *ToolsContainer) upsertLocked(def StaticTool) {
	if st.handlers == nil {
		st.handlers = make(map[string]ToolHandler)
	}
	name := def.Descriptor.Name
	for i, t := range st.tools {
		if t.Name == name {
			st.tools[i] = def.Descriptor
			st.handlers[name] = def.Handler
			return
		}
	}
	st.tools = append(st.tools, def.Descriptor)
	st.handlers[name] = def.Handler
}

// Add registers a new tool only if the name is not already taken. Returns
// true if added.
func (st *ToolsContainer) Add(ctx context.Context, def StaticTool) bool {
	st.mu.Lock()
	if st.handlers == nil {
		st.handlers = make(map[string]ToolHandler)
	}
	name := def.Descriptor.Name
	if _, exists := st.handlers[name]; exists {
		st.mu.Unlock()
		return false
	}
	st.tools = append(st.tools, def.Descriptor)
	st.handlers[name] = def.Handler
	st.mu.Unlock()
	_ = st.notifier.Notify(ctx)
	return true
}

// Remove removes a tool by name. Returns true if removed; removing an absent
// name is a no-op and emits no change signal.
func (st *ToolsContainer) Remove(ctx context.Context, name string) bool {
	st.mu.Lock()
	n := 0
	removed := false
	for _, t := range st.tools {
		if t.Name == name {
			removed = true
			continue
		}
		st.tools[n] = t
		n++
	}
	if removed {
		st.tools = st.tools[:n]
		delete(st.handlers, name)
	}
	st.mu.Unlock()
	if removed {
		_ = st.notifier.Notify(ctx)
	}
	return removed
}

// Replace atomically swaps the entire tool set. Readers see either the old
// set or the new set, never a mixture.
func (st *ToolsContainer) Replace(ctx context.Context, defs ...StaticTool) {
	st.mu.Lock()
	st.tools = st.tools[:0]
	st.handlers = make(map[string]ToolHandler, len(defs))
	for _, d := range defs {
		st.upsertLocked(d)
	}
	st.mu.Unlock()
	_ = st.notifier.Notify(ctx)
}

// Subscriber implements ChangeSubscriber by returning a per-subscriber
// channel that receives a signal whenever the tool set changes.
func (st *ToolsContainer) Subscriber() <-chan struct{} {
	return st.notifier.Subscriber()
}

// Close tears down the change notifier, closing all subscriber channels.
func (st *ToolsContainer) Close() {
	st.notifier.Close()
}

// ListTools implements ToolsCapability with internal pagination.
func (st *ToolsContainer) ListTools(ctx context.Context, session sessions.Session, cursor *string) (Page[mcp.Tool], error) {
	st.mu.RLock()
	all := make([]mcp.Tool, len(st.tools))
	copy(all, st.tools)
	pageSize := st.pageSize
	st.mu.RUnlock()

	start := parseCursor(cursor)
	if start > len(all) {
		start = 0
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	items := make([]mcp.Tool, end-start)
	copy(items, all[start:end])
	if end < len(all) {
		return NewPage(items, WithNextCursor[mcp.Tool](strconv.Itoa(end))), nil
	}
	return NewPage(items), nil
}

// CallTool implements ToolsCapability. The descriptor and handler are
// captured under one lock acquisition so a concurrent Register cannot split
// them. Arguments are validated against the descriptor's input schema before
// the handler runs; a handler is never invoked with arguments that fail its
// declared schema.
func (st *ToolsContainer) CallTool(ctx context.Context, session sessions.Session, req *mcp.CallToolRequestReceived) (res *mcp.CallToolResult, err error) {
	if req == nil || req.Name == "" {
		return nil, fmt.Errorf("invalid tool request: missing name")
	}

	st.mu.RLock()
	h := st.handlers[req.Name]
	var schema mcp.ToolInputSchema
	var hasSchema bool
	for i := range st.tools {
		if st.tools[i].Name == req.Name {
			schema = st.tools[i].InputSchema
			hasSchema = true
			break
		}
	}
	st.mu.RUnlock()

	if h == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, req.Name)
	}
	if hasSchema {
		if verr := ValidateArguments(schema, req.Arguments); verr != nil {
			return nil, verr
		}
	}

	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("tool %s panicked: %v", req.Name, r)
		}
	}()
	return h(ctx, session, req)
}

// GetListChangedCapability always returns listChanged support for a
// container-backed tool set.
func (st *ToolsContainer) GetListChangedCapability(ctx context.Context, session sessions.Session) (ToolListChangedCapability, bool, error) {
	return toolsListChangedFromSubscriber{sub: st}, true, nil
}

// TextResult builds a CallToolResult with a single text content block.
func TextResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: s}}}
}

// Errorf returns an error CallToolResult with a single text block and
// IsError=true.
func Errorf(format string, a ...any) *mcp.CallToolResult {
	msg := fmt.Sprintf(format, a...)
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: msg}}, IsError: true}
}
