package mcp

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Method is an MCP method identifier used in JSON-RPC messages.
type Method string

// Method names implemented by this core.
const (
	// Initialization lifecycle.
	InitializeMethod              Method = "initialize"
	InitializedNotificationMethod Method = "notifications/initialized"

	// Tools.
	ToolsListMethod                    Method = "tools/list"
	ToolsCallMethod                    Method = "tools/call"
	ToolsListChangedNotificationMethod Method = "notifications/tools/list_changed"

	// General.
	PingMethod                  Method = "ping"
	CancelledNotificationMethod Method = "notifications/cancelled"
)

// PaginatedRequest carries a cursor for paginated list requests.
type PaginatedRequest struct {
	Cursor string `json:"cursor,omitzero"`
}

// PaginatedResult carries a cursor for continuing pagination.
type PaginatedResult struct {
	NextCursor string `json:"nextCursor,omitzero"`
}

// BaseMetadata carries optional metadata for results.
type BaseMetadata struct {
	Meta map[string]any `json:"_meta,omitempty"`
}

// InitializeRequest starts the initialization handshake.
type InitializeRequest struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      ImplementationInfo `json:"clientInfo"`
}

// InitializeResult returns the negotiated version, server capabilities and
// server info.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      ImplementationInfo `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitzero"`
	BaseMetadata
}

// InitializedNotification signals that the client finished initializing.
type InitializedNotification struct{}

// ListToolsRequest requests the set of available tools.
type ListToolsRequest struct {
	PaginatedRequest
}

// ListToolsResult returns one page of available tools.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
	PaginatedResult
	BaseMetadata
}

// CallToolRequestReceived is the server-received shape of a tool call. The
// arguments stay raw so that schema validation and typed decoding happen at
// the registry boundary, not during envelope parsing.
type CallToolRequestReceived struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult is the outcome of a tool invocation. IsError marks
// tool-level failures (unknown tool, argument mismatch, handler error) which
// are deliberately not JSON-RPC protocol errors: the session stays usable.
type CallToolResult struct {
	Content           []ContentBlock `json:"content,omitempty"`
	IsError           bool           `json:"isError,omitzero"`
	StructuredContent map[string]any `json:"structuredContent,omitempty"`
	BaseMetadata
}

// ToolListChangedNotification indicates the set of tools changed.
type ToolListChangedNotification struct{}

// PingRequest is a no-op request used to test connectivity.
type PingRequest struct{}

// RequestID names another request on the wire. JSON-RPC ids may be strings
// or numbers; both decode into the canonical string form (integral numbers
// render without a fraction), so lookups against in-flight tracking keyed by
// the same form line up. The empty value means no id was given.
type RequestID string

// UnmarshalJSON implements json.Unmarshaler, accepting both id forms.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = RequestID(s)
		return nil
	}
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		if num == float64(int64(num)) {
			*id = RequestID(strconv.FormatInt(int64(num), 10))
		} else {
			*id = RequestID(fmt.Sprintf("%v", num))
		}
		return nil
	}
	return fmt.Errorf("requestId must be a string or number, got: %s", string(data))
}

// CancelledNotification informs the server that an in-flight request was
// cancelled by the client.
type CancelledNotification struct {
	RequestID RequestID `json:"requestId"`
	Reason    string    `json:"reason,omitzero"`
}

// EmptyResult is returned by operations that carry no data (e.g. ping).
type EmptyResult struct {
	BaseMetadata
}
