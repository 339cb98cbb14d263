package mcp

// LatestProtocolVersion is the newest protocol revision this module speaks.
const LatestProtocolVersion = "2025-06-18"

// SupportedProtocolVersions lists the protocol revisions this module can
// negotiate, newest first. Negotiation picks the client's requested version
// when it appears here, and otherwise falls back to the newest entry.
var SupportedProtocolVersions = []string{
	"2025-06-18",
	"2025-03-26",
	"2024-11-05",
}

// ImplementationInfo describes an implementation name and version, used for
// both clientInfo and serverInfo in the initialize handshake.
type ImplementationInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Title   string `json:"title,omitzero"`
}

// ClientCapabilities advertises client features. This server core only acts
// on the tools side, but the full set is decoded and retained on the session
// so future request surfaces can consult it without re-negotiating.
type ClientCapabilities struct {
	Roots *struct {
		ListChanged bool `json:"listChanged"`
	} `json:"roots,omitempty"`
	Sampling    *struct{} `json:"sampling,omitempty"`
	Elicitation *struct{} `json:"elicitation,omitempty"`
}

// ServerCapabilities advertises server features. Tools is the only primitive
// this core exposes.
type ServerCapabilities struct {
	Tools *struct {
		ListChanged bool `json:"listChanged"`
	} `json:"tools,omitempty"`
}

// ContentBlock is one typed part of a tool result. Type selects which of the
// remaining fields are meaningful: "text" uses Text, "resource_link" uses
// URI/Name/Description, and binary variants use Data/MimeType.
type ContentBlock struct {
	Type string `json:"type"`
	// For text content.
	Text string `json:"text,omitzero"`
	// For image and audio content.
	Data     string `json:"data,omitzero"`
	MimeType string `json:"mimeType,omitzero"`
	// For resource links.
	URI         string `json:"uri,omitzero"`
	Name        string `json:"name,omitzero"`
	Description string `json:"description,omitzero"`
}

// ContentTypeText is the ContentBlock type tag for plain text.
const ContentTypeText = "text"

// ContentTypeResourceLink is the ContentBlock type tag for resource links.
const ContentTypeResourceLink = "resource_link"

// Tool describes a callable tool and its input schema.
type Tool struct {
	Name        string          `json:"name"`
	Title       string          `json:"title,omitzero"`
	Description string          `json:"description,omitempty"`
	InputSchema ToolInputSchema `json:"inputSchema"`
}

// ToolInputSchema is a JSON-schema-like description of tool input. The shape
// is always an object at the top level.
type ToolInputSchema struct {
	Type                 string                    `json:"type"`
	Properties           map[string]SchemaProperty `json:"properties,omitempty"`
	Required             []string                  `json:"required,omitempty"`
	AdditionalProperties bool                      `json:"additionalProperties,omitzero"`
}

// SchemaProperty is a simplified schema node used inside tool input schemas.
type SchemaProperty struct {
	Type        string                    `json:"type,omitempty"`
	Description string                    `json:"description,omitzero"`
	Items       *SchemaProperty           `json:"items,omitempty"`
	Properties  map[string]SchemaProperty `json:"properties,omitempty"`
	Required    []string                  `json:"required,omitempty"`
	Enum        []any                     `json:"enum,omitempty"`
}
