// Package mcpservice exposes the building blocks for implementing the server
// side of the tools primitive. The transport discovers what a server supports
// through the ServerCapabilities interface and translates method calls on the
// returned capabilities into JSON-RPC responses.
//
// Conventions:
//   - Capability discovery returns (cap, ok, err). ok == false means the
//     capability is absent; err is reserved for internal failures while
//     determining support. An empty-but-present capability (e.g. a tools
//     container with zero tools) is still advertised.
//   - All methods accept a context.Context and must honor cancellation.
//   - The sessions.Session value is the unit of isolation. Implementations
//     must be safe for concurrent use within a session.
//
// Most servers compose NewServer with a ToolsContainer:
//
//	tools := mcpservice.NewToolsContainer(
//	    mcpservice.NewTool("echo", echoHandler, mcpservice.WithToolDescription("Echo text back")),
//	)
//	srv := mcpservice.NewServer(
//	    mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "echo", Version: "0.1.0"}),
//	    mcpservice.WithToolsCapability(tools),
//	)
package mcpservice
