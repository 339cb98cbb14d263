// Package stdio implements a single-connection MCP transport over
// stdin/stdout. It is intended for embedding servers as subprocesses, local
// development, and environments where spawning a child process and piping
// JSON is simpler than running a network server.
//
// Characteristics
//
//	Connection model : 1 process <-> 1 client
//	Auth             : OS user (lightweight implicit principal)
//	Sessions         : Ephemeral; one per process, memory only
//	Transport        : Newline-delimited JSON-RPC
//
// The handler is transport-only: it owns framing, the read loop, and the
// serialized writer, and delegates all protocol semantics to the engine.
// Requests are handled concurrently; the writer is the single point where
// output is serialized, so handlers of any duration can overlap without
// interleaving bytes on the wire.
//
// Example:
//
//	srv := mcpservice.NewServer(
//	    mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "my-stdio-server", Version: "0.1.0"}),
//	    mcpservice.WithToolsCapability(tools),
//	)
//	h := stdio.NewHandler(srv)
//	if err := h.Serve(context.Background()); err != nil { log.Fatal(err) }
package stdio
