// Package mcp defines the wire-level types for the subset of the Model
// Context Protocol implemented by this module: the initialize handshake,
// the tools primitive (list, call, list_changed), and the ping and
// cancellation utilities.
//
// The types here mirror the MCP JSON shapes exactly and carry no behavior.
// Protocol mechanics (lifecycle, routing, transport) live in the engine and
// stdio packages; user-facing building blocks live in mcpservice.
package mcp
