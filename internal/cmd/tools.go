package cmd

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/toolwire/mcp-stdio-go/mcp"
	"github.com/toolwire/mcp-stdio-go/mcpservice"
	"github.com/toolwire/mcp-stdio-go/sessions"
)

type echoArgs struct {
	Text string `json:"text" jsonschema:"description=Text to echo back"`
	// Repeat emits the text multiple times, newline-separated.
	Repeat int `json:"repeat,omitempty" jsonschema:"description=Number of repetitions (default 1)"`
}

type timeArgs struct {
	// Format is a Go reference-time layout; defaults to RFC 3339.
	Format string `json:"format,omitempty" jsonschema:"description=Go time layout (default RFC 3339)"`
}

type uuidArgs struct {
	Count int `json:"count,omitempty" jsonschema:"description=How many UUIDs to generate (default 1)"`
}

// builtinCatalog is the full set of tools the command can expose. A manifest
// selects and annotates a subset; without one the catalog ships as-is.
func builtinCatalog() []mcpservice.StaticTool {
	return []mcpservice.StaticTool{
		mcpservice.NewTool("echo", func(ctx context.Context, _ sessions.Session, args echoArgs) (*mcp.CallToolResult, error) {
			n := args.Repeat
			if n < 1 {
				n = 1
			}
			out := make([]string, n)
			for i := range out {
				out[i] = args.Text
			}
			return mcpservice.TextResult(strings.Join(out, "\n")), nil
		}, mcpservice.WithToolDescription("Echo text back to the caller")),

		mcpservice.NewTool("time", func(ctx context.Context, _ sessions.Session, args timeArgs) (*mcp.CallToolResult, error) {
			layout := args.Format
			if layout == "" {
				layout = time.RFC3339
			}
			return mcpservice.TextResult(time.Now().UTC().Format(layout)), nil
		}, mcpservice.WithToolDescription("Current UTC time")),

		mcpservice.NewTool("uuid", func(ctx context.Context, _ sessions.Session, args uuidArgs) (*mcp.CallToolResult, error) {
			n := args.Count
			if n < 1 {
				n = 1
			}
			if n > 100 {
				return mcpservice.Errorf("count %d exceeds limit of 100", n), nil
			}
			ids := make([]string, n)
			for i := range ids {
				ids[i] = uuid.NewString()
			}
			return mcpservice.TextResult(strings.Join(ids, "\n")), nil
		}, mcpservice.WithToolDescription("Generate random UUIDs")),
	}
}
