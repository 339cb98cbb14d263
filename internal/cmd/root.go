// Package cmd implements the mcp-stdio command line interface.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/toolwire/mcp-stdio-go/mcp"
	"github.com/toolwire/mcp-stdio-go/mcpservice"
	"github.com/toolwire/mcp-stdio-go/stdio"
)

var (
	manifestPath string
	logLevel     string
	logFormat    string
	userID       string
	instructions string

	version = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "mcp-stdio",
	Short: "Minimal MCP tools server over stdio",
	Long: `mcp-stdio serves the Model Context Protocol tools primitive over
stdin/stdout. Tools come from a built-in catalog; pass --manifest to select
and describe a subset via a TOML file, which is watched and hot-reloaded.

Logs go to stderr so stdout stays a clean protocol stream.`,
	Version:       version,
	SilenceUsage:  true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "Path to a TOML tool manifest (omit to expose the full catalog)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default from MCP_STDIO_LOG_LEVEL or info)")
	rootCmd.Flags().StringVar(&logFormat, "log-format", "", "Log format: json or text (default from MCP_STDIO_LOG_FORMAT or json)")
	rootCmd.Flags().StringVar(&userID, "user-id", "", "Override the session user identity (default: OS user)")
	rootCmd.Flags().StringVar(&instructions, "instructions", "", "Instructions text advertised to clients during initialize")
}

func run(cmd *cobra.Command, args []string) error {
	cfg := stdio.ConfigFromEnv()
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}
	if userID != "" {
		cfg.UserID = userID
	}

	log, err := cfg.Logger()
	if err != nil {
		return err
	}
	opts, err := cfg.Options()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	toolsCap, err := buildTools(ctx, log)
	if err != nil {
		return err
	}

	serverOpts := []mcpservice.ServerOption{
		mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "mcp-stdio", Version: version}),
		mcpservice.WithToolsCapability(toolsCap),
	}
	if instructions != "" {
		serverOpts = append(serverOpts, mcpservice.WithInstructions(instructions))
	}
	srv := mcpservice.NewServer(serverOpts...)

	h := stdio.NewHandler(srv, opts...)
	if err := h.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// buildTools exposes either the whole built-in catalog or the manifest's
// selection of it. With a manifest, a watcher goroutine hot-reloads the
// advertised set for the lifetime of the process.
func buildTools(ctx context.Context, log *slog.Logger) (mcpservice.ToolsCapability, error) {
	catalog := builtinCatalog()
	if manifestPath == "" {
		return mcpservice.NewToolsContainer(catalog...), nil
	}

	mt, err := mcpservice.NewManifestTools(manifestPath, catalog, log)
	if err != nil {
		return nil, fmt.Errorf("load tool manifest: %w", err)
	}
	go func() {
		if err := mt.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("cmd.manifest_watch.stopped", slog.String("err", err.Error()))
		}
	}()
	return mt, nil
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// SetVersion sets the version string reported by --version and in the
// initialize handshake.
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
