package stdio

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/toolwire/mcp-stdio-go/internal/logctx"
	"github.com/toolwire/mcp-stdio-go/mcpservice"
)

// Config for a stdio Handler. Defaults can be loaded via envdecode.
type Config struct {
	// UserID overrides OS-user identification when set.
	UserID string `env:"MCP_STDIO_USER_ID"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"MCP_STDIO_LOG_LEVEL,default=info"`
	// LogFormat is "json" or "text". Logs go to stderr; stdout belongs to
	// the protocol.
	LogFormat string `env:"MCP_STDIO_LOG_FORMAT,default=json"`
}

// ConfigFromEnv populates a Config using envdecode; defaults come from the
// struct tags.
func ConfigFromEnv() Config {
	var cfg Config
	_ = envdecode.Decode(&cfg)
	return cfg
}

// Logger builds an slog.Logger per the config, wrapped so records pick up
// session and message context.
func (c Config) Logger() (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "", "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level %q", c.LogLevel)
	}

	opts := &slog.HandlerOptions{Level: level}
	var inner slog.Handler
	switch strings.ToLower(c.LogFormat) {
	case "", "json":
		inner = slog.NewJSONHandler(os.Stderr, opts)
	case "text":
		inner = slog.NewTextHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("invalid log format %q", c.LogFormat)
	}
	return slog.New(logctx.Handler{Handler: inner}), nil
}

// Options converts the config into handler options.
func (c Config) Options() ([]Option, error) {
	log, err := c.Logger()
	if err != nil {
		return nil, err
	}
	opts := []Option{WithLogger(log)}
	if c.UserID != "" {
		opts = append(opts, WithUserProvider(StaticUserProvider(c.UserID)))
	}
	return opts, nil
}

// NewHandlerFromEnv builds a Handler configured from the environment, with
// extra options applied after the env-derived ones so callers can override.
func NewHandlerFromEnv(srv mcpservice.ServerCapabilities, extra ...Option) (*Handler, error) {
	opts, err := ConfigFromEnv().Options()
	if err != nil {
		return nil, err
	}
	return NewHandler(srv, append(opts, extra...)...), nil
}
