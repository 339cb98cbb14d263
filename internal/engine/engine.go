// Package engine implements the protocol core shared by transports: the
// initialize handshake, lifecycle gating, and dispatch of tool methods onto a
// mcpservice.ServerCapabilities. Transports own framing and delivery; the
// engine owns semantics.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/toolwire/mcp-stdio-go/internal/jsonrpc"
	"github.com/toolwire/mcp-stdio-go/internal/logctx"
	"github.com/toolwire/mcp-stdio-go/mcp"
	"github.com/toolwire/mcp-stdio-go/mcpservice"
	"github.com/toolwire/mcp-stdio-go/sessions"
)

// Engine drives MCP request semantics for a single server process. It is
// safe for concurrent use; a transport may invoke HandleRequest from as many
// goroutines as it has in-flight requests.
type Engine struct {
	srv mcpservice.ServerCapabilities
	log *slog.Logger

	// In-flight tool invocations, so notifications/cancelled can find the
	// right context to cancel. Keyed by request id string.
	toolCtxMu      sync.Mutex
	toolCtxCancels map[string]context.CancelCauseFunc
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger used for engine events.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// NewEngine builds an Engine over the given server capabilities.
func NewEngine(srv mcpservice.ServerCapabilities, opts ...EngineOption) *Engine {
	e := &Engine{
		srv:            srv,
		log:            slog.Default(),
		toolCtxCancels: make(map[string]context.CancelCauseFunc),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// negotiateVersion picks the protocol version for a session. The server's
// preferred version wins when configured; otherwise the client's requested
// version is accepted when supported, and the newest supported version is
// offered as a counter-proposal when it is not. The client decides whether
// to continue on a counter-proposal.
func (e *Engine) negotiateVersion(ctx context.Context, requested string) (string, error) {
	if v, ok, err := e.srv.GetPreferredProtocolVersion(ctx); err != nil {
		return "", fmt.Errorf("get preferred protocol version: %w", err)
	} else if ok && v != "" {
		return v, nil
	}
	for _, v := range mcp.SupportedProtocolVersions {
		if v == requested {
			return v, nil
		}
	}
	return mcp.LatestProtocolVersion, nil
}

// HandleRequest processes one JSON-RPC request and returns exactly one
// response for its id. Returned errors are transport-fatal; everything the
// peer can be answered for comes back as a response, error responses
// included.
func (e *Engine) HandleRequest(ctx context.Context, sess *SessionHandle, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	switch req.Method {
	case string(mcp.InitializeMethod):
		return e.handleInitialize(ctx, sess, req)
	case string(mcp.PingMethod):
		// Ping is answerable in every lifecycle state.
		return jsonrpc.NewResultResponse(req.ID, &mcp.EmptyResult{})
	}

	if state := sess.State(); state != sessions.StateReady {
		e.log.InfoContext(ctx, "engine.handle_request.not_ready",
			slog.String("method", req.Method),
			slog.String("state", string(state)),
		)
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, sessions.ErrNotReady.Error(), nil), nil
	}

	switch req.Method {
	case string(mcp.ToolsListMethod):
		return e.handleToolsList(ctx, sess, req)
	case string(mcp.ToolsCallMethod):
		return e.handleToolCall(ctx, sess, req)
	}

	return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method), nil), nil
}

// HandleNotification processes one JSON-RPC notification. Notifications
// never produce responses; the returned error is for the transport's log.
func (e *Engine) HandleNotification(ctx context.Context, sess *SessionHandle, req *jsonrpc.Request) error {
	switch req.Method {
	case string(mcp.InitializedNotificationMethod):
		if err := sess.open(); err != nil {
			return err
		}
		e.log.InfoContext(ctx, "engine.session.ready",
			slog.String("protocol_version", sess.ProtocolVersion()),
		)
		return nil
	case string(mcp.CancelledNotificationMethod):
		return e.handleCancelled(ctx, req)
	}
	e.log.DebugContext(ctx, "engine.notification.ignored", slog.String("method", req.Method))
	return nil
}

func (e *Engine) handleInitialize(ctx context.Context, sess *SessionHandle, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.InitializeRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}

	negotiatedVersion, err := e.negotiateVersion(ctx, params.ProtocolVersion)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}

	capSet := sessions.CapabilitySet{}
	if params.Capabilities.Sampling != nil {
		capSet.Sampling = true
	}
	if params.Capabilities.Roots != nil {
		capSet.Roots = true
		capSet.RootsListChanged = params.Capabilities.Roots.ListChanged
	}
	if params.Capabilities.Elicitation != nil {
		capSet.Elicitation = true
	}
	info := sessions.ClientInfo{
		Name:    params.ClientInfo.Name,
		Version: params.ClientInfo.Version,
		Title:   params.ClientInfo.Title,
	}

	if err := sess.beginInitialize(negotiatedVersion, info, capSet); err != nil {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, err.Error(), nil), nil
	}

	serverInfo, err := e.srv.GetServerInfo(ctx, sess)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}

	initRes := &mcp.InitializeResult{
		ProtocolVersion: negotiatedVersion,
		Capabilities:    mcp.ServerCapabilities{},
		ServerInfo:      serverInfo,
	}

	if instr, ok, err := e.srv.GetInstructions(ctx, sess); err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	} else if ok {
		initRes.Instructions = instr
	}

	if toolsCap, ok, err := e.srv.GetToolsCapability(ctx, sess); err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	} else if ok && toolsCap != nil {
		entry := &struct {
			ListChanged bool `json:"listChanged"`
		}{}
		if lcCap, hasLC, lcErr := toolsCap.GetListChangedCapability(ctx, sess); lcErr != nil {
			log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", lcErr.Error()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
		} else if hasLC && lcCap != nil {
			entry.ListChanged = true
		}
		initRes.Capabilities.Tools = entry
	}

	log.InfoContext(ctx, "engine.handle_request.ok",
		slog.Int64("dur_ms", time.Since(start).Milliseconds()),
		slog.String("negotiated_version", negotiatedVersion),
		slog.String("client", params.ClientInfo.Name),
	)

	return jsonrpc.NewResultResponse(req.ID, initRes)
}

func (e *Engine) handleToolsList(ctx context.Context, sess *SessionHandle, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.ListToolsRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
		}
	}

	cap, ok, err := e.srv.GetToolsCapability(ctx, sess)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	if !ok || cap == nil {
		log.InfoContext(ctx, "engine.handle_request.unsupported", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "tools capability not supported", nil), nil
	}

	var cursor *string
	if params.Cursor != "" {
		s := params.Cursor
		cursor = &s
	}

	page, err := cap.ListTools(ctx, sess, cursor)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}

	result := &mcp.ListToolsResult{
		Tools: page.Items,
	}
	if page.NextCursor != nil {
		result.NextCursor = *page.NextCursor
	}

	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()), slog.Int("tool_count", len(page.Items)))

	return jsonrpc.NewResultResponse(req.ID, result)
}

func (e *Engine) handleToolCall(ctx context.Context, sess *SessionHandle, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.CallToolRequestReceived
	if err := json.Unmarshal(req.Params, &params); err != nil {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}
	if params.Name == "" {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", "missing tool name"), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}

	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: params.Name})

	cap, ok, err := e.srv.GetToolsCapability(ctx, sess)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	if !ok || cap == nil {
		log.InfoContext(ctx, "engine.handle_request.unsupported", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "tools capability not supported", nil), nil
	}

	// Register a cancel rendez-vous so a notifications/cancelled arriving on
	// the read loop can find this invocation's context.
	reqID := req.ID.String()
	if reqID == "" {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", "missing request ID"))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, "missing request ID", nil), nil
	}

	toolCtx, toolCancel := context.WithCancelCause(ctx)
	defer toolCancel(context.Canceled)

	e.toolCtxMu.Lock()
	if _, exists := e.toolCtxCancels[reqID]; exists {
		e.toolCtxMu.Unlock()
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", "duplicate request ID"))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, "duplicate request ID", nil), nil
	}
	e.toolCtxCancels[reqID] = toolCancel
	e.toolCtxMu.Unlock()

	defer func() {
		e.toolCtxMu.Lock()
		delete(e.toolCtxCancels, reqID)
		e.toolCtxMu.Unlock()
	}()

	res, err := cap.CallTool(toolCtx, sess, &params)
	if err != nil {
		// Invocation-level failures become isError results so the session
		// stays usable. Only cancellation surfaces as a JSON-RPC error.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.InfoContext(ctx, "engine.handle_request.cancelled", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "cancelled", nil), nil
		}
		var verr *mcpservice.ValidationError
		switch {
		case errors.Is(err, mcpservice.ErrUnknownTool):
			log.InfoContext(ctx, "engine.tool_call.unknown_tool", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			res = mcpservice.Errorf("unknown tool: %s", params.Name)
		case errors.As(err, &verr):
			log.InfoContext(ctx, "engine.tool_call.invalid_arguments", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			res = mcpservice.Errorf("invalid arguments for tool %s: %s", params.Name, strings.Join(verr.Issues, "; "))
		default:
			log.ErrorContext(ctx, "engine.tool_call.fail", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			res = mcpservice.Errorf("tool %s failed: %v", params.Name, err)
		}
		return jsonrpc.NewResultResponse(req.ID, res)
	}

	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))

	return jsonrpc.NewResultResponse(req.ID, res)
}

// handleCancelled cancels the in-flight request named by the notification,
// if it is still running. Unknown or already-finished ids are ignored.
func (e *Engine) handleCancelled(ctx context.Context, req *jsonrpc.Request) error {
	var params mcp.CancelledNotification
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return fmt.Errorf("invalid cancelled notification: %w", err)
	}
	if params.RequestID == "" {
		return nil
	}
	reqID := string(params.RequestID)

	e.toolCtxMu.Lock()
	cancel := e.toolCtxCancels[reqID]
	e.toolCtxMu.Unlock()

	if cancel == nil {
		e.log.DebugContext(ctx, "engine.cancelled.miss", slog.String("rpc_id", reqID))
		return nil
	}
	reason := params.Reason
	if reason == "" {
		reason = "cancelled by client"
	}
	cancel(errors.New(reason))
	e.log.InfoContext(ctx, "engine.cancelled.ok", slog.String("rpc_id", reqID), slog.String("reason", reason))
	return nil
}

// CloseSession moves the session to its terminal state and cancels every
// in-flight tool invocation. Safe to call more than once.
func (e *Engine) CloseSession(sess *SessionHandle, cause error) {
	sess.close()
	if cause == nil {
		cause = sessions.ErrSessionClosed
	}

	e.toolCtxMu.Lock()
	cancels := make([]context.CancelCauseFunc, 0, len(e.toolCtxCancels))
	for id, cancel := range e.toolCtxCancels {
		cancels = append(cancels, cancel)
		delete(e.toolCtxCancels, id)
	}
	e.toolCtxMu.Unlock()

	for _, cancel := range cancels {
		cancel(cause)
	}
}
