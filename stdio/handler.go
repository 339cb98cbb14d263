package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/toolwire/mcp-stdio-go/internal/engine"
	"github.com/toolwire/mcp-stdio-go/internal/jsonrpc"
	"github.com/toolwire/mcp-stdio-go/internal/logctx"
	"github.com/toolwire/mcp-stdio-go/mcp"
	"github.com/toolwire/mcp-stdio-go/mcpservice"
	"github.com/toolwire/mcp-stdio-go/sessions"
)

// maxLineBytes bounds a single JSON-RPC message on the wire.
const maxLineBytes = 4 * 1024 * 1024

// Handler is a single-connection stdio transport that reads JSON-RPC
// messages from an io.Reader and writes responses to an io.Writer. By
// default it uses os.Stdin and os.Stdout, and identifies the peer via a
// UserProvider defaulting to the current OS user.
//
// The handler is transport-only; protocol semantics live in the engine.
type Handler struct {
	srv          mcpservice.ServerCapabilities
	r            io.Reader
	w            io.Writer
	l            *slog.Logger
	userProvider UserProvider

	// writeMu serializes everything that reaches the writer. Request
	// handlers run concurrently; this is the single funnel to the wire.
	// wireClosed flips when the connection ends; writes after that are
	// discarded so no frame trails the transport close.
	writeMu    sync.Mutex
	wireClosed bool

	// inflightMu guards the set of request ids currently being handled, so
	// a duplicate id is rejected instead of being answered twice.
	inflightMu sync.Mutex
	inflight   map[string]struct{}

	serveOnce sync.Once
	wireOnce  sync.Once
}

// NewHandler constructs a stdio Handler with defaults and applies options.
func NewHandler(srv mcpservice.ServerCapabilities, opts ...Option) *Handler {
	h := &Handler{
		srv:          srv,
		r:            os.Stdin,
		w:            os.Stdout,
		l:            slog.Default(),
		userProvider: OSUserProvider{},
		inflight:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Serve runs the stdio event loop until EOF on the reader or the context is
// canceled. It is safe to call at most once per Handler. Serve owns:
//   - newline-delimited JSON-RPC framing
//   - the initialize/initialized lifecycle via the engine
//   - concurrent request handling with a single serialized writer
//   - forwarding tools listChanged signals once the session is ready
func (h *Handler) Serve(ctx context.Context) error {
	var err error
	h.serveOnce.Do(func() {
		err = h.serve(ctx)
	})
	return err
}

func (h *Handler) serve(ctx context.Context) error {
	userID, err := h.userProvider.CurrentUserID()
	if err != nil {
		return err
	}

	sess := engine.NewSessionHandle(userID)
	eng := engine.NewEngine(h.srv, engine.WithLogger(h.l))

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	connCtx = logctx.WithSessionData(connCtx, &logctx.SessionData{
		SessionID: sess.SessionID(),
		UserID:    userID,
	})

	h.l.InfoContext(connCtx, "stdio.serve.start", slog.String("session_id", sess.SessionID()), slog.String("user_id", userID))

	// The read loop runs in its own goroutine so the dispatch loop can also
	// observe context cancellation. Line buffers are copied before handoff;
	// the scanner reuses its backing array.
	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(h.r)
		scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			buf := make([]byte, len(line))
			copy(buf, line)
			select {
			case lines <- buf:
			case <-connCtx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	defer eng.CloseSession(sess, sessions.ErrSessionClosed)
	// Runs before CloseSession: in-flight handlers woken by the session
	// cancel must find the wire already closed so their responses are
	// discarded, not written after the stream ended.
	defer h.closeWire()

	for {
		select {
		case <-ctx.Done():
			h.l.InfoContext(connCtx, "stdio.serve.stop", slog.String("reason", "context canceled"))
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					if err != nil {
						h.l.ErrorContext(connCtx, "stdio.serve.read_fail", slog.String("err", err.Error()))
						return err
					}
				default:
				}
				h.l.InfoContext(connCtx, "stdio.serve.stop", slog.String("reason", "eof"))
				return nil
			}
			h.dispatch(connCtx, eng, sess, &wg, line)
		}
	}
}

// dispatch classifies one wire message and routes it. Notifications are
// handled inline on the read loop so that a cancellation can reach an
// in-flight request; requests get their own goroutine.
func (h *Handler) dispatch(ctx context.Context, eng *engine.Engine, sess *engine.SessionHandle, wg *sync.WaitGroup, line []byte) {
	msg, err := jsonrpc.Parse(line)
	if err != nil {
		h.answerMalformed(ctx, line, err)
		return
	}

	switch msg.Type() {
	case "request":
		req := msg.AsRequest()
		reqID := req.ID.String()
		reqCtx := logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
			Method: req.Method,
			ID:     reqID,
			Type:   "request",
		})

		// One response per id: a request reusing an in-flight id is rejected
		// up front rather than racing two responses onto the wire.
		h.inflightMu.Lock()
		if _, dup := h.inflight[reqID]; dup {
			h.inflightMu.Unlock()
			h.l.InfoContext(reqCtx, "stdio.handle_request.duplicate_id", slog.String("rpc_id", reqID))
			h.writeMessage(reqCtx, jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, "duplicate request ID", nil))
			return
		}
		h.inflight[reqID] = struct{}{}
		h.inflightMu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				h.inflightMu.Lock()
				delete(h.inflight, reqID)
				h.inflightMu.Unlock()
			}()
			res, err := eng.HandleRequest(reqCtx, sess, req)
			if err != nil {
				h.l.ErrorContext(reqCtx, "stdio.handle_request.fail", slog.String("err", err.Error()))
				res = jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil)
			}
			h.writeMessage(reqCtx, res)
		}()
	case "notification":
		req := msg.AsRequest()
		noteCtx := logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
			Method: req.Method,
			Type:   "notification",
		})
		if err := eng.HandleNotification(noteCtx, sess, req); err != nil {
			// Notifications carry no id, so there is nothing to answer.
			h.l.InfoContext(noteCtx, "stdio.handle_notification.drop", slog.String("err", err.Error()))
			return
		}
		if req.Method == string(mcp.InitializedNotificationMethod) {
			h.wireListChanged(ctx, sess)
		}
	case "response":
		// This transport issues no client-bound requests, so inbound
		// responses have nothing to correlate with.
		h.l.DebugContext(ctx, "stdio.response.ignored")
	}
}

// answerMalformed implements id recovery: a payload that fails strict
// parsing still gets an error response when a usable id can be extracted,
// and is dropped with a log line otherwise.
func (h *Handler) answerMalformed(ctx context.Context, line []byte, parseErr error) {
	code := jsonrpc.ErrorCodeInvalidRequest
	if !json.Valid(line) {
		code = jsonrpc.ErrorCodeParseError
	}
	id := jsonrpc.RecoverID(line)
	if id == nil {
		h.l.InfoContext(ctx, "stdio.read.malformed_dropped", slog.String("err", parseErr.Error()))
		return
	}
	h.l.InfoContext(ctx, "stdio.read.malformed_answered", slog.String("err", parseErr.Error()), slog.String("rpc_id", id.String()))
	h.writeMessage(ctx, jsonrpc.NewErrorResponse(id, code, "invalid request", nil))
}

// wireListChanged registers the tools listChanged forwarder once the
// handshake completes. Duplicate initialized notifications must not result
// in duplicate forwarders.
func (h *Handler) wireListChanged(ctx context.Context, sess *engine.SessionHandle) {
	h.wireOnce.Do(func() {
		toolsCap, ok, err := h.srv.GetToolsCapability(ctx, sess)
		if err != nil || !ok || toolsCap == nil {
			return
		}
		lcCap, ok, err := toolsCap.GetListChangedCapability(ctx, sess)
		if err != nil || !ok || lcCap == nil {
			return
		}
		registered, err := lcCap.Register(ctx, sess, func(ctx context.Context, _ sessions.Session) {
			note, err := jsonrpc.NewNotification(string(mcp.ToolsListChangedNotificationMethod), nil)
			if err != nil {
				return
			}
			h.writeMessage(ctx, note)
		})
		if err != nil {
			h.l.ErrorContext(ctx, "stdio.list_changed.register_fail", slog.String("err", err.Error()))
			return
		}
		if registered {
			h.l.DebugContext(ctx, "stdio.list_changed.registered")
		}
	})
}

// closeWire marks the connection as ended. Frames offered after this point
// are discarded; in-flight results are dropped rather than trailing the
// transport close.
func (h *Handler) closeWire() {
	h.writeMu.Lock()
	h.wireClosed = true
	h.writeMu.Unlock()
}

// writeMessage marshals v and writes it as one newline-terminated frame.
// All writers funnel through here; the mutex spans marshal-to-flush so
// frames from concurrent handlers never interleave, and writes against a
// closed wire are discarded.
func (h *Handler) writeMessage(ctx context.Context, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		h.l.ErrorContext(ctx, "stdio.write.encode_fail", slog.String("err", err.Error()))
		return
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if h.wireClosed {
		h.l.DebugContext(ctx, "stdio.write.discarded", slog.String("reason", "wire closed"))
		return
	}
	if _, err := h.w.Write(append(b, '\n')); err != nil {
		if !errors.Is(err, io.ErrClosedPipe) {
			h.l.ErrorContext(ctx, "stdio.write.fail", slog.String("err", err.Error()))
		}
	}
}
