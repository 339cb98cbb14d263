package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/toolwire/mcp-stdio-go/internal/jsonrpc"
	"github.com/toolwire/mcp-stdio-go/mcp"
	"github.com/toolwire/mcp-stdio-go/mcpservice"
	"github.com/toolwire/mcp-stdio-go/sessions"
)

// testHarness encapsulates pipes and collected output for stdio handler tests.
type testHarness struct {
	t       *testing.T
	ctx     context.Context
	cancel  context.CancelFunc
	stdinW  *io.PipeWriter
	stdoutR *bufio.Scanner
	outMu   sync.Mutex
	lines   []string
}

var defaultProtocolVersion = mcp.LatestProtocolVersion

func defaultInitializeRequest() mcp.InitializeRequest {
	return mcp.InitializeRequest{
		ProtocolVersion: defaultProtocolVersion,
		ClientInfo:      mcp.ImplementationInfo{Name: "client", Version: "0.0.1"},
	}
}

func newHarness(t *testing.T, srv mcpservice.ServerCapabilities) *testHarness {
	t.Helper()

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	h := NewHandler(srv, WithIO(inR, outW), WithLogger(slog.Default()), WithUserProvider(StaticUserProvider("test-user")))

	ctx, cancel := context.WithCancel(context.Background())
	th := &testHarness{t: t, ctx: ctx, cancel: cancel, stdinW: inW, stdoutR: bufio.NewScanner(outR)}

	go func() {
		_ = h.Serve(ctx)
	}()

	go func() {
		for th.stdoutR.Scan() {
			line := strings.TrimSpace(th.stdoutR.Text())
			th.t.Logf("OUT: %s", line)
			th.outMu.Lock()
			th.lines = append(th.lines, line)
			th.outMu.Unlock()
		}
	}()

	t.Cleanup(func() {
		cancel()
		_ = inW.Close()
		_ = outW.Close()
		time.Sleep(10 * time.Millisecond)
	})
	return th
}

func (th *testHarness) send(req *jsonrpc.Request) error {
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if _, err := th.stdinW.Write(append(b, '\n')); err != nil {
		return err
	}
	return nil
}

func (th *testHarness) sendRaw(line string) error {
	_, err := th.stdinW.Write([]byte(line + "\n"))
	return err
}

func (th *testHarness) nextLine(timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		th.outMu.Lock()
		if len(th.lines) > 0 {
			s := th.lines[0]
			th.lines = th.lines[1:]
			th.outMu.Unlock()
			return s, nil
		}
		th.outMu.Unlock()
		time.Sleep(2 * time.Millisecond)
	}
	return "", fmt.Errorf("timeout waiting for output line")
}

func (th *testHarness) expectResponse(timeout time.Duration) (*jsonrpc.Response, error) {
	line, err := th.nextLine(timeout)
	if err != nil {
		return nil, err
	}
	var any jsonrpc.AnyMessage
	if err := json.Unmarshal([]byte(line), &any); err != nil {
		return nil, err
	}
	if any.Type() != "response" {
		return nil, fmt.Errorf("expected response, got %s", any.Type())
	}
	return any.AsResponse(), nil
}

func (th *testHarness) initialize(t *testing.T, id string, req mcp.InitializeRequest) *mcp.InitializeResult {
	t.Helper()

	initReq := &jsonrpc.Request{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Method:         string(mcp.InitializeMethod),
		ID:             jsonrpc.NewRequestID(id),
		Params:         mustJSON(t, req),
	}

	if err := th.send(initReq); err != nil {
		t.Fatalf("send initialize: %v", err)
	}

	res, err := th.expectResponse(1 * time.Second)
	if err != nil {
		t.Fatalf("expect initialize response: %v", err)
	}
	if res.Error != nil {
		t.Fatalf("initialize failed: %+v", res.Error)
	}

	var initRes mcp.InitializeResult
	if err := json.Unmarshal(res.Result, &initRes); err != nil {
		t.Fatalf("decode initialize result: %v", err)
	}
	return &initRes
}

// open completes the handshake so subsequent requests are not gated.
func (th *testHarness) open(t *testing.T) {
	t.Helper()
	_ = th.initialize(t, "init-1", defaultInitializeRequest())
	if err := th.send(&jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: string(mcp.InitializedNotificationMethod)}); err != nil {
		t.Fatalf("send initialized: %v", err)
	}
	// Wait until a ping succeeds so the session is observably ready.
	ping := &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: string(mcp.PingMethod), ID: jsonrpc.NewRequestID("ping-open")}
	if err := th.send(ping); err != nil {
		t.Fatalf("send ping: %v", err)
	}
	if _, err := th.expectResponse(1 * time.Second); err != nil {
		t.Fatalf("ping after initialized: %v", err)
	}
}

func (th *testHarness) drainUntilMethod(method string, timeout time.Duration) (*jsonrpc.Request, bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		line, err := th.nextLine(10 * time.Millisecond)
		if err != nil {
			continue
		}
		var any jsonrpc.AnyMessage
		if json.Unmarshal([]byte(line), &any) != nil {
			continue
		}
		if any.Type() == "response" {
			th.outMu.Lock()
			th.lines = append([]string{line}, th.lines...)
			th.outMu.Unlock()
			continue
		}
		req := any.AsRequest()
		if req != nil && req.Method == method {
			return req, true
		}
	}
	return nil, false
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func echoTool() mcpservice.StaticTool {
	desc := mcp.Tool{
		Name: "echo",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]mcp.SchemaProperty{
				"text": {Type: "string"},
			},
			Required: []string{"text"},
		},
	}
	return mcpservice.StaticTool{Descriptor: desc, Handler: func(ctx context.Context, _ sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
		var args struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(req.Arguments, &args); err != nil {
			return mcpservice.Errorf("invalid arguments: %v", err), nil
		}
		return mcpservice.TextResult(args.Text), nil
	}}
}

// --- Tests ---

func TestInitialize_HappyPath(t *testing.T) {
	srv := mcpservice.NewServer(
		mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "test", Version: "1.0.0"}),
		mcpservice.WithInstructions("Have fun!"),
		mcpservice.WithToolsCapability(mcpservice.NewToolsContainer()),
	)
	th := newHarness(t, srv)

	initRes := th.initialize(t, "init-1", defaultInitializeRequest())
	if initRes.ProtocolVersion != defaultProtocolVersion {
		t.Fatalf("server protocol version mismatch: %s", initRes.ProtocolVersion)
	}
	if initRes.ServerInfo.Name != "test" {
		t.Fatalf("server info missing")
	}
	if initRes.Instructions != "Have fun!" {
		t.Fatalf("instructions missing: %+v", initRes)
	}
	if initRes.Capabilities.Tools == nil || !initRes.Capabilities.Tools.ListChanged {
		t.Fatalf("tools capability not advertised: %+v", initRes.Capabilities)
	}
}

func TestInitialize_UnsupportedVersionFallsBackToLatest(t *testing.T) {
	srv := mcpservice.NewServer(mcpservice.WithToolsCapability(mcpservice.NewToolsContainer()))
	th := newHarness(t, srv)

	req := defaultInitializeRequest()
	req.ProtocolVersion = "1999-01-01"
	initRes := th.initialize(t, "init-1", req)
	if initRes.ProtocolVersion != mcp.LatestProtocolVersion {
		t.Fatalf("counter-proposal = %q, want %q", initRes.ProtocolVersion, mcp.LatestProtocolVersion)
	}
}

func TestHandshake_RequestsGatedBeforeReady(t *testing.T) {
	srv := mcpservice.NewServer(mcpservice.WithToolsCapability(mcpservice.NewToolsContainer()))
	th := newHarness(t, srv)

	// tools/list before any handshake: answered with an error, not dropped.
	listReq := &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: string(mcp.ToolsListMethod), ID: jsonrpc.NewRequestID("pre-1")}
	if err := th.send(listReq); err != nil {
		t.Fatal(err)
	}
	res, err := th.expectResponse(1 * time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if res.Error == nil || !strings.Contains(res.Error.Message, "session not ready") {
		t.Fatalf("expected session-not-ready error, got %+v", res)
	}
	if res.ID.String() != "pre-1" {
		t.Fatalf("gating error has wrong id: %s", res.ID.String())
	}

	// Still gated between initialize and initialized.
	_ = th.initialize(t, "init-1", defaultInitializeRequest())
	if err := th.send(&jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: string(mcp.ToolsListMethod), ID: jsonrpc.NewRequestID("pre-2")}); err != nil {
		t.Fatal(err)
	}
	res, err = th.expectResponse(1 * time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if res.Error == nil || !strings.Contains(res.Error.Message, "session not ready") {
		t.Fatalf("expected gating between initialize and initialized, got %+v", res)
	}

	// Ping is exempt in every state.
	if err := th.send(&jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: string(mcp.PingMethod), ID: jsonrpc.NewRequestID("p1")}); err != nil {
		t.Fatal(err)
	}
	res, err = th.expectResponse(1 * time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if res.Error != nil {
		t.Fatalf("ping gated unexpectedly: %+v", res.Error)
	}
}

func TestTools_ListAndCall(t *testing.T) {
	st := mcpservice.NewToolsContainer(echoTool())
	srv := mcpservice.NewServer(mcpservice.WithToolsCapability(st))
	th := newHarness(t, srv)
	th.open(t)

	listReq := &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: string(mcp.ToolsListMethod), ID: jsonrpc.NewRequestID("1")}
	if err := th.send(listReq); err != nil {
		t.Fatal(err)
	}
	res, err := th.expectResponse(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if res.Error != nil {
		t.Fatalf("list error: %+v", res.Error)
	}
	var list mcp.ListToolsResult
	if err := json.Unmarshal(res.Result, &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Tools) != 1 || list.Tools[0].Name != "echo" {
		t.Fatalf("unexpected tools: %+v", list.Tools)
	}

	callReq := &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: string(mcp.ToolsCallMethod), ID: jsonrpc.NewRequestID("2")}
	callReq.Params = mustJSON(t, mcp.CallToolRequestReceived{Name: "echo", Arguments: mustJSON(t, map[string]any{"text": "hi"})})
	if err := th.send(callReq); err != nil {
		t.Fatal(err)
	}
	res, err = th.expectResponse(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if res.Error != nil {
		t.Fatalf("call error: %+v", res.Error)
	}
	var result mcp.CallToolResult
	if err := json.Unmarshal(res.Result, &result); err != nil {
		t.Fatal(err)
	}
	if len(result.Content) == 0 || result.Content[0].Type != mcp.ContentTypeText || result.Content[0].Text != "hi" {
		t.Fatalf("unexpected tool result: %+v", result)
	}
}

func TestTools_UnknownToolDoesNotPoisonSession(t *testing.T) {
	st := mcpservice.NewToolsContainer(echoTool())
	srv := mcpservice.NewServer(mcpservice.WithToolsCapability(st))
	th := newHarness(t, srv)
	th.open(t)

	callReq := &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: string(mcp.ToolsCallMethod), ID: jsonrpc.NewRequestID("1")}
	callReq.Params = mustJSON(t, mcp.CallToolRequestReceived{Name: "ghost"})
	if err := th.send(callReq); err != nil {
		t.Fatal(err)
	}
	res, err := th.expectResponse(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if res.Error != nil {
		t.Fatalf("unknown tool must be an isError result, got protocol error %+v", res.Error)
	}
	var result mcp.CallToolResult
	if err := json.Unmarshal(res.Result, &result); err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Fatalf("expected isError result: %+v", result)
	}

	// The session remains usable.
	listReq := &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: string(mcp.ToolsListMethod), ID: jsonrpc.NewRequestID("2")}
	if err := th.send(listReq); err != nil {
		t.Fatal(err)
	}
	if res, err := th.expectResponse(time.Second); err != nil || res.Error != nil {
		t.Fatalf("tools/list after miss: res=%+v err=%v", res, err)
	}
}

func TestTools_SchemaViolationSkipsHandler(t *testing.T) {
	var calls atomic.Int64
	desc := mcp.Tool{
		Name: "greet",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]mcp.SchemaProperty{"name": {Type: "string"}},
			Required:   []string{"name"},
		},
	}
	st := mcpservice.NewToolsContainer(mcpservice.StaticTool{Descriptor: desc, Handler: func(ctx context.Context, _ sessions.Session, _ *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
		calls.Add(1)
		return mcpservice.TextResult("hello"), nil
	}})
	srv := mcpservice.NewServer(mcpservice.WithToolsCapability(st))
	th := newHarness(t, srv)
	th.open(t)

	callReq := &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: string(mcp.ToolsCallMethod), ID: jsonrpc.NewRequestID("1")}
	callReq.Params = mustJSON(t, mcp.CallToolRequestReceived{Name: "greet", Arguments: mustJSON(t, map[string]any{"name": 42})})
	if err := th.send(callReq); err != nil {
		t.Fatal(err)
	}
	res, err := th.expectResponse(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	var result mcp.CallToolResult
	if err := json.Unmarshal(res.Result, &result); err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Fatalf("expected isError for schema violation: %+v", result)
	}
	if calls.Load() != 0 {
		t.Fatal("handler ran despite schema violation")
	}
}

func TestListChanged_EmittedAfterMutationVisible(t *testing.T) {
	st := mcpservice.NewToolsContainer()
	srv := mcpservice.NewServer(mcpservice.WithToolsCapability(st))
	th := newHarness(t, srv)
	th.open(t)

	st.Register(context.Background(), echoTool())

	note, ok := th.drainUntilMethod(string(mcp.ToolsListChangedNotificationMethod), 1*time.Second)
	if !ok {
		t.Fatalf("expected %s after registry change", mcp.ToolsListChangedNotificationMethod)
	}
	if note.ID != nil && !note.ID.IsNil() {
		t.Fatalf("notification should not have ID: %+v", note.ID)
	}

	// A list issued after the notification must observe the new tool.
	listReq := &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: string(mcp.ToolsListMethod), ID: jsonrpc.NewRequestID("1")}
	if err := th.send(listReq); err != nil {
		t.Fatal(err)
	}
	res, err := th.expectResponse(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	var list mcp.ListToolsResult
	if err := json.Unmarshal(res.Result, &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Tools) != 1 || list.Tools[0].Name != "echo" {
		t.Fatalf("list after notification: %+v", list.Tools)
	}
}

func TestListChanged_DuplicateInitializedDoesNotDuplicateWiring(t *testing.T) {
	st := mcpservice.NewToolsContainer()
	srv := mcpservice.NewServer(mcpservice.WithToolsCapability(st))
	th := newHarness(t, srv)
	th.open(t)

	// A second initialized must not wire a second forwarder.
	_ = th.send(&jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: string(mcp.InitializedNotificationMethod)})
	time.Sleep(20 * time.Millisecond)

	st.Replace(context.Background(), echoTool())
	if _, ok := th.drainUntilMethod(string(mcp.ToolsListChangedNotificationMethod), 1*time.Second); !ok {
		t.Fatalf("expected list_changed after change")
	}
	if _, ok := th.drainUntilMethod(string(mcp.ToolsListChangedNotificationMethod), 150*time.Millisecond); ok {
		t.Fatalf("unexpected duplicate list_changed notification")
	}
}

func TestMalformed_AnswersWhenIDRecoverable(t *testing.T) {
	srv := mcpservice.NewServer(mcpservice.WithToolsCapability(mcpservice.NewToolsContainer()))
	th := newHarness(t, srv)

	// Wrong version tag but a usable id: answered with an error bearing it.
	if err := th.sendRaw(`{"jsonrpc":"1.0","method":"tools/list","id":42}`); err != nil {
		t.Fatal(err)
	}
	res, err := th.expectResponse(1 * time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeInvalidRequest {
		t.Fatalf("expected invalid request error, got %+v", res)
	}
	if res.ID.String() != "42" {
		t.Fatalf("recovered id = %s, want 42", res.ID.String())
	}

	// Garbage with no id: dropped, and the stream keeps working.
	if err := th.sendRaw(`{nope`); err != nil {
		t.Fatal(err)
	}
	_ = th.initialize(t, "init-after-garbage", defaultInitializeRequest())
}

func TestCancellation_ToolsCall(t *testing.T) {
	started := make(chan struct{})
	slow := mcpservice.StaticTool{
		Descriptor: mcp.Tool{Name: "slow", InputSchema: mcp.ToolInputSchema{Type: "object", AdditionalProperties: true}},
		Handler: func(ctx context.Context, _ sessions.Session, _ *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	st := mcpservice.NewToolsContainer(slow)
	srv := mcpservice.NewServer(mcpservice.WithToolsCapability(st))
	th := newHarness(t, srv)
	th.open(t)

	rid := "42"
	callReq := &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: string(mcp.ToolsCallMethod), ID: jsonrpc.NewRequestID(rid)}
	callReq.Params = mustJSON(t, mcp.CallToolRequestReceived{Name: "slow"})
	if err := th.send(callReq); err != nil {
		t.Fatal(err)
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("tool handler never started")
	}

	cancelNote := &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: string(mcp.CancelledNotificationMethod)}
	cancelNote.Params = mustJSON(t, mcp.CancelledNotification{RequestID: mcp.RequestID(rid), Reason: "test"})
	if err := th.send(cancelNote); err != nil {
		t.Fatal(err)
	}

	res, err := th.expectResponse(2 * time.Second)
	if err != nil {
		t.Fatalf("expect cancellation response: %v", err)
	}
	if res.Error == nil {
		t.Fatalf("expected error response, got: %+v", res)
	}
	if res.ID.String() != rid {
		t.Fatalf("cancellation response for wrong id: %s", res.ID.String())
	}
}

func TestClose_InFlightResponseDiscarded(t *testing.T) {
	started := make(chan struct{})
	slow := mcpservice.StaticTool{
		Descriptor: mcp.Tool{Name: "slow", InputSchema: mcp.ToolInputSchema{Type: "object", AdditionalProperties: true}},
		Handler: func(ctx context.Context, _ sessions.Session, _ *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	st := mcpservice.NewToolsContainer(slow)
	srv := mcpservice.NewServer(mcpservice.WithToolsCapability(st))
	th := newHarness(t, srv)
	th.open(t)

	callReq := &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: string(mcp.ToolsCallMethod), ID: jsonrpc.NewRequestID("late-1")}
	callReq.Params = mustJSON(t, mcp.CallToolRequestReceived{Name: "slow"})
	if err := th.send(callReq); err != nil {
		t.Fatal(err)
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("tool handler never started")
	}

	// EOF on stdin ends the connection while the call is in flight. The
	// handler is cancelled, but its response must never reach the wire.
	if err := th.stdinW.Close(); err != nil {
		t.Fatal(err)
	}

	if line, err := th.nextLine(300 * time.Millisecond); err == nil {
		t.Fatalf("frame written after transport close: %s", line)
	}
}

func TestDuplicateRequestID_RejectedWhileInFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	slow := mcpservice.StaticTool{
		Descriptor: mcp.Tool{Name: "slow", InputSchema: mcp.ToolInputSchema{Type: "object", AdditionalProperties: true}},
		Handler: func(ctx context.Context, _ sessions.Session, _ *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
			close(started)
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return mcpservice.TextResult("done"), nil
		},
	}
	st := mcpservice.NewToolsContainer(slow)
	srv := mcpservice.NewServer(mcpservice.WithToolsCapability(st))
	th := newHarness(t, srv)
	th.open(t)

	callReq := &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: string(mcp.ToolsCallMethod), ID: jsonrpc.NewRequestID("dup-1")}
	callReq.Params = mustJSON(t, mcp.CallToolRequestReceived{Name: "slow"})
	if err := th.send(callReq); err != nil {
		t.Fatal(err)
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("tool handler never started")
	}

	// A second request reusing the in-flight id is rejected regardless of
	// method, so the id still gets exactly one real answer.
	if err := th.send(&jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: string(mcp.PingMethod), ID: jsonrpc.NewRequestID("dup-1")}); err != nil {
		t.Fatal(err)
	}
	res, err := th.expectResponse(1 * time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeInvalidRequest || !strings.Contains(res.Error.Message, "duplicate") {
		t.Fatalf("expected duplicate-id rejection, got %+v", res)
	}

	close(release)
	res, err = th.expectResponse(1 * time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if res.Error != nil || res.ID.String() != "dup-1" {
		t.Fatalf("original call response = %+v", res)
	}
}

func TestConcurrency_EveryRequestAnsweredExactlyOnce(t *testing.T) {
	// Tools of varying duration so responses interleave out of order.
	sleepy := mcpservice.StaticTool{
		Descriptor: mcp.Tool{Name: "sleepy", InputSchema: mcp.ToolInputSchema{Type: "object", AdditionalProperties: true}},
		Handler: func(ctx context.Context, _ sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
			var args struct {
				Millis int `json:"millis"`
			}
			_ = json.Unmarshal(req.Arguments, &args)
			select {
			case <-time.After(time.Duration(args.Millis) * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return mcpservice.TextResult("done"), nil
		},
	}
	st := mcpservice.NewToolsContainer(sleepy)
	srv := mcpservice.NewServer(mcpservice.WithToolsCapability(st))
	th := newHarness(t, srv)
	th.open(t)

	const n = 16
	want := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("c-%d", i)
		want[id] = true
		callReq := &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: string(mcp.ToolsCallMethod), ID: jsonrpc.NewRequestID(id)}
		// Later requests sleep less, so completion order inverts.
		callReq.Params = mustJSON(t, mcp.CallToolRequestReceived{Name: "sleepy", Arguments: mustJSON(t, map[string]any{"millis": (n - i) * 5})})
		if err := th.send(callReq); err != nil {
			t.Fatal(err)
		}
	}

	got := make(map[string]int, n)
	for i := 0; i < n; i++ {
		res, err := th.expectResponse(5 * time.Second)
		if err != nil {
			t.Fatalf("response %d: %v", i, err)
		}
		if res.Error != nil {
			t.Fatalf("call error: %+v", res.Error)
		}
		got[res.ID.String()]++
	}

	for id := range want {
		if got[id] != 1 {
			t.Fatalf("id %s answered %d times, want exactly once (got=%v)", id, got[id], got)
		}
	}
}
