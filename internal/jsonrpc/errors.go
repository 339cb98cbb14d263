package jsonrpc

import "errors"

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	// ErrorCodeParseError indicates the payload was not valid JSON.
	ErrorCodeParseError ErrorCode = -32700
	// ErrorCodeInvalidRequest indicates the payload was JSON but not a valid
	// request object (bad version tag, bad id type, missing method).
	ErrorCodeInvalidRequest ErrorCode = -32600
	// ErrorCodeMethodNotFound indicates the method is not implemented.
	ErrorCodeMethodNotFound ErrorCode = -32601
	// ErrorCodeInvalidParams indicates the params do not match the method.
	ErrorCodeInvalidParams ErrorCode = -32602
	// ErrorCodeInternalError indicates a server-side failure.
	ErrorCodeInternalError ErrorCode = -32603
)

// ErrMalformedMessage is returned by Parse when the payload cannot be
// interpreted as a JSON-RPC 2.0 message. Callers should attempt id recovery
// via RecoverID so the peer still receives an error response when possible.
var ErrMalformedMessage = errors.New("malformed jsonrpc message")

// Error is a JSON-RPC error object.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

func (e *Error) Error() string { return e.Message }
