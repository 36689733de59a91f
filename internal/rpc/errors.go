package rpc

import (
	"errors"
	"fmt"
)

// Standard errors returned by the RPC layer.
var (
	// ErrClosed indicates the endpoint or hub has been closed.
	ErrClosed = errors.New("rpc endpoint closed")

	// ErrNoReceivers indicates a publish reached nobody.
	ErrNoReceivers = errors.New("no receivers for published message")

	// ErrMissingContentLength indicates a frame without a Content-Length header.
	ErrMissingContentLength = errors.New("missing Content-Length header")

	// ErrUnsupportedNetwork indicates a listen address with an unknown scheme.
	ErrUnsupportedNetwork = errors.New("unsupported network")
)

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// Application errors.
	CodeBufferNotFound  = -32001
	CodeBufferNotLoaded = -32002
	CodeShuttingDown    = -32003
)

// NewError creates an Error with a formatted message.
func NewError(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// invalidParams reports a malformed parameter list.
func invalidParams(method string, err error) *Error {
	return NewError(CodeInvalidParams, "%s: %v", method, err)
}
