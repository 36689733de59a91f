package rpc

import (
	"context"
	"encoding/json"
)

// Endpoint is one connected peer that can receive notifications.
type Endpoint interface {
	// Notify writes a notification. It may block on I/O.
	Notify(ctx context.Context, method string, params any) error
	// Close disconnects the peer. Close is idempotent.
	Close() error
	// Done is closed once the endpoint is closed.
	Done() <-chan struct{}
	// Kind names the endpoint type for logging ("stdio", "socket", "websocket", "redis", "lua").
	Kind() string
}

// Handler answers requests arriving on an endpoint.
type Handler interface {
	Handle(ctx context.Context, method string, params json.RawMessage) (any, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, method string, params json.RawMessage) (any, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, method string, params json.RawMessage) (any, error) {
	return f(ctx, method, params)
}

// respond runs h for req and builds the reply. Notifications get no reply.
func respond(ctx context.Context, h Handler, req *Request) *Response {
	if req.JSONRPC != jsonrpcVersion || req.Method == "" {
		if req.IsNotification() {
			return nil
		}
		return &Response{
			JSONRPC: jsonrpcVersion,
			ID:      req.ID,
			Error:   NewError(CodeInvalidRequest, "invalid request"),
		}
	}

	result, err := h.Handle(ctx, req.Method, req.Params)
	if req.IsNotification() {
		return nil
	}

	resp := &Response{JSONRPC: jsonrpcVersion, ID: req.ID}
	if err != nil {
		resp.Error = toRPCError(err)
		return resp
	}
	if result == nil {
		result = json.RawMessage("null")
	}
	resp.Result = result
	return resp
}

// parseRequest decodes a raw message into a request or an error response.
func parseRequest(data []byte) (*Request, *Response) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &Response{
			JSONRPC: jsonrpcVersion,
			ID:      json.RawMessage("null"),
			Error:   NewError(CodeParseError, "parse error: %v", err),
		}
	}
	return &req, nil
}
