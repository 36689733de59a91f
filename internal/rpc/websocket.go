package rpc

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dshills/bufstream/internal/logging"
)

const wsWriteTimeout = 10 * time.Second

// WebSocketEndpoint carries one JSON-RPC message per text frame.
type WebSocketEndpoint struct {
	conn    *websocket.Conn
	session string
	logger  *logging.Logger

	wmu    sync.Mutex
	closed atomic.Bool
	done   chan struct{}
}

// NewWebSocketEndpoint wraps an upgraded connection.
func NewWebSocketEndpoint(conn *websocket.Conn, opts ...EndpointOption) *WebSocketEndpoint {
	cfg := buildEndpointConfig(opts)
	session := uuid.New().String()
	return &WebSocketEndpoint{
		conn:    conn,
		session: session,
		logger:  cfg.logger.WithFields(map[string]any{"session": session, "kind": "websocket"}),
		done:    make(chan struct{}),
	}
}

// Kind implements Endpoint.
func (e *WebSocketEndpoint) Kind() string { return "websocket" }

// Session returns the endpoint's session id.
func (e *WebSocketEndpoint) Session() string { return e.session }

// Done implements Endpoint.
func (e *WebSocketEndpoint) Done() <-chan struct{} { return e.done }

// Close implements Endpoint.
func (e *WebSocketEndpoint) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	close(e.done)

	e.wmu.Lock()
	_ = e.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	e.wmu.Unlock()
	return e.conn.Close()
}

// Notify implements Endpoint.
func (e *WebSocketEndpoint) Notify(ctx context.Context, method string, params any) error {
	if e.closed.Load() {
		return ErrClosed
	}
	return e.write(newNotification(method, params))
}

func (e *WebSocketEndpoint) write(msg any) error {
	e.wmu.Lock()
	defer e.wmu.Unlock()
	_ = e.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return e.conn.WriteJSON(msg)
}

// Serve answers requests until the peer disconnects or ctx is cancelled.
func (e *WebSocketEndpoint) Serve(ctx context.Context, h Handler) error {
	defer e.Close()

	go func() {
		select {
		case <-ctx.Done():
			_ = e.Close()
		case <-e.done:
		}
	}()

	for {
		msgType, data, err := e.conn.ReadMessage()
		if err != nil {
			if e.closed.Load() {
				return nil
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				e.logger.Warn("websocket read: %v", err)
				return err
			}
			return nil
		}
		if msgType != websocket.TextMessage {
			continue
		}

		req, bad := parseRequest(data)
		if bad != nil {
			if err := e.write(bad); err != nil {
				return err
			}
			continue
		}
		if resp := respond(ctx, h, req); resp != nil {
			if err := e.write(resp); err != nil {
				return err
			}
		}
	}
}

// WebSocketOption configures the websocket HTTP handler.
type WebSocketOption func(*websocket.Upgrader)

// WithWSReadBuffer sets the upgrader read buffer size.
func WithWSReadBuffer(size int) WebSocketOption {
	return func(u *websocket.Upgrader) {
		u.ReadBufferSize = size
	}
}

// WithWSWriteBuffer sets the upgrader write buffer size.
func WithWSWriteBuffer(size int) WebSocketOption {
	return func(u *websocket.Upgrader) {
		u.WriteBufferSize = size
	}
}

// WithWSAllowedOrigins restricts the Origin header. An empty list allows any origin.
func WithWSAllowedOrigins(origins ...string) WebSocketOption {
	return func(u *websocket.Upgrader) {
		if len(origins) == 0 {
			u.CheckOrigin = func(*http.Request) bool { return true }
			return
		}
		allowed := make(map[string]bool, len(origins))
		for _, o := range origins {
			allowed[o] = true
		}
		u.CheckOrigin = func(r *http.Request) bool {
			return allowed[r.Header.Get("Origin")]
		}
	}
}

// WebSocketHandler upgrades HTTP requests and serves each connection as a channel.
func WebSocketHandler(s *Server, opts ...WebSocketOption) http.Handler {
	upgrader := &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	for _, opt := range opts {
		opt(upgrader)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn("websocket upgrade from %s: %v", r.RemoteAddr, err)
			return
		}
		ep := NewWebSocketEndpoint(conn, WithEndpointLogger(s.logger))
		if err := s.ServeConn(r.Context(), ep); err != nil {
			s.logger.Debug("websocket session %s ended: %v", ep.Session(), err)
		}
	})
}

var _ Endpoint = (*WebSocketEndpoint)(nil)
