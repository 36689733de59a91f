package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dshills/bufstream/internal/channel"
	"github.com/dshills/bufstream/internal/engine/buffer"
	"github.com/dshills/bufstream/internal/host"
	"github.com/dshills/bufstream/internal/logging"
)

// BufferService is the buffer API the server exposes. *host.Host implements it.
type BufferService interface {
	Buffers(ctx context.Context) ([]host.BufferInfo, error)
	Attach(ctx context.Context, ch channel.ID, handle buffer.Handle, sendBuffer bool) error
	Detach(ctx context.Context, ch channel.ID, handle buffer.Handle) error
	GetLines(ctx context.Context, handle buffer.Handle, start, end int) ([]string, error)
	SetLines(ctx context.Context, handle buffer.Handle, start, end int, lines []string) error
	LineCount(ctx context.Context, handle buffer.Handle) (int, error)
	Revision(ctx context.Context, handle buffer.Handle) (uint64, error)
}

// Conn is an endpoint that also reads requests.
type Conn interface {
	Endpoint
	Serve(ctx context.Context, h Handler) error
}

// Server routes requests from connected channels to a BufferService.
type Server struct {
	svc    BufferService
	hub    *Hub
	logger *logging.Logger

	mu           sync.RWMutex
	redisChannel channel.ID
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the server logger.
func WithServerLogger(l *logging.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a server that registers its connections in hub.
func NewServer(svc BufferService, hub *Hub, opts ...ServerOption) *Server {
	s := &Server{
		svc:    svc,
		hub:    hub,
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("rpc")
	return s
}

// Hub returns the server's hub.
func (s *Server) Hub() *Hub { return s.hub }

// ServeConn registers c as a channel and answers its requests until it
// disconnects.
func (s *Server) ServeConn(ctx context.Context, c Conn) error {
	id, err := s.hub.Add(c)
	if err != nil {
		_ = c.Close()
		return err
	}
	defer s.hub.Remove(id)

	s.logger.Info("channel %d connected via %s", id, c.Kind())
	err = c.Serve(ctx, s.HandlerFor(id))
	s.logger.Info("channel %d disconnected", id)
	return err
}

// AttachRedis registers a Redis mirror channel and returns its id.
// Buffers are mirrored to it with the redis_attach method.
func (s *Server) AttachRedis(pub Publisher, prefix string, requireReceivers bool) (channel.ID, error) {
	ep := NewRedisEndpoint(pub, prefix, requireReceivers, WithEndpointLogger(s.logger))
	id, err := s.hub.Add(ep)
	if err != nil {
		return 0, err
	}
	ep.Bind(id)

	s.mu.Lock()
	s.redisChannel = id
	s.mu.Unlock()

	go func() {
		<-ep.Done()
		s.mu.Lock()
		if s.redisChannel == id {
			s.redisChannel = 0
		}
		s.mu.Unlock()
		s.logger.Warn("redis mirror channel %d closed", id)
	}()

	s.logger.Info("mirroring to redis topic %s", ep.Topic())
	return id, nil
}

// RedisChannel returns the Redis mirror channel id, or zero if none is
// attached or the mirror has closed.
func (s *Server) RedisChannel() channel.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.redisChannel
}

// HandlerFor returns the request handler for channel id.
func (s *Server) HandlerFor(id channel.ID) Handler {
	return HandlerFunc(func(ctx context.Context, method string, params json.RawMessage) (any, error) {
		return s.dispatch(ctx, id, method, params)
	})
}

func (s *Server) dispatch(ctx context.Context, id channel.ID, method string, params json.RawMessage) (any, error) {
	switch method {
	case "buf_attach":
		var handle buffer.Handle
		var sendBuffer bool
		if err := decodeParams(params, 2, &handle, &sendBuffer); err != nil {
			return nil, invalidParams(method, err)
		}
		ok, err := s.attach(ctx, id, handle, sendBuffer)
		if err != nil {
			return nil, err
		}
		return ok, nil

	case "buf_detach":
		var handle buffer.Handle
		if err := decodeParams(params, 1, &handle); err != nil {
			return nil, invalidParams(method, err)
		}
		if err := s.svc.Detach(ctx, id, handle); err != nil {
			return nil, err
		}
		return true, nil

	case "buf_get_lines":
		var handle buffer.Handle
		var start, end int
		if err := decodeParams(params, 3, &handle, &start, &end); err != nil {
			return nil, invalidParams(method, err)
		}
		return s.svc.GetLines(ctx, handle, start, end)

	case "buf_set_lines":
		var handle buffer.Handle
		var start, end int
		var lines []string
		if err := decodeParams(params, 4, &handle, &start, &end, &lines); err != nil {
			return nil, invalidParams(method, err)
		}
		return nil, s.svc.SetLines(ctx, handle, start, end, lines)

	case "buf_line_count":
		var handle buffer.Handle
		if err := decodeParams(params, 1, &handle); err != nil {
			return nil, invalidParams(method, err)
		}
		return s.svc.LineCount(ctx, handle)

	case "buf_get_changedtick":
		var handle buffer.Handle
		if err := decodeParams(params, 1, &handle); err != nil {
			return nil, invalidParams(method, err)
		}
		return s.svc.Revision(ctx, handle)

	case "list_bufs":
		infos, err := s.svc.Buffers(ctx)
		if err != nil {
			return nil, err
		}
		handles := make([]int64, len(infos))
		for i, info := range infos {
			handles[i] = int64(info.Handle)
		}
		return handles, nil

	case "get_channel_id":
		return uint64(id), nil

	case "redis_attach", "redis_detach":
		return s.dispatchRedis(ctx, method, params)

	default:
		return nil, NewError(CodeMethodNotFound, "method not found: %s", method)
	}
}

// attach reports false for an unloaded buffer rather than failing.
func (s *Server) attach(ctx context.Context, id channel.ID, handle buffer.Handle, sendBuffer bool) (bool, error) {
	err := s.svc.Attach(ctx, id, handle, sendBuffer)
	if errors.Is(err, host.ErrBufferNotLoaded) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Server) dispatchRedis(ctx context.Context, method string, params json.RawMessage) (any, error) {
	redisID := s.RedisChannel()
	if redisID == 0 {
		return nil, NewError(CodeInvalidRequest, "redis mirroring is disabled")
	}

	if method == "redis_detach" {
		var handle buffer.Handle
		if err := decodeParams(params, 1, &handle); err != nil {
			return nil, invalidParams(method, err)
		}
		if err := s.svc.Detach(ctx, redisID, handle); err != nil {
			return nil, err
		}
		return true, nil
	}

	var handle buffer.Handle
	var sendBuffer bool
	if err := decodeParams(params, 1, &handle, &sendBuffer); err != nil {
		return nil, invalidParams(method, err)
	}
	ok, err := s.attach(ctx, redisID, handle, sendBuffer)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, NewError(CodeBufferNotLoaded, "buffer %d is not loaded", handle)
	}
	return uint64(redisID), nil
}

// decodeParams unpacks a positional parameter array into targets. At least
// required entries must be present.
func decodeParams(raw json.RawMessage, required int, targets ...any) error {
	var list []json.RawMessage
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &list); err != nil {
			return fmt.Errorf("params must be an array: %w", err)
		}
	}
	if len(list) < required || len(list) > len(targets) {
		if required == len(targets) {
			return fmt.Errorf("expected %d params, got %d", required, len(list))
		}
		return fmt.Errorf("expected %d to %d params, got %d", required, len(targets), len(list))
	}
	for i, item := range list {
		if err := json.Unmarshal(item, targets[i]); err != nil {
			return fmt.Errorf("param %d: %w", i, err)
		}
	}
	return nil
}

// toRPCError maps service errors onto JSON-RPC error objects.
func toRPCError(err error) *Error {
	var rpcErr *Error
	switch {
	case errors.As(err, &rpcErr):
		return rpcErr
	case errors.Is(err, host.ErrBufferNotFound):
		return &Error{Code: CodeBufferNotFound, Message: err.Error()}
	case errors.Is(err, host.ErrBufferNotLoaded):
		return &Error{Code: CodeBufferNotLoaded, Message: err.Error()}
	case errors.Is(err, host.ErrHostClosed):
		return &Error{Code: CodeShuttingDown, Message: err.Error()}
	case errors.Is(err, buffer.ErrIndexOutOfBounds):
		return &Error{Code: CodeInvalidParams, Message: err.Error()}
	default:
		return &Error{Code: CodeInternalError, Message: err.Error()}
	}
}
