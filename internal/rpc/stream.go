package rpc

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/dshills/bufstream/internal/logging"
)

// StreamEndpoint speaks JSON-RPC 2.0 with Content-Length framing over a byte
// stream such as stdio or a socket connection.
type StreamEndpoint struct {
	reader  *bufio.Reader
	writer  io.Writer
	closer  io.Closer
	kind    string
	session string
	logger  *logging.Logger

	wmu    sync.Mutex
	closed atomic.Bool
	done   chan struct{}
}

// EndpointOption configures an endpoint.
type EndpointOption func(*endpointConfig)

type endpointConfig struct {
	logger *logging.Logger
}

// WithEndpointLogger sets the endpoint logger.
func WithEndpointLogger(l *logging.Logger) EndpointOption {
	return func(c *endpointConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

func buildEndpointConfig(opts []EndpointOption) endpointConfig {
	cfg := endpointConfig{logger: logging.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewStreamEndpoint creates an endpoint reading from r and writing to w.
// c, if non-nil, is closed when the endpoint closes.
func NewStreamEndpoint(r io.Reader, w io.Writer, c io.Closer, kind string, opts ...EndpointOption) *StreamEndpoint {
	cfg := buildEndpointConfig(opts)
	session := uuid.New().String()
	return &StreamEndpoint{
		reader:  bufio.NewReaderSize(r, 64*1024),
		writer:  w,
		closer:  c,
		kind:    kind,
		session: session,
		logger:  cfg.logger.WithFields(map[string]any{"session": session, "kind": kind}),
		done:    make(chan struct{}),
	}
}

// NewConnEndpoint creates a stream endpoint over a network connection.
func NewConnEndpoint(conn net.Conn, opts ...EndpointOption) *StreamEndpoint {
	return NewStreamEndpoint(conn, conn, conn, "socket", opts...)
}

// Kind implements Endpoint.
func (e *StreamEndpoint) Kind() string { return e.kind }

// Session returns the endpoint's session id.
func (e *StreamEndpoint) Session() string { return e.session }

// Done implements Endpoint.
func (e *StreamEndpoint) Done() <-chan struct{} { return e.done }

// Close implements Endpoint.
func (e *StreamEndpoint) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	close(e.done)
	if e.closer != nil {
		return e.closer.Close()
	}
	return nil
}

// Notify implements Endpoint.
func (e *StreamEndpoint) Notify(ctx context.Context, method string, params any) error {
	if e.closed.Load() {
		return ErrClosed
	}
	return e.write(newNotification(method, params))
}

func (e *StreamEndpoint) write(msg any) error {
	e.wmu.Lock()
	defer e.wmu.Unlock()
	return writeFrame(e.writer, msg)
}

// Serve reads requests and answers them with h until the peer disconnects,
// ctx is cancelled, or the endpoint is closed. Requests are handled in
// arrival order.
func (e *StreamEndpoint) Serve(ctx context.Context, h Handler) error {
	defer e.Close()

	go func() {
		select {
		case <-ctx.Done():
			_ = e.Close()
		case <-e.done:
		}
	}()

	for {
		data, err := readFrame(e.reader)
		if err != nil {
			if e.closed.Load() || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if errors.Is(err, ErrMissingContentLength) {
				e.logger.Warn("discarding frame: %v", err)
				continue
			}
			return err
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
				e.logger.Warn("writing response to %s: %v", req.Method, err)
				return err
			}
		}
	}
}

var _ Endpoint = (*StreamEndpoint)(nil)
