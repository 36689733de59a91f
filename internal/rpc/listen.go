package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// ParseAddress splits a listen address into network and address.
// Accepted forms are "unix:/path", "unix:///path", "tcp://host:port" and a
// bare "host:port", which means TCP.
func ParseAddress(addr string) (network, address string, err error) {
	switch {
	case strings.HasPrefix(addr, "unix://"):
		return "unix", strings.TrimPrefix(addr, "unix://"), nil
	case strings.HasPrefix(addr, "unix:"):
		return "unix", strings.TrimPrefix(addr, "unix:"), nil
	case strings.HasPrefix(addr, "tcp://"):
		return "tcp", strings.TrimPrefix(addr, "tcp://"), nil
	case strings.Contains(addr, "://"):
		return "", "", fmt.Errorf("%w: %s", ErrUnsupportedNetwork, addr)
	case addr == "":
		return "", "", errors.New("empty listen address")
	default:
		return "tcp", addr, nil
	}
}

// Listen opens a listener for addr. A stale unix socket file is removed first.
func Listen(addr string) (net.Listener, error) {
	network, address, err := ParseAddress(addr)
	if err != nil {
		return nil, err
	}
	if network == "unix" {
		if fi, err := os.Stat(address); err == nil && fi.Mode()&os.ModeSocket != 0 {
			_ = os.Remove(address)
		}
	}
	return net.Listen(network, address)
}

// Serve accepts connections on l until ctx is cancelled, serving each as a
// channel. It closes l before returning.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		_ = l.Close()
	}()

	s.logger.Info("listening on %s", l.Addr())
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			ep := NewConnEndpoint(conn, WithEndpointLogger(s.logger))
			if err := s.ServeConn(ctx, ep); err != nil {
				s.logger.Debug("connection from %s ended: %v", conn.RemoteAddr(), err)
			}
		}()
	}
}

// ServeStdio serves a single channel over r and w.
func (s *Server) ServeStdio(ctx context.Context, r io.Reader, w io.Writer) error {
	return s.ServeConn(ctx, NewStreamEndpoint(r, w, nil, "stdio", WithEndpointLogger(s.logger)))
}

// ServeWebSocket runs an HTTP server on addr that upgrades requests on path.
func (s *Server) ServeWebSocket(ctx context.Context, addr, path string, opts ...WebSocketOption) error {
	mux := http.NewServeMux()
	mux.Handle(path, WebSocketHandler(s, opts...))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("websocket listening on %s%s", addr, path)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
