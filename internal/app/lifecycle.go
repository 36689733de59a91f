package app

import (
	"context"
	"os"
	"time"

	"github.com/dshills/bufstream/internal/rpc"
)

// Run opens the startup buffers, connects Redis, loads scripts and serves
// the configured transports. It blocks until ctx is cancelled, Shutdown is
// called, the stdio client disconnects or a transport fails, and always
// shuts the application down before returning.
func (app *Application) Run(ctx context.Context) error {
	select {
	case <-app.done:
		return ErrShutDown
	default:
	}
	if !app.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer app.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	app.mu.Lock()
	app.cancel = cancel
	app.mu.Unlock()

	// The host loop is stopped by Shutdown, not by ctx, so that every
	// subscriber is sent nvim_buf_updates_end while transports are still open.
	app.loop.Add(1)
	go func() {
		defer app.loop.Done()
		if err := app.host.Run(context.Background()); err != nil {
			app.logger.Error("host loop: %v", err)
		}
	}()

	if err := app.start(ctx); err != nil {
		app.Shutdown()
		return err
	}
	close(app.ready)
	app.logger.Info("ready")

	errCh := make(chan error, 3)
	app.serve(ctx, errCh)

	var err error
	select {
	case <-ctx.Done():
	case <-app.done:
	case err = <-errCh:
	}
	app.Shutdown()
	return err
}

// start runs the startup steps that must succeed before serving.
func (app *Application) start(ctx context.Context) error {
	if err := app.openFiles(ctx); err != nil {
		return &InitError{Component: "buffers", Err: err}
	}

	if app.cfg.Redis.Enabled {
		if err := app.startRedis(ctx); err != nil {
			return &InitError{Component: "redis", Err: err}
		}
	}

	app.loadScripts()

	if addr := app.cfg.Server.Listen; addr != "" {
		l, err := rpc.Listen(addr)
		if err != nil {
			return &InitError{Component: "listener", Err: err}
		}
		app.mu.Lock()
		app.listener = l
		app.mu.Unlock()
	}
	return nil
}

// serve starts one goroutine per transport. A nil error on errCh means the
// stdio client went away.
func (app *Application) serve(ctx context.Context, errCh chan<- error) {
	sc := app.cfg.Server

	if sc.Stdio {
		in, out := app.opts.Stdin, app.opts.Stdout
		if in == nil {
			in = os.Stdin
		}
		if out == nil {
			out = os.Stdout
		}
		app.goTransport("stdio", errCh, func() error {
			return app.server.ServeStdio(ctx, in, out)
		}, true)
	}

	if app.listener != nil {
		l := app.listener
		app.goTransport("listen", errCh, func() error {
			return app.server.Serve(ctx, l)
		}, false)
	}

	if sc.WebSocket != "" {
		opts := []rpc.WebSocketOption{}
		if len(sc.AllowedOrigins) > 0 {
			opts = append(opts, rpc.WithWSAllowedOrigins(sc.AllowedOrigins...))
		}
		app.goTransport("websocket", errCh, func() error {
			return app.server.ServeWebSocket(ctx, sc.WebSocket, sc.WebSocketPath, opts...)
		}, false)
	}
}

// goTransport runs fn and reports its end on errCh. Transports other than
// stdio only report failures. A blocked stdin read cannot be interrupted, so
// Shutdown does not wait for the stdio goroutine.
func (app *Application) goTransport(name string, errCh chan<- error, fn func() error, stdio bool) {
	if !stdio {
		app.transports.Add(1)
	}
	go func() {
		if !stdio {
			defer app.transports.Done()
		}
		err := fn()
		switch {
		case err != nil:
			errCh <- &TransportError{Transport: name, Err: err}
		case stdio:
			app.logger.Info("%s client disconnected", name)
			errCh <- nil
		}
	}()
}

// Shutdown stops the application. It is safe to call more than once and
// before Run. Every subscriber receives nvim_buf_updates_end before the
// transports close.
func (app *Application) Shutdown() {
	app.shutdownOnce.Do(func() {
		close(app.done)
		app.shutdown()
	})
}

// shutdown performs cleanup in reverse initialization order.
func (app *Application) shutdown() {
	// 1. End every subscription and stop the host loop
	if err := app.host.Close(); err != nil {
		app.logger.Warn("closing host: %v", err)
	}
	app.loop.Wait()

	// 2. Flush queued notifications and close every channel
	_ = app.hub.Close()

	// 3. Stop accepting connections
	app.mu.RLock()
	cancel := app.cancel
	app.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	if !waitTimeout(&app.transports, 5*time.Second) {
		app.logger.Warn("transports did not stop within 5s")
	}

	// 4. Disconnect Redis
	app.mu.RLock()
	client := app.redis
	app.mu.RUnlock()
	if client != nil {
		if err := client.Close(); err != nil {
			app.logger.Warn("closing redis: %v", err)
		}
	}

	s := app.host.Stats()
	app.logger.Info("shutdown: %d starts, %d updates, %d changedtick, %d ends, %d failed sends, %d evictions",
		s.Starts, s.Updates, s.RevisionOnly, s.Ends, s.FailedSends, s.Evictions)
}

// waitTimeout waits for wg, giving up after d.
func waitTimeout(wg interface{ Wait() }, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
