// Package app wires the bufstream daemon together: configuration, the host
// event loop, the channel hub, RPC transports, the Redis mirror and Lua
// subscribers. It owns their lifecycle.
package app

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/dshills/bufstream/internal/config"
	"github.com/dshills/bufstream/internal/host"
	"github.com/dshills/bufstream/internal/logging"
	"github.com/dshills/bufstream/internal/plugin/lua"
	"github.com/dshills/bufstream/internal/rpc"
)

// Application is the central coordinator for all bufstream components.
type Application struct {
	mu sync.RWMutex

	opts   Options
	cfg    config.Config
	logger *logging.Logger

	host   *host.Host
	hub    *rpc.Hub
	server *rpc.Server

	redis    *redis.Client
	scripts  []*lua.Subscriber
	listener net.Listener

	running      atomic.Bool
	cancel       context.CancelFunc
	transports   sync.WaitGroup
	loop         sync.WaitGroup
	ready        chan struct{}
	done         chan struct{}
	shutdownOnce sync.Once
}

// Options configures the application. Non-empty fields override the
// loaded configuration, the way command-line flags do.
type Options struct {
	// ConfigPath is the path to the configuration file.
	ConfigPath string

	// ConfigOptions are passed to config.Load.
	ConfigOptions []config.LoadOption

	// LogLevel sets the logging verbosity.
	LogLevel string

	// Stdio serves one RPC client on Stdin and Stdout.
	Stdio bool

	// Listen is a socket address to accept RPC clients on.
	Listen string

	// WebSocket is an HTTP address to accept websocket clients on.
	WebSocket string

	// Files are opened as buffers on startup.
	Files []string

	// Stdin, Stdout and LogOutput default to the process streams.
	Stdin     io.Reader
	Stdout    io.Writer
	LogOutput io.Writer
}

// apply copies the overrides onto cfg.
func (o Options) apply(cfg *config.Config) {
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if o.Stdio {
		cfg.Server.Stdio = true
	}
	if o.Listen != "" {
		cfg.Server.Listen = o.Listen
	}
	if o.WebSocket != "" {
		cfg.Server.WebSocket = o.WebSocket
	}
}

// New loads configuration and builds every component. Nothing runs until Run.
func New(opts Options) (*Application, error) {
	cfg, err := config.Load(opts.ConfigPath, opts.ConfigOptions...)
	if err != nil {
		return nil, &InitError{Component: "config", Err: err}
	}
	opts.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, &InitError{Component: "config", Err: err}
	}

	app := &Application{
		opts:  opts,
		cfg:   cfg,
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
	if err := app.bootstrap(); err != nil {
		return nil, err
	}
	return app, nil
}

// Config returns the effective configuration.
func (app *Application) Config() config.Config {
	return app.cfg
}

// Logger returns the application logger.
func (app *Application) Logger() *logging.Logger {
	return app.logger
}

// Host returns the buffer host.
func (app *Application) Host() *host.Host {
	return app.host
}

// Hub returns the channel hub.
func (app *Application) Hub() *rpc.Hub {
	return app.hub
}

// Server returns the RPC server.
func (app *Application) Server() *rpc.Server {
	return app.server
}

// Scripts returns the loaded Lua subscribers.
func (app *Application) Scripts() []*lua.Subscriber {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return append([]*lua.Subscriber(nil), app.scripts...)
}

// Addr returns the socket listener address, or nil if none is open.
func (app *Application) Addr() net.Addr {
	app.mu.RLock()
	defer app.mu.RUnlock()
	if app.listener == nil {
		return nil
	}
	return app.listener.Addr()
}

// Ready is closed once Run has opened files, loaded scripts and started
// every transport.
func (app *Application) Ready() <-chan struct{} {
	return app.ready
}

// Done is closed when shutdown begins.
func (app *Application) Done() <-chan struct{} {
	return app.done
}

// IsRunning returns true while Run is executing.
func (app *Application) IsRunning() bool {
	return app.running.Load()
}
