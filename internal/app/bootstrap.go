package app

import (
	"context"
	"os"
	"path/filepath"

	"github.com/dshills/bufstream/internal/bufupdate"
	"github.com/dshills/bufstream/internal/host"
	"github.com/dshills/bufstream/internal/logging"
	"github.com/dshills/bufstream/internal/plugin/lua"
	"github.com/dshills/bufstream/internal/rpc"
	"github.com/dshills/bufstream/internal/watcher"
)

// ScratchBufferName names the buffer created when no file is opened.
const ScratchBufferName = "[No Name]"

// bootstrap builds components in dependency order.
func (app *Application) bootstrap() error {
	cfg := app.cfg

	// 1. Logger
	app.logger = logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.Log.Level),
		Format: logging.Format(cfg.Log.Format),
		Output: app.opts.LogOutput,
		Prefix: "bufstream",
	})

	// 2. Hub - the broadcaster's transport
	app.hub = rpc.NewHub(
		rpc.WithHubLogger(app.logger),
		rpc.WithQueueSize(cfg.Server.QueueSize),
	)

	// 3. Host
	hostOpts := []host.Option{
		host.WithLogger(app.logger),
		host.WithQueueSize(cfg.Broadcast.HostQueueSize),
		host.WithBroadcastOptions(
			bufupdate.WithMaxEvictionsPerEdit(cfg.Broadcast.MaxEvictionsPerEdit),
		),
	}
	if cfg.Watch.Enabled {
		w, err := watcher.NewFSNotifyWatcher()
		if err != nil {
			// Non-fatal: buffers still work, external edits just go unnoticed.
			app.logger.Warn("file watching disabled: %v", err)
		} else {
			hostOpts = append(hostOpts, host.WithWatcher(
				watcher.NewDebouncedWatcher(w, cfg.Watch.Debounce.Std()),
			))
		}
	}
	app.host = host.New(app.hub, hostOpts...)

	// 4. RPC server
	app.server = rpc.NewServer(app.host, app.hub, rpc.WithServerLogger(app.logger))

	return nil
}

// openFiles loads the startup files, or a scratch buffer when none opened.
func (app *Application) openFiles(ctx context.Context) error {
	opened := 0
	for _, file := range app.opts.Files {
		handle, err := app.host.OpenFile(ctx, file)
		if err != nil {
			// File open errors are non-fatal for startup
			app.logger.Warn("open %s: %v", file, err)
			continue
		}
		app.logger.Info("buffer %d: %s", handle, file)
		opened++
	}

	if opened == 0 {
		if _, err := app.host.CreateBuffer(ctx, ScratchBufferName, []string{""}); err != nil {
			return err
		}
	}
	return nil
}

// startRedis connects to Redis and registers the mirror channel.
func (app *Application) startRedis(ctx context.Context) error {
	rc := app.cfg.Redis
	client, err := rpc.ConnectRedis(ctx, rc.URL, rc.RetryAttempts, rc.RetryInterval.Std())
	if err != nil {
		return err
	}

	app.mu.Lock()
	app.redis = client
	app.mu.Unlock()

	_, err = app.server.AttachRedis(client, rc.Prefix, rc.RequireReceivers)
	return err
}

// loadScripts starts one Lua subscriber per configured script. A script that
// fails to load is logged and skipped.
func (app *Application) loadScripts() {
	for _, path := range app.cfg.Lua.Scripts {
		if err := app.loadScript(path); err != nil {
			app.logger.Error("lua script %s: %v", path, err)
		}
	}
}

func (app *Application) loadScript(path string) error {
	lc := app.cfg.Lua
	if _, err := os.Stat(path); err != nil {
		return err
	}

	sub := lua.NewSubscriber(filepath.Base(path), app.host,
		lua.WithSubscriberLogger(app.logger),
		lua.WithMaxScriptErrors(lc.MaxScriptErrors),
		lua.WithCallTimeout(lc.CallTimeout.Std()),
		lua.WithStateOptions(lua.WithExecutionTimeout(lc.ExecutionTimeout.Std())),
	)

	id, err := app.hub.Add(sub)
	if err != nil {
		_ = sub.Close()
		return err
	}
	sub.Bind(id)

	if err := sub.LoadFile(path); err != nil {
		app.hub.Remove(id)
		return err
	}

	app.mu.Lock()
	app.scripts = append(app.scripts, sub)
	app.mu.Unlock()

	app.logger.Info("lua script %s on channel %d", path, id)
	return nil
}
