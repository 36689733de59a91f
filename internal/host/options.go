package host

import (
	"github.com/dshills/bufstream/internal/bufupdate"
	"github.com/dshills/bufstream/internal/logging"
	"github.com/dshills/bufstream/internal/watcher"
)

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the host logger.
func WithLogger(l *logging.Logger) Option {
	return func(h *Host) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithWatcher enables external change detection for file-backed buffers.
// The host takes ownership of w and closes it on shutdown.
func WithWatcher(w watcher.Watcher) Option {
	return func(h *Host) {
		h.watcher = w
	}
}

// WithBroadcastOptions passes options to the host's broadcaster.
func WithBroadcastOptions(opts ...bufupdate.Option) Option {
	return func(h *Host) {
		h.broadcastOpts = append(h.broadcastOpts, opts...)
	}
}

// WithQueueSize sets how many operations may wait for the event loop.
func WithQueueSize(n int) Option {
	return func(h *Host) {
		if n > 0 {
			h.queueSize = n
		}
	}
}
