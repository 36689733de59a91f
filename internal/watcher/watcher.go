// Package watcher detects external changes to files backing open buffers.
//
// Files are watched through their parent directory so that editors which
// save by writing a temporary file and renaming it over the original are
// still observed. Only events for explicitly watched files are delivered.
package watcher

import (
	"errors"
	"time"
)

// Common errors returned by watcher operations.
var (
	ErrWatcherClosed   = errors.New("watcher is closed")
	ErrAlreadyWatching = errors.New("path is already being watched")
	ErrNotWatching     = errors.New("path is not being watched")
	ErrPathNotExist    = errors.New("path does not exist")
)

// Change is what happened to a watched file on disk.
type Change uint8

const (
	// Modified means the file's contents may differ from what was loaded.
	Modified Change = iota + 1
	// Removed means the file no longer exists at its path.
	Removed
)

func (c Change) String() string {
	switch c {
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Event reports a change to one watched file.
type Event struct {
	// Path is the absolute, cleaned path that was passed to Watch.
	Path   string
	Change Change
	At     time.Time
}

// Watcher monitors buffer files for changes made outside the host.
//
// Events and Errors are closed once the watcher is closed.
type Watcher interface {
	// Watch starts watching a file. It returns ErrAlreadyWatching for a
	// file that is already watched and ErrPathNotExist for a missing one.
	Watch(path string) error

	// Unwatch stops watching a file.
	Unwatch(path string) error

	Events() <-chan Event
	Errors() <-chan error

	IsWatching(path string) bool

	Close() error
}

// DefaultBufferSize is the capacity of the event and error channels.
const DefaultBufferSize = 64

type config struct {
	bufferSize int
}

// Option configures an FSNotifyWatcher.
type Option func(*config)

// WithBufferSize sets the event and error channel capacity. Events that do
// not fit are dropped.
func WithBufferSize(size int) Option {
	return func(c *config) {
		if size > 0 {
			c.bufferSize = size
		}
	}
}
