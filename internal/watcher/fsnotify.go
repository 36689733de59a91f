package watcher

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// fingerprint is the part of a file's metadata used to skip events that
// left the file untouched, such as a write of zero bytes or a touch that
// did not move the modification time.
type fingerprint struct {
	size    int64
	modTime time.Time
	exists  bool
}

func stat(path string) (fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return fingerprint{}, err
	}
	return fingerprint{size: info.Size(), modTime: info.ModTime(), exists: true}, nil
}

func (f fingerprint) same(o fingerprint) bool {
	return f.exists == o.exists && f.size == o.size && f.modTime.Equal(o.modTime)
}

// FSNotifyWatcher implements Watcher using fsnotify.
type FSNotifyWatcher struct {
	fsw *fsnotify.Watcher

	mu    sync.Mutex
	files map[string]fingerprint
	dirs  map[string]int // watched files per directory

	events chan Event
	errors chan error

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewFSNotifyWatcher starts an fsnotify-backed watcher.
func NewFSNotifyWatcher(opts ...Option) (*FSNotifyWatcher, error) {
	cfg := config{bufferSize: DefaultBufferSize}
	for _, opt := range opts {
		opt(&cfg)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &FSNotifyWatcher{
		fsw:    fsw,
		files:  make(map[string]fingerprint),
		dirs:   make(map[string]int),
		events: make(chan Event, cfg.bufferSize),
		errors: make(chan error, cfg.bufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *FSNotifyWatcher) closed() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}

// Watch starts watching path.
func (w *FSNotifyWatcher) Watch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	fp, err := stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrPathNotExist
	}
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed() {
		return ErrWatcherClosed
	}
	if _, ok := w.files[abs]; ok {
		return ErrAlreadyWatching
	}

	dir := filepath.Dir(abs)
	if w.dirs[dir] == 0 {
		if err := w.fsw.Add(dir); err != nil {
			return err
		}
	}
	w.dirs[dir]++
	w.files[abs] = fp
	return nil
}

// Unwatch stops watching path. The parent directory is released with its
// last watched file.
func (w *FSNotifyWatcher) Unwatch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed() {
		return ErrWatcherClosed
	}
	if _, ok := w.files[abs]; !ok {
		return ErrNotWatching
	}
	delete(w.files, abs)

	dir := filepath.Dir(abs)
	if w.dirs[dir]--; w.dirs[dir] > 0 {
		return nil
	}
	delete(w.dirs, dir)
	if err := w.fsw.Remove(dir); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
		return err
	}
	return nil
}

// Events returns changes to watched files. Events that do not fit in the
// buffer are dropped.
func (w *FSNotifyWatcher) Events() <-chan Event { return w.events }

// Errors returns errors reported by fsnotify.
func (w *FSNotifyWatcher) Errors() <-chan error { return w.errors }

// IsWatching reports whether path is watched.
func (w *FSNotifyWatcher) IsWatching(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.files[abs]
	return ok
}

// Close stops the watcher. It is safe to call more than once.
func (w *FSNotifyWatcher) Close() error {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		close(w.stop)
		w.mu.Unlock()
		<-w.done
		w.closeErr = w.fsw.Close()
	})
	return w.closeErr
}

// loop is the only sender on events and errors, so it closes them.
func (w *FSNotifyWatcher) loop() {
	defer close(w.done)
	defer close(w.errors)
	defer close(w.events)

	for {
		select {
		case <-w.stop:
			return

		case fe, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev, ok := w.classify(fe); ok {
				select {
				case w.events <- ev:
				default:
				}
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

// classify maps a raw fsnotify event to a buffer-level change. Events for
// unwatched files, permission changes and writes that left size and
// modification time unchanged are dropped.
func (w *FSNotifyWatcher) classify(fe fsnotify.Event) (Event, bool) {
	path := filepath.Clean(fe.Name)

	w.mu.Lock()
	defer w.mu.Unlock()
	prev, ok := w.files[path]
	if !ok {
		return Event{}, false
	}

	ev := Event{Path: path, At: time.Now()}
	switch {
	case fe.Op.Has(fsnotify.Remove) || fe.Op.Has(fsnotify.Rename):
		w.files[path] = fingerprint{}
		ev.Change = Removed

	case fe.Op.Has(fsnotify.Write) || fe.Op.Has(fsnotify.Create):
		fp, err := stat(path)
		if err != nil {
			w.files[path] = fingerprint{}
			ev.Change = Removed
			break
		}
		if fp.same(prev) {
			return Event{}, false
		}
		w.files[path] = fp
		ev.Change = Modified

	default:
		return Event{}, false
	}

	if ev.Change == Removed && !prev.exists {
		return Event{}, false
	}
	return ev, true
}

var _ Watcher = (*FSNotifyWatcher)(nil)
