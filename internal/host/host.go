// Package host owns the open buffers and serializes every operation on them.
//
// All buffer reads, edits and subscription changes run on a single event-loop
// goroutine started by Run. Public methods submit work to that loop and wait
// for the result, so the broadcast subsystem never sees concurrent access.
package host

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dshills/bufstream/internal/bufupdate"
	"github.com/dshills/bufstream/internal/channel"
	"github.com/dshills/bufstream/internal/engine/buffer"
	"github.com/dshills/bufstream/internal/logging"
	"github.com/dshills/bufstream/internal/watcher"
)

// DefaultQueueSize is the default number of operations that may wait for the loop.
const DefaultQueueSize = 64

// BufferInfo describes an open buffer.
type BufferInfo struct {
	Handle      buffer.Handle
	Name        string
	Path        string
	Loaded      bool
	LineCount   int
	Revision    uint64
	Subscribers int
}

// Host owns buffers and drives the broadcaster from its event loop.
type Host struct {
	logger        *logging.Logger
	watcher       watcher.Watcher
	broadcastOpts []bufupdate.Option
	queueSize     int

	reqs     chan func()
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool

	// Owned by the event loop.
	bc         *bufupdate.Broadcaster
	buffers    map[buffer.Handle]*buffer.Buffer
	byPath     map[string]buffer.Handle
	nextHandle buffer.Handle
}

// New creates a host that delivers notifications through t.
// Call Run to start the event loop.
func New(t bufupdate.Transport, opts ...Option) *Host {
	h := &Host{
		logger:    logging.Nop(),
		queueSize: DefaultQueueSize,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		buffers:   make(map[buffer.Handle]*buffer.Buffer),
		byPath:    make(map[string]buffer.Handle),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.logger = h.logger.WithComponent("host")
	bopts := append([]bufupdate.Option{bufupdate.WithLogger(h.logger)}, h.broadcastOpts...)
	h.bc = bufupdate.New(t, bopts...)
	h.reqs = make(chan func(), h.queueSize)
	return h
}

// Run processes operations until ctx is cancelled or Close is called.
// Every remaining subscriber receives nvim_buf_updates_end before Run returns.
func (h *Host) Run(ctx context.Context) error {
	if !h.running.CompareAndSwap(false, true) {
		return errors.New("host already running")
	}
	defer close(h.done)

	var fileEvents <-chan watcher.Event
	var fileErrors <-chan error
	if h.watcher != nil {
		fileEvents = h.watcher.Events()
		fileErrors = h.watcher.Errors()
	}

	h.logger.Debug("event loop started")
	for {
		select {
		case <-ctx.Done():
			h.teardown()
			return ctx.Err()

		case <-h.stop:
			h.teardown()
			return nil

		case req := <-h.reqs:
			req()

		case ev, ok := <-fileEvents:
			if !ok {
				fileEvents = nil
				continue
			}
			h.handleFileEvent(ev)

		case err, ok := <-fileErrors:
			if !ok {
				fileErrors = nil
				continue
			}
			h.logger.Warn("file watcher: %v", err)
		}
	}
}

// Close stops the event loop, ending every subscription, and waits for it.
func (h *Host) Close() error {
	h.stopOnce.Do(func() { close(h.stop) })
	if h.running.Load() {
		<-h.done
		return nil
	}
	if h.watcher != nil {
		return h.watcher.Close()
	}
	return nil
}

// Stats returns the broadcaster counters.
func (h *Host) Stats() bufupdate.StatsSnapshot {
	return h.bc.Stats().Snapshot()
}

// do runs fn on the event loop and waits for its result.
func (h *Host) do(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	req := func() {
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("panic in host operation: %v\n%s", r, debug.Stack())
				result <- fmt.Errorf("%w: %v", ErrLoopPanic, r)
			}
		}()
		result <- fn()
	}

	select {
	case h.reqs <- req:
	case <-h.stop:
		return ErrHostClosed
	case <-h.done:
		return ErrHostClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-h.done:
		select {
		case err := <-result:
			return err
		default:
			return ErrHostClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// lookup returns the buffer for handle. Loop only.
func (h *Host) lookup(handle buffer.Handle) (*buffer.Buffer, error) {
	buf, ok := h.buffers[handle]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrBufferNotFound, handle)
	}
	return buf, nil
}

// addBuffer creates and stores a new buffer. Loop only.
func (h *Host) addBuffer(opts ...buffer.Option) *buffer.Buffer {
	h.nextHandle++
	buf := buffer.New(h.nextHandle, opts...)
	h.buffers[buf.Handle()] = buf
	return buf
}

// teardown ends every subscription on every buffer. Loop only.
func (h *Host) teardown() {
	for _, handle := range h.sortedHandles() {
		h.bc.UnregisterAll(h.buffers[handle])
	}
	if h.watcher != nil {
		if err := h.watcher.Close(); err != nil {
			h.logger.Warn("closing file watcher: %v", err)
		}
	}
	h.logger.Debug("event loop stopped")
}

func (h *Host) sortedHandles() []buffer.Handle {
	handles := make([]buffer.Handle, 0, len(h.buffers))
	for handle := range h.buffers {
		handles = append(handles, handle)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	return handles
}

// handleFileEvent turns an external write into a revision-only
// notification. A removed file leaves the buffer and its revision alone.
func (h *Host) handleFileEvent(ev watcher.Event) {
	handle, ok := h.byPath[ev.Path]
	if !ok {
		return
	}
	buf := h.buffers[handle]
	if buf == nil || !buf.IsLoaded() {
		return
	}
	if ev.Change != watcher.Modified {
		h.logger.Info("buffer %d: %s %s on disk", handle, ev.Path, ev.Change)
		return
	}
	rev := buf.Touch()
	h.logger.Debug("buffer %d changed on disk, revision %d", handle, rev)
	h.bc.NotifyRevisionOnly(buf)
}

// CreateBuffer creates a loaded scratch buffer with the given lines.
func (h *Host) CreateBuffer(ctx context.Context, name string, lines []string) (buffer.Handle, error) {
	var handle buffer.Handle
	err := h.do(ctx, func() error {
		buf := h.addBuffer(buffer.WithName(name))
		buf.Load(lines)
		handle = buf.Handle()
		return nil
	})
	return handle, err
}

// OpenFile loads a file into a buffer and starts watching it.
// Opening a file that is already open returns the existing buffer.
func (h *Host) OpenFile(ctx context.Context, path string) (buffer.Handle, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return 0, err
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}

	var handle buffer.Handle
	err = h.do(ctx, func() error {
		if existing, ok := h.byPath[absPath]; ok {
			handle = existing
			return nil
		}
		buf := h.addBuffer(buffer.WithName(filepath.Base(absPath)), buffer.WithPath(absPath))
		buf.Load(buffer.SplitLines(string(data)))
		h.byPath[absPath] = buf.Handle()
		handle = buf.Handle()

		if h.watcher != nil {
			if err := h.watcher.Watch(absPath); err != nil && !errors.Is(err, watcher.ErrAlreadyWatching) {
				h.logger.Warn("watching %s: %v", absPath, err)
			}
		}
		return nil
	})
	return handle, err
}

// Buffers describes every open buffer, ordered by handle.
func (h *Host) Buffers(ctx context.Context) ([]BufferInfo, error) {
	var infos []BufferInfo
	err := h.do(ctx, func() error {
		for _, handle := range h.sortedHandles() {
			buf := h.buffers[handle]
			infos = append(infos, BufferInfo{
				Handle:      handle,
				Name:        buf.Name(),
				Path:        buf.Path(),
				Loaded:      buf.IsLoaded(),
				LineCount:   buf.LineCount(),
				Revision:    buf.Revision(),
				Subscribers: buf.Channels().Len(),
			})
		}
		return nil
	})
	return infos, err
}

// Attach subscribes ch to the buffer's changes.
// Returns ErrBufferNotLoaded if the buffer is not loaded.
func (h *Host) Attach(ctx context.Context, ch channel.ID, handle buffer.Handle, sendBuffer bool) error {
	return h.do(ctx, func() error {
		buf, err := h.lookup(handle)
		if err != nil {
			return err
		}
		if !h.bc.Register(buf, ch, sendBuffer) {
			return fmt.Errorf("%w: %d", ErrBufferNotLoaded, handle)
		}
		return nil
	})
}

// Detach unsubscribes ch from the buffer. Detaching a channel that is not
// attached succeeds.
func (h *Host) Detach(ctx context.Context, ch channel.ID, handle buffer.Handle) error {
	return h.do(ctx, func() error {
		buf, err := h.lookup(handle)
		if err != nil {
			return err
		}
		h.bc.Unregister(buf, ch)
		return nil
	})
}

// Subscribers returns the channels attached to a buffer in dispatch order.
func (h *Host) Subscribers(ctx context.Context, handle buffer.Handle) ([]channel.ID, error) {
	var ids []channel.ID
	err := h.do(ctx, func() error {
		buf, err := h.lookup(handle)
		if err != nil {
			return err
		}
		ids = buf.Channels().IDs()
		return nil
	})
	return ids, err
}

// GetLines returns lines in the 0-based, end-exclusive range [start, end).
func (h *Host) GetLines(ctx context.Context, handle buffer.Handle, start, end int) ([]string, error) {
	var lines []string
	err := h.do(ctx, func() error {
		buf, err := h.lookup(handle)
		if err != nil {
			return err
		}
		lines, err = buf.Lines(start, end)
		return translate(err, handle)
	})
	return lines, err
}

// SetLines replaces [start, end) with lines and notifies subscribers.
func (h *Host) SetLines(ctx context.Context, handle buffer.Handle, start, end int, lines []string) error {
	return h.do(ctx, func() error {
		buf, err := h.lookup(handle)
		if err != nil {
			return err
		}
		edit, err := buf.SetLines(start, end, lines)
		if err != nil {
			return translate(err, handle)
		}
		h.bc.NotifyEdit(buf, edit.FirstLine, edit.Added, edit.Removed, true)
		return nil
	})
}

// LineCount returns the number of lines in a loaded buffer.
func (h *Host) LineCount(ctx context.Context, handle buffer.Handle) (int, error) {
	var n int
	err := h.do(ctx, func() error {
		buf, err := h.lookup(handle)
		if err != nil {
			return err
		}
		if !buf.IsLoaded() {
			return fmt.Errorf("%w: %d", ErrBufferNotLoaded, handle)
		}
		n = buf.LineCount()
		return nil
	})
	return n, err
}

// Revision returns a buffer's changedtick.
func (h *Host) Revision(ctx context.Context, handle buffer.Handle) (uint64, error) {
	var rev uint64
	err := h.do(ctx, func() error {
		buf, err := h.lookup(handle)
		if err != nil {
			return err
		}
		rev = buf.Revision()
		return nil
	})
	return rev, err
}

// Touch bumps a buffer's revision without changing content and sends
// nvim_buf_changedtick to its subscribers.
func (h *Host) Touch(ctx context.Context, handle buffer.Handle) error {
	return h.do(ctx, func() error {
		buf, err := h.lookup(handle)
		if err != nil {
			return err
		}
		buf.Touch()
		h.bc.NotifyRevisionOnly(buf)
		return nil
	})
}

// LoadBuffer materializes an unloaded buffer, re-reading its file if it has one.
func (h *Host) LoadBuffer(ctx context.Context, handle buffer.Handle) error {
	return h.do(ctx, func() error {
		buf, err := h.lookup(handle)
		if err != nil {
			return err
		}
		if buf.IsLoaded() {
			return nil
		}
		lines := []string{""}
		if buf.Path() != "" {
			data, err := os.ReadFile(buf.Path())
			if err != nil {
				return fmt.Errorf("load %s: %w", buf.Path(), err)
			}
			lines = buffer.SplitLines(string(data))
		}
		buf.Load(lines)
		return nil
	})
}

// UnloadBuffer ends every subscription on the buffer and drops its lines.
func (h *Host) UnloadBuffer(ctx context.Context, handle buffer.Handle) error {
	return h.do(ctx, func() error {
		buf, err := h.lookup(handle)
		if err != nil {
			return err
		}
		h.bc.UnregisterAll(buf)
		buf.Unload()
		return nil
	})
}

// CloseBuffer ends every subscription on the buffer and forgets it.
func (h *Host) CloseBuffer(ctx context.Context, handle buffer.Handle) error {
	return h.do(ctx, func() error {
		buf, err := h.lookup(handle)
		if err != nil {
			return err
		}
		h.bc.UnregisterAll(buf)
		delete(h.buffers, handle)

		if path := buf.Path(); path != "" {
			delete(h.byPath, path)
			if h.watcher != nil {
				if err := h.watcher.Unwatch(path); err != nil && !errors.Is(err, watcher.ErrNotWatching) {
					h.logger.Warn("unwatching %s: %v", path, err)
				}
			}
		}
		return nil
	})
}

// translate maps buffer errors onto host errors.
func translate(err error, handle buffer.Handle) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, buffer.ErrNotLoaded) {
		return fmt.Errorf("%w: %d", ErrBufferNotLoaded, handle)
	}
	return err
}
