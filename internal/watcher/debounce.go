package watcher

import (
	"sort"
	"sync"
	"time"
)

// DefaultDebounce is the quiet period used when NewDebouncedWatcher is
// given a non-positive delay.
const DefaultDebounce = 100 * time.Millisecond

// DebouncedWatcher wraps a Watcher so that a burst of changes to one file
// is delivered as a single event once the file has been quiet for the
// delay. The most recent change wins: a file removed and recreated within
// the window is reported as Modified.
type DebouncedWatcher struct {
	inner Watcher
	delay time.Duration

	mu      sync.Mutex
	pending map[string]pendingChange

	flush  chan chan struct{}
	events chan Event
	errors chan error

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

type pendingChange struct {
	ev  Event
	due time.Time
}

// NewDebouncedWatcher wraps inner. Closing the result closes inner.
func NewDebouncedWatcher(inner Watcher, delay time.Duration) *DebouncedWatcher {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	dw := &DebouncedWatcher{
		inner:   inner,
		delay:   delay,
		pending: make(map[string]pendingChange),
		flush:   make(chan chan struct{}),
		events:  make(chan Event, DefaultBufferSize),
		errors:  make(chan error, DefaultBufferSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go dw.loop()
	return dw
}

// Watch starts watching path on the inner watcher.
func (dw *DebouncedWatcher) Watch(path string) error { return dw.inner.Watch(path) }

// Unwatch stops watching path. A change already pending for it is still
// delivered.
func (dw *DebouncedWatcher) Unwatch(path string) error { return dw.inner.Unwatch(path) }

// IsWatching reports whether the inner watcher watches path.
func (dw *DebouncedWatcher) IsWatching(path string) bool { return dw.inner.IsWatching(path) }

// Events returns the coalesced changes. It is closed by Close.
func (dw *DebouncedWatcher) Events() <-chan Event { return dw.events }

// Errors returns errors forwarded from the inner watcher. It is closed by
// Close.
func (dw *DebouncedWatcher) Errors() <-chan error { return dw.errors }

// Close discards pending changes and closes the inner watcher.
func (dw *DebouncedWatcher) Close() error {
	dw.closeOnce.Do(func() {
		close(dw.stop)
		<-dw.done
		dw.closeErr = dw.inner.Close()
	})
	return dw.closeErr
}

// PendingCount returns the number of files with an undelivered change.
func (dw *DebouncedWatcher) PendingCount() int {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	return len(dw.pending)
}

// Flush delivers every pending change now. When Flush returns the events
// are in the Events channel.
func (dw *DebouncedWatcher) Flush() {
	ack := make(chan struct{})
	select {
	case dw.flush <- ack:
		<-ack
	case <-dw.done:
	}
}

func (dw *DebouncedWatcher) loop() {
	defer close(dw.done)
	defer close(dw.errors)
	defer close(dw.events)

	timer := time.NewTimer(dw.delay)
	timer.Stop()
	defer timer.Stop()

	in, errs := dw.inner.Events(), dw.inner.Errors()
	for {
		select {
		case <-dw.stop:
			return

		case ev, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			dw.hold(ev)
			dw.arm(timer)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			select {
			case dw.errors <- err:
			default:
			}

		case now := <-timer.C:
			dw.release(now)
			dw.arm(timer)

		case ack := <-dw.flush:
			dw.release(time.Time{})
			dw.arm(timer)
			close(ack)
		}
	}
}

func (dw *DebouncedWatcher) hold(ev Event) {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	dw.pending[ev.Path] = pendingChange{ev: ev, due: time.Now().Add(dw.delay)}
}

// arm points timer at the earliest pending deadline.
func (dw *DebouncedWatcher) arm(timer *time.Timer) {
	dw.mu.Lock()
	var next time.Time
	for _, p := range dw.pending {
		if next.IsZero() || p.due.Before(next) {
			next = p.due
		}
	}
	dw.mu.Unlock()

	if next.IsZero() {
		timer.Stop()
		return
	}
	timer.Reset(time.Until(next))
}

// release delivers changes due at or before now, in path order. A zero now
// releases everything. Changes that do not fit in Events are dropped.
func (dw *DebouncedWatcher) release(now time.Time) {
	dw.mu.Lock()
	var ready []Event
	for path, p := range dw.pending {
		if now.IsZero() || !p.due.After(now) {
			ready = append(ready, p.ev)
			delete(dw.pending, path)
		}
	}
	dw.mu.Unlock()

	sort.Slice(ready, func(i, j int) bool { return ready[i].Path < ready[j].Path })
	for _, ev := range ready {
		select {
		case dw.events <- ev:
		default:
		}
	}
}

var _ Watcher = (*DebouncedWatcher)(nil)
