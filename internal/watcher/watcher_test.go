package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestChange_String(t *testing.T) {
	tests := []struct {
		change   Change
		expected string
	}{
		{Modified, "modified"},
		{Removed, "removed"},
		{Change(0), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.change.String(); got != tt.expected {
			t.Errorf("Change(%d).String() = %q, want %q", tt.change, got, tt.expected)
		}
	}
}

func newWatcher(t *testing.T) *FSNotifyWatcher {
	t.Helper()
	w, err := NewFSNotifyWatcher(WithBufferSize(16))
	if err != nil {
		t.Fatalf("NewFSNotifyWatcher error = %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// waitFor returns the first event for path, skipping others.
func waitFor(t *testing.T, events <-chan Event, path string) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("events channel closed")
			}
			if ev.Path == path {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for event on %s", path)
		}
	}
}

func TestFSNotifyWatcher_WatchUnwatch(t *testing.T) {
	w := newWatcher(t)
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	writeFile(t, a, "x\n")
	writeFile(t, b, "y\n")

	if err := w.Watch(a); err != nil {
		t.Fatalf("Watch error = %v", err)
	}
	if err := w.Watch(b); err != nil {
		t.Fatalf("Watch error = %v", err)
	}
	if !w.IsWatching(a) {
		t.Error("should be watching a")
	}
	if err := w.Watch(a); !errors.Is(err, ErrAlreadyWatching) {
		t.Errorf("Watch again error = %v, want ErrAlreadyWatching", err)
	}

	if err := w.Unwatch(a); err != nil {
		t.Fatalf("Unwatch error = %v", err)
	}
	if w.IsWatching(a) {
		t.Error("should not be watching a after Unwatch")
	}
	if err := w.Unwatch(a); !errors.Is(err, ErrNotWatching) {
		t.Errorf("Unwatch again error = %v, want ErrNotWatching", err)
	}

	// b shares the directory and must still be observed.
	w.mu.Lock()
	refs := w.dirs[dir]
	w.mu.Unlock()
	if refs != 1 {
		t.Errorf("directory refs = %d, want 1", refs)
	}
}

func TestFSNotifyWatcher_WatchNonexistent(t *testing.T) {
	w := newWatcher(t)
	if err := w.Watch(filepath.Join(t.TempDir(), "missing.txt")); !errors.Is(err, ErrPathNotExist) {
		t.Errorf("Watch nonexistent error = %v, want ErrPathNotExist", err)
	}
}

func TestFSNotifyWatcher_Modified(t *testing.T) {
	w := newWatcher(t)
	dir := t.TempDir()
	watched := filepath.Join(dir, "watched.txt")
	other := filepath.Join(dir, "other.txt")
	writeFile(t, watched, "x\n")
	writeFile(t, other, "x\n")

	if err := w.Watch(watched); err != nil {
		t.Fatal(err)
	}

	writeFile(t, other, "ignored\n")
	writeFile(t, watched, "changed\n")

	ev := waitFor(t, w.Events(), watched)
	if ev.Change != Modified {
		t.Errorf("change = %v, want modified", ev.Change)
	}
}

func TestFSNotifyWatcher_Removed(t *testing.T) {
	w := newWatcher(t)
	path := filepath.Join(t.TempDir(), "gone.txt")
	writeFile(t, path, "x\n")

	if err := w.Watch(path); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	ev := waitFor(t, w.Events(), path)
	if ev.Change != Removed {
		t.Errorf("change = %v, want removed", ev.Change)
	}
}

func TestFSNotifyWatcher_Close(t *testing.T) {
	w, err := NewFSNotifyWatcher()
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close error = %v", err)
	}

	path := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, path, "x\n")
	if err := w.Watch(path); !errors.Is(err, ErrWatcherClosed) {
		t.Errorf("Watch after Close error = %v, want ErrWatcherClosed", err)
	}
	if _, ok := <-w.Events(); ok {
		t.Error("Events should be closed")
	}
}

// fakeWatcher feeds events by hand.
type fakeWatcher struct {
	mu     sync.Mutex
	events chan Event
	errors chan error
	closed bool
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{events: make(chan Event, 10), errors: make(chan error, 10)}
}

func (f *fakeWatcher) Watch(string) error     { return nil }
func (f *fakeWatcher) Unwatch(string) error   { return nil }
func (f *fakeWatcher) Events() <-chan Event   { return f.events }
func (f *fakeWatcher) Errors() <-chan error   { return f.errors }
func (f *fakeWatcher) IsWatching(string) bool { return true }

func (f *fakeWatcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestDebouncedWatcher_LastChangeWins(t *testing.T) {
	inner := newFakeWatcher()
	dw := NewDebouncedWatcher(inner, 50*time.Millisecond)
	defer dw.Close()

	inner.events <- Event{Path: "/a", Change: Modified}
	inner.events <- Event{Path: "/a", Change: Removed}
	inner.events <- Event{Path: "/a", Change: Modified}

	select {
	case ev := <-dw.Events():
		if ev.Path != "/a" || ev.Change != Modified {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for debounced event")
	}

	select {
	case ev := <-dw.Events():
		t.Errorf("unexpected second event %+v", ev)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestDebouncedWatcher_SeparatePaths(t *testing.T) {
	inner := newFakeWatcher()
	dw := NewDebouncedWatcher(inner, 20*time.Millisecond)
	defer dw.Close()

	inner.events <- Event{Path: "/b", Change: Modified}
	inner.events <- Event{Path: "/a", Change: Removed}

	got := map[string]Change{}
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case ev := <-dw.Events():
			got[ev.Path] = ev.Change
		case <-timeout:
			t.Fatalf("got %v, want two events", got)
		}
	}
	if got["/a"] != Removed || got["/b"] != Modified {
		t.Errorf("events = %v", got)
	}
}

func TestDebouncedWatcher_Flush(t *testing.T) {
	inner := newFakeWatcher()
	dw := NewDebouncedWatcher(inner, time.Hour)
	defer dw.Close()

	inner.events <- Event{Path: "/b", Change: Modified}

	deadline := time.Now().Add(2 * time.Second)
	for dw.PendingCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("event never became pending")
		}
		time.Sleep(5 * time.Millisecond)
	}

	dw.Flush()

	select {
	case ev := <-dw.Events():
		if ev.Path != "/b" {
			t.Errorf("path = %s", ev.Path)
		}
	default:
		t.Fatal("Flush did not deliver the pending event")
	}
	if n := dw.PendingCount(); n != 0 {
		t.Errorf("PendingCount() = %d after Flush", n)
	}
}

func TestDebouncedWatcher_ForwardsErrors(t *testing.T) {
	inner := newFakeWatcher()
	dw := NewDebouncedWatcher(inner, 0)
	defer dw.Close()

	boom := errors.New("boom")
	inner.errors <- boom

	select {
	case err := <-dw.Errors():
		if !errors.Is(err, boom) {
			t.Errorf("err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("error not forwarded")
	}
}

func TestDebouncedWatcher_CloseClosesInner(t *testing.T) {
	inner := newFakeWatcher()
	dw := NewDebouncedWatcher(inner, 10*time.Millisecond)

	if err := dw.Close(); err != nil {
		t.Fatal(err)
	}
	inner.mu.Lock()
	closed := inner.closed
	inner.mu.Unlock()
	if !closed {
		t.Error("inner watcher not closed")
	}
	if err := dw.Close(); err != nil {
		t.Errorf("second Close error = %v", err)
	}
	dw.Flush()
}
