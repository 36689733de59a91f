package rpc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type note struct {
	method string
	params any
}

// fakeEndpoint records notifications. A non-nil gate blocks Notify until it
// is closed.
type fakeEndpoint struct {
	mu      sync.Mutex
	notes   []note
	failErr error
	gate    chan struct{}

	once sync.Once
	done chan struct{}
}

func newFakeEndpoint() *fakeEndpoint {
	return &fakeEndpoint{done: make(chan struct{})}
}

func (f *fakeEndpoint) Notify(ctx context.Context, method string, params any) error {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	f.notes = append(f.notes, note{method: method, params: params})
	return nil
}

func (f *fakeEndpoint) Close() error {
	f.once.Do(func() { close(f.done) })
	return nil
}

func (f *fakeEndpoint) Done() <-chan struct{} { return f.done }
func (f *fakeEndpoint) Kind() string          { return "fake" }

func (f *fakeEndpoint) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.notes))
	for i, n := range f.notes {
		out[i] = n.method
	}
	return out
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_AddAssignsSequentialIDs(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	for want := 1; want <= 3; want++ {
		id, err := hub.Add(newFakeEndpoint())
		if err != nil {
			t.Fatalf("Add error = %v", err)
		}
		if int(id) != want {
			t.Errorf("Add id = %d, want %d", id, want)
		}
	}
	if hub.Len() != 3 {
		t.Errorf("Len = %d, want 3", hub.Len())
	}
}

func TestHub_SendUnknownChannel(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	if hub.Send(42, "nvim_buf_update", nil) {
		t.Error("Send to unknown channel should report dead")
	}
}

func TestHub_SendDelivers(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	ep := newFakeEndpoint()
	id, _ := hub.Add(ep)

	if !hub.Send(id, "nvim_buf_changedtick", []any{int64(1), uint64(3)}) {
		t.Fatal("Send reported live channel as dead")
	}
	waitFor(t, "delivery", func() bool { return len(ep.methods()) == 1 })
	if got := ep.methods()[0]; got != "nvim_buf_changedtick" {
		t.Errorf("method = %s", got)
	}
}

func TestHub_WriteFailureMarksDead(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	ep := newFakeEndpoint()
	ep.failErr = errors.New("broken pipe")
	id, _ := hub.Add(ep)

	if !hub.Send(id, "nvim_buf_update", nil) {
		t.Fatal("first Send should be accepted")
	}
	waitFor(t, "endpoint close", func() bool { return !endpointOpen(ep) })

	if hub.Send(id, "nvim_buf_update", nil) {
		t.Error("Send after write failure should report dead")
	}
	waitFor(t, "channel removal", func() bool { return hub.Len() == 0 })
}

func TestHub_QueueOverflowClosesChannel(t *testing.T) {
	hub := NewHub(WithQueueSize(1))
	defer hub.Close()

	ep := newFakeEndpoint()
	ep.gate = make(chan struct{})
	id, _ := hub.Add(ep)

	// The writer holds one message in Notify, the queue holds one more.
	sent := 0
	for i := 0; i < 5; i++ {
		if !hub.Send(id, "nvim_buf_update", nil) {
			break
		}
		sent++
	}
	if sent == 5 {
		t.Fatal("Send never reported the overflowing channel dead")
	}
	if hub.Send(id, "nvim_buf_updates_end", nil) {
		t.Error("Send after overflow should report dead")
	}

	waitFor(t, "endpoint close", func() bool { return !endpointOpen(ep) })
	close(ep.gate)
	waitFor(t, "channel removal", func() bool { return hub.Len() == 0 })

	for _, m := range ep.methods() {
		if m == "nvim_buf_updates_end" {
			t.Error("no notification may be written after the gap")
		}
	}
	if n := len(ep.methods()); n > sent {
		t.Errorf("delivered %d notifications, only %d were accepted", n, sent)
	}
}

func TestHub_RemoveFlushesQueue(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	ep := newFakeEndpoint()
	id, _ := hub.Add(ep)
	hub.Send(id, "nvim_buf_update", nil)
	hub.Send(id, "nvim_buf_update", nil)
	hub.Send(id, "nvim_buf_updates_end", nil)

	hub.Remove(id)

	got := ep.methods()
	if len(got) != 3 || got[2] != "nvim_buf_updates_end" {
		t.Errorf("delivered = %v", got)
	}
	if endpointOpen(ep) {
		t.Error("Remove should close the endpoint")
	}
	if hub.Send(id, "nvim_buf_update", nil) {
		t.Error("Send after Remove should report dead")
	}
}

func TestHub_Close(t *testing.T) {
	hub := NewHub()
	ep := newFakeEndpoint()
	_, _ = hub.Add(ep)

	if err := hub.Close(); err != nil {
		t.Fatal(err)
	}
	if endpointOpen(ep) {
		t.Error("Close should close endpoints")
	}
	if _, err := hub.Add(newFakeEndpoint()); !errors.Is(err, ErrClosed) {
		t.Errorf("Add after Close error = %v, want ErrClosed", err)
	}
}

func TestHub_IDs(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	a, _ := hub.Add(newFakeEndpoint())
	b, _ := hub.Add(newFakeEndpoint())
	c, _ := hub.Add(newFakeEndpoint())
	hub.Remove(b)

	ids := hub.IDs()
	if len(ids) != 2 || ids[0] != a || ids[1] != c {
		t.Errorf("IDs = %v", ids)
	}
	if _, ok := hub.Endpoint(b); ok {
		t.Error("removed endpoint still present")
	}
}
