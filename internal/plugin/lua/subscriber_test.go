package lua

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	glua "github.com/yuin/gopher-lua"

	"github.com/dshills/bufstream/internal/channel"
	"github.com/dshills/bufstream/internal/engine/buffer"
	"github.com/dshills/bufstream/internal/host"
)

type attachCall struct {
	ch         channel.ID
	handle     buffer.Handle
	sendBuffer bool
}

// fakeService keeps one buffer per handle in memory.
type fakeService struct {
	mu       sync.Mutex
	lines    map[buffer.Handle][]string
	unloaded map[buffer.Handle]bool
	attached []attachCall
	detached []buffer.Handle
}

func newFakeService() *fakeService {
	return &fakeService{
		lines:    map[buffer.Handle][]string{1: {"alpha", "beta", "gamma"}},
		unloaded: map[buffer.Handle]bool{},
	}
}

func (f *fakeService) check(h buffer.Handle) error {
	if _, ok := f.lines[h]; !ok {
		return fmt.Errorf("%w: %d", host.ErrBufferNotFound, h)
	}
	if f.unloaded[h] {
		return fmt.Errorf("%w: %d", host.ErrBufferNotLoaded, h)
	}
	return nil
}

func (f *fakeService) Attach(_ context.Context, ch channel.ID, h buffer.Handle, send bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(h); err != nil {
		return err
	}
	f.attached = append(f.attached, attachCall{ch, h, send})
	return nil
}

func (f *fakeService) Detach(_ context.Context, _ channel.ID, h buffer.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detached = append(f.detached, h)
	return nil
}

func (f *fakeService) GetLines(_ context.Context, h buffer.Handle, start, end int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(h); err != nil {
		return nil, err
	}
	lines := f.lines[h]
	if end < 0 {
		end = len(lines) + end + 1
	}
	return append([]string{}, lines[start:end]...), nil
}

func (f *fakeService) SetLines(_ context.Context, h buffer.Handle, start, end int, repl []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(h); err != nil {
		return err
	}
	lines := f.lines[h]
	out := append([]string{}, lines[:start]...)
	out = append(out, repl...)
	f.lines[h] = append(out, lines[end:]...)
	return nil
}

func (f *fakeService) LineCount(_ context.Context, h buffer.Handle) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(h); err != nil {
		return 0, err
	}
	return len(f.lines[h]), nil
}

func (f *fakeService) Revision(_ context.Context, h buffer.Handle) (uint64, error) {
	return 42, nil
}

func newTestSubscriber(t *testing.T, svc Service, opts ...SubscriberOption) *Subscriber {
	t.Helper()
	sub := NewSubscriber("test.lua", svc, opts...)
	sub.Bind(6)
	t.Cleanup(func() { sub.Close() })
	return sub
}

func TestSubscriber_AttachFromScript(t *testing.T) {
	svc := newFakeService()
	svc.unloaded[2] = true
	svc.lines[2] = []string{""}
	sub := newTestSubscriber(t, svc)

	err := sub.LoadString(`
		local bs = require("bufstream")
		ok1 = bs.attach(1, true)
		ok2 = bs.attach(2)
		id = bs.channel_id()
	`)
	if err != nil {
		t.Fatalf("LoadString error = %v", err)
	}

	if sub.state.GetGlobal("ok1") != glua.LTrue || sub.state.GetGlobal("ok2") != glua.LFalse {
		t.Errorf("attach results = %v, %v", sub.state.GetGlobal("ok1"), sub.state.GetGlobal("ok2"))
	}
	if sub.state.GetGlobal("id") != glua.LNumber(6) {
		t.Errorf("channel_id = %v", sub.state.GetGlobal("id"))
	}
	want := []attachCall{{ch: 6, handle: 1, sendBuffer: true}}
	if !reflect.DeepEqual(svc.attached, want) {
		t.Errorf("attached = %+v", svc.attached)
	}
}

func TestSubscriber_AttachUnknownBufferRaises(t *testing.T) {
	sub := newTestSubscriber(t, newFakeService())
	err := sub.LoadString(`bufstream.attach(99)`)
	if err == nil {
		t.Fatal("attach to unknown buffer should raise")
	}
}

func TestSubscriber_NotifyCallsHandler(t *testing.T) {
	sub := newTestSubscriber(t, newFakeService())
	err := sub.LoadString(`
		events = {}
		function on_buf_event(name, args)
			table.insert(events, name)
			if name == "nvim_buf_update" then
				first = args[3]
				rev_is_nil = args[2] == nil
				text = table.concat(args[5], ",")
			end
		end
	`)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := sub.Notify(ctx, "nvim_buf_updates_start", []any{int64(1), uint64(2), []string{}, true}); err != nil {
		t.Fatal(err)
	}
	if err := sub.Notify(ctx, "nvim_buf_update", []any{int64(1), nil, 4, 5, []string{"x", "y"}}); err != nil {
		t.Fatal(err)
	}

	if got := sub.state.GetGlobal("first"); got != glua.LNumber(4) {
		t.Errorf("first = %v", got)
	}
	if got := sub.state.GetGlobal("rev_is_nil"); got != glua.LTrue {
		t.Errorf("rev_is_nil = %v", got)
	}
	if got := sub.state.GetGlobal("text"); got != glua.LString("x,y") {
		t.Errorf("text = %v", got)
	}
	events, _ := sub.state.GetGlobal("events").(*glua.LTable)
	if events == nil || events.Len() != 2 {
		t.Errorf("events = %v", sub.state.GetGlobal("events"))
	}
}

func TestSubscriber_NotifyWithoutHandler(t *testing.T) {
	sub := newTestSubscriber(t, newFakeService())
	if err := sub.Notify(context.Background(), "nvim_buf_changedtick", []any{int64(1), uint64(3)}); err != nil {
		t.Errorf("Notify without handler error = %v", err)
	}
}

func TestSubscriber_ClosesAfterRepeatedErrors(t *testing.T) {
	sub := newTestSubscriber(t, newFakeService(), WithMaxScriptErrors(3))
	if err := sub.LoadString(`function on_buf_event() error("nope") end`); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := sub.Notify(ctx, "nvim_buf_update", nil); err != nil {
			t.Fatalf("Notify %d error = %v, want tolerated", i, err)
		}
	}
	if err := sub.Notify(ctx, "nvim_buf_update", nil); !errors.Is(err, ErrTooManyErrors) {
		t.Fatalf("third Notify error = %v, want ErrTooManyErrors", err)
	}

	select {
	case <-sub.Done():
	default:
		t.Error("subscriber should be closed")
	}
	if err := sub.Notify(ctx, "nvim_buf_update", nil); !errors.Is(err, ErrSubscriberClosed) {
		t.Errorf("Notify after close error = %v", err)
	}
}

func TestSubscriber_SuccessResetsFailures(t *testing.T) {
	sub := newTestSubscriber(t, newFakeService(), WithMaxScriptErrors(2))
	if err := sub.LoadString(`
		function on_buf_event(name)
			if name == "bad" then error("bad") end
		end
	`); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	for _, name := range []string{"bad", "good", "bad", "good", "bad"} {
		if err := sub.Notify(ctx, name, nil); err != nil {
			t.Fatalf("Notify(%s) error = %v", name, err)
		}
	}
}

func TestSubscriber_EditFromHandler(t *testing.T) {
	svc := newFakeService()
	sub := newTestSubscriber(t, svc)
	if err := sub.LoadString(`
		function on_buf_event(name, args)
			local buf = args[1]
			local lines = bufstream.get_lines(buf, 0, -1)
			bufstream.set_lines(buf, 0, 1, {string.upper(lines[1])})
			count = bufstream.line_count(buf)
			tick = bufstream.changedtick(buf)
			bufstream.detach(buf)
		end
	`); err != nil {
		t.Fatal(err)
	}

	if err := sub.Notify(context.Background(), "nvim_buf_changedtick", []any{int64(1), uint64(9)}); err != nil {
		t.Fatal(err)
	}
	if got := svc.lines[1][0]; got != "ALPHA" {
		t.Errorf("line 0 = %q, want ALPHA", got)
	}
	if sub.state.GetGlobal("count") != glua.LNumber(3) || sub.state.GetGlobal("tick") != glua.LNumber(42) {
		t.Errorf("count = %v, tick = %v", sub.state.GetGlobal("count"), sub.state.GetGlobal("tick"))
	}
	if !reflect.DeepEqual(svc.detached, []buffer.Handle{1}) {
		t.Errorf("detached = %v", svc.detached)
	}
}
