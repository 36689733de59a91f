package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/dshills/bufstream/internal/channel"
	"github.com/dshills/bufstream/internal/engine/buffer"
	"github.com/dshills/bufstream/internal/host"
)

func newTestServer(t *testing.T) (*Server, *host.Host) {
	t.Helper()
	hub := NewHub()
	h := host.New(hub)
	go h.Run(context.Background())
	t.Cleanup(func() {
		h.Close()
		hub.Close()
	})
	return NewServer(h, hub), h
}

func call(t *testing.T, s *Server, id channel.ID, method string, params ...any) (any, error) {
	t.Helper()
	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatal(err)
	}
	return s.HandlerFor(id).Handle(context.Background(), method, raw)
}

func TestServer_AttachEditFlow(t *testing.T) {
	s, h := newTestServer(t)
	ctx := context.Background()

	handle, err := h.CreateBuffer(ctx, "main", []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	ep := newFakeEndpoint()
	id, _ := s.Hub().Add(ep)

	res, err := call(t, s, id, "buf_attach", handle, true)
	if err != nil || res != true {
		t.Fatalf("buf_attach = %v, %v", res, err)
	}
	if _, err := call(t, s, id, "buf_set_lines", handle, 0, 1, []string{"z"}); err != nil {
		t.Fatalf("buf_set_lines error = %v", err)
	}

	waitFor(t, "start and update", func() bool { return len(ep.methods()) == 2 })
	if got := ep.methods(); got[0] != "nvim_buf_updates_start" || got[1] != "nvim_buf_update" {
		t.Errorf("notifications = %v", got)
	}

	lines, err := call(t, s, id, "buf_get_lines", handle, 0, -1)
	if err != nil || !reflect.DeepEqual(lines, []string{"z", "b"}) {
		t.Errorf("buf_get_lines = %v, %v", lines, err)
	}
	count, _ := call(t, s, id, "buf_line_count", handle)
	if count != 2 {
		t.Errorf("buf_line_count = %v", count)
	}
	tick, _ := call(t, s, id, "buf_get_changedtick", handle)
	if tick != uint64(3) {
		t.Errorf("buf_get_changedtick = %v, want 3", tick)
	}

	res, err = call(t, s, id, "buf_detach", handle)
	if err != nil || res != true {
		t.Errorf("buf_detach = %v, %v", res, err)
	}
	waitFor(t, "end", func() bool { return len(ep.methods()) == 3 })
	if got := ep.methods()[2]; got != "nvim_buf_updates_end" {
		t.Errorf("last notification = %s", got)
	}
}

func TestServer_AttachUnloaded(t *testing.T) {
	s, h := newTestServer(t)
	ctx := context.Background()

	handle, _ := h.CreateBuffer(ctx, "", nil)
	if err := h.UnloadBuffer(ctx, handle); err != nil {
		t.Fatal(err)
	}

	res, err := call(t, s, 1, "buf_attach", handle, false)
	if err != nil || res != false {
		t.Errorf("buf_attach on unloaded = %v, %v; want false, nil", res, err)
	}
}

func TestServer_Errors(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name   string
		method string
		params []any
		code   int
	}{
		{"unknown method", "nvim_command", nil, CodeMethodNotFound},
		{"missing params", "buf_get_lines", []any{1}, CodeInvalidParams},
		{"too many params", "buf_detach", []any{1, 2}, CodeInvalidParams},
		{"wrong type", "buf_line_count", []any{"one"}, CodeInvalidParams},
		{"unknown buffer", "buf_line_count", []any{99}, CodeBufferNotFound},
		{"redis disabled", "redis_attach", []any{1}, CodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := call(t, s, 1, tt.method, tt.params...)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := toRPCError(err).Code; got != tt.code {
				t.Errorf("code = %d, want %d (%v)", got, tt.code, err)
			}
		})
	}
}

func TestServer_ListAndChannelID(t *testing.T) {
	s, h := newTestServer(t)
	ctx := context.Background()

	a, _ := h.CreateBuffer(ctx, "a", nil)
	b, _ := h.CreateBuffer(ctx, "b", nil)

	bufs, err := call(t, s, 7, "list_bufs")
	if err != nil || !reflect.DeepEqual(bufs, []int64{int64(a), int64(b)}) {
		t.Errorf("list_bufs = %v, %v", bufs, err)
	}
	id, _ := call(t, s, 7, "get_channel_id")
	if id != uint64(7) {
		t.Errorf("get_channel_id = %v", id)
	}
}

func TestToRPCError(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{host.ErrBufferNotLoaded, CodeBufferNotLoaded},
		{host.ErrHostClosed, CodeShuttingDown},
		{buffer.ErrIndexOutOfBounds, CodeInvalidParams},
		{errors.New("boom"), CodeInternalError},
		{NewError(CodeParseError, "bad"), CodeParseError},
	}
	for _, tt := range tests {
		if got := toRPCError(tt.err).Code; got != tt.code {
			t.Errorf("toRPCError(%v).Code = %d, want %d", tt.err, got, tt.code)
		}
	}
}

func TestDecodeParams(t *testing.T) {
	var a int
	var b string
	if err := decodeParams(json.RawMessage(`[3, "x"]`), 1, &a, &b); err != nil || a != 3 || b != "x" {
		t.Errorf("decode = %d, %q, %v", a, b, err)
	}
	if err := decodeParams(nil, 0, &a); err != nil {
		t.Errorf("empty params error = %v", err)
	}
	if err := decodeParams(json.RawMessage(`{"a":1}`), 1, &a); err == nil {
		t.Error("object params should fail")
	}
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in      string
		network string
		address string
		wantErr bool
	}{
		{"unix:/tmp/s.sock", "unix", "/tmp/s.sock", false},
		{"unix:///tmp/s.sock", "unix", "/tmp/s.sock", false},
		{"tcp://127.0.0.1:7777", "tcp", "127.0.0.1:7777", false},
		{"localhost:7777", "tcp", "localhost:7777", false},
		{"http://x", "", "", true},
		{"", "", "", true},
	}
	for _, tt := range tests {
		network, address, err := ParseAddress(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseAddress(%q) error = %v", tt.in, err)
			continue
		}
		if network != tt.network || address != tt.address {
			t.Errorf("ParseAddress(%q) = %s %s", tt.in, network, address)
		}
	}
}

func TestServer_ServeTCP(t *testing.T) {
	s, h := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handle, _ := h.CreateBuffer(ctx, "", []string{"hello"})

	l, err := Listen("tcp://127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- s.Serve(ctx, l) }()

	conn, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	r := bufio.NewReader(conn)

	if err := writeFrame(conn, map[string]any{
		"jsonrpc": "2.0", "id": 1, "method": "buf_get_lines", "params": []any{handle, 0, -1},
	}); err != nil {
		t.Fatal(err)
	}
	data, err := readFrame(r)
	if err != nil {
		t.Fatal(err)
	}
	var resp struct {
		Result []string `json:"result"`
		Error  *Error   `json:"error"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error != nil || !reflect.DeepEqual(resp.Result, []string{"hello"}) {
		t.Errorf("response = %+v", resp)
	}

	cancel()
	select {
	case err := <-serveErr:
		if err != nil {
			t.Errorf("Serve error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServer_SlowSubscriberIsEvicted(t *testing.T) {
	hub := NewHub(WithQueueSize(4))
	h := host.New(hub)
	go h.Run(context.Background())
	t.Cleanup(func() {
		h.Close()
		hub.Close()
	})
	ctx := context.Background()

	handle, err := h.CreateBuffer(ctx, "main", []string{"a"})
	if err != nil {
		t.Fatal(err)
	}
	slow := newFakeEndpoint()
	slow.gate = make(chan struct{})
	slowID, _ := hub.Add(slow)
	fast := newFakeEndpoint()
	fastID, _ := hub.Add(fast)

	for _, id := range []channel.ID{slowID, fastID} {
		if err := h.Attach(ctx, id, handle, true); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 8; i++ {
		if err := h.SetLines(ctx, handle, 0, 1, []string{"x"}); err != nil {
			t.Fatal(err)
		}
	}

	subs, err := h.Subscribers(ctx, handle)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(subs, []channel.ID{fastID}) {
		t.Errorf("subscribers = %v, want only %d", subs, fastID)
	}
	if got := h.Stats().Evictions; got != 1 {
		t.Errorf("evictions = %d, want 1", got)
	}
	waitFor(t, "slow endpoint close", func() bool { return !endpointOpen(slow) })
	close(slow.gate)

	waitFor(t, "fast updates", func() bool { return len(fast.methods()) == 9 })
	for _, m := range slow.methods() {
		if m == "nvim_buf_updates_end" {
			t.Error("evicted overflowing channel should be disconnected, not ended")
		}
	}
}
