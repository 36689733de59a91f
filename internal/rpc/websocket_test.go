package rpc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialTestServer(t *testing.T, handler http.Handler) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func TestWebSocket_AttachReceivesNotifications(t *testing.T) {
	s, h := newTestServer(t)
	handle, err := h.CreateBuffer(context.Background(), "ws", []string{"one"})
	require.NoError(t, err)

	conn := dialTestServer(t, WebSocketHandler(s))

	require.NoError(t, conn.WriteJSON(map[string]any{
		"jsonrpc": "2.0", "id": 1, "method": "buf_attach", "params": []any{handle, true},
	}))

	// The response and the start notification race; collect both.
	var gotResponse, gotStart bool
	for i := 0; i < 2; i++ {
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		switch {
		case msg["id"] == float64(1):
			assert.Equal(t, true, msg["result"])
			gotResponse = true
		case msg["method"] == "nvim_buf_updates_start":
			params := msg["params"].([]any)
			assert.Equal(t, float64(handle), params[0])
			assert.Equal(t, []any{"one"}, params[2])
			assert.Equal(t, false, params[3])
			gotStart = true
		default:
			t.Fatalf("unexpected message %v", msg)
		}
	}
	assert.True(t, gotResponse)
	assert.True(t, gotStart)

	require.NoError(t, h.Touch(context.Background(), handle))
	var tick map[string]any
	require.NoError(t, conn.ReadJSON(&tick))
	assert.Equal(t, "nvim_buf_changedtick", tick["method"])
}

func TestWebSocket_MethodNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	conn := dialTestServer(t, WebSocketHandler(s))

	require.NoError(t, conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": 9, "method": "missing"}))

	var resp struct {
		ID    int    `json:"id"`
		Error *Error `json:"error"`
	}
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, 9, resp.ID)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

func TestWebSocket_DisconnectRemovesChannel(t *testing.T) {
	s, _ := newTestServer(t)
	conn := dialTestServer(t, WebSocketHandler(s))

	require.NoError(t, conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": 1, "method": "get_channel_id"}))
	var resp map[string]any
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, 1, s.Hub().Len())

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return s.Hub().Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocket_OriginCheck(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(WebSocketHandler(s, WithWSAllowedOrigins("https://ok.example")))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
