package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Youxikong/mpv-menu-plugin/internal/config"
	"github.com/Youxikong/mpv-menu-plugin/internal/menu"
	"github.com/Youxikong/mpv-menu-plugin/internal/protocol"
)

// echoRequester answers every request with its type and keyword list.
type echoRequester struct{}

func (echoRequester) Do(_ context.Context, req protocol.Request) protocol.Response {
	return protocol.Response{Type: req.Type, To: req.From, Keywords: []string{"playlist"}}
}

func newTestHub(t *testing.T, cfg config.Server) (*Hub, *httptest.Server) {
	t.Helper()

	hub := NewHub(cfg, echoRequester{}, nil)
	srv := httptest.NewServer(hub.Handler())
	t.Cleanup(func() {
		srv.Close()
		hub.Shutdown()
	})
	return hub, srv
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func TestRequestReply(t *testing.T) {
	_, srv := newTestHub(t, config.Server{})
	conn := dialWS(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"list","from":"osc"}`)))

	frame := readFrame(t, conn)
	assert.Equal(t, "list", frame["type"])
	assert.Equal(t, "osc", frame["to"])
	assert.Equal(t, []any{"playlist"}, frame["keywords"])
}

func TestMalformedRequestGetsError(t *testing.T) {
	_, srv := newTestHub(t, config.Server{})
	conn := dialWS(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{not json`)))

	frame := readFrame(t, conn)
	assert.NotEmpty(t, frame["error"])
}

func TestPublishBroadcasts(t *testing.T) {
	hub, srv := newTestHub(t, config.Server{})
	conn := dialWS(t, srv)
	waitForClients(t, hub, 1)

	hub.Publish([]*menu.Item{{Title: "Quit", Cmd: "quit"}})

	frame := readFrame(t, conn)
	assert.Equal(t, "tree", frame["type"])
	items := frame["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "Quit", items[0].(map[string]any)["title"])
}

func TestLateJoinerGetsCurrentTree(t *testing.T) {
	hub, srv := newTestHub(t, config.Server{})

	hub.Publish([]*menu.Item{{Title: "Pause", Cmd: "cycle pause"}})

	conn := dialWS(t, srv)
	frame := readFrame(t, conn)
	assert.Equal(t, "tree", frame["type"])
}

func TestShowBroadcast(t *testing.T) {
	hub, srv := newTestHub(t, config.Server{})
	conn := dialWS(t, srv)
	waitForClients(t, hub, 1)

	hub.Show("menu-render")

	frame := readFrame(t, conn)
	assert.Equal(t, "show", frame["type"])
	assert.Equal(t, "menu-render", frame["renderer"])
}

func TestOriginRejected(t *testing.T) {
	_, srv := newTestHub(t, config.Server{AllowedOrigins: []string{"https://allowed.example"}})

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/ws", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://evil.example")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	_, srv := newTestHub(t, config.Server{})

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReplyAfterDisconnectDropsFrame(t *testing.T) {
	hub, _ := newTestHub(t, config.Server{})

	// A read goroutine can be delivering a reply while the hub goroutine
	// drops the same client; the reply must land nowhere, not panic.
	c := &client{send: make(chan []byte, 1)}
	c.closeSend()

	hub.reply(c, protocol.Response{Type: "list"})

	assert.False(t, c.trySend([]byte("late")))
	c.closeSend()
}

func TestBroadcastToClosedClientUnregisters(t *testing.T) {
	hub, srv := newTestHub(t, config.Server{})

	_ = dialWS(t, srv)
	waitForClients(t, hub, 1)

	hub.mu.RLock()
	var c *client
	for _, cl := range hub.clients {
		c = cl
	}
	hub.mu.RUnlock()
	require.NotNil(t, c)

	// Close the send channel out from under the broadcast fan-out; the
	// hub must unregister the client instead of crashing.
	c.closeSend()
	hub.Publish([]*menu.Item{{Title: "tick"}})

	deadline := time.Now().Add(5 * time.Second)
	for hub.ClientCount() > 0 {
		if time.Now().After(deadline) {
			t.Fatal("closed client never dropped")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for hub.ClientCount() < want {
		if time.Now().After(deadline) {
			t.Fatalf("never reached %d clients", want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
