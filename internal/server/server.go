// Package server exposes the menu over a websocket endpoint: connected
// clients receive every committed tree as a broadcast and can submit
// protocol requests (list, get, update, show, announce, companion) that are
// answered over the same connection.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Youxikong/mpv-menu-plugin/internal/config"
	"github.com/Youxikong/mpv-menu-plugin/internal/logging"
	"github.com/Youxikong/mpv-menu-plugin/internal/menu"
	"github.com/Youxikong/mpv-menu-plugin/internal/protocol"
)

// Requester answers protocol requests. Implemented by the engine.
type Requester interface {
	Do(ctx context.Context, req protocol.Request) protocol.Response
}

// client is one connected websocket peer. Frames are queued from several
// goroutines while the hub goroutine may be closing the channel after a
// disconnect, so every send and the close itself go through the closed
// flag.
type client struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

// trySend queues a frame unless the client is closed or its buffer is
// full. Reports whether the frame was queued.
func (c *client) trySend(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// closeSend closes the send channel exactly once.
func (c *client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Hub owns all websocket connections and fans committed trees out to them.
// Connection lifecycle events flow through channels into a single hub
// goroutine; the clients map is additionally mutex-protected because
// broadcasts snapshot it from other goroutines.
type Hub struct {
	cfg       config.Server
	requester Requester
	logger    logging.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]*client

	register   chan *client
	unregister chan *websocket.Conn
	broadcast  chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	treeMu   sync.RWMutex
	lastTree []byte
}

// NewHub creates a hub routing requests to the given requester.
func NewHub(cfg config.Server, requester Requester, logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.NopLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		cfg:        cfg,
		requester:  requester,
		logger:     logger.WithComponent("server"),
		clients:    make(map[*websocket.Conn]*client),
		register:   make(chan *client, 32),
		unregister: make(chan *websocket.Conn, 32),
		broadcast:  make(chan []byte, 256),
		ctx:        ctx,
		cancel:     cancel,
	}
	go h.run()
	return h
}

// Publish broadcasts a committed tree to all connected clients. Part of the
// engine's sink contract. The tree is retained so late joiners receive the
// current menu on connect.
func (h *Hub) Publish(items []*menu.Item) {
	frame, err := json.Marshal(protocol.NewTreeMessage(items))
	if err != nil {
		h.logger.Error(h.ctx, err, "tree unencodable, broadcast skipped")
		return
	}

	h.treeMu.Lock()
	h.lastTree = frame
	h.treeMu.Unlock()

	select {
	case h.broadcast <- frame:
	case <-h.ctx.Done():
	}
}

// Show broadcasts a show request to all connected clients. Part of the
// engine's sink contract.
func (h *Hub) Show(renderer string) {
	frame, err := json.Marshal(map[string]string{"type": "show", "renderer": renderer})
	if err != nil {
		return
	}
	select {
	case h.broadcast <- frame:
	case <-h.ctx.Done():
	}
}

// Shutdown closes all connections and stops the hub.
func (h *Hub) Shutdown() {
	h.cancel()

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, c := range h.clients {
		c.closeSend()
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(h.clients, conn)
	}
}

// Handler returns the HTTP handler serving the websocket endpoint.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	if origin := r.Header.Get("Origin"); origin != "" && !h.originAllowed(origin) {
		h.logger.Warn(r.Context(), nil, "connection rejected, origin not allowed", "origin", origin)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Origins are validated above against the configured allowlist.
		OriginPatterns:  []string{"*"},
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		h.logger.Warn(r.Context(), err, "websocket upgrade failed", "remote", r.RemoteAddr)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 64)}

	select {
	case h.register <- c:
	case <-h.ctx.Done():
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) originAllowed(origin string) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (h *Hub) run() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.conn] = c
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info(h.ctx, "client connected", "total", total)

			// Late joiners get the current tree immediately.
			h.treeMu.RLock()
			tree := h.lastTree
			h.treeMu.RUnlock()
			if tree != nil {
				c.trySend(tree)
			}

		case conn := <-h.unregister:
			h.mu.Lock()
			c, ok := h.clients[conn]
			if ok {
				delete(h.clients, conn)
				c.closeSend()
			}
			total := len(h.clients)
			h.mu.Unlock()
			if ok {
				_ = conn.Close(websocket.StatusNormalClosure, "")
				h.logger.Info(h.ctx, "client disconnected", "total", total)
			}

		case frame := <-h.broadcast:
			h.mu.RLock()
			peers := make([]*client, 0, len(h.clients))
			for _, c := range h.clients {
				peers = append(peers, c)
			}
			h.mu.RUnlock()

			for _, c := range peers {
				if !c.trySend(frame) {
					// Slow consumer: drop it rather than stall the hub.
					select {
					case h.unregister <- c.conn:
					default:
					}
				}
			}
		}
	}
}

func (h *Hub) writePump(c *client) {
	for frame := range c.send {
		ctx, cancel := context.WithTimeout(h.ctx, 10*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, frame)
		cancel()
		if err != nil {
			return
		}
	}
}

func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c.conn:
		case <-h.ctx.Done():
		}
	}()

	for {
		_, data, err := c.conn.Read(h.ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && h.ctx.Err() == nil {
				h.logger.Debug(h.ctx, "client read ended", "error", err.Error())
			}
			return
		}

		req, err := protocol.ParseRequest(data)
		if err != nil {
			h.reply(c, protocol.ErrorResponse(protocol.Request{}, err))
			continue
		}

		h.reply(c, h.requester.Do(h.ctx, req))
	}
}

func (h *Hub) reply(c *client, resp protocol.Response) {
	frame, err := json.Marshal(resp)
	if err != nil {
		return
	}
	c.trySend(frame)
}

// Listen serves the hub's handler on the configured address until the
// context is cancelled.
func (h *Hub) Listen(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", h.cfg.Host, h.cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	h.logger.Info(ctx, "listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		h.Shutdown()
		return nil
	case err := <-errCh:
		return err
	}
}
