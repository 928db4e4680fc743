// Package mpv implements the JSON IPC client for the player process:
// newline-delimited JSON over the player's unix socket, request/response
// correlation by request id, and an event stream for property changes and
// script messages.
package mpv

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/Youxikong/mpv-menu-plugin/internal/errors"
	"github.com/Youxikong/mpv-menu-plugin/internal/logging"
)

// Event is one asynchronous notification from the player.
type Event struct {
	// Kind is the event name, e.g. "property-change" or "client-message".
	Kind string
	// Name is the property name for property-change events.
	Name string
	// Data is the property value for property-change events.
	Data any
	// Args are the message arguments for client-message events.
	Args []string
}

// request is the outgoing IPC frame.
type request struct {
	Command   []any `json:"command"`
	RequestID int64 `json:"request_id"`
	Async     bool  `json:"async,omitempty"`
}

// response is the incoming IPC frame; reply and event fields share one
// envelope on the wire.
type response struct {
	RequestID int64           `json:"request_id,omitempty"`
	Error     string          `json:"error,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Event     string          `json:"event,omitempty"`
	Name      string          `json:"name,omitempty"`
	Args      []string        `json:"args,omitempty"`
}

// Client speaks the player's JSON IPC protocol. Safe for concurrent use;
// replies are routed to callers by request id.
type Client struct {
	conn   net.Conn
	logger logging.Logger

	mu      sync.Mutex
	nextID  int64
	nextObs int64
	pending map[int64]chan response
	closed  bool

	events chan Event
	done   chan struct{}

	prefixes map[string]bool
}

// DialTimeout bounds the initial socket connection attempt.
const DialTimeout = 5 * time.Second

// Dial connects to the player socket and starts the read loop. The known
// property namespaces are fetched once so later lookups can be validated
// without a round trip.
func Dial(ctx context.Context, socket string, logger logging.Logger) (*Client, error) {
	if logger == nil {
		logger = logging.NopLogger{}
	}

	dialer := net.Dialer{Timeout: DialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", socket)
	if err != nil {
		return nil, errors.NewResourceError("player socket unavailable: "+socket, err)
	}

	c := &Client{
		conn:     conn,
		logger:   logger.WithComponent("mpv"),
		pending:  make(map[int64]chan response),
		events:   make(chan Event, 256),
		done:     make(chan struct{}),
		prefixes: map[string]bool{"user-data": true},
	}
	go c.readLoop()

	if err := c.loadPrefixes(); err != nil {
		c.Close()
		return nil, err
	}

	return c, nil
}

// Events returns the asynchronous notification stream. The channel closes
// when the connection drops.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Close tears down the connection and unblocks all pending callers.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.conn.Close()
	<-c.done
	return err
}

// Command runs a command and returns its decoded result.
func (c *Client) Command(args ...any) (any, error) {
	raw, err := c.roundTrip(args)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, errors.NewInternalError("undecodable reply", err)
	}
	return v, nil
}

// Get reads the current value of a property. ok is false when the property
// exists but currently has no value.
func (c *Client) Get(name string) (any, bool) {
	v, err := c.Command("get_property", name)
	if err != nil {
		return nil, false
	}
	return v, v != nil
}

// Observe subscribes to change notifications for a property.
func (c *Client) Observe(name string) error {
	c.mu.Lock()
	c.nextObs++
	id := c.nextObs
	c.mu.Unlock()

	_, err := c.Command("observe_property", id, name)
	return err
}

// KnownPrefix reports whether a top-level property namespace exists on the
// host.
func (c *Client) KnownPrefix(prefix string) bool {
	return c.prefixes[prefix]
}

// Message delivers a script message to a named client channel.
func (c *Client) Message(target string, args ...string) error {
	cmd := make([]any, 0, len(args)+2)
	cmd = append(cmd, "script-message-to", target)
	for _, a := range args {
		cmd = append(cmd, a)
	}
	_, err := c.Command(cmd...)
	return err
}

// SetShared writes a JSON document into a shared property slot.
func (c *Client) SetShared(slot string, doc []byte) error {
	var v any
	if err := json.Unmarshal(doc, &v); err != nil {
		return errors.NewInternalError("shared slot document is not JSON", err)
	}
	_, err := c.Command("set_property", slot, v)
	return err
}

// ShowText flashes an OSD message on the player.
func (c *Client) ShowText(text string, durationMS int) error {
	_, err := c.Command("show-text", text, durationMS)
	return err
}

// loadPrefixes fetches the host's property namespace list once at connect.
func (c *Client) loadPrefixes() error {
	v, err := c.Command("get_property", "property-list")
	if err != nil {
		return errors.NewResourceError("property list unavailable", err)
	}
	for _, raw := range asStrings(v) {
		c.prefixes[raw] = true
	}
	return nil
}

func asStrings(v any) []string {
	list, _ := v.([]any)
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// roundTrip sends one command and waits for the correlated reply.
func (c *Client) roundTrip(args []any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errors.NewResourceError("connection closed", nil)
	}
	c.nextID++
	id := c.nextID
	reply := make(chan response, 1)
	c.pending[id] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	frame, err := json.Marshal(request{Command: args, RequestID: id})
	if err != nil {
		return nil, errors.NewInternalError("unencodable command", err)
	}
	frame = append(frame, '\n')

	if _, err := c.conn.Write(frame); err != nil {
		return nil, errors.NewResourceError("write to player failed", err)
	}

	resp, ok := <-reply
	if !ok {
		return nil, errors.NewResourceError("connection closed", nil)
	}
	if resp.Error != "" && resp.Error != "success" {
		return nil, errors.NewInternalError(fmt.Sprintf("command %v failed: %s", args, resp.Error), nil)
	}
	return resp.Data, nil
}

// readLoop decodes incoming frames, routing replies to their callers and
// everything else onto the event stream.
func (c *Client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.closed = true
		for id, reply := range c.pending {
			close(reply)
			delete(c.pending, id)
		}
		c.mu.Unlock()
		close(c.events)
		close(c.done)
	}()

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			c.logger.Warn(context.Background(), err, "undecodable frame from player")
			continue
		}

		if resp.RequestID != 0 {
			c.mu.Lock()
			reply, ok := c.pending[resp.RequestID]
			c.mu.Unlock()
			if ok {
				reply <- resp
			}
			continue
		}

		if resp.Event == "" {
			continue
		}

		ev := Event{Kind: resp.Event, Name: resp.Name, Args: resp.Args}
		if len(resp.Data) > 0 {
			_ = json.Unmarshal(resp.Data, &ev.Data)
		}

		select {
		case c.events <- ev:
		default:
			c.logger.Warn(context.Background(), nil, "event stream full, notification dropped", "event", resp.Event)
		}
	}

	if err := scanner.Err(); err != nil {
		c.logger.Warn(context.Background(), err, "player connection lost")
	}
}
