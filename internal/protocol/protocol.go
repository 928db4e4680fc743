// Package protocol defines the message envelopes exchanged with external
// clients (the renderer and any companion UI) and the patch semantics of the
// update operation. Transport is handled elsewhere; this package is pure
// encoding and application logic.
package protocol

import (
	"encoding/json"

	"github.com/Youxikong/mpv-menu-plugin/internal/errors"
	"github.com/Youxikong/mpv-menu-plugin/internal/menu"
)

// Request kinds.
const (
	KindList      = "list"
	KindGet       = "get"
	KindUpdate    = "update"
	KindShow      = "show"
	KindAnnounce  = "announce"
	KindCompanion = "companion"
)

// Request is an inbound protocol message.
type Request struct {
	Type    string          `json:"type"`
	Keyword string          `json:"keyword,omitempty"`
	Patch   json.RawMessage `json:"patch,omitempty"`
	// Index selects one binding within a keyword group, 1-based.
	// 0 applies to every binding under the keyword.
	Index int `json:"index,omitempty"`
	// Name carries the announced channel name for lifecycle messages.
	Name string `json:"name,omitempty"`
	// From is the reply-to sender identifier.
	From string `json:"from,omitempty"`
}

// Entry is one binding's snapshot within a get reply.
type Entry struct {
	Item  *menu.Item `json:"item"`
	Index int        `json:"index"`
}

// Response is an outbound protocol message.
type Response struct {
	Type     string   `json:"type"`
	To       string   `json:"to,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
	Entries  []Entry  `json:"entries,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// TreeMessage is the broadcast envelope carrying a committed tree.
type TreeMessage struct {
	Type  string       `json:"type"`
	Items []*menu.Item `json:"items"`
}

// NewTreeMessage wraps a committed tree for broadcasting.
func NewTreeMessage(items []*menu.Item) TreeMessage {
	return TreeMessage{Type: "tree", Items: items}
}

// ErrorResponse builds an error reply for a rejected request.
func ErrorResponse(req Request, err error) Response {
	return Response{Type: req.Type, To: req.From, Error: err.Error()}
}

// ParseRequest decodes an inbound request frame.
func ParseRequest(data []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, errors.NewProtocolError(errors.ErrCodeBadPatch, "unparseable request").WithContext("cause", err.Error())
	}
	return req, nil
}

// patch mirrors menu.Item with optional title/type so inheritance can be
// distinguished from explicit empty values.
type patch struct {
	Title   *string      `json:"title"`
	Type    *menu.Type   `json:"type"`
	Cmd     string       `json:"cmd"`
	State   []string     `json:"state"`
	Submenu []*menu.Item `json:"submenu"`
}

// ParsePatch validates a patch document without applying it.
func ParsePatch(raw json.RawMessage) error {
	var p patch
	if len(raw) == 0 || json.Unmarshal(raw, &p) != nil {
		return errors.NewProtocolError(errors.ErrCodeBadPatch, "unparseable patch")
	}
	return nil
}

// ApplyPatch replaces every field of target with the patch's fields. A patch
// lacking a title or type inherits the target's current title/type; all
// other prior fields are cleared, not merged.
func ApplyPatch(target *menu.Item, raw json.RawMessage) error {
	var p patch
	if len(raw) == 0 || json.Unmarshal(raw, &p) != nil {
		return errors.NewProtocolError(errors.ErrCodeBadPatch, "unparseable patch")
	}

	next := menu.Item{
		Title:   target.Title,
		Type:    target.Type,
		Cmd:     p.Cmd,
		State:   p.State,
		Submenu: p.Submenu,
	}
	if p.Title != nil {
		next.Title = *p.Title
	}
	if p.Type != nil {
		next.Type = *p.Type
	}

	*target = next
	return nil
}
