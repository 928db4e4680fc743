// Package menu defines the menu tree data model shared by the parser, the
// dynamic builders, and the messaging protocol. Items are plain values owned
// by the engine; external consumers only ever see snapshots.
package menu

import "strings"

// Type classifies a menu item. Normal items carry a command, submenus carry
// children, separators carry neither. The zero value is a normal item,
// which is also omitted on the wire.
type Type string

const (
	TypeNormal    Type = ""
	TypeSubmenu   Type = "submenu"
	TypeSeparator Type = "separator"
)

// State flags recognized by the renderer.
const (
	StateChecked  = "checked"
	StateDisabled = "disabled"
	StateHidden   = "hidden"
)

// HintDelim separates a title from its right-aligned hint.
const HintDelim = "\t"

// Item is a node in the menu tree. Exactly one of Cmd set, Submenu set, or
// neither (separator) holds per node type.
type Item struct {
	Title   string   `json:"title,omitempty"`
	Type    Type     `json:"type,omitempty"`
	Cmd     string   `json:"cmd,omitempty"`
	State   []string `json:"state,omitempty"`
	Submenu []*Item  `json:"submenu,omitempty"`
}

// NewSeparator returns a separator item.
func NewSeparator() *Item {
	return &Item{Type: TypeSeparator}
}

// NewSubmenu returns an empty submenu with the given title.
func NewSubmenu(title string) *Item {
	return &Item{Title: title, Type: TypeSubmenu, Submenu: []*Item{}}
}

// HasFlag reports whether a state flag is set.
func (it *Item) HasFlag(flag string) bool {
	for _, f := range it.State {
		if f == flag {
			return true
		}
	}
	return false
}

// SetFlag adds a state flag if not already present.
func (it *Item) SetFlag(flag string) {
	if !it.HasFlag(flag) {
		it.State = append(it.State, flag)
	}
}

// Clone returns a deep copy of the item and its subtree.
func (it *Item) Clone() *Item {
	if it == nil {
		return nil
	}

	clone := &Item{
		Title: it.Title,
		Type:  it.Type,
		Cmd:   it.Cmd,
	}

	if it.State != nil {
		clone.State = make([]string, len(it.State))
		copy(clone.State, it.State)
	}

	if it.Submenu != nil {
		clone.Submenu = make([]*Item, len(it.Submenu))
		for i, child := range it.Submenu {
			clone.Submenu[i] = child.Clone()
		}
	}

	return clone
}

// CloneTree deep-copies a root item sequence.
func CloneTree(items []*Item) []*Item {
	if items == nil {
		return nil
	}

	out := make([]*Item, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}

// Equal reports structural equality of two items including their subtrees.
func (it *Item) Equal(other *Item) bool {
	if it == nil || other == nil {
		return it == other
	}
	if it.Title != other.Title || it.Type != other.Type || it.Cmd != other.Cmd {
		return false
	}
	if len(it.State) != len(other.State) {
		return false
	}
	for i := range it.State {
		if it.State[i] != other.State[i] {
			return false
		}
	}
	if len(it.Submenu) != len(other.Submenu) {
		return false
	}
	for i := range it.Submenu {
		if !it.Submenu[i].Equal(other.Submenu[i]) {
			return false
		}
	}
	return true
}

// EqualTrees reports structural equality of two root sequences.
func EqualTrees(a, b []*Item) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// Truncate shortens a title to at most budget Unicode scalar units, suffixed
// with an ellipsis when truncated. A budget of 0 disables truncation.
func Truncate(title string, budget int) string {
	if budget <= 0 {
		return title
	}

	runes := []rune(title)
	if len(runes) <= budget {
		return title
	}

	return string(runes[:budget]) + "…"
}

// WithHint joins a title and a right-aligned hint. Empty hints leave the
// title unchanged.
func WithHint(title, hint string) string {
	if hint == "" {
		return title
	}
	return title + HintDelim + hint
}

// SplitHint splits a composed title back into title and hint parts.
func SplitHint(composed string) (title, hint string) {
	if i := strings.Index(composed, HintDelim); i >= 0 {
		return composed[:i], composed[i+1:]
	}
	return composed, ""
}
