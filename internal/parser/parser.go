// Package parser turns a key-binding config into an ordered menu tree.
//
// Each retained line has the shape
//
//	<key> <command> [#menu: <title>] [#@<keyword>] [# <comment>]
//
// Titles are split on ">" into a submenu path; leaves sharing an ancestor
// path reuse the same submenu node. The alternate syntax mode additionally
// recognizes "#!" titles and "---" separator prefixes. Dynamic directives
// ("#@keyword" or "#@state=expr") are collected alongside the tree for the
// engine's binding scan.
package parser

import (
	"context"
	"strings"

	"github.com/Youxikong/mpv-menu-plugin/internal/errors"
	"github.com/Youxikong/mpv-menu-plugin/internal/logging"
	"github.com/Youxikong/mpv-menu-plugin/internal/menu"
)

const (
	titleMarker    = "#menu:"
	altTitleMarker = "#!"
	directiveMark  = "#@"
)

// Options controls parsing behavior.
type Options struct {
	// AltSyntax enables "#!" titles and "---" separator prefixes, and stops
	// treating "#"-prefixed lines as comments.
	AltSyntax bool
}

// Directive associates a parsed leaf with the raw text of its trailing
// dynamic directive ("tracks", "state=mute", ...).
type Directive struct {
	Item *menu.Item
	Raw  string
	Line int
}

// Result is the output of a parse run.
type Result struct {
	Items      []*menu.Item
	Directives []Directive
	Skipped    int
}

// Parser builds menu trees from key-binding config text.
type Parser struct {
	opts   Options
	logger logging.Logger
}

// New creates a parser with the given options.
func New(opts Options, logger logging.Logger) *Parser {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Parser{opts: opts, logger: logger.WithComponent("parser")}
}

// Parse builds the menu tree from raw config text. Parsing is deterministic:
// identical input yields a structurally identical tree.
func (p *Parser) Parse(text string) *Result {
	res := &Result{Items: []*menu.Item{}}

	// Joined-path-so-far -> already-created submenu node, so leaves sharing
	// an ancestor reuse the same node in first-seen order.
	submenus := make(map[string]*menu.Item)

	for i, raw := range strings.Split(text, "\n") {
		lineno := i + 1
		line := strings.TrimSpace(strings.TrimSuffix(raw, "\r"))

		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") && !p.opts.AltSyntax {
			continue
		}

		key, rest := splitKey(line)
		if rest == "" {
			// A key with nothing after it cannot carry a title.
			p.warn(lineno, "line has no command")
			res.Skipped++
			continue
		}

		entry, ok := p.splitEntry(rest)
		if !ok {
			// Not a menu-annotated binding.
			continue
		}

		path, leafTitle := splitPath(entry.title)
		parent := p.submenuFor(res, submenus, path)

		item := p.buildLeaf(key, leafTitle, entry.cmd)
		appendChild(res, parent, item)

		if entry.directive != "" {
			res.Directives = append(res.Directives, Directive{
				Item: item,
				Raw:  entry.directive,
				Line: lineno,
			})
		}
	}

	return res
}

// entry holds the decomposed remainder of a config line.
type entry struct {
	cmd       string
	title     string
	directive string
}

// splitEntry extracts command, title, and directive from the remainder after
// the key token. Lines without a title marker are not menu entries.
func (p *Parser) splitEntry(rest string) (entry, bool) {
	marker := titleMarker
	idx := strings.Index(rest, titleMarker)
	if idx < 0 && p.opts.AltSyntax {
		marker = altTitleMarker
		idx = strings.Index(rest, altTitleMarker)
	}
	if idx < 0 {
		return entry{}, false
	}

	// Empty command after title extraction is preserved verbatim.
	e := entry{cmd: strings.TrimSpace(rest[:idx])}

	title := strings.TrimSpace(rest[idx+len(marker):])

	// A trailing "#@..." directive sits inside the title comment; peel it
	// off before stripping any further trailing comment.
	if di := strings.Index(title, directiveMark); di >= 0 {
		dir := title[di+len(directiveMark):]
		if ci := strings.Index(dir, " #"); ci >= 0 {
			dir = dir[:ci]
		}
		e.directive = strings.TrimSpace(dir)
		title = strings.TrimSpace(title[:di])
	}

	// Any further trailing comment on the extracted title is stripped.
	if ci := strings.Index(title, " #"); ci >= 0 {
		title = strings.TrimSpace(title[:ci])
	}

	e.title = title
	return e, true
}

// buildLeaf creates the leaf node for a parsed line.
func (p *Parser) buildLeaf(key, title, cmd string) *menu.Item {
	if p.isSeparator(title) {
		return menu.NewSeparator()
	}

	item := &menu.Item{Title: title, Cmd: cmd}
	if key != "" && key != "_" && key != "#" {
		item.Title = menu.WithHint(title, key)
	}
	return item
}

func (p *Parser) isSeparator(title string) bool {
	if title == "-" {
		return true
	}
	return p.opts.AltSyntax && strings.HasPrefix(title, "---")
}

// submenuFor walks the submenu path, creating missing nodes in first-seen
// order, and returns the immediate parent for the leaf (nil for root).
func (p *Parser) submenuFor(res *Result, submenus map[string]*menu.Item, path []string) *menu.Item {
	var parent *menu.Item
	joined := ""

	for _, segment := range path {
		if joined == "" {
			joined = segment
		} else {
			joined += ">" + segment
		}

		node, ok := submenus[joined]
		if !ok {
			node = menu.NewSubmenu(segment)
			submenus[joined] = node
			appendChild(res, parent, node)
		}
		parent = node
	}

	return parent
}

func appendChild(res *Result, parent, child *menu.Item) {
	if parent == nil {
		res.Items = append(res.Items, child)
		return
	}
	parent.Submenu = append(parent.Submenu, child)
}

func (p *Parser) warn(line int, msg string) {
	err := errors.NewParseWarning(msg).WithLine(line)
	p.logger.Warn(context.Background(), err, "skipping config line", "line", line)
}

// splitKey splits a line into its key token (first run of non-space
// characters) and the trimmed remainder.
func splitKey(line string) (key, rest string) {
	for i, r := range line {
		if r == ' ' || r == '\t' {
			return line[:i], strings.TrimSpace(line[i:])
		}
	}
	return line, ""
}

// splitPath splits a title on the submenu-path delimiter (">" surrounded by
// optional spaces) into ancestor segments and the leaf title.
func splitPath(title string) (path []string, leaf string) {
	parts := strings.Split(title, ">")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) == 1 {
		return nil, parts[0]
	}
	return parts[:len(parts)-1], parts[len(parts)-1]
}
