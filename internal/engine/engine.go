// Package engine implements the reactive menu composition runtime: the
// binding registry built from dynamic config directives, the keyword
// submenu builders, the state evaluators, and the two-phase dirty/commit
// scheduler that publishes each rebuilt tree at most once per settle point.
//
// Everything runs on a single goroutine inside Run; external notifications
// (property changes, protocol requests, config reloads) are delivered over
// channels and only ever mark state dirty. Mutation and publish happen
// exclusively on the settle tick, so N changes between two ticks collapse
// into one rebuild and one publish.
package engine

import (
	"context"
	"strings"
	"time"

	"github.com/Youxikong/mpv-menu-plugin/internal/errors"
	"github.com/Youxikong/mpv-menu-plugin/internal/expr"
	"github.com/Youxikong/mpv-menu-plugin/internal/logging"
	"github.com/Youxikong/mpv-menu-plugin/internal/menu"
	"github.com/Youxikong/mpv-menu-plugin/internal/parser"
	"github.com/Youxikong/mpv-menu-plugin/internal/property"
	"github.com/Youxikong/mpv-menu-plugin/internal/protocol"
)

// Sink consumes committed trees and show requests. Implemented by the
// host's shared publish slot and by the renderer websocket endpoint.
type Sink interface {
	Publish(items []*menu.Item)
	Show(renderer string)
}

// Options are the composition knobs carried by the engine.
type Options struct {
	AltSyntax        bool
	MaxTitleLength   int
	MaxPlaylistItems int
	SettleInterval   time.Duration
}

// Binding associates a menu item with its reactive behavior: either a
// keyword submenu builder or a compiled state predicate.
type Binding struct {
	Item    *menu.Item
	Keyword string
	Line    int

	program *expr.Program
	update  func()
	dirty   bool
	dep     property.DepKey
}

// propChange is an external property-change notification.
type propChange struct {
	name  string
	value any
}

// requestEnvelope pairs a protocol request with its reply channel.
type requestEnvelope struct {
	req   protocol.Request
	reply chan protocol.Response
}

// Engine owns the menu tree and all reactive state. All fields are touched
// only from the Run goroutine (or direct calls in tests).
type Engine struct {
	opts   Options
	cache  *property.Cache
	parser *parser.Parser
	logger logging.Logger

	tree     []*menu.Item
	bindings []*Binding
	groups   map[string][]*Binding
	keywords []string

	hasDirty    bool
	treeChanged bool

	renderer  string
	companion string

	sinks []Sink

	props    chan propChange
	requests chan requestEnvelope
	reloads  chan string
}

// New creates an engine reading player state from source.
func New(source property.Source, opts Options, logger logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	if opts.SettleInterval <= 0 {
		opts.SettleInterval = 100 * time.Millisecond
	}

	return &Engine{
		opts:     opts,
		cache:    property.NewCache(source, logger),
		parser:   parser.New(parser.Options{AltSyntax: opts.AltSyntax}, logger),
		logger:   logger.WithComponent("engine"),
		groups:   make(map[string][]*Binding),
		props:    make(chan propChange, 256),
		requests: make(chan requestEnvelope, 32),
		reloads:  make(chan string, 4),
	}
}

// AddSink registers a publish target. Must be called before Run.
func (e *Engine) AddSink(sink Sink) {
	e.sinks = append(e.sinks, sink)
}

// Load parses config text into a fresh tree, scans dynamic directives, and
// rebuilds the binding registry. All bindings start dirty so the first
// settle tick populates and publishes the tree.
func (e *Engine) Load(text string) {
	for _, b := range e.bindings {
		e.cache.BeginDeps(b.dep)
	}

	res := e.parser.Parse(text)

	e.tree = res.Items
	e.bindings = nil
	e.groups = make(map[string][]*Binding)
	e.keywords = nil

	for _, d := range res.Directives {
		e.register(d)
	}

	for _, b := range e.bindings {
		b.dirty = true
	}
	e.hasDirty = len(e.bindings) > 0
	e.treeChanged = true

	e.logger.Info(context.Background(), "menu config loaded",
		"items", len(e.tree), "bindings", len(e.bindings), "skipped", res.Skipped)
}

// register turns one parsed directive into a binding. Unknown keywords are
// logged and leave the item static.
func (e *Engine) register(d parser.Directive) {
	if d.Item.Type == menu.TypeSeparator {
		return
	}

	if src, ok := strings.CutPrefix(d.Raw, "state="); ok {
		b := &Binding{Item: d.Item, Keyword: "state", Line: d.Line}
		prog, err := expr.Compile(src)
		if err != nil {
			cerr := errors.NewExprCompileError(src, err).WithLine(d.Line)
			e.logger.Error(context.Background(), cerr, "state expression rejected", "line", d.Line)
			// Predicate degrades to constantly false.
		} else {
			b.program = prog
		}
		b.update = func() { e.evalState(b) }
		e.add(b)
		return
	}

	build, ok := e.builderFor(d.Raw)
	if !ok {
		werr := errors.NewParseWarning("unknown dynamic keyword: " + d.Raw).WithLine(d.Line)
		e.logger.Warn(context.Background(), werr, "directive ignored", "keyword", d.Raw)
		return
	}

	b := &Binding{Item: d.Item, Keyword: d.Raw, Line: d.Line}
	b.update = func() { e.runBuilder(b, build) }
	e.add(b)
}

func (e *Engine) add(b *Binding) {
	b.dep = property.DepKey(len(e.bindings))
	e.bindings = append(e.bindings, b)

	if _, seen := e.groups[b.Keyword]; !seen {
		e.keywords = append(e.keywords, b.Keyword)
	}
	e.groups[b.Keyword] = append(e.groups[b.Keyword], b)
}

// Run processes external notifications until the context is cancelled.
// Property changes and requests only mark state; the settle ticker is the
// sole place mutation-then-publish occurs.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.opts.SettleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ch := <-e.props:
			e.applyChange(ch.name, ch.value)
		case <-ticker.C:
			e.refresh()
		case env := <-e.requests:
			env.reply <- e.handleRequest(env.req)
		case text := <-e.reloads:
			e.Load(text)
		}
	}
}

// NotifyProperty delivers an external property-change notification.
func (e *Engine) NotifyProperty(name string, value any) {
	select {
	case e.props <- propChange{name: name, value: value}:
	default:
		// Channel full: the value will be re-read from the host on the
		// next evaluation anyway.
	}
}

// Reload swaps in new config text on the engine goroutine.
func (e *Engine) Reload(text string) {
	select {
	case e.reloads <- text:
	default:
	}
}

// Do submits a protocol request and waits for the engine's reply.
func (e *Engine) Do(ctx context.Context, req protocol.Request) protocol.Response {
	env := requestEnvelope{req: req, reply: make(chan protocol.Response, 1)}

	select {
	case e.requests <- env:
	case <-ctx.Done():
		return protocol.ErrorResponse(req, ctx.Err())
	}

	select {
	case resp := <-env.reply:
		return resp
	case <-ctx.Done():
		return protocol.ErrorResponse(req, ctx.Err())
	}
}

// applyChange updates the cache and marks dependent bindings dirty. It
// never re-runs builders inline, preventing re-entrant rebuilds.
func (e *Engine) applyChange(name string, value any) {
	deps := e.cache.Apply(name, value)
	for _, dep := range deps {
		if int(dep) < len(e.bindings) {
			e.bindings[dep].dirty = true
			e.hasDirty = true
		}
	}
}

// refresh is the two-phase settle tick: re-run dirty bindings in
// registration order, then publish the tree iff anything changed.
func (e *Engine) refresh() {
	if e.hasDirty {
		for _, b := range e.bindings {
			if b.dirty {
				b.update()
				b.dirty = false
			}
		}
		e.hasDirty = false
	}

	if e.treeChanged {
		snapshot := menu.CloneTree(e.tree)
		for _, sink := range e.sinks {
			sink.Publish(snapshot)
		}
		e.treeChanged = false
	}
}

// runBuilder converts the bound item into a submenu and replaces its
// children with freshly built ones. Unchanged output leaves the tree clean.
func (e *Engine) runBuilder(b *Binding, build func(*Binding) []*menu.Item) {
	e.cache.BeginDeps(b.dep)
	children := build(b)

	if b.Item.Type == menu.TypeSubmenu && b.Item.Cmd == "" && menu.EqualTrees(b.Item.Submenu, children) {
		return
	}

	b.Item.Type = menu.TypeSubmenu
	b.Item.Cmd = ""
	b.Item.Submenu = children
	e.treeChanged = true
}

// evalState re-evaluates a state predicate and applies the resulting flag
// set. Runtime failures retain the previous state.
func (e *Engine) evalState(b *Binding) {
	if b.program == nil {
		e.setState(b, nil)
		return
	}

	e.cache.BeginDeps(b.dep)
	v, err := b.program.Eval(func(name string) expr.Value {
		return e.cache.Get(name, nil, b.dep)
	})
	if err != nil {
		rerr := errors.NewExprRuntimeError(b.program.Source(), err).WithLine(b.Line)
		e.logger.Debug(context.Background(), "state expression failed, state retained",
			"error", rerr.Error(), "line", b.Line)
		return
	}

	e.setState(b, expr.Flags(v))
}

func (e *Engine) setState(b *Binding, flags []string) {
	if stringsEqual(b.Item.State, flags) {
		return
	}
	b.Item.State = flags
	e.treeChanged = true
}

// handleRequest serves one protocol request. Rejections are logged and
// mutate nothing.
func (e *Engine) handleRequest(req protocol.Request) protocol.Response {
	switch req.Type {
	case protocol.KindList:
		keywords := make([]string, len(e.keywords))
		copy(keywords, e.keywords)
		return protocol.Response{Type: req.Type, To: req.From, Keywords: keywords}

	case protocol.KindGet:
		group, ok := e.groups[req.Keyword]
		if !ok {
			return e.reject(req, errors.NewProtocolError(errors.ErrCodeUnknownKeyword, "unknown keyword: "+req.Keyword))
		}
		entries := make([]protocol.Entry, len(group))
		for i, b := range group {
			entries[i] = protocol.Entry{Item: b.Item.Clone(), Index: i + 1}
		}
		return protocol.Response{Type: req.Type, To: req.From, Entries: entries}

	case protocol.KindUpdate:
		return e.handleUpdate(req)

	case protocol.KindShow:
		for _, sink := range e.sinks {
			sink.Show(e.renderer)
		}
		return protocol.Response{Type: req.Type, To: req.From}

	case protocol.KindAnnounce:
		e.renderer = req.Name
		e.logger.Info(context.Background(), "renderer announced", "channel", req.Name)
		return protocol.Response{Type: req.Type, To: req.From}

	case protocol.KindCompanion:
		e.companion = req.Name
		// The playlist overflow item changes with companion presence.
		for _, b := range e.groups["playlist"] {
			b.dirty = true
			e.hasDirty = true
		}
		return protocol.Response{Type: req.Type, To: req.From}

	default:
		return e.reject(req, errors.NewProtocolError(errors.ErrCodeBadPatch, "unknown request type: "+req.Type))
	}
}

// handleUpdate validates fully before mutating: an unparseable patch or an
// out-of-range index rejects the request with no partial mutation.
func (e *Engine) handleUpdate(req protocol.Request) protocol.Response {
	group, ok := e.groups[req.Keyword]
	if !ok {
		return e.reject(req, errors.NewProtocolError(errors.ErrCodeUnknownKeyword, "unknown keyword: "+req.Keyword))
	}

	if err := protocol.ParsePatch(req.Patch); err != nil {
		return e.reject(req, err)
	}

	targets := group
	if req.Index != 0 {
		if req.Index < 1 || req.Index > len(group) {
			perr := errors.NewProtocolError(errors.ErrCodeIndexOutOfRange, "index out of range").
				WithContext("keyword", req.Keyword).WithContext("index", req.Index)
			return e.reject(req, perr)
		}
		targets = group[req.Index-1 : req.Index]
	}

	for _, b := range targets {
		if err := protocol.ApplyPatch(b.Item, req.Patch); err != nil {
			return e.reject(req, err)
		}
	}

	e.treeChanged = true
	return protocol.Response{Type: req.Type, To: req.From}
}

func (e *Engine) reject(req protocol.Request, err error) protocol.Response {
	e.logger.Warn(context.Background(), err, "protocol request rejected", "type", req.Type, "keyword", req.Keyword)
	return protocol.ErrorResponse(req, err)
}

// get reads a property through the cache on behalf of a binding.
func (e *Engine) get(name string, def any, dep property.DepKey) any {
	return e.cache.Get(name, def, dep)
}

// truncate applies the configured title budget.
func (e *Engine) truncate(title string) string {
	return menu.Truncate(title, e.opts.MaxTitleLength)
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
