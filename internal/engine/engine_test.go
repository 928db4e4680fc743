package engine

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Youxikong/mpv-menu-plugin/internal/menu"
	"github.com/Youxikong/mpv-menu-plugin/internal/protocol"
)

// fakeHost is an in-memory player state for engine tests.
type fakeHost struct {
	props    map[string]any
	observed map[string]bool
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		props:    make(map[string]any),
		observed: make(map[string]bool),
	}
}

func (h *fakeHost) Get(name string) (any, bool) {
	v, ok := h.props[name]
	return v, ok
}

func (h *fakeHost) Observe(name string) error {
	h.observed[name] = true
	return nil
}

func (h *fakeHost) KnownPrefix(prefix string) bool {
	if prefix == "user-data" {
		return true
	}
	for name := range h.props {
		if name == prefix || len(name) > len(prefix) && name[:len(prefix)] == prefix && name[len(prefix)] == '/' {
			return true
		}
	}
	return false
}

// captureSink records published trees and show requests.
type captureSink struct {
	published [][]*menu.Item
	shows     []string
}

func (s *captureSink) Publish(items []*menu.Item) { s.published = append(s.published, items) }
func (s *captureSink) Show(renderer string)       { s.shows = append(s.shows, renderer) }

func newTestEngine(t *testing.T, host *fakeHost, conf string) (*Engine, *captureSink) {
	t.Helper()

	e := New(host, Options{
		MaxPlaylistItems: 20,
		SettleInterval:   time.Millisecond,
	}, nil)
	sink := &captureSink{}
	e.AddSink(sink)
	e.Load(conf)
	return e, sink
}

func findItem(t *testing.T, items []*menu.Item, title string) *menu.Item {
	t.Helper()
	for _, it := range items {
		if got, _ := menu.SplitHint(it.Title); got == title {
			return it
		}
		if found := findChild(it.Submenu, title); found != nil {
			return found
		}
	}
	t.Fatalf("item %q not found", title)
	return nil
}

func findChild(items []*menu.Item, title string) *menu.Item {
	for _, it := range items {
		if got, _ := menu.SplitHint(it.Title); got == title {
			return it
		}
		if found := findChild(it.Submenu, title); found != nil {
			return found
		}
	}
	return nil
}

func TestLoadPublishesOnce(t *testing.T) {
	host := newFakeHost()
	e, sink := newTestEngine(t, host, "a show-text hello #menu: Greet > Say Hi\nb ignore #menu: Quit")

	e.refresh()
	require.Len(t, sink.published, 1)

	tree := sink.published[0]
	require.Len(t, tree, 2)
	assert.Equal(t, "Greet", tree[0].Title)
	assert.Equal(t, menu.TypeSubmenu, tree[0].Type)

	// A clean tick publishes nothing further.
	e.refresh()
	assert.Len(t, sink.published, 1)
}

func TestStateBindingSetsChecked(t *testing.T) {
	host := newFakeHost()
	host.props["mute"] = "yes"

	e, sink := newTestEngine(t, host, "b ignore #menu: Mute #@state=mute")
	e.refresh()

	require.Len(t, sink.published, 1)
	item := findItem(t, sink.published[0], "Mute")
	assert.Equal(t, []string{menu.StateChecked}, item.State)
	assert.True(t, host.observed["mute"])

	// Flipping the property re-evaluates and clears the flag.
	e.applyChange("mute", "no")
	e.refresh()
	require.Len(t, sink.published, 2)
	assert.Empty(t, findItem(t, sink.published[1], "Mute").State)
}

func TestCompileErrorMeansConstantlyFalse(t *testing.T) {
	host := newFakeHost()
	host.props["mute"] = "yes"

	e, sink := newTestEngine(t, host, "b ignore #menu: Mute #@state=mute &&")
	e.refresh()

	require.Len(t, sink.published, 1)
	assert.Empty(t, findItem(t, sink.published[0], "Mute").State)
}

func TestRuntimeErrorRetainsState(t *testing.T) {
	host := newFakeHost()
	host.props["volume"] = 80.0

	e, sink := newTestEngine(t, host, "b ignore #menu: Loud #@state=volume * 2 > 100")
	e.refresh()

	require.Len(t, sink.published, 1)
	require.Equal(t, []string{menu.StateChecked}, findItem(t, sink.published[0], "Loud").State)

	// A value arithmetic cannot digest fails the evaluation; the previous
	// state survives and nothing is republished.
	e.applyChange("volume", true)
	e.refresh()
	assert.Len(t, sink.published, 1)
}

func TestCommitBatchesChanges(t *testing.T) {
	host := newFakeHost()
	host.props["mute"] = "no"
	host.props["pause"] = "no"

	conf := "a ignore #menu: Mute #@state=mute\nb ignore #menu: Paused #@state=pause"
	e, sink := newTestEngine(t, host, conf)
	e.refresh()
	require.Len(t, sink.published, 1)

	// Many changes between two ticks collapse into a single publish.
	e.applyChange("mute", "yes")
	e.applyChange("pause", "yes")
	e.applyChange("mute", "no")
	e.applyChange("mute", "yes")
	e.refresh()
	require.Len(t, sink.published, 2)

	tree := sink.published[1]
	assert.Equal(t, []string{menu.StateChecked}, findItem(t, tree, "Mute").State)
	assert.Equal(t, []string{menu.StateChecked}, findItem(t, tree, "Paused").State)
}

func TestShortCircuitLimitsDependencies(t *testing.T) {
	host := newFakeHost()
	host.props["pause"] = "yes"
	host.props["mute"] = "no"

	e, sink := newTestEngine(t, host, "a ignore #menu: Idle #@state=pause || mute")
	e.refresh()
	require.Len(t, sink.published, 1)

	// pause is truthy, so mute was never read; changing it marks nothing.
	e.applyChange("mute", "yes")
	assert.False(t, e.hasDirty)

	// Once pause goes false the next evaluation reads mute and records the
	// dependency.
	e.applyChange("pause", "no")
	e.refresh()
	require.Len(t, sink.published, 2)
	assert.Equal(t, []string{menu.StateChecked}, findItem(t, sink.published[1], "Idle").State)

	e.applyChange("mute", "no")
	assert.True(t, e.hasDirty)
}

func TestBuilderIdempotence(t *testing.T) {
	host := newFakeHost()
	host.props["playlist"] = []any{
		map[string]any{"filename": "/media/a.mkv"},
		map[string]any{"filename": "/media/b.mkv", "title": "Second"},
	}
	host.props["playlist-pos"] = 1.0

	e, sink := newTestEngine(t, host, "_ ignore #menu: Playlist #@playlist")
	e.refresh()
	require.Len(t, sink.published, 1)

	// Re-running the builder against identical state changes nothing.
	e.bindings[0].dirty = true
	e.hasDirty = true
	e.refresh()
	assert.Len(t, sink.published, 1)
}

func TestPlaylistBuilder(t *testing.T) {
	host := newFakeHost()
	host.props["playlist"] = []any{
		map[string]any{"filename": "/media/movie.mkv"},
		map[string]any{"filename": "/media/track.mp3", "title": "Song"},
	}
	host.props["playlist-pos"] = 0.0

	e, sink := newTestEngine(t, host, "_ ignore #menu: Playlist #@playlist")
	e.refresh()

	sub := findItem(t, sink.published[0], "Playlist")
	require.Equal(t, menu.TypeSubmenu, sub.Type)
	require.Len(t, sub.Submenu, 2)

	first := sub.Submenu[0]
	assert.Equal(t, "movie\tmkv", first.Title)
	assert.Equal(t, "playlist-play-index 0", first.Cmd)
	assert.Equal(t, []string{menu.StateChecked}, first.State)

	second := sub.Submenu[1]
	assert.Equal(t, "Song\tmp3", second.Title)
	assert.Empty(t, second.State)
}

func TestPlaylistOverflow(t *testing.T) {
	host := newFakeHost()
	var list []any
	for i := 0; i < 25; i++ {
		list = append(list, map[string]any{"filename": fmt.Sprintf("/m/%02d.mkv", i)})
	}
	host.props["playlist"] = list
	host.props["playlist-pos"] = 0.0

	e, sink := newTestEngine(t, host, "_ ignore #menu: Playlist #@playlist")
	e.refresh()

	sub := findItem(t, sink.published[0], "Playlist")
	require.Len(t, sub.Submenu, 21)

	over := sub.Submenu[20]
	assert.Equal(t, "...\t[5]", over.Title)
	assert.Equal(t, "ignore", over.Cmd)
	assert.Equal(t, []string{menu.StateDisabled}, over.State)

	// With a companion announced the overflow item delegates instead.
	resp := e.handleRequest(protocol.Request{Type: protocol.KindCompanion, Name: "uosc", From: "uosc"})
	require.Empty(t, resp.Error)
	e.refresh()

	sub = findItem(t, sink.published[1], "Playlist")
	over = sub.Submenu[20]
	assert.Equal(t, "script-message-to uosc playlist", over.Cmd)
	assert.Empty(t, over.State)
}

func TestTracksBuilder(t *testing.T) {
	host := newFakeHost()
	host.props["track-list"] = []any{
		map[string]any{
			"type": "video", "id": 1.0, "selected": true,
			"codec": "h264", "demux-w": 1920.0, "demux-h": 1080.0, "demux-fps": 23.976,
		},
		map[string]any{
			"type": "audio", "id": 1.0, "selected": true, "title": "Surround",
			"codec": "ac3", "demux-channel-count": 6.0, "lang": "en",
		},
		map[string]any{
			"type": "sub", "id": 1.0, "selected": false, "lang": "en", "external": true,
		},
	}
	host.props["vid"] = 1.0
	host.props["aid"] = 1.0
	host.props["sid"] = "no"

	e, sink := newTestEngine(t, host, "_ ignore #menu: Tracks #@tracks")
	e.refresh()

	sub := findItem(t, sink.published[0], "Tracks")
	require.Equal(t, menu.TypeSubmenu, sub.Type)
	// video group + toggle, separator, audio group + toggle, separator,
	// sub group + toggle.
	require.Len(t, sub.Submenu, 8)

	video := sub.Submenu[0]
	assert.Equal(t, "Video: Track 1 [h264, 1920x1080, 23.976fps]", video.Title)
	assert.Equal(t, "set vid 1", video.Cmd)
	assert.Equal(t, []string{menu.StateChecked}, video.State)

	// Selected slot offers Off.
	assert.Equal(t, "Off", sub.Submenu[1].Title)
	assert.Equal(t, "set vid no", sub.Submenu[1].Cmd)
	assert.Empty(t, sub.Submenu[1].State)

	assert.Equal(t, menu.TypeSeparator, sub.Submenu[2].Type)

	audio := sub.Submenu[3]
	assert.Equal(t, "Audio: Surround [ac3, 6ch]\ten", audio.Title)

	subTrack := sub.Submenu[6]
	assert.Equal(t, "Sub: Track 1 (external)\ten", subTrack.Title)
	assert.Empty(t, subTrack.State)

	// Empty slot offers Auto, checked to mark the slot as off.
	assert.Equal(t, "Auto", sub.Submenu[7].Title)
	assert.Equal(t, "set sid auto", sub.Submenu[7].Cmd)
	assert.Equal(t, []string{menu.StateChecked}, sub.Submenu[7].State)
}

func TestTracksBuilderSkipsEmptyGroups(t *testing.T) {
	host := newFakeHost()
	host.props["track-list"] = []any{
		map[string]any{"type": "audio", "id": 1.0, "selected": true, "codec": "mp3"},
	}
	host.props["aid"] = 1.0

	e, sink := newTestEngine(t, host, "_ ignore #menu: Tracks #@tracks")
	e.refresh()

	sub := findItem(t, sink.published[0], "Tracks")
	// Audio-only file: no video or sub group, no separators, no stray
	// toggles for the absent types.
	require.Len(t, sub.Submenu, 2)
	assert.Equal(t, "Audio: Track 1 [mp3]", sub.Submenu[0].Title)
	assert.Equal(t, "Off", sub.Submenu[1].Title)
	assert.Equal(t, "set aid no", sub.Submenu[1].Cmd)
	for _, it := range sub.Submenu {
		assert.NotEqual(t, menu.TypeSeparator, it.Type)
	}
}

func TestSecondarySubSlotCollision(t *testing.T) {
	host := newFakeHost()
	host.props["track-list"] = []any{
		map[string]any{"type": "sub", "id": 1.0, "selected": true, "main-selection": 0.0},
		map[string]any{"type": "sub", "id": 2.0, "selected": true, "main-selection": 1.0},
	}
	host.props["secondary-sid"] = 2.0

	e, sink := newTestEngine(t, host, "_ ignore #menu: Secondary #@tracks/sub-secondary")
	e.refresh()

	sub := findItem(t, sink.published[0], "Secondary")
	require.Len(t, sub.Submenu, 3)

	// Track 1 holds the primary slot: shown checked but not selectable here.
	assert.ElementsMatch(t, []string{menu.StateChecked, menu.StateDisabled}, sub.Submenu[0].State)
	// Track 2 holds this slot.
	assert.Equal(t, []string{menu.StateChecked}, sub.Submenu[1].State)
}

func TestChaptersBuilder(t *testing.T) {
	host := newFakeHost()
	host.props["chapter-list"] = []any{
		map[string]any{"title": "Intro", "time": 0.0},
		map[string]any{"time": 754.2},
		map[string]any{"title": "Credits", "time": 4210.0},
	}
	host.props["chapter"] = 1.0

	e, sink := newTestEngine(t, host, "_ ignore #menu: Chapters #@chapters")
	e.refresh()

	sub := findItem(t, sink.published[0], "Chapters")
	require.Len(t, sub.Submenu, 3)

	assert.Equal(t, "Intro\t00:00:00", sub.Submenu[0].Title)
	assert.Equal(t, "seek 0.00 absolute", sub.Submenu[0].Cmd)
	assert.Empty(t, sub.Submenu[0].State)

	assert.Equal(t, "Chapter 02\t00:12:34", sub.Submenu[1].Title)
	assert.Equal(t, "seek 754.20 absolute", sub.Submenu[1].Cmd)
	assert.Equal(t, []string{menu.StateChecked}, sub.Submenu[1].State)

	// Hours are always part of the timestamp.
	assert.Equal(t, "Credits\t01:10:10", sub.Submenu[2].Title)
}

func TestEditionsBuilder(t *testing.T) {
	host := newFakeHost()
	host.props["edition-list"] = []any{
		map[string]any{"id": 0.0, "title": "Theatrical", "default": true},
		map[string]any{"id": 1.0},
	}
	host.props["current-edition"] = 1.0

	e, sink := newTestEngine(t, host, "_ ignore #menu: Editions #@editions")
	e.refresh()

	sub := findItem(t, sink.published[0], "Editions")
	require.Len(t, sub.Submenu, 2)
	assert.Equal(t, "Theatrical (default)", sub.Submenu[0].Title)
	assert.Equal(t, "set edition 0", sub.Submenu[0].Cmd)
	assert.Equal(t, "Edition 2", sub.Submenu[1].Title)
	assert.Equal(t, []string{menu.StateChecked}, sub.Submenu[1].State)
}

func TestAudioDevicesBuilder(t *testing.T) {
	host := newFakeHost()
	host.props["audio-device-list"] = []any{
		map[string]any{"name": "auto", "description": "Autoselect device"},
		map[string]any{"name": "pipewire", "description": "PipeWire"},
	}
	host.props["audio-device"] = "pipewire"

	e, sink := newTestEngine(t, host, "_ ignore #menu: Devices #@audio-devices")
	e.refresh()

	sub := findItem(t, sink.published[0], "Devices")
	require.Len(t, sub.Submenu, 2)
	assert.Equal(t, "Autoselect device", sub.Submenu[0].Title)
	assert.Empty(t, sub.Submenu[0].State)
	assert.Equal(t, "set audio-device pipewire", sub.Submenu[1].Cmd)
	assert.Equal(t, []string{menu.StateChecked}, sub.Submenu[1].State)
}

func TestProfilesBuilderHidesInternal(t *testing.T) {
	host := newFakeHost()
	host.props["profile-list"] = []any{
		map[string]any{"name": "default"},
		map[string]any{"name": "pseudo-gui"},
		map[string]any{"name": "big-cache"},
	}

	e, sink := newTestEngine(t, host, "_ ignore #menu: Profiles #@profiles")
	e.refresh()

	sub := findItem(t, sink.published[0], "Profiles")
	require.Len(t, sub.Submenu, 1)
	assert.Equal(t, "big-cache", sub.Submenu[0].Title)
	assert.Equal(t, "apply-profile big-cache", sub.Submenu[0].Cmd)
}

func TestUnknownKeywordLeavesItemStatic(t *testing.T) {
	host := newFakeHost()
	e, sink := newTestEngine(t, host, "_ show-text hi #menu: Odd #@bogus")
	e.refresh()

	require.Len(t, sink.published, 1)
	item := findItem(t, sink.published[0], "Odd")
	assert.Equal(t, "show-text hi", item.Cmd)
	assert.NotEqual(t, menu.TypeSubmenu, item.Type)
	assert.Empty(t, e.keywords)
}

func TestProtocolListAndGet(t *testing.T) {
	host := newFakeHost()
	conf := "_ ignore #menu: Playlist #@playlist\nb ignore #menu: Mute #@state=mute"
	e, _ := newTestEngine(t, host, conf)

	resp := e.handleRequest(protocol.Request{Type: protocol.KindList, From: "osc"})
	assert.Equal(t, "osc", resp.To)
	assert.Equal(t, []string{"playlist", "state"}, resp.Keywords)

	resp = e.handleRequest(protocol.Request{Type: protocol.KindGet, Keyword: "playlist", From: "osc"})
	require.Empty(t, resp.Error)
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, 1, resp.Entries[0].Index)

	resp = e.handleRequest(protocol.Request{Type: protocol.KindGet, Keyword: "nope", From: "osc"})
	assert.NotEmpty(t, resp.Error)
}

func TestProtocolUpdate(t *testing.T) {
	host := newFakeHost()
	e, sink := newTestEngine(t, host, "_ ignore #menu: Playlist #@playlist")
	e.refresh()
	require.Len(t, sink.published, 1)

	patch := json.RawMessage(`{"title":"Queue"}`)
	resp := e.handleRequest(protocol.Request{Type: protocol.KindUpdate, Keyword: "playlist", Index: 1, Patch: patch, From: "osc"})
	require.Empty(t, resp.Error)

	e.refresh()
	require.Len(t, sink.published, 2)
	assert.NotNil(t, findChild(sink.published[1], "Queue"))

	// Out-of-range index rejects without mutating.
	resp = e.handleRequest(protocol.Request{Type: protocol.KindUpdate, Keyword: "playlist", Index: 5, Patch: patch})
	assert.NotEmpty(t, resp.Error)
	assert.False(t, e.treeChanged)

	// Malformed patch rejects.
	resp = e.handleRequest(protocol.Request{Type: protocol.KindUpdate, Keyword: "playlist", Index: 1, Patch: json.RawMessage(`{`)})
	assert.NotEmpty(t, resp.Error)
}

func TestShowAndAnnounce(t *testing.T) {
	host := newFakeHost()
	e, sink := newTestEngine(t, host, "a ignore #menu: One")

	resp := e.handleRequest(protocol.Request{Type: protocol.KindAnnounce, Name: "menu-render", From: "menu-render"})
	require.Empty(t, resp.Error)

	resp = e.handleRequest(protocol.Request{Type: protocol.KindShow})
	require.Empty(t, resp.Error)
	assert.Equal(t, []string{"menu-render"}, sink.shows)
}

func TestReloadRebuildsBindings(t *testing.T) {
	host := newFakeHost()
	host.props["mute"] = "yes"

	e, sink := newTestEngine(t, host, "a ignore #menu: Mute #@state=mute")
	e.refresh()
	require.Len(t, sink.published, 1)

	e.Load("b ignore #menu: Replaced")
	e.refresh()
	require.Len(t, sink.published, 2)
	assert.NotNil(t, findChild(sink.published[1], "Replaced"))
	assert.Empty(t, e.bindings)

	// The old binding's dependency edges are gone.
	deps := e.cache.Apply("mute", "no")
	assert.Empty(t, deps)
}
