package engine

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Youxikong/mpv-menu-plugin/internal/menu"
	"github.com/Youxikong/mpv-menu-plugin/internal/property"
)

// builderFor maps a dynamic keyword to its submenu builder.
func (e *Engine) builderFor(keyword string) (func(*Binding) []*menu.Item, bool) {
	switch keyword {
	case "tracks":
		return e.buildTracks, true
	case "tracks/video":
		return func(b *Binding) []*menu.Item {
			return e.trackGroup(b, "video", "vid", "")
		}, true
	case "tracks/audio":
		return func(b *Binding) []*menu.Item {
			return e.trackGroup(b, "audio", "aid", "")
		}, true
	case "tracks/sub":
		return func(b *Binding) []*menu.Item {
			return e.trackGroup(b, "sub", "sid", "")
		}, true
	case "tracks/sub-secondary":
		return func(b *Binding) []*menu.Item {
			return e.trackGroup(b, "sub", "secondary-sid", "")
		}, true
	case "chapters":
		return e.buildChapters, true
	case "editions":
		return e.buildEditions, true
	case "audio-devices":
		return e.buildAudioDevices, true
	case "playlist":
		return e.buildPlaylist, true
	case "profiles":
		return e.buildProfiles, true
	}
	return nil, false
}

// buildTracks composes the combined tracks menu: one group per track type
// the file actually has, separated, with type prefixes on the entries and
// a toggle per group.
func (e *Engine) buildTracks(b *Binding) []*menu.Item {
	var items []*menu.Item

	groups := []struct {
		ttype   string
		selProp string
		prefix  string
	}{
		{"video", "vid", "Video: "},
		{"audio", "aid", "Audio: "},
		{"sub", "sid", "Sub: "},
	}

	for _, g := range groups {
		group := e.trackItems(b, g.ttype, g.selProp, g.prefix)
		if len(group) == 0 {
			// A type the file has no tracks of contributes nothing, not
			// even its toggle.
			continue
		}
		if len(items) > 0 {
			items = append(items, menu.NewSeparator())
		}
		items = append(items, group...)
		items = append(items, e.trackToggle(g.selProp, b.dep))
	}

	return items
}

// trackGroup backs the per-type builders: all tracks of one type followed
// by the Off/Auto toggle, which stays even when the list is empty.
func (e *Engine) trackGroup(b *Binding, ttype, selProp, prefix string) []*menu.Item {
	items := e.trackItems(b, ttype, selProp, prefix)
	return append(items, e.trackToggle(selProp, b.dep))
}

// trackItems lists all tracks of one type. Secondary-sub entries that hold
// the primary slot are shown checked but disabled so the two slots cannot
// collide.
func (e *Engine) trackItems(b *Binding, ttype, selProp, prefix string) []*menu.Item {
	list := asSlice(e.get("track-list", nil, b.dep))

	var items []*menu.Item
	for _, raw := range list {
		track := asMap(raw)
		if track == nil || fieldStr(track, "type") != ttype {
			continue
		}
		items = append(items, e.trackItem(track, selProp, prefix))
	}
	return items
}

func (e *Engine) trackItem(track map[string]any, selProp, prefix string) *menu.Item {
	id, _ := fieldInt(track, "id")

	title := fieldStr(track, "title")
	if title == "" {
		title = fmt.Sprintf("Track %d", id)
	}
	if hints := trackHints(track); hints != "" {
		title += " [" + hints + "]"
	}
	if fieldBool(track, "forced") {
		title += " (forced)"
	}
	if fieldBool(track, "external") {
		title += " (external)"
	}
	if fieldBool(track, "default") {
		title += " (default)"
	}

	item := &menu.Item{
		Title: e.truncate(prefix + title),
		Cmd:   fmt.Sprintf("set %s %d", selProp, id),
	}
	if lang := fieldStr(track, "lang"); lang != "" {
		item.Title = menu.WithHint(item.Title, lang)
	}

	selected := fieldBool(track, "selected")
	switch selProp {
	case "sid", "secondary-sid":
		// selected covers both sub slots; main-selection says which.
		main, hasMain := fieldInt(track, "main-selection")
		primary := !hasMain || main == 0
		if selProp == "sid" {
			if selected && primary {
				item.SetFlag(menu.StateChecked)
			} else if selected {
				item.SetFlag(menu.StateChecked)
				item.SetFlag(menu.StateDisabled)
			}
		} else {
			if selected && !primary {
				item.SetFlag(menu.StateChecked)
			} else if selected {
				item.SetFlag(menu.StateChecked)
				item.SetFlag(menu.StateDisabled)
			}
		}
	default:
		if selected {
			item.SetFlag(menu.StateChecked)
		}
	}

	return item
}

// trackHints formats the bracketed metadata summary for a track entry.
func trackHints(track map[string]any) string {
	var parts []string

	if codec := fieldStr(track, "codec"); codec != "" {
		parts = append(parts, codec)
	}
	w, hasW := fieldInt(track, "demux-w")
	h, hasH := fieldInt(track, "demux-h")
	switch {
	case hasW && hasH:
		parts = append(parts, fmt.Sprintf("%dx%d", w, h))
	case hasH:
		parts = append(parts, fmt.Sprintf("%dp", h))
	}
	if fps, ok := fieldNum(track, "demux-fps"); ok && fps > 0 {
		parts = append(parts, fmt.Sprintf("%.5gfps", fps))
	}
	if ch, ok := fieldInt(track, "demux-channel-count"); ok && ch > 0 {
		parts = append(parts, fmt.Sprintf("%dch", ch))
	}
	if sr, ok := fieldNum(track, "demux-samplerate"); ok && sr > 0 {
		parts = append(parts, trimFloat(sr/1000)+"kHz")
	}
	if br, ok := fieldNum(track, "demux-bitrate"); ok && br > 0 {
		parts = append(parts, fmt.Sprintf("%.0fkbps", br/1000))
	}

	return strings.Join(parts, ", ")
}

// trackToggle builds the trailing Off/Auto item for a selection slot:
// while a track is selected it turns the slot off, otherwise it restores
// automatic selection and is shown checked to mark the slot as disabled.
func (e *Engine) trackToggle(selProp string, dep property.DepKey) *menu.Item {
	cur := e.get(selProp, "no", dep)

	off := cur == nil || cur == false || cur == "no" || cur == ""
	if off {
		item := &menu.Item{Title: "Auto", Cmd: "set " + selProp + " auto"}
		item.SetFlag(menu.StateChecked)
		return item
	}
	return &menu.Item{Title: "Off", Cmd: "set " + selProp + " no"}
}

// buildChapters lists chapters with ordinal fallback titles and seek
// commands, the current chapter checked.
func (e *Engine) buildChapters(b *Binding) []*menu.Item {
	list := asSlice(e.get("chapter-list", nil, b.dep))
	cur, _ := asInt(e.get("chapter", -1, b.dep))

	var items []*menu.Item
	for i, raw := range list {
		ch := asMap(raw)
		if ch == nil {
			continue
		}

		title := fieldStr(ch, "title")
		if title == "" {
			title = fmt.Sprintf("Chapter %02d", i+1)
		}
		t, _ := fieldNum(ch, "time")

		item := &menu.Item{
			Title: menu.WithHint(e.truncate(title), formatDuration(t)),
			Cmd:   fmt.Sprintf("seek %.2f absolute", t),
		}
		if i == cur {
			item.SetFlag(menu.StateChecked)
		}
		items = append(items, item)
	}

	return items
}

// buildEditions lists file editions with the default one marked.
func (e *Engine) buildEditions(b *Binding) []*menu.Item {
	list := asSlice(e.get("edition-list", nil, b.dep))
	cur, hasCur := asInt(e.get("current-edition", nil, b.dep))

	var items []*menu.Item
	for i, raw := range list {
		ed := asMap(raw)
		if ed == nil {
			continue
		}

		id, ok := fieldInt(ed, "id")
		if !ok {
			id = i
		}
		title := fieldStr(ed, "title")
		if title == "" {
			title = fmt.Sprintf("Edition %d", i+1)
		}
		if fieldBool(ed, "default") {
			title += " (default)"
		}

		item := &menu.Item{
			Title: e.truncate(title),
			Cmd:   fmt.Sprintf("set edition %d", id),
		}
		if hasCur && id == cur {
			item.SetFlag(menu.StateChecked)
		}
		items = append(items, item)
	}

	return items
}

// buildAudioDevices lists output devices, the active one checked.
func (e *Engine) buildAudioDevices(b *Binding) []*menu.Item {
	list := asSlice(e.get("audio-device-list", nil, b.dep))
	cur, _ := e.get("audio-device", "auto", b.dep).(string)

	var items []*menu.Item
	for _, raw := range list {
		dev := asMap(raw)
		if dev == nil {
			continue
		}

		name := fieldStr(dev, "name")
		title := fieldStr(dev, "description")
		if title == "" {
			title = name
		}

		item := &menu.Item{
			Title: e.truncate(title),
			Cmd:   "set audio-device " + name,
		}
		if name == cur {
			item.SetFlag(menu.StateChecked)
		}
		items = append(items, item)
	}

	return items
}

// buildPlaylist lists entries up to the configured cap. Overflow collapses
// into a trailing item that either delegates to an announced companion
// client or sits disabled.
func (e *Engine) buildPlaylist(b *Binding) []*menu.Item {
	list := asSlice(e.get("playlist", nil, b.dep))
	pos, _ := asInt(e.get("playlist-pos", -1, b.dep))

	limit := len(list)
	if e.opts.MaxPlaylistItems > 0 && limit > e.opts.MaxPlaylistItems {
		limit = e.opts.MaxPlaylistItems
	}

	var items []*menu.Item
	for i := 0; i < limit; i++ {
		entry := asMap(list[i])
		if entry == nil {
			continue
		}

		filename := fieldStr(entry, "filename")
		ext := strings.TrimPrefix(filepath.Ext(filename), ".")

		title := fieldStr(entry, "title")
		if title == "" {
			title = strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
		}

		composed := e.truncate(title)
		if ext != "" {
			composed = menu.WithHint(composed, ext)
		}

		item := &menu.Item{
			Title: composed,
			Cmd:   fmt.Sprintf("playlist-play-index %d", i),
		}
		if i == pos {
			item.SetFlag(menu.StateChecked)
		}
		items = append(items, item)
	}

	if rest := len(list) - limit; rest > 0 {
		over := &menu.Item{
			Title: menu.WithHint("...", fmt.Sprintf("[%d]", rest)),
		}
		if e.companion != "" {
			over.Cmd = fmt.Sprintf("script-message-to %s playlist", e.companion)
		} else {
			over.Cmd = "ignore"
			over.SetFlag(menu.StateDisabled)
		}
		items = append(items, over)
	}

	return items
}

// profileHidden names the profiles that never belong in a user menu.
var profileHidden = map[string]bool{
	"default":            true,
	"builtin-pseudo-gui": true,
	"pseudo-gui":         true,
	"encoding":           true,
}

// buildProfiles lists user-applicable profiles.
func (e *Engine) buildProfiles(b *Binding) []*menu.Item {
	list := asSlice(e.get("profile-list", nil, b.dep))

	var items []*menu.Item
	for _, raw := range list {
		prof := asMap(raw)
		if prof == nil {
			continue
		}
		name := fieldStr(prof, "name")
		if name == "" || profileHidden[name] {
			continue
		}
		items = append(items, &menu.Item{
			Title: e.truncate(name),
			Cmd:   "apply-profile " + name,
		})
	}

	return items
}
